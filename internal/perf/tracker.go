// Package perf tracks time-to-first-token latency per conversation thread and
// reports a rolling p95 over the most recent samples.
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxSampleCount is the rolling window size.
	DefaultMaxSampleCount = 180

	// TTFTSampleName is the name samples are forwarded under.
	TTFTSampleName = "runtime.ttft"
)

// Tracer receives named timing samples. Implementations must not block.
type Tracer interface {
	Record(name string, d time.Duration)
}

// Snapshot is the read-only view polled by the orchestrator.
type Snapshot struct {
	RollingP95TTFTMS float64
	SampleCount      int
}

// HasData reports whether at least one sample was recorded.
func (s Snapshot) HasData() bool {
	return s.SampleCount > 0
}

type span struct {
	turnID    string
	startedAt time.Time
}

// Tracker holds open dispatch spans and the sample window.
type Tracker struct {
	mu         sync.Mutex
	maxSamples int
	tracer     Tracer
	spans      map[uuid.UUID]span
	samples    []float64
}

// NewTracker creates a tracker with the given window size (DefaultMaxSampleCount
// when maxSamples < 1). tracer may be nil.
func NewTracker(maxSamples int, tracer Tracer) *Tracker {
	if maxSamples < 1 {
		maxSamples = DefaultMaxSampleCount
	}
	return &Tracker{
		maxSamples: maxSamples,
		tracer:     tracer,
		spans:      make(map[uuid.UUID]span),
	}
}

// RecordDispatchStart opens a span for thread, replacing any unmeasured one.
func (t *Tracker) RecordDispatchStart(thread uuid.UUID, turnID string, now time.Time) {
	t.mu.Lock()
	t.spans[thread] = span{turnID: turnID, startedAt: now}
	t.mu.Unlock()
}

// RecordFirstTokenIfNeeded closes the open span for thread and records the
// elapsed time. Returns false when no span was open.
func (t *Tracker) RecordFirstTokenIfNeeded(thread uuid.UUID, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	s, ok := t.spans[thread]
	if !ok {
		t.mu.Unlock()
		return 0, false
	}
	delete(t.spans, thread)

	elapsed := now.Sub(s.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	t.samples = append(t.samples, float64(elapsed)/float64(time.Millisecond))
	if over := len(t.samples) - t.maxSamples; over > 0 {
		t.samples = append(t.samples[:0:0], t.samples[over:]...)
	}
	tracer := t.tracer
	t.mu.Unlock()

	if tracer != nil {
		tracer.Record(TTFTSampleName, elapsed)
	}
	return elapsed, true
}

// MarkTurnCompleted drops an open span without recording a sample.
func (t *Tracker) MarkTurnCompleted(thread uuid.UUID) {
	t.mu.Lock()
	delete(t.spans, thread)
	t.mu.Unlock()
}

// OpenSpans returns the number of threads awaiting a first token.
func (t *Tracker) OpenSpans() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Snapshot returns the nearest-rank p95 of the window.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	sorted := append([]float64(nil), t.samples...)
	t.mu.Unlock()

	if len(sorted) == 0 {
		return Snapshot{}
	}
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)-1) * 0.95)
	if idx > len(sorted)-1 {
		idx = len(sorted) - 1
	}
	return Snapshot{RollingP95TTFTMS: sorted[idx], SampleCount: len(sorted)}
}

// Reset closes every span and clears the window.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.spans = make(map[uuid.UUID]span)
	t.samples = nil
	t.mu.Unlock()
}
