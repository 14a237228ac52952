package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joss/turnpool/internal/logging"
)

// ErrClosed is returned by Enqueue after Shutdown.
var ErrClosed = errors.New("persistence: batcher closed")

// BatchHandler receives one flushed batch. Calls never overlap.
type BatchHandler func(ctx context.Context, jobs []Job)

// Configuration tunes the batcher.
type Configuration struct {
	MaxPendingJobs int
	FlushThreshold int
	FlushInterval  time.Duration
}

// DefaultConfiguration returns the standard batching limits.
func DefaultConfiguration() Configuration {
	return Configuration{
		MaxPendingJobs: 256,
		FlushThreshold: 8,
		FlushInterval:  300 * time.Millisecond,
	}
}

func (c Configuration) normalized() Configuration {
	def := DefaultConfiguration()
	if c.MaxPendingJobs < 1 {
		c.MaxPendingJobs = def.MaxPendingJobs
	}
	if c.FlushThreshold < 1 {
		c.FlushThreshold = def.FlushThreshold
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	return c
}

// Batcher coalesces jobs into batches. A batch flushes when an Immediate job
// arrives, when FlushThreshold jobs are pending, or FlushInterval after the
// first buffered job. Lock order is flushMu then mu.
type Batcher struct {
	cfg     Configuration
	handler BatchHandler
	log     *logging.Logger

	flushMu sync.Mutex

	mu       sync.Mutex
	pending  []Job
	timer    *time.Timer
	timerGen uint64
	closed   bool
	flushes  uint64
}

// NewBatcher creates a batcher. Zero configuration fields take defaults.
func NewBatcher(cfg Configuration, handler BatchHandler) *Batcher {
	return &Batcher{
		cfg:     cfg.normalized(),
		handler: handler,
		log:     logging.New("persistence"),
	}
}

// Enqueue buffers job. If the buffer is at MaxPendingJobs it is flushed first.
func (b *Batcher) Enqueue(ctx context.Context, job Job, durability Durability) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if len(b.pending) < b.cfg.MaxPendingJobs {
			break
		}
		b.mu.Unlock()
		b.log.Warn("backpressure_flush", map[string]interface{}{"max_pending": b.cfg.MaxPendingJobs}, nil)
		b.FlushNow(ctx)
	}

	b.pending = append(b.pending, job)
	flush := durability == Immediate || len(b.pending) >= b.cfg.FlushThreshold
	if !flush {
		b.scheduleLocked()
	}
	b.mu.Unlock()

	if flush {
		b.FlushNow(ctx)
	}
	return nil
}

func (b *Batcher) scheduleLocked() {
	if b.timer != nil {
		return
	}
	gen := b.timerGen
	b.timer = time.AfterFunc(b.cfg.FlushInterval, func() {
		logging.NewRecoveryHandler("persistence").Wrap(func() {
			b.timerFlush(gen)
		})
	})
}

// takeLocked cancels any pending timer and drains the buffer.
func (b *Batcher) takeLocked() []Job {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerGen++
	jobs := b.pending
	b.pending = nil
	return jobs
}

func (b *Batcher) timerFlush(gen uint64) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if gen != b.timerGen {
		b.mu.Unlock()
		return
	}
	jobs := b.takeLocked()
	b.mu.Unlock()

	b.deliver(context.Background(), jobs)
}

// FlushNow hands every buffered job to the handler and returns after it does.
// An empty buffer is a no-op.
func (b *Batcher) FlushNow(ctx context.Context) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	jobs := b.takeLocked()
	b.mu.Unlock()

	b.deliver(ctx, jobs)
}

func (b *Batcher) deliver(ctx context.Context, jobs []Job) {
	if len(jobs) == 0 {
		return
	}
	b.mu.Lock()
	b.flushes++
	b.mu.Unlock()

	start := time.Now()
	b.handler(ctx, jobs)
	b.log.TimedEvent("batch_flushed", start, map[string]interface{}{"jobs": len(jobs)})
}

// Shutdown rejects further jobs, flushes the remainder, and stops the timer.
func (b *Batcher) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.FlushNow(ctx)
	return nil
}

// Pending returns the number of buffered jobs.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Flushes returns how many non-empty batches were delivered.
func (b *Batcher) Flushes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}
