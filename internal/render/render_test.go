package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/turnpool/internal/archive"
	"github.com/joss/turnpool/internal/concurrency"
	"github.com/joss/turnpool/internal/perf"
	"github.com/joss/turnpool/internal/persistence"
	"github.com/joss/turnpool/internal/pool"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "2.5s", FormatDuration(2500*time.Millisecond))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd...", Truncate("abcdefghij", 7))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}

func TestPlainTopology(t *testing.T) {
	top := concurrency.Topology{PerformanceCores: 8, LogicalCores: 12}
	out := New(false).Topology(top, top.Recommend())
	assert.Contains(t, out, "Performance cores: 8")
	assert.Contains(t, out, "Logical cores:     12")
	assert.Contains(t, out, "Pool size:")
}

func TestBackoffMarksStoppedFailures(t *testing.T) {
	out := New(false).Backoff(
		[]time.Duration{time.Second, 2 * time.Second},
		[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		2,
	)
	assert.Contains(t, out, "attempt 2  2.0s")
	assert.Contains(t, out, "failure 3  4.0s  (stopped)")
	assert.NotContains(t, out, "failure 2  2.0s  (stopped)")
}

func TestPoolSnapshot(t *testing.T) {
	s := pool.Snapshot{
		ConfiguredWorkerCount: 2,
		ActiveWorkerCount:     1,
		Workers: []pool.WorkerMetrics{
			{WorkerID: 1, Health: pool.HealthHealthy, InFlightTurns: 3},
			{WorkerID: 2, Health: pool.HealthStopped, FailureCount: 4},
		},
	}
	out := New(false).Pool(s)
	assert.Contains(t, out, "1/2 active")
	assert.Contains(t, out, "w1")
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "failures=4")
}

func TestPrettyUsesIcons(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	s := pool.Snapshot{Workers: []pool.WorkerMetrics{{WorkerID: 1, Health: pool.HealthDegraded}}}
	out := New(true).Pool(s)
	assert.Contains(t, out, "○ degraded")
	assert.Contains(t, out, "─")
}

func TestPerf(t *testing.T) {
	r := New(false)
	assert.Contains(t, r.Perf(perf.Snapshot{}, 4), "no samples")
	assert.Contains(t, r.Perf(perf.Snapshot{RollingP95TTFTMS: 950, SampleCount: 100}, 4), "950.0ms (100 samples)")
}

func TestCheckpoints(t *testing.T) {
	r := New(false)
	assert.Equal(t, "No checkpoints found\n", r.Checkpoints(nil))

	c := &archive.Checkpoint{
		ID:          "01hx",
		ThreadID:    uuid.New(),
		TurnID:      uuid.New(),
		Status:      persistence.TurnFailed,
		UserText:    "refactor the parser",
		Error:       "runtime process exited",
		StartedAt:   time.Now().Add(-2 * time.Second),
		CompletedAt: time.Now(),
	}
	list := r.Checkpoints([]*archive.Checkpoint{c})
	assert.Contains(t, list, "✗")
	assert.Contains(t, list, "└─ runtime process exited")

	one := r.Checkpoint(c)
	assert.Contains(t, one, "Checkpoint 01hx")
	assert.Contains(t, one, "> refactor the parser")
	assert.Contains(t, one, "Duration:")
}

func TestStatusCountsSorted(t *testing.T) {
	out := New(false).StatusCounts(map[persistence.TurnStatus]int{
		persistence.TurnPending:   1,
		persistence.TurnCompleted: 5,
	})
	assert.Less(t, bytes.Index([]byte(out), []byte("completed")), bytes.Index([]byte(out), []byte("pending")))
}

func TestWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.JSON(map[string]int{"limit": 4}))
	assert.Equal(t, "{\n  \"limit\": 4\n}\n", buf.String())
}
