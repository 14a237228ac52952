package concurrency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshStateSchedule(t *testing.T) {
	var s RefreshState

	gen, ok := s.Schedule("first")
	require.True(t, ok)
	assert.Equal(t, uint64(1), gen)

	_, ok = s.Schedule("second")
	assert.False(t, ok, "no second launch while running")

	_, ready := s.RefreshReasonIfReady(gen)
	assert.False(t, ready, "first generation is stale")

	reason, ready := s.RefreshReasonIfReady(2)
	assert.True(t, ready)
	assert.Equal(t, "second", reason)

	s.MarkIdle()
	gen3, ok := s.Schedule("third")
	require.True(t, ok)
	assert.Equal(t, uint64(3), gen3)
	assert.True(t, s.Running())
}

func TestRecommendedPoolSize(t *testing.T) {
	tests := []struct {
		perf, logical, want int
	}{
		{8, 8, 8},
		{10, 12, 9},
		{0, 4, 2},
		{1, 4, 2},
		{16, 16, 12},
		{0, 10, 5},
		{0, 32, 8},
		{0, 0, 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RecommendedPoolSize(tt.perf, tt.logical), "perf=%d logical=%d", tt.perf, tt.logical)
	}
}

func TestPerWorkerTiers(t *testing.T) {
	tests := []struct {
		perf, logical   int
		turnLimit, base int
	}{
		{10, 0, 5, 5},
		{0, 16, 5, 5},
		{8, 0, 4, 4},
		{0, 10, 4, 4},
		{4, 0, 3, 3},
		{0, 6, 3, 3},
		{2, 4, 2, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.turnLimit, RecommendedPerWorkerTurnLimit(tt.perf, tt.logical))
		assert.Equal(t, tt.base, RecommendedAdaptiveBasePerWorker(tt.perf, tt.logical))
	}

	rec := Topology{PerformanceCores: 10, LogicalCores: 14}.Recommend()
	assert.Equal(t, Recommendation{PoolSize: 9, PerWorkerTurnLimit: 5, AdaptiveBasePerWorker: 5}, rec)
}

func TestDetectTopology(t *testing.T) {
	top := DetectTopology(context.Background())
	assert.GreaterOrEqual(t, top.LogicalCores, 1)
	assert.GreaterOrEqual(t, top.PerformanceCores, 0)
}

func TestControllerRampsUpInBoundedSteps(t *testing.T) {
	c := NewController(ControllerConfig{MinimumLimit: 2, HardMaximumLimit: 64, BasePerWorker: 8})
	sig := Signals{WorkerCount: 4}

	assert.Equal(t, 10, c.NextLimit(sig))
	assert.Equal(t, 18, c.NextLimit(sig))
	assert.Equal(t, 26, c.NextLimit(sig))
	assert.Equal(t, 32, c.NextLimit(sig))
	assert.Equal(t, 32, c.NextLimit(sig))
}

func TestControllerBacksOffUnderPressure(t *testing.T) {
	c := NewController(ControllerConfig{MinimumLimit: 2, HardMaximumLimit: 64, BasePerWorker: 8})
	for i := 0; i < 5; i++ {
		c.NextLimit(Signals{WorkerCount: 4})
	}
	require.Equal(t, 32, c.Current())

	// target halves to 16; descent is two per call
	assert.Equal(t, 30, c.NextLimit(Signals{WorkerCount: 4, DegradedWorkerCount: 1}))
	assert.Equal(t, 28, c.NextLimit(Signals{WorkerCount: 4, MemoryPressure: true}))
	assert.Equal(t, 26, c.NextLimit(Signals{WorkerCount: 4, EventBacklogPressure: true}))
}

func TestControllerFailureDelta(t *testing.T) {
	c := NewController(ControllerConfig{MinimumLimit: 2, HardMaximumLimit: 8, BasePerWorker: 8})
	c.NextLimit(Signals{WorkerCount: 1})
	require.Equal(t, 8, c.Current())

	// failures rose 0 -> 3: pressure
	assert.Equal(t, 6, c.NextLimit(Signals{WorkerCount: 1, TotalWorkerFailures: 3}))
	// unchanged total: no pressure
	assert.Equal(t, 8, c.NextLimit(Signals{WorkerCount: 1, TotalWorkerFailures: 3}))
}

func TestControllerHeadroomAndSelection(t *testing.T) {
	c := NewController(ControllerConfig{MinimumLimit: 2, HardMaximumLimit: 64, BasePerWorker: 2})

	assert.Equal(t, 3, c.NextLimit(Signals{WorkerCount: 1, SelectedThreadIsActive: true}))
	assert.Equal(t, 11, c.NextLimit(Signals{WorkerCount: 1, ActiveTurns: 20}))
	assert.Equal(t, 19, c.NextLimit(Signals{WorkerCount: 1, ActiveTurns: 20}))
	assert.Equal(t, 21, c.NextLimit(Signals{WorkerCount: 1, ActiveTurns: 20}))
}

func TestControllerQueuedTurnsAndTTFT(t *testing.T) {
	c := NewController(ControllerConfig{MinimumLimit: 2, HardMaximumLimit: 100, BasePerWorker: 4, TTFTBudgetMS: 1000})

	// baseline 8 + queued 100 capped at 48 -> 56, first step +8 from 2
	assert.Equal(t, 10, c.NextLimit(Signals{WorkerCount: 2, QueuedTurns: 100}))

	// p95 double the budget halves the target 8 -> 4, then one step down
	c2 := NewController(ControllerConfig{MinimumLimit: 2, HardMaximumLimit: 100, BasePerWorker: 4, TTFTBudgetMS: 1000})
	c2.NextLimit(Signals{WorkerCount: 2})
	require.Equal(t, 8, c2.Current())
	assert.Equal(t, 6, c2.NextLimit(Signals{WorkerCount: 2, RollingP95TTFTMS: 2000}))
	assert.Equal(t, 4, c2.NextLimit(Signals{WorkerCount: 2, RollingP95TTFTMS: 2000}))

	// worker-side queue depth trims the target
	c3 := NewController(ControllerConfig{MinimumLimit: 2, HardMaximumLimit: 100, BasePerWorker: 4})
	assert.Equal(t, 5, c3.NextLimit(Signals{WorkerCount: 2, WorkerQueuedTurns: 3}))
}

func TestRefresherCoalescesBurst(t *testing.T) {
	var mu sync.Mutex
	var reasons []string
	release := make(chan struct{})

	r := NewRefresher(5*time.Millisecond, func(reason string) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
		<-release
	})

	assert.True(t, r.Request("a"))
	assert.False(t, r.Request("b"))
	assert.False(t, r.Request("c"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reasons) == 1
	}, time.Second, time.Millisecond)

	assert.False(t, r.Request("during-run"), "dropped while running")
	close(release)
	r.Wait()

	mu.Lock()
	assert.Equal(t, []string{"c"}, reasons, "latest reason wins the debounce")
	mu.Unlock()

	assert.True(t, r.Request("after-idle"))
	r.Wait()
	mu.Lock()
	assert.Equal(t, []string{"c", "after-idle"}, reasons, "reasons recorded while running are superseded")
	mu.Unlock()
}

func TestMemoryPressure(t *testing.T) {
	assert.False(t, MemoryPressure(context.Background(), 101))
}

func TestGateBoundsActive(t *testing.T) {
	g := NewGate(2)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))

	admitted := make(chan struct{})
	go func() {
		_ = g.Acquire(ctx)
		close(admitted)
	}()

	require.Eventually(t, func() bool { return g.Waiting() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 2, g.Active())

	g.Release()
	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("waiter not admitted after release")
	}
	assert.Equal(t, 2, g.Active())
	assert.Equal(t, 0, g.Waiting())
}

func TestGateRaisingLimitAdmitsWaiters(t *testing.T) {
	g := NewGate(1)
	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Acquire(ctx)
		}()
	}
	require.Eventually(t, func() bool { return g.Waiting() == 2 }, time.Second, time.Millisecond)

	g.SetLimit(3)
	wg.Wait()
	assert.Equal(t, 3, g.Active())
	assert.Equal(t, 3, g.Limit())
}

func TestGateLoweringLimitDoesNotPreempt(t *testing.T) {
	g := NewGate(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, g.Acquire(ctx))
	}
	g.SetLimit(1)
	assert.Equal(t, 3, g.Active())

	g.Release()
	g.Release()
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Acquire(short), context.DeadlineExceeded)
	assert.Equal(t, 0, g.Waiting())

	g.Release()
	require.NoError(t, g.Acquire(ctx))
}
