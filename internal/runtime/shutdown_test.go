package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewShutdownManager(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	if m == nil {
		t.Fatal("NewShutdownManager returned nil")
	}

	if m.timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", m.timeout)
	}
}

func TestShutdownManager_Register(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	var called int32

	m.Register("test-handler", func(ctx context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if atomic.LoadInt32(&called) != 1 {
		t.Error("handler was not called")
	}
}

func TestShutdownManager_LIFO(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	order := make([]int, 0, 3)

	m.RegisterSimple("archive", func() {
		order = append(order, 1)
	})
	m.RegisterSimple("scheduler", func() {
		order = append(order, 2)
	})
	m.RegisterSimple("batcher", func() {
		order = append(order, 3)
	})

	m.Shutdown()

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("expected %d handlers called, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order = %v, want %v", order, want)
			break
		}
	}
}

func TestShutdownManager_Context(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	ctx := m.Context()

	select {
	case <-ctx.Done():
		t.Fatal("context should not be cancelled before shutdown")
	default:
	}

	m.Shutdown()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be cancelled after shutdown")
	}
}

func TestShutdownManager_Done(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	done := m.Done()

	select {
	case <-done:
		t.Fatal("done channel should not be closed before shutdown")
	default:
	}

	m.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done channel should be closed after shutdown")
	}
	m.WaitForShutdown()
}

func TestShutdownManager_Timeout(t *testing.T) {
	m := NewShutdownManager(100 * time.Millisecond)

	var laterRan atomic.Bool
	m.RegisterSimple("registered-first", func() {
		laterRan.Store(true)
	})
	m.Register("slow-handler", func(ctx context.Context) error {
		<-time.After(5 * time.Second)
		return nil
	})

	start := time.Now()
	err := m.Shutdown()
	duration := time.Since(start)

	if duration > 500*time.Millisecond {
		t.Errorf("shutdown took too long: %v", duration)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}
	if laterRan.Load() {
		t.Error("handlers after the deadline should be skipped")
	}
}

func TestShutdownManager_ErrorHandling(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)
	testErr := errors.New("test error")

	m.Register("error-handler", func(ctx context.Context) error {
		return testErr
	})

	var ran bool
	m.Register("success-handler", func(ctx context.Context) error {
		ran = true
		return nil
	})

	err := m.Shutdown()
	if !errors.Is(err, testErr) {
		t.Errorf("Shutdown() error = %v, want %v", err, testErr)
	}
	if !ran {
		t.Error("a failing handler should not stop the others")
	}
}

func TestShutdownManager_PanickingHandler(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	m.RegisterSimple("panics", func() {
		panic("boom")
	})

	if err := m.Shutdown(); err == nil {
		t.Error("expected panic to surface as an error")
	}
}

func TestShutdownManager_OnlyOnce(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	var callCount int32

	m.Register("once-handler", func(ctx context.Context) error {
		atomic.AddInt32(&callCount, 1)
		return nil
	})

	m.Shutdown()
	m.Shutdown()
	m.Shutdown()

	if atomic.LoadInt32(&callCount) != 1 {
		t.Errorf("handler should only be called once, got %d", callCount)
	}
}
