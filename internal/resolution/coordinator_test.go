package resolution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/turnpool/internal/logging"
)

func TestConcurrentResolveRunsOnce(t *testing.T) {
	c := NewCoordinator[string]()
	thread := uuid.New()
	release := make(chan struct{})
	var calls atomic.Int32

	op := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "durable-42", nil
	}

	const n = 16
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(context.Background(), thread, op)
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < n; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, "durable-42", results[i])
	}
	assert.Zero(t, c.InFlight(), "entry cleared on completion")
}

func TestConcurrentResolveSharesError(t *testing.T) {
	c := NewCoordinator[string]()
	thread := uuid.New()
	release := make(chan struct{})
	boom := errors.New("lookup failed")
	var calls atomic.Int32

	op := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "", boom
	}

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := c.Resolve(context.Background(), thread, op)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, <-errs, boom)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelReplacesEntry(t *testing.T) {
	c := NewCoordinator[int]()
	thread := uuid.New()

	releaseOld := make(chan struct{})
	oldDone := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), thread, func(ctx context.Context) (int, error) {
			<-releaseOld
			return 1, nil
		})
		oldDone <- err
	}()
	require.Eventually(t, func() bool { return c.InFlight() == 1 }, time.Second, time.Millisecond)

	c.Cancel(thread)
	assert.Zero(t, c.InFlight())

	releaseNew := make(chan struct{})
	var newCalls atomic.Int32
	newOp := func(ctx context.Context) (int, error) {
		newCalls.Add(1)
		<-releaseNew
		return 2, nil
	}
	newDone := make(chan int, 2)
	go func() {
		v, _ := c.Resolve(context.Background(), thread, newOp)
		newDone <- v
	}()
	require.Eventually(t, func() bool { return newCalls.Load() == 1 }, time.Second, time.Millisecond)

	// Late completion of the superseded op must not clear the new entry.
	close(releaseOld)
	require.NoError(t, <-oldDone)
	assert.Equal(t, 1, c.InFlight())

	go func() {
		v, _ := c.Resolve(context.Background(), thread, newOp)
		newDone <- v
	}()
	time.Sleep(20 * time.Millisecond)
	close(releaseNew)

	assert.Equal(t, 2, <-newDone)
	assert.Equal(t, 2, <-newDone)
	assert.Equal(t, int32(1), newCalls.Load())
}

func TestCancelPropagatesToOp(t *testing.T) {
	c := NewCoordinator[string]()
	thread := uuid.New()
	started := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), thread, func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		})
		done <- err
	}()
	<-started

	c.Cancel(thread)
	assert.ErrorIs(t, <-done, context.Canceled)

	c.Cancel(uuid.New())
}

func TestWaiterContextDoesNotCancelOp(t *testing.T) {
	c := NewCoordinator[string]()
	thread := uuid.New()
	release := make(chan struct{})
	var opErr atomic.Value

	op := func(ctx context.Context) (string, error) {
		<-release
		if err := ctx.Err(); err != nil {
			opErr.Store(err)
		}
		return "ok", nil
	}

	patient := make(chan string, 1)
	go func() {
		v, _ := c.Resolve(context.Background(), thread, op)
		patient <- v
	}()
	require.Eventually(t, func() bool { return c.InFlight() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Resolve(ctx, thread, op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.Equal(t, "ok", <-patient)
	assert.Nil(t, opErr.Load())
}

func TestCancelAll(t *testing.T) {
	c := NewCoordinator[string]()
	var wg sync.WaitGroup
	errs := make(chan error, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), uuid.New(), func(ctx context.Context) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			})
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return c.InFlight() == 3 }, time.Second, time.Millisecond)

	c.CancelAll()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Zero(t, c.InFlight())
}

func TestPanickingOpBecomesError(t *testing.T) {
	c := NewCoordinator[string]()
	_, err := c.Resolve(context.Background(), uuid.New(), func(ctx context.Context) (string, error) {
		panic("resolver blew up")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver blew up")
	assert.True(t, logging.IsPanic(err))
	assert.Zero(t, c.InFlight())
}
