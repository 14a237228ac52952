// Package resolution deduplicates concurrent resolve operations per thread so
// an expensive lookup runs once and every waiter shares its outcome.
package resolution

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/joss/turnpool/internal/logging"
)

// Op resolves a value for one thread. It must honor ctx cancellation.
type Op[T any] func(ctx context.Context) (T, error)

type entry struct {
	generation uint64
	key        string
	ctx        context.Context
	cancel     context.CancelFunc
}

// Coordinator runs at most one Op per thread at a time. The zero value is not
// usable; call NewCoordinator.
type Coordinator[T any] struct {
	mu         sync.Mutex
	group      singleflight.Group
	generation uint64
	entries    map[uuid.UUID]*entry
	log        *logging.Logger
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator[T any]() *Coordinator[T] {
	return &Coordinator[T]{
		entries: make(map[uuid.UUID]*entry),
		log:     logging.New("resolution"),
	}
}

// Resolve joins the in-flight operation for thread or starts op under a new
// generation. op runs detached from ctx: a caller whose ctx ends gets ctx.Err()
// while the operation keeps running for the other waiters.
func (c *Coordinator[T]) Resolve(ctx context.Context, thread uuid.UUID, op Op[T]) (T, error) {
	c.mu.Lock()
	e, ok := c.entries[thread]
	if !ok {
		c.generation++
		opCtx, cancel := context.WithCancel(context.Background())
		e = &entry{
			generation: c.generation,
			key:        fmt.Sprintf("%s#%d", thread, c.generation),
			ctx:        opCtx,
			cancel:     cancel,
		}
		c.entries[thread] = e
	}
	// Joining under c.mu: while the entry is present its call has not yet
	// passed clearIfCurrent, so the key is still in flight.
	ch := c.group.DoChan(e.key, func() (interface{}, error) {
		defer e.cancel()
		defer c.clearIfCurrent(thread, e.generation)
		handler := logging.NewRecoveryHandler("resolution")
		var val T
		err := handler.WrapError(func() error {
			var opErr error
			val, opErr = op(e.ctx)
			return opErr
		})
		return val, err
	})
	c.mu.Unlock()

	var zero T
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		val, _ := res.Val.(T)
		return val, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *Coordinator[T]) clearIfCurrent(thread uuid.UUID, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[thread]; ok && e.generation == generation {
		delete(c.entries, thread)
	}
}

// Cancel cancels the operation for thread and forgets it. The next Resolve
// starts a fresh operation. Absent threads are a no-op.
func (c *Coordinator[T]) Cancel(thread uuid.UUID) {
	c.mu.Lock()
	e, ok := c.entries[thread]
	delete(c.entries, thread)
	c.mu.Unlock()

	if ok {
		e.cancel()
		c.log.WithThread(thread.String()).Debug("resolution_cancelled", map[string]interface{}{
			"generation": e.generation,
		})
	}
}

// CancelAll cancels every in-flight operation.
func (c *Coordinator[T]) CancelAll() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[uuid.UUID]*entry)
	c.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}

// InFlight returns the number of threads with a running operation.
func (c *Coordinator[T]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
