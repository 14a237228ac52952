package concurrency

import (
	"context"
	"sync"
)

// Gate admits at most Limit turns at a time. The limit can move while turns
// are in flight; lowering it never preempts, it only delays new admissions.
type Gate struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiting int
	wake    chan struct{}
}

// NewGate creates a gate. limit < 1 is treated as 1.
func NewGate(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{limit: limit, wake: make(chan struct{})}
}

// Acquire blocks until a slot is free or ctx ends.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	for g.active >= g.limit {
		wake := g.wake
		g.waiting++
		g.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			g.mu.Lock()
			g.waiting--
			g.mu.Unlock()
			return ctx.Err()
		}

		g.mu.Lock()
		g.waiting--
	}
	g.active++
	g.mu.Unlock()
	return nil
}

// Release frees a slot taken by Acquire.
func (g *Gate) Release() {
	g.mu.Lock()
	if g.active > 0 {
		g.active--
	}
	g.broadcastLocked()
	g.mu.Unlock()
}

// SetLimit changes the admission limit.
func (g *Gate) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	g.mu.Lock()
	grew := limit > g.limit
	g.limit = limit
	if grew {
		g.broadcastLocked()
	}
	g.mu.Unlock()
}

func (g *Gate) broadcastLocked() {
	close(g.wake)
	g.wake = make(chan struct{})
}

// Limit returns the current limit.
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// Active returns admitted turns.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Waiting returns callers blocked in Acquire.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiting
}
