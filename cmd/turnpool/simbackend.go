package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joss/turnpool/internal/pool"
)

var (
	errSimCrash    = errors.New("runtime process exited")
	errSimNotReady = errors.New("runtime not accepting turns")
)

// simProfile shapes the fake runtime's behaviour.
type simProfile struct {
	Capacity     int
	FailureRate  float64
	ApprovalRate float64
	MinTTFT      time.Duration
	MaxTTFT      time.Duration
	Deltas       int
	RestartDelay time.Duration
}

// simBackend is an in-process stand-in for one runtime process. It serves up
// to Capacity turns at once and queues the rest.
type simBackend struct {
	profile simProfile
	reqSeq  *atomic.Int64
	slots   chan struct{}
	queued  atomic.Int32

	mu        sync.Mutex
	rng       *rand.Rand
	health    pool.Health
	approvals map[int]chan pool.Decision
}

func newSimBackend(p simProfile, seed uint64, reqSeq *atomic.Int64) *simBackend {
	if p.Capacity < 1 {
		p.Capacity = 1
	}
	return &simBackend{
		profile:   p,
		reqSeq:    reqSeq,
		slots:     make(chan struct{}, p.Capacity),
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		health:    pool.HealthHealthy,
		approvals: make(map[int]chan pool.Decision),
	}
}

func (b *simBackend) roll() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rng.Float64()
}

func (b *simBackend) ttft() time.Duration {
	span := b.profile.MaxTTFT - b.profile.MinTTFT
	if span <= 0 {
		return b.profile.MinTTFT
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profile.MinTTFT + time.Duration(b.rng.Int64N(int64(span)))
}

func (b *simBackend) SubmitTurn(ctx context.Context, thread uuid.UUID, req pool.TurnRequest) (<-chan pool.TurnEvent, error) {
	if h := b.Health(); !h.Healthy() {
		return nil, fmt.Errorf("%w (%s)", errSimNotReady, h)
	}
	out := make(chan pool.TurnEvent)
	go b.serve(ctx, req, out)
	return out, nil
}

func (b *simBackend) serve(ctx context.Context, req pool.TurnRequest, out chan<- pool.TurnEvent) {
	defer close(out)

	send := func(ev pool.TurnEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	b.queued.Add(1)
	select {
	case b.slots <- struct{}{}:
		b.queued.Add(-1)
	case <-ctx.Done():
		b.queued.Add(-1)
		return
	}
	defer func() { <-b.slots }()

	if !sleepCtx(ctx, b.ttft()) {
		return
	}

	crashAt := -1
	if b.roll() < b.profile.FailureRate {
		crashAt = int(b.roll() * float64(b.profile.Deltas))
	}
	for i := 0; i < b.profile.Deltas; i++ {
		if i == crashAt {
			b.setHealth(pool.HealthDegraded)
			send(pool.TurnEvent{Kind: pool.EventFailed, Err: errSimCrash})
			return
		}
		if !send(pool.TurnEvent{Kind: pool.EventDelta, Text: fmt.Sprintf("%s#%d ", req.TurnID, i)}) {
			return
		}
		if !sleepCtx(ctx, 5*time.Millisecond) {
			return
		}
	}

	if b.roll() < b.profile.ApprovalRate {
		id := int(b.reqSeq.Add(1))
		decision := make(chan pool.Decision, 1)
		b.mu.Lock()
		b.approvals[id] = decision
		b.mu.Unlock()
		defer func() {
			b.mu.Lock()
			delete(b.approvals, id)
			b.mu.Unlock()
		}()

		if !send(pool.TurnEvent{Kind: pool.EventApprovalRequired, RequestID: id, Text: "apply patch"}) {
			return
		}
		select {
		case d := <-decision:
			if d == pool.DecisionDecline {
				send(pool.TurnEvent{Kind: pool.EventFailed, Err: errors.New("approval declined")})
				return
			}
		case <-ctx.Done():
			return
		}
	}
	send(pool.TurnEvent{Kind: pool.EventCompleted, Text: "done"})
}

func (b *simBackend) RespondToApproval(ctx context.Context, requestID int, decision pool.Decision) error {
	b.mu.Lock()
	ch, ok := b.approvals[requestID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("approval %d is not pending", requestID)
	}
	select {
	case ch <- decision:
	default:
	}
	return nil
}

func (b *simBackend) Health() pool.Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.health
}

func (b *simBackend) setHealth(h pool.Health) {
	b.mu.Lock()
	b.health = h
	b.mu.Unlock()
}

func (b *simBackend) Restart(ctx context.Context) error {
	b.setHealth(pool.HealthStarting)
	if !sleepCtx(ctx, b.profile.RestartDelay) {
		return ctx.Err()
	}
	if b.roll() < b.profile.FailureRate/2 {
		b.setHealth(pool.HealthDegraded)
		return errSimCrash
	}
	b.setHealth(pool.HealthHealthy)
	return nil
}

func (b *simBackend) QueueDepth() int {
	return int(b.queued.Load())
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
