package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type fakeBackend struct {
	mu          sync.Mutex
	health      Health
	submitErr   error
	restartErrs []error
	restarts    atomic.Int32
	approvals   []int
	queue       int
	streams     []chan TurnEvent
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{health: HealthHealthy}
}

func (f *fakeBackend) SubmitTurn(ctx context.Context, thread uuid.UUID, req TurnRequest) (<-chan TurnEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	ch := make(chan TurnEvent, 4)
	f.streams = append(f.streams, ch)
	return ch, nil
}

func (f *fakeBackend) RespondToApproval(ctx context.Context, requestID int, decision Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals = append(f.approvals, requestID)
	return nil
}

func (f *fakeBackend) Health() Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeBackend) setHealth(h Health) {
	f.mu.Lock()
	f.health = h
	f.mu.Unlock()
}

func (f *fakeBackend) Restart(ctx context.Context) error {
	n := int(f.restarts.Add(1))
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= len(f.restartErrs) {
		return f.restartErrs[n-1]
	}
	f.health = HealthHealthy
	return nil
}

func (f *fakeBackend) QueueDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue
}

func (f *fakeBackend) finishAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.streams {
		ch <- TurnEvent{Kind: EventCompleted}
		close(ch)
	}
	f.streams = nil
}

var errCrash = errors.New("runtime process exited")
