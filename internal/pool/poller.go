package pool

import (
	"context"
	"sync"
	"time"

	"github.com/joss/turnpool/internal/logging"
)

// SnapshotSource produces pool snapshots.
type SnapshotSource interface {
	Snapshot() Snapshot
}

// HealthChecker is polled before each snapshot when the source implements it.
type HealthChecker interface {
	CheckHealth(ctx context.Context)
}

// Poller refreshes a snapshot on a fixed interval and hands it to publish.
type Poller struct {
	source   SnapshotSource
	interval time.Duration
	publish  func(Snapshot)

	mu     sync.Mutex
	latest Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a poller. publish may be nil.
func NewPoller(source SnapshotSource, interval time.Duration, publish func(Snapshot)) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{source: source, interval: interval, publish: publish}
}

// Start polls once immediately and then every interval until Stop or ctx ends.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.Poll(ctx)
	logging.SafeGo("pool", func() {
		defer close(done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Poll(ctx)
			case <-ctx.Done():
				return
			}
		}
	})
}

// Poll takes one snapshot now.
func (p *Poller) Poll(ctx context.Context) Snapshot {
	if hc, ok := p.source.(HealthChecker); ok {
		hc.CheckHealth(ctx)
	}
	snap := p.source.Snapshot()

	p.mu.Lock()
	p.latest = snap
	p.mu.Unlock()

	if p.publish != nil {
		p.publish(snap)
	}
	return snap
}

// Latest returns the most recent snapshot.
func (p *Poller) Latest() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Stop ends polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
