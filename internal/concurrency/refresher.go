package concurrency

import (
	"sync"
	"time"

	"github.com/joss/turnpool/internal/logging"
)

// DefaultRefreshDebounce coalesces a burst of refresh requests.
const DefaultRefreshDebounce = 25 * time.Millisecond

// Refresher runs a refresh function for bursts of requests, one run at a time.
type Refresher struct {
	mu       sync.Mutex
	state    RefreshState
	debounce time.Duration
	refresh  func(reason string)
	log      *logging.Logger
	wg       sync.WaitGroup
}

// NewRefresher wraps refresh. debounce <= 0 uses DefaultRefreshDebounce.
func NewRefresher(debounce time.Duration, refresh func(reason string)) *Refresher {
	if debounce <= 0 {
		debounce = DefaultRefreshDebounce
	}
	return &Refresher{
		debounce: debounce,
		refresh:  refresh,
		log:      logging.New("concurrency"),
	}
}

// Request asks for a refresh. It returns true when this call launched the run;
// requests made while a run is in flight only update the reason.
func (r *Refresher) Request(reason string) bool {
	r.mu.Lock()
	gen, ok := r.state.Schedule(reason)
	r.mu.Unlock()
	if !ok {
		return false
	}

	r.wg.Add(1)
	logging.SafeGo("concurrency", func() {
		defer r.wg.Done()
		defer r.markIdle()
		r.run(gen)
	})
	return true
}

func (r *Refresher) run(gen uint64) {
	for {
		time.Sleep(r.debounce)

		r.mu.Lock()
		reason, ready := r.state.RefreshReasonIfReady(gen)
		if !ready {
			gen = r.state.Generation()
		}
		r.mu.Unlock()

		if ready {
			start := time.Now()
			r.refresh(reason)
			r.log.TimedEvent("limit_refreshed", start, map[string]interface{}{
				"reason":     reason,
				"generation": gen,
			})
			return
		}
	}
}

func (r *Refresher) markIdle() {
	r.mu.Lock()
	r.state.MarkIdle()
	r.mu.Unlock()
}

// Wait blocks until the in-flight run, if any, has finished.
func (r *Refresher) Wait() {
	r.wg.Wait()
}
