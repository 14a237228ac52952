package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joss/turnpool/internal/alerts"
	"github.com/joss/turnpool/internal/logging"
	"github.com/joss/turnpool/internal/recovery"
)

var (
	// ErrWorkerTerminal means the worker exhausted its restart budget and needs
	// manual intervention.
	ErrWorkerTerminal = errors.New("worker exceeded restart budget")

	// ErrNoHealthyWorker means no worker can take a turn right now.
	ErrNoHealthyWorker = errors.New("no healthy worker available")

	// ErrUnknownWorker means the worker id is not registered.
	ErrUnknownWorker = errors.New("unknown worker")
)

// SupervisorConfig tunes restart behaviour. Zero fields take defaults.
type SupervisorConfig struct {
	ConfiguredWorkers      int
	MaxConsecutiveFailures int
	Backoff                func(consecutiveFailures int) time.Duration
}

type worker struct {
	backend     Backend
	metrics     WorkerMetrics
	consecutive int
}

type transition struct {
	id       WorkerID
	from, to Health
}

// Supervisor owns the worker set. It pins each thread to one worker, tracks
// in-flight turns, and restarts failed workers with bounded backoff.
type Supervisor struct {
	mu      sync.Mutex
	cfg     SupervisorConfig
	workers map[WorkerID]*worker
	pins    map[uuid.UUID]WorkerID
	log     *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Callbacks
	OnHealthChange func(id WorkerID, from, to Health)
	OnTerminal     func(id WorkerID, err error)
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = recovery.DefaultMaxConsecutiveWorkerFailures
	}
	if cfg.Backoff == nil {
		cfg.Backoff = recovery.WorkerRestartBackoff
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:     cfg,
		workers: make(map[WorkerID]*worker),
		pins:    make(map[uuid.UUID]WorkerID),
		log:     logging.New("pool"),
		sleep:   sleepContext,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add registers a started worker.
func (s *Supervisor) Add(id WorkerID, backend Backend) {
	s.mu.Lock()
	s.workers[id] = &worker{
		backend: backend,
		metrics: WorkerMetrics{WorkerID: id, Health: HealthHealthy, LastStartAt: time.Now()},
	}
	s.mu.Unlock()
	s.log.WithWorker(id.String()).Info("worker_added", nil)
}

func (s *Supervisor) setHealthLocked(w *worker, to Health) *transition {
	from := w.metrics.Health
	if from == to {
		return nil
	}
	w.metrics.Health = to
	return &transition{id: w.metrics.WorkerID, from: from, to: to}
}

func (s *Supervisor) fire(t *transition, failures int) {
	if t == nil {
		return
	}
	logging.HealthEvent(t.id.String(), string(t.to), t.to.Healthy(), failures)
	if s.OnHealthChange != nil {
		s.OnHealthChange(t.id, t.from, t.to)
	}
}

// pickLocked returns the thread's pinned worker if it can still take turns,
// otherwise the least loaded healthy worker, preferring lower ids on ties.
func (s *Supervisor) pickLocked(thread uuid.UUID) *worker {
	if id, ok := s.pins[thread]; ok {
		if w := s.workers[id]; w != nil && w.metrics.Health.Healthy() {
			return w
		}
	}

	ids := make([]WorkerID, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var best *worker
	for _, id := range ids {
		w := s.workers[id]
		if !w.metrics.Health.Healthy() {
			continue
		}
		if best == nil || load(w) < load(best) {
			best = w
		}
	}
	if best != nil {
		s.pins[thread] = best.metrics.WorkerID
	}
	return best
}

func load(w *worker) int {
	n := w.metrics.InFlightTurns
	if q, ok := w.backend.(QueueReporter); ok {
		n += q.QueueDepth()
	}
	return n
}

// SubmitTurn routes a turn to the thread's worker and relays its events. A
// submit error also starts recovery of that worker in the background.
func (s *Supervisor) SubmitTurn(ctx context.Context, thread uuid.UUID, req TurnRequest) (WorkerID, <-chan TurnEvent, error) {
	s.mu.Lock()
	w := s.pickLocked(thread)
	if w == nil {
		s.mu.Unlock()
		return 0, nil, ErrNoHealthyWorker
	}
	id := w.metrics.WorkerID
	w.metrics.InFlightTurns++
	backend := w.backend
	s.mu.Unlock()

	in, err := backend.SubmitTurn(ctx, thread, req)
	if err != nil {
		s.turnDone(id)
		s.recoverAsync(id, err)
		return id, nil, fmt.Errorf("submit turn to %s: %w", id, err)
	}

	out := make(chan TurnEvent)
	s.wg.Add(1)
	logging.SafeGo("pool", func() {
		defer s.wg.Done()
		defer close(out)
		defer s.turnDone(id)
		for {
			select {
			case ev, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-s.ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			case <-s.ctx.Done():
				return
			}
		}
	})
	return id, out, nil
}

func (s *Supervisor) turnDone(id WorkerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.workers[id]; w != nil && w.metrics.InFlightTurns > 0 {
		w.metrics.InFlightTurns--
	}
}

func (s *Supervisor) recoverAsync(id WorkerID, cause error) {
	s.wg.Add(1)
	logging.SafeGo("pool", func() {
		defer s.wg.Done()
		_ = s.HandleFailure(s.ctx, id, cause)
	})
}

// RespondToApproval forwards a decision to the worker the thread is pinned to.
func (s *Supervisor) RespondToApproval(ctx context.Context, thread uuid.UUID, requestID int, decision Decision) error {
	s.mu.Lock()
	id, ok := s.pins[thread]
	var backend Backend
	if w := s.workers[id]; ok && w != nil {
		backend = w.backend
	}
	s.mu.Unlock()

	if backend == nil {
		return fmt.Errorf("thread %s: %w", thread, ErrNoHealthyWorker)
	}
	return backend.RespondToApproval(ctx, requestID, decision)
}

// Unpin forgets the thread's worker assignment.
func (s *Supervisor) Unpin(thread uuid.UUID) {
	s.mu.Lock()
	delete(s.pins, thread)
	s.mu.Unlock()
}

// ReportSuccess ends the worker's failure streak.
func (s *Supervisor) ReportSuccess(id WorkerID) {
	s.mu.Lock()
	w := s.workers[id]
	if w == nil {
		s.mu.Unlock()
		return
	}
	w.consecutive = recovery.NextConsecutiveWorkerFailureCount(w.consecutive, true)
	var t *transition
	if w.metrics.Health == HealthDegraded {
		t = s.setHealthLocked(w, HealthHealthy)
	}
	failures := w.metrics.FailureCount
	s.mu.Unlock()
	s.fire(t, failures)
}

// HandleFailure records a failure and restarts the worker after the policy
// delay, retrying failed restarts until the streak exceeds the budget. Once it
// does the worker is stopped, a critical alert is raised, and
// ErrWorkerTerminal is returned. A failure reported while a restart is already
// in progress is folded into it.
func (s *Supervisor) HandleFailure(ctx context.Context, id WorkerID, cause error) error {
	s.mu.Lock()
	w := s.workers[id]
	if w == nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrUnknownWorker)
	}
	switch w.metrics.Health {
	case HealthStopped:
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrWorkerTerminal)
	case HealthRestarting:
		s.mu.Unlock()
		return nil
	}
	s.recordFailureLocked(w)
	log := s.log.WithWorker(id.String())
	log.Warn("worker_failed", map[string]interface{}{"consecutive": w.consecutive}, cause)

	for {
		if !recovery.ShouldAttemptWorkerRestart(w.consecutive, s.cfg.MaxConsecutiveFailures) {
			t := s.setHealthLocked(w, HealthStopped)
			s.unpinLocked(id)
			failures, streak := w.metrics.FailureCount, w.consecutive
			s.mu.Unlock()

			s.fire(t, failures)
			err := fmt.Errorf("%s after %d consecutive failures: %w", id, streak, ErrWorkerTerminal)
			log.Error("worker_terminal", map[string]interface{}{"consecutive": streak}, cause)
			alerts.Critical("pool", "Runtime worker stopped", err.Error(), map[string]interface{}{
				"worker":      id.String(),
				"consecutive": streak,
			})
			if s.OnTerminal != nil {
				s.OnTerminal(id, err)
			}
			return err
		}

		t := s.setHealthLocked(w, HealthRestarting)
		delay := s.cfg.Backoff(w.consecutive)
		failures := w.metrics.FailureCount
		s.mu.Unlock()
		s.fire(t, failures)

		if err := s.sleep(ctx, delay); err != nil {
			s.mu.Lock()
			t := s.setHealthLocked(w, HealthDegraded)
			s.mu.Unlock()
			s.fire(t, failures)
			return err
		}

		start := time.Now()
		restartErr := w.backend.Restart(ctx)

		s.mu.Lock()
		if restartErr == nil {
			w.metrics.RestartCount++
			w.metrics.LastStartAt = time.Now()
			w.consecutive = recovery.NextConsecutiveWorkerFailureCount(w.consecutive, true)
			t := s.setHealthLocked(w, HealthHealthy)
			failures := w.metrics.FailureCount
			s.mu.Unlock()
			s.fire(t, failures)
			log.TimedEvent("worker_restarted", start, map[string]interface{}{"delay_ms": delay.Milliseconds()})
			return nil
		}
		if ctx.Err() != nil {
			t := s.setHealthLocked(w, HealthDegraded)
			s.mu.Unlock()
			s.fire(t, failures)
			return ctx.Err()
		}
		s.recordFailureLocked(w)
		log.Warn("restart_failed", map[string]interface{}{"consecutive": w.consecutive}, restartErr)
	}
}

func (s *Supervisor) recordFailureLocked(w *worker) {
	w.metrics.FailureCount++
	w.metrics.LastFailureAt = time.Now()
	w.consecutive = recovery.NextConsecutiveWorkerFailureCount(w.consecutive, false)
}

func (s *Supervisor) unpinLocked(id WorkerID) {
	for thread, pinned := range s.pins {
		if pinned == id {
			delete(s.pins, thread)
		}
	}
}

// CheckHealth polls every backend and starts recovery for workers that report
// degraded or stopped while the supervisor still considers them healthy.
func (s *Supervisor) CheckHealth(ctx context.Context) {
	s.mu.Lock()
	var failing []WorkerID
	for id, w := range s.workers {
		if !w.metrics.Health.Healthy() {
			continue
		}
		if h := w.backend.Health(); h == HealthDegraded || h == HealthStopped {
			failing = append(failing, id)
		}
	}
	s.mu.Unlock()

	for _, id := range failing {
		s.recoverAsync(id, fmt.Errorf("backend reported unhealthy"))
	}
}

// Snapshot projects the pool state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ConfiguredWorkerCount: max(s.cfg.ConfiguredWorkers, len(s.workers)),
		PinnedThreadCount:     len(s.pins),
		Workers:               make([]WorkerMetrics, 0, len(s.workers)),
	}
	for _, w := range s.workers {
		m := w.metrics
		if q, ok := w.backend.(QueueReporter); ok {
			m.QueueDepth = q.QueueDepth()
		}
		if m.Health != HealthStopped {
			snap.ActiveWorkerCount++
		}
		snap.TotalQueuedTurns += m.QueueDepth
		snap.TotalInFlightTurns += m.InFlightTurns
		snap.Workers = append(snap.Workers, m)
	}
	sort.Slice(snap.Workers, func(i, j int) bool {
		return snap.Workers[i].WorkerID < snap.Workers[j].WorkerID
	})
	return snap
}

// Close cancels background recoveries and waits for relays to finish.
func (s *Supervisor) Close() {
	s.cancel()
	s.wg.Wait()
}
