package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/joss/turnpool/internal/approval"
	"github.com/joss/turnpool/internal/archive"
	"github.com/joss/turnpool/internal/concurrency"
	"github.com/joss/turnpool/internal/config"
	"github.com/joss/turnpool/internal/logging"
	"github.com/joss/turnpool/internal/metrics"
	"github.com/joss/turnpool/internal/perf"
	"github.com/joss/turnpool/internal/persistence"
	"github.com/joss/turnpool/internal/pool"
	"github.com/joss/turnpool/internal/recovery"
	"github.com/joss/turnpool/internal/resolution"
	"github.com/joss/turnpool/internal/runtime"
)

// simOptions describes one simulated workload.
type simOptions struct {
	Turns       int
	Threads     int
	ProjectPath string
	Seed        uint64
	TimeScale   float64 // divides every recovery delay
	Profile     simProfile
}

func (o simOptions) scaled(d time.Duration) time.Duration {
	if o.TimeScale <= 1 {
		return d
	}
	return time.Duration(float64(d) / o.TimeScale)
}

// session composes the coordinators around a simulated worker pool. Each
// coordinator stays independent; session is the only place they meet.
type session struct {
	cfg  *config.Config
	opts simOptions
	log  *logging.Logger

	shutdown *runtime.ShutdownManager
	rec      concurrency.Recommendation

	sup        *pool.Supervisor
	poller     *pool.Poller
	reg        *metrics.Registry
	server     *metrics.Server
	tracker    *perf.Tracker
	controller *concurrency.Controller
	gate       *concurrency.Gate
	refresher  *concurrency.Refresher
	approvals  *approval.Router
	resolver   *resolution.Coordinator[string]
	store      *archive.Store
	writer     *persistence.Worker
	scheduler  *persistence.Scheduler
	batcher    *persistence.Batcher

	approvalWake chan struct{}
	bg           sync.WaitGroup

	mu             sync.Mutex
	runtimeThreads map[uuid.UUID]string
	activeThreads  map[uuid.UUID]int
	selected       uuid.UUID

	completed atomic.Int64
	failed    atomic.Int64
	approved  atomic.Int64
}

// sessionResult is what simulate prints.
type sessionResult struct {
	Turns       int                            `json:"turns"`
	Completed   int64                          `json:"completed"`
	Failed      int64                          `json:"failed"`
	Approvals   int64                          `json:"approvals"`
	Elapsed     time.Duration                  `json:"elapsed_ns"`
	TurnLimit   int                            `json:"turn_limit"`
	Pool        pool.Snapshot                  `json:"pool"`
	Perf        perf.Snapshot                  `json:"perf"`
	Pipeline    metrics.PipelineStats          `json:"pipeline"`
	Checkpoints map[persistence.TurnStatus]int `json:"checkpoints"`
}

func newSession(cfg *config.Config, opts simOptions, top concurrency.Topology, dataDir string) (*session, error) {
	s := &session{
		cfg:            cfg,
		opts:           opts,
		log:            logging.New("session"),
		shutdown:       runtime.NewShutdownManager(runtime.DefaultShutdownTimeout),
		rec:            top.Recommend(),
		approvalWake:   make(chan struct{}, 1),
		runtimeThreads: make(map[uuid.UUID]string),
		activeThreads:  make(map[uuid.UUID]int),
	}

	store, err := archive.Open(dataDir)
	if err != nil {
		return nil, err
	}
	s.store = store
	s.shutdown.Register("archive", func(ctx context.Context) error { return store.Close() })

	// Checkpoint writes outlive the session context so a cancelled run still
	// records how its turns ended.
	writeCtx := context.WithoutCancel(s.shutdown.Context())
	s.writer = persistence.NewWorker(store, cfg.Persistence.WriteTimeout)
	s.scheduler = persistence.NewScheduler(writeCtx, cfg.Persistence.MaxConcurrentJobs, s.writer.Handle)
	s.shutdown.RegisterSimple("scheduler", s.scheduler.Wait)
	s.batcher = persistence.NewBatcher(cfg.BatcherConfiguration(), s.writer.HandleBatch)
	s.shutdown.Register("batcher", s.batcher.Shutdown)

	s.reg = metrics.NewRegistry()
	s.tracker = perf.NewTracker(cfg.Perf.MaxSampleCount, s.reg)

	s.controller = concurrency.NewController(cfg.ControllerConfig(s.rec.AdaptiveBasePerWorker))
	s.gate = concurrency.NewGate(s.controller.Current())
	s.refresher = concurrency.NewRefresher(cfg.Concurrency.RefreshDebounce, s.refreshLimit)
	s.shutdown.RegisterSimple("refresher", s.refresher.Wait)

	s.approvals = approval.NewRouter()
	s.resolver = resolution.NewCoordinator[string]()

	workers := cfg.Pool.Workers
	if workers < 1 {
		workers = s.rec.PoolSize
	}
	s.sup = pool.NewSupervisor(pool.SupervisorConfig{
		ConfiguredWorkers:      workers,
		MaxConsecutiveFailures: cfg.Pool.MaxConsecutiveFailures,
		Backoff: func(n int) time.Duration {
			return opts.scaled(recovery.WorkerRestartBackoff(n))
		},
	})
	s.sup.OnHealthChange = func(id pool.WorkerID, from, to pool.Health) {
		s.refresher.Request("worker_" + string(to))
	}
	s.sup.OnTerminal = func(id pool.WorkerID, err error) {
		s.log.WithWorker(id.String()).Error("worker_lost", nil, err)
	}

	profile := opts.Profile
	if profile.Capacity < 1 {
		profile.Capacity = s.rec.PerWorkerTurnLimit
	}
	var reqSeq atomic.Int64
	for i := 1; i <= workers; i++ {
		s.sup.Add(pool.WorkerID(i), newSimBackend(profile, opts.Seed+uint64(i), &reqSeq))
	}
	s.shutdown.RegisterSimple("supervisor", s.sup.Close)
	s.shutdown.RegisterSimple("resolver", s.resolver.CancelAll)
	s.shutdown.RegisterSimple("approvals", s.bg.Wait)

	if addr := cfg.Metrics.Addr; addr != "" {
		s.server = metrics.NewServer(addr, s.reg)
		if err := s.server.Start(); err != nil {
			s.shutdown.Shutdown()
			return nil, err
		}
		s.shutdown.Register("metrics", s.server.Stop)
	}

	s.poller = pool.NewPoller(s.sup, cfg.Pool.PollInterval, s.publish)
	s.shutdown.RegisterSimple("poller", s.poller.Stop)
	return s, nil
}

// publish pushes one poll into the gauges and asks for a limit refresh.
func (s *session) publish(snap pool.Snapshot) {
	s.reg.PublishPool(snap)
	s.reg.PublishPerf(s.tracker.Snapshot())
	s.reg.PublishPipeline(s.pipelineStats())
	s.reg.SetPendingApprovals(s.approvals.Count())
	s.refresher.Request("poll")
}

func (s *session) pipelineStats() metrics.PipelineStats {
	return metrics.PipelineStats{
		SchedulerPending: s.scheduler.Pending(),
		SchedulerRunning: s.scheduler.Running(),
		BatcherPending:   s.batcher.Pending(),
		BatchFlushes:     s.batcher.Flushes(),
		Processed:        s.writer.Processed(),
		Failed:           s.writer.Failed(),
	}
}

func (s *session) refreshLimit(reason string) {
	snap := s.sup.Snapshot()
	backlog := s.scheduler.Pending() + s.batcher.Pending()

	s.mu.Lock()
	selectedActive := s.activeThreads[s.selected] > 0
	s.mu.Unlock()

	limit := s.controller.NextLimit(concurrency.Signals{
		QueuedTurns:            s.gate.Waiting(),
		ActiveTurns:            s.gate.Active(),
		WorkerCount:            snap.ActiveWorkerCount,
		DegradedWorkerCount:    snap.DegradedWorkerCount(),
		TotalWorkerFailures:    snap.TotalFailures(),
		SelectedThreadIsActive: selectedActive,
		MemoryPressure:         concurrency.MemoryPressure(s.shutdown.Context(), concurrency.DefaultMemoryPressurePercent),
		EventBacklogPressure:   backlog >= s.cfg.Persistence.MaxPendingJobs/2,
		WorkerQueuedTurns:      snap.TotalQueuedTurns,
		RollingP95TTFTMS:       s.tracker.Snapshot().RollingP95TTFTMS,
	})
	s.gate.SetLimit(limit)
	s.reg.SetTurnLimit(limit)
	s.log.Debug("turn_limit", map[string]interface{}{"reason": reason, "limit": limit})
}

// run drives opts.Turns turns spread round-robin over opts.Threads threads.
// Turns on one thread run in order; threads run concurrently under the gate.
func (s *session) run(parent context.Context) sessionResult {
	start := time.Now()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	s.poller.Start(ctx)

	s.bg.Add(1)
	logging.SafeGo("session", func() {
		defer s.bg.Done()
		s.answerApprovals(ctx)
	})

	threads := max(s.opts.Threads, 1)
	ids := make([]uuid.UUID, threads)
	for i := range ids {
		ids[i] = uuid.New()
	}
	s.mu.Lock()
	s.selected = ids[0]
	s.mu.Unlock()

	// Warm the selected thread the way a UI would on focus; its first turn
	// joins the same resolution.
	s.bg.Add(1)
	logging.SafeGo("session", func() {
		defer s.bg.Done()
		if _, err := s.runtimeThread(ctx, ids[0]); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithThread(ids[0].String()).Warn("warmup_failed", nil, err)
		}
	})

	var wg sync.WaitGroup
	for i, id := range ids {
		n := s.opts.Turns / threads
		if i < s.opts.Turns%threads {
			n++
		}
		wg.Add(1)
		thread := id
		logging.SafeGo("session", func() {
			defer wg.Done()
			for turn := 0; turn < n && ctx.Err() == nil; turn++ {
				s.runTurn(ctx, thread, fmt.Sprintf("turn %d on thread %s", turn+1, thread.String()[:8]))
			}
		})
	}
	wg.Wait()
	cancel()
	s.bg.Wait()

	flushCtx := context.WithoutCancel(parent)
	s.batcher.FlushNow(flushCtx)
	s.scheduler.Wait()
	s.refreshLimit("run_finished")

	counts, err := s.store.CountByStatus(flushCtx)
	if err != nil {
		s.log.Warn("checkpoint_count_failed", nil, err)
	}
	return sessionResult{
		Turns:       s.opts.Turns,
		Completed:   s.completed.Load(),
		Failed:      s.failed.Load(),
		Approvals:   s.approved.Load(),
		Elapsed:     time.Since(start),
		TurnLimit:   s.controller.Current(),
		Pool:        s.poller.Poll(flushCtx),
		Perf:        s.tracker.Snapshot(),
		Pipeline:    s.pipelineStats(),
		Checkpoints: counts,
	}
}

func (s *session) close() error {
	return s.shutdown.Shutdown()
}

// runtimeThread resolves the runtime-side thread once per local thread.
func (s *session) runtimeThread(ctx context.Context, thread uuid.UUID) (string, error) {
	s.mu.Lock()
	id, ok := s.runtimeThreads[thread]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := s.resolver.Resolve(ctx, thread, func(ctx context.Context) (string, error) {
		if !sleepCtx(ctx, 15*time.Millisecond) {
			return "", ctx.Err()
		}
		return "thr_" + strings.ToLower(ulid.Make().String()), nil
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if prev, ok := s.runtimeThreads[thread]; ok {
		id = prev
	} else {
		s.runtimeThreads[thread] = id
	}
	s.mu.Unlock()
	return id, nil
}

func (s *session) markActive(thread uuid.UUID, delta int) {
	s.mu.Lock()
	s.activeThreads[thread] += delta
	if s.activeThreads[thread] <= 0 {
		delete(s.activeThreads, thread)
	}
	s.mu.Unlock()
}

// runTurn admits, dispatches, streams and checkpoints one turn.
func (s *session) runTurn(ctx context.Context, thread uuid.UUID, input string) {
	if err := s.gate.Acquire(ctx); err != nil {
		return
	}
	s.markActive(thread, 1)
	s.refresher.Request("turn_started")
	defer func() {
		s.markActive(thread, -1)
		s.gate.Release()
		s.refresher.Request("turn_finished")
	}()

	log := s.log.WithThread(thread.String())
	tc := persistence.TurnContext{
		LocalTurnID:   uuid.New(),
		LocalThreadID: thread,
		ProjectPath:   s.opts.ProjectPath,
		RuntimeTurnID: strings.ToLower(ulid.Make().String()),
		UserText:      input,
		StartedAt:     time.Now(),
	}

	rt, err := s.runtimeThread(ctx, thread)
	if err != nil {
		s.finish(ctx, tc, "", err)
		return
	}
	tc.RuntimeThreadID = rt
	s.scheduler.Enqueue(persistence.Job{Context: tc, Completion: persistence.TurnCompletion{Status: persistence.TurnPending}})

	req := pool.TurnRequest{TurnID: tc.RuntimeTurnID, Input: input, Model: "sim"}
	s.tracker.RecordDispatchStart(thread, req.TurnID, time.Now())
	worker, events, err := s.submit(ctx, thread, req)
	if err != nil {
		s.tracker.MarkTurnCompleted(thread)
		s.finish(ctx, tc, "", err)
		return
	}

	var (
		text    strings.Builder
		outcome error = context.Canceled
	)
	for ev := range events {
		switch ev.Kind {
		case pool.EventDelta:
			if ttft, first := s.tracker.RecordFirstTokenIfNeeded(thread, time.Now()); first {
				log.Debug("first_token", map[string]interface{}{"ttft_ms": ttft.Milliseconds(), "worker": worker.String()})
			}
			text.WriteString(ev.Text)
		case pool.EventApprovalRequired:
			s.approvals.Enqueue(approval.Request{
				ID:       ev.RequestID,
				ThreadID: thread,
				Method:   "item/fileChange/requestApproval",
				Kind:     "file_change",
				Detail:   ev.Text,
			}, thread)
			s.reg.SetPendingApprovals(s.approvals.Count())
			select {
			case s.approvalWake <- struct{}{}:
			default:
			}
		case pool.EventCompleted:
			text.WriteString(ev.Text)
			s.sup.ReportSuccess(worker)
			outcome = nil
		case pool.EventFailed:
			outcome = ev.Err
			if outcome == nil {
				outcome = errors.New("turn failed")
			}
			s.sup.CheckHealth(ctx)
		}
	}
	s.tracker.MarkTurnCompleted(thread)
	tc.AssistantText = text.String()
	s.finish(ctx, tc, worker.String(), outcome)
}

// submit dispatches with app-level auto-recovery while the whole pool is down.
func (s *session) submit(ctx context.Context, thread uuid.UUID, req pool.TurnRequest) (pool.WorkerID, <-chan pool.TurnEvent, error) {
	delays := s.cfg.Recovery.AutoRecoveryBackoffSeconds
	for attempt := 0; ; attempt++ {
		worker, events, err := s.sup.SubmitTurn(ctx, thread, req)
		if err == nil || !errors.Is(err, pool.ErrNoHealthyWorker) || attempt >= len(delays) {
			return worker, events, err
		}
		delay := s.opts.scaled(time.Duration(delays[attempt]) * time.Second)
		s.log.WithThread(thread.String()).Info("auto_recovery_wait", map[string]interface{}{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
		})
		if !sleepCtx(ctx, delay) {
			return 0, nil, ctx.Err()
		}
	}
}

// finish hands the turn outcome to the batcher. Failures flush immediately.
func (s *session) finish(ctx context.Context, tc persistence.TurnContext, worker string, outcome error) {
	completion := persistence.TurnCompletion{Status: persistence.TurnCompleted, CompletedAt: time.Now()}
	durability := persistence.Batched
	if outcome != nil {
		completion.Status = persistence.TurnFailed
		completion.Error = outcome.Error()
		durability = persistence.Immediate
		s.failed.Add(1)
	} else {
		s.completed.Add(1)
	}

	log := s.log.WithThread(tc.LocalThreadID.String())
	log.Info("turn_finished", map[string]interface{}{
		"turn":       tc.RuntimeTurnID,
		"worker":     worker,
		"status":     string(completion.Status),
		"durability": durability.String(),
	})
	job := persistence.Job{Context: tc, Completion: completion}
	if err := s.batcher.Enqueue(context.WithoutCancel(ctx), job, durability); err != nil {
		log.Warn("checkpoint_dropped", map[string]interface{}{"turn": tc.RuntimeTurnID}, err)
	}
}

// answerApprovals auto-approves pending requests in thread order until ctx ends.
func (s *session) answerApprovals(ctx context.Context) {
	for {
		select {
		case <-s.approvalWake:
		case <-ctx.Done():
			s.approvals.Clear()
			return
		}
		for {
			req, ok := s.approvals.FirstPendingRequest()
			if !ok {
				break
			}
			thread, ok := s.approvals.Resolve(req.ID)
			if !ok {
				continue
			}
			if err := s.sup.RespondToApproval(ctx, thread, req.ID, pool.DecisionApprove); err != nil {
				s.log.WithThread(thread.String()).Warn("approval_undelivered", map[string]interface{}{"request": req.ID}, err)
				continue
			}
			s.approved.Add(1)
		}
		s.reg.SetPendingApprovals(s.approvals.Count())
	}
}
