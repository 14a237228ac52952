package persistence

import (
	"context"
	"sync"

	"github.com/joss/turnpool/internal/logging"
)

// Handler processes one job. Failures are the handler's to report.
type Handler func(ctx context.Context, job Job)

// Scheduler runs jobs FIFO with at most maxConcurrent in flight.
type Scheduler struct {
	ctx           context.Context
	handler       Handler
	maxConcurrent int

	mu      sync.Mutex
	running int
	queue   []Job
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. maxConcurrent below 1 is treated as 1.
// ctx is passed to every handler call.
func NewScheduler(ctx context.Context, maxConcurrent int, handler Handler) *Scheduler {
	return &Scheduler{
		ctx:           ctx,
		handler:       handler,
		maxConcurrent: max(1, maxConcurrent),
	}
}

// Enqueue appends job and starts as many queued jobs as slots allow.
func (s *Scheduler) Enqueue(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, job)
	s.launchLocked()
}

func (s *Scheduler) launchLocked() {
	for s.running < s.maxConcurrent && len(s.queue) > 0 {
		job := s.queue[0]
		s.queue[0] = Job{}
		s.queue = s.queue[1:]
		s.running++
		s.wg.Add(1)
		logging.SafeGo("persistence", func() { s.run(job) })
	}
}

func (s *Scheduler) run(job Job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running--
		s.launchLocked()
		s.mu.Unlock()
	}()
	s.handler(s.ctx, job)
}

// CancelQueuedJobs drops jobs that have not started and returns how many.
// Running jobs finish.
func (s *Scheduler) CancelQueuedJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	return n
}

// Pending returns the number of queued jobs.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Running returns the number of jobs in flight.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Wait blocks until every launched and queued job has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
