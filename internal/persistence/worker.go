package persistence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joss/turnpool/internal/logging"
)

// Worker writes jobs to an Archive, picking the checkpoint call from the
// turn status. Failed writes are logged and counted, never retried.
type Worker struct {
	archive   Archive
	timeout   time.Duration
	log       *logging.Logger
	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker creates a worker. timeout bounds each archive call; 0 means none.
func NewWorker(archive Archive, timeout time.Duration) *Worker {
	return &Worker{
		archive: archive,
		timeout: timeout,
		log:     logging.New("persistence"),
	}
}

// Persist writes one job.
func (w *Worker) Persist(ctx context.Context, job Job) error {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	path, thread, summary := job.Context.ProjectPath, job.Context.LocalThreadID, job.Summary()
	var err error
	switch job.Completion.Status {
	case TurnCompleted:
		err = w.archive.FinalizeCheckpoint(ctx, path, thread, summary)
	case TurnFailed:
		err = w.archive.FailCheckpoint(ctx, path, thread, summary)
	case TurnPending:
		err = w.archive.BeginCheckpoint(ctx, path, thread, summary)
	default:
		err = fmt.Errorf("unknown turn status %q", job.Completion.Status)
	}
	if err != nil {
		return fmt.Errorf("persist turn %s: %w", job.Context.LocalTurnID, err)
	}
	return nil
}

// Handle is a Scheduler Handler.
func (w *Worker) Handle(ctx context.Context, job Job) {
	start := time.Now()
	err := w.Persist(ctx, job)
	w.processed.Add(1)

	log := w.log.WithThread(job.Context.LocalThreadID.String())
	if err != nil {
		w.failed.Add(1)
		log.Error("checkpoint_failed", map[string]interface{}{
			"status": string(job.Completion.Status),
		}, err)
		return
	}
	log.TimedEvent("checkpoint_written", start, map[string]interface{}{
		"status": string(job.Completion.Status),
	})
}

// HandleBatch is a Batcher BatchHandler.
func (w *Worker) HandleBatch(ctx context.Context, jobs []Job) {
	for _, job := range jobs {
		w.Handle(ctx, job)
	}
}

// Processed returns the number of jobs handled, including failures.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Failed returns the number of jobs whose write failed.
func (w *Worker) Failed() int64 { return w.failed.Load() }
