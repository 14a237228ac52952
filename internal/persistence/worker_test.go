package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type archiveCall struct {
	op      string
	path    string
	thread  uuid.UUID
	summary TurnSummary
}

type fakeArchive struct {
	mu    sync.Mutex
	calls []archiveCall
	err   error
}

func (f *fakeArchive) record(op, path string, thread uuid.UUID, s TurnSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, archiveCall{op, path, thread, s})
	return f.err
}

func (f *fakeArchive) BeginCheckpoint(ctx context.Context, path string, thread uuid.UUID, s TurnSummary) error {
	return f.record("begin", path, thread, s)
}

func (f *fakeArchive) FinalizeCheckpoint(ctx context.Context, path string, thread uuid.UUID, s TurnSummary) error {
	return f.record("finalize", path, thread, s)
}

func (f *fakeArchive) FailCheckpoint(ctx context.Context, path string, thread uuid.UUID, s TurnSummary) error {
	return f.record("fail", path, thread, s)
}

func TestWorkerMapsStatusToCheckpoint(t *testing.T) {
	tests := []struct {
		status TurnStatus
		op     string
	}{
		{TurnPending, "begin"},
		{TurnCompleted, "finalize"},
		{TurnFailed, "fail"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			archive := &fakeArchive{}
			w := NewWorker(archive, 0)
			job := testJob(tt.status)

			require.NoError(t, w.Persist(context.Background(), job))
			require.Len(t, archive.calls, 1)
			call := archive.calls[0]
			assert.Equal(t, tt.op, call.op)
			assert.Equal(t, job.Context.ProjectPath, call.path)
			assert.Equal(t, job.Context.LocalThreadID, call.thread)
			assert.Equal(t, job.Context.LocalTurnID, call.summary.TurnID)
			assert.Equal(t, tt.status, call.summary.Status)
		})
	}
}

func TestWorkerUnknownStatus(t *testing.T) {
	w := NewWorker(&fakeArchive{}, 0)
	err := w.Persist(context.Background(), testJob(TurnStatus("weird")))
	assert.ErrorContains(t, err, "unknown turn status")
}

func TestWorkerCountsFailures(t *testing.T) {
	diskErr := errors.New("disk full")
	archive := &fakeArchive{err: diskErr}
	w := NewWorker(archive, 0)

	err := w.Persist(context.Background(), testJob(TurnCompleted))
	assert.ErrorIs(t, err, diskErr)

	w.HandleBatch(context.Background(), []Job{testJob(TurnCompleted), testJob(TurnFailed)})
	assert.Equal(t, int64(2), w.Processed())
	assert.Equal(t, int64(2), w.Failed())
	assert.Len(t, archive.calls, 3, "failed writes are not retried")
}

func TestDurabilityString(t *testing.T) {
	assert.Equal(t, "immediate", Immediate.String())
	assert.Equal(t, "batched", Batched.String())
}
