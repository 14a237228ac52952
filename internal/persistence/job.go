// Package persistence turns completed turns into durable checkpoint writes,
// either one job at a time under a concurrency cap or in debounced batches.
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TurnStatus is the checkpoint state a job writes.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
)

// TurnContext identifies the turn being persisted.
type TurnContext struct {
	LocalTurnID     uuid.UUID
	LocalThreadID   uuid.UUID
	ProjectPath     string
	RuntimeThreadID string
	RuntimeTurnID   string
	UserText        string
	AssistantText   string
	StartedAt       time.Time
}

// TurnCompletion is what the runtime reported when the turn ended.
type TurnCompletion struct {
	Status      TurnStatus
	Error       string
	CompletedAt time.Time
}

// Job is one unit of persistence work. Each job reaches the handler once.
type Job struct {
	Context    TurnContext
	Completion TurnCompletion
}

// Summary projects the job onto the archive record.
func (j Job) Summary() TurnSummary {
	return TurnSummary{
		TurnID:        j.Context.LocalTurnID,
		RuntimeTurnID: j.Context.RuntimeTurnID,
		Status:        j.Completion.Status,
		UserText:      j.Context.UserText,
		AssistantText: j.Context.AssistantText,
		Error:         j.Completion.Error,
		StartedAt:     j.Context.StartedAt,
		CompletedAt:   j.Completion.CompletedAt,
	}
}

// TurnSummary is the archived form of a turn.
type TurnSummary struct {
	TurnID        uuid.UUID
	RuntimeTurnID string
	Status        TurnStatus
	UserText      string
	AssistantText string
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Archive is the durable per-thread checkpoint log.
type Archive interface {
	BeginCheckpoint(ctx context.Context, projectPath string, threadID uuid.UUID, turn TurnSummary) error
	FinalizeCheckpoint(ctx context.Context, projectPath string, threadID uuid.UUID, turn TurnSummary) error
	FailCheckpoint(ctx context.Context, projectPath string, threadID uuid.UUID, turn TurnSummary) error
}

// Durability selects how soon a batched job must reach the handler.
type Durability int

const (
	// Batched jobs wait for the threshold or the debounce timer.
	Batched Durability = iota
	// Immediate jobs flush the buffer synchronously.
	Immediate
)

func (d Durability) String() string {
	if d == Immediate {
		return "immediate"
	}
	return "batched"
}
