package pool

import (
	"context"

	"github.com/google/uuid"
)

// TurnRequest is the user input for one turn.
type TurnRequest struct {
	TurnID string
	Input  string
	Model  string
}

// TurnEventKind classifies streamed runtime output.
type TurnEventKind string

const (
	EventDelta            TurnEventKind = "delta"
	EventApprovalRequired TurnEventKind = "approval_required"
	EventCompleted        TurnEventKind = "completed"
	EventFailed           TurnEventKind = "failed"
)

// TurnEvent is one item of a turn's output stream.
type TurnEvent struct {
	Kind      TurnEventKind
	Text      string
	RequestID int
	Err       error
}

// Decision answers an approval request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDecline Decision = "decline"
)

// Backend is one long-lived runtime process. The stream returned by SubmitTurn
// is closed by the backend when the turn ends.
type Backend interface {
	SubmitTurn(ctx context.Context, threadID uuid.UUID, req TurnRequest) (<-chan TurnEvent, error)
	RespondToApproval(ctx context.Context, requestID int, decision Decision) error
	Health() Health
	Restart(ctx context.Context) error
}

// QueueReporter is implemented by backends that queue turns internally.
type QueueReporter interface {
	QueueDepth() int
}
