package eventbus

import (
	"context"
	"time"

	"github.com/issuepilot/issuepilot/internal/types"
)

// EventKind identifies a lifecycle trigger flowing through the bus.
type EventKind string

const (
	// GitHub webhook triggers.
	EventIssueOpened EventKind = "issue.opened"
	EventIssueClosed EventKind = "issue.closed"
	EventPRMerged    EventKind = "pr.merged"

	// Human review triggers (CLI or API).
	EventReviewApproved EventKind = "review.approved"
	EventReviewRejected EventKind = "review.rejected"
	EventRetry          EventKind = "retry"
)

// IsValid checks the kind is one of the declared triggers.
func (k EventKind) IsValid() bool {
	switch k {
	case EventIssueOpened, EventIssueClosed, EventPRMerged,
		EventReviewApproved, EventReviewRejected, EventRetry:
		return true
	}
	return false
}

// Event is a single lifecycle trigger.
type Event struct {
	Kind       EventKind          `json:"kind"`
	Key        types.IssueKey     `json:"key"`
	Payload    types.IssuePayload `json:"payload,omitempty"`
	PRNumber   int                `json:"pr_number,omitempty"` // For pr.* kinds
	Actor      string             `json:"actor,omitempty"`
	ReceivedAt time.Time          `json:"received_at"`
}

// Handler processes events on the bus. Handlers are called in priority
// order (lower value = called earlier) for matching event kinds.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// Handles returns the event kinds this handler processes.
	Handles() []EventKind

	// Priority determines call order. Lower values are called first.
	Priority() int

	// Handle processes a single event. Returning an error logs a warning
	// but does not stop the handler chain.
	Handle(ctx context.Context, event *Event) error
}
