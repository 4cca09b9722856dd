// Package lifecycle drives an issue from NEW to a terminal status. The
// orchestrator owns the only write path to issue state: every status
// change is a validated transition committed through the store, every
// collaborator call is bounded by a timeout, and all work for one issue
// key is serialized so concurrent webhook deliveries cannot interleave
// partial state.
package lifecycle

import (
	"context"
	"time"

	"github.com/issuepilot/issuepilot/internal/types"
)

// Classifier analyzes an issue and returns a routing recommendation.
type Classifier interface {
	Analyze(ctx context.Context, payload types.IssuePayload) (*types.Classification, error)
}

// Executor attempts automated remediation. A nil error with Success=false
// means the attempt ran and failed; a non-nil error means it could not run.
type Executor interface {
	Execute(ctx context.Context, key types.IssueKey, cls *types.Classification, payload types.IssuePayload) (*types.ExecutionResult, error)
}

// PRManager creates and merges pull requests for remediation branches.
type PRManager interface {
	// CreatePullRequest opens a PR from branch and returns its number.
	CreatePullRequest(ctx context.Context, key types.IssueKey, branch, title, body string) (int, error)

	// MergePullRequest attempts the merge. merged=false with a nil error
	// means the PR was assessed as not safe to merge; a non-nil error means
	// the attempt itself failed.
	MergePullRequest(ctx context.Context, key types.IssueKey, prNumber int) (merged bool, reason string, err error)
}

// NotificationSink mirrors committed state onto the outside world (labels,
// comments). Best-effort: failures are logged and never affect stored
// state or control flow.
type NotificationSink interface {
	Notify(ctx context.Context, key types.IssueKey, state *types.IssueState) error
}

// Policy holds the orchestrator's tunable decision constants.
type Policy struct {
	// ApprovalThreshold is the minimum classifier confidence for automatic
	// approval. Below it the issue parks at REVIEW_NEEDED for a human.
	ApprovalThreshold float64

	// Collaborator timeouts. A timeout is a collaborator failure and
	// routes to BLOCKED, never to a limbo status.
	ClassifyTimeout time.Duration
	ExecuteTimeout  time.Duration
	MergeTimeout    time.Duration
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ApprovalThreshold: 0.8,
		ClassifyTimeout:   30 * time.Second,
		ExecuteTimeout:    30 * time.Minute,
		MergeTimeout:      2 * time.Minute,
	}
}
