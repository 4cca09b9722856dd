package types

import (
	"fmt"
	"time"
)

// IssueKey identifies one lifecycle record: a repository in "owner/name"
// form plus the issue number within it.
type IssueKey struct {
	Repository  string `json:"repository"`
	IssueNumber int    `json:"issue_number"`
}

// String renders the key as "owner/name#123".
func (k IssueKey) String() string {
	return fmt.Sprintf("%s#%d", k.Repository, k.IssueNumber)
}

// Validate checks the key has both components.
func (k IssueKey) Validate() error {
	if k.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	if k.IssueNumber <= 0 {
		return fmt.Errorf("issue number must be positive (got %d)", k.IssueNumber)
	}
	return nil
}

// Transition is one entry in an issue's append-only status history.
type Transition struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// IssueState is the durable per-issue lifecycle record. Repository and
// IssueNumber are immutable after creation; Status changes only through
// Transition, which validates against the legal status graph and appends
// to StatusHistory.
type IssueState struct {
	Repository  string `json:"repository"`
	IssueNumber int    `json:"issue_number"`
	Status      Status `json:"status"`

	// Advisory fields supplied by collaborators. Overwritten on each
	// transition that provides them; never required to be consistent
	// with Status.
	AssignedAgent   string  `json:"assigned_agent,omitempty"`
	ConfidenceScore float64 `json:"confidence_score,omitempty"`
	EstimatedCost   float64 `json:"estimated_cost,omitempty"`
	EstimatedHours  float64 `json:"estimated_hours,omitempty"`

	BranchName string `json:"branch_name,omitempty"` // Set once known, never cleared
	PRNumber   int    `json:"pr_number,omitempty"`   // Set once known, never cleared

	// ErrorMessage is set on entry to BLOCKED and cleared on any
	// transition out of BLOCKED. A non-transition annotation may also set
	// it (e.g. a classifier fault that has no legal edge to BLOCKED).
	ErrorMessage string `json:"error_message,omitempty"`

	// StatusHistory is append-only and grows by exactly one entry per
	// committed transition. The last entry's To always equals Status.
	StatusHistory []Transition `json:"status_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version counts committed mutations. The storage layer uses it for
	// compare-and-swap writes; callers treat it as opaque.
	Version int64 `json:"-"`
}

// NewIssueState creates a record at the initial NEW status. Creation is
// implicit on first reference: the storage layer calls this inside Commit
// when no record exists for the key.
func NewIssueState(key IssueKey, now time.Time) *IssueState {
	return &IssueState{
		Repository:  key.Repository,
		IssueNumber: key.IssueNumber,
		Status:      StatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Key returns the record's identifying key.
func (s *IssueState) Key() IssueKey {
	return IssueKey{Repository: s.Repository, IssueNumber: s.IssueNumber}
}

// InvalidTransitionError reports an attempted edge that is not in the legal
// status graph. It is always a programming error in the orchestrator, never
// caused by external input.
type InvalidTransitionError struct {
	Key  IssueKey
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition for %s: %s -> %s", e.Key, e.From, e.To)
}

// Transition moves the record to a new status after validating the edge
// against the graph, appending a history entry and maintaining the
// BLOCKED error-message invariant. Advisory fields are not touched here;
// callers set them on the record before or after calling Transition within
// the same commit.
func (s *IssueState) Transition(to Status, note string, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return &InvalidTransitionError{Key: s.Key(), From: s.Status, To: to}
	}

	from := s.Status
	s.Status = to
	s.StatusHistory = append(s.StatusHistory, Transition{
		From:      from,
		To:        to,
		Timestamp: now,
		Note:      note,
	})
	s.touch(now)

	// errorMessage is meaningful only while blocked
	if from == StatusBlocked && to != StatusBlocked {
		s.ErrorMessage = ""
	}
	return nil
}

// Block transitions to BLOCKED and records the failure reason.
func (s *IssueState) Block(reason string, now time.Time) error {
	if err := s.Transition(StatusBlocked, reason, now); err != nil {
		return err
	}
	s.ErrorMessage = reason
	return nil
}

// Annotate records an error message without a status transition. Used for
// faults that have no legal edge from the current status; the history is
// untouched so the per-transition growth invariant holds.
func (s *IssueState) Annotate(msg string, now time.Time) {
	s.ErrorMessage = msg
	s.touch(now)
}

// touch advances UpdatedAt, keeping it monotonically non-decreasing even
// under clock skew.
func (s *IssueState) touch(now time.Time) {
	if now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}

// Clone returns a deep copy. Stores hand copies to mutators and return
// copies to readers so no caller can mutate shared state in place.
func (s *IssueState) Clone() *IssueState {
	out := *s
	out.StatusHistory = make([]Transition, len(s.StatusHistory))
	copy(out.StatusHistory, s.StatusHistory)
	return &out
}

// Validate checks record-level invariants. Used by storage backends before
// persisting and by tests.
func (s *IssueState) Validate() error {
	if err := s.Key().Validate(); err != nil {
		return err
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", s.Status)
	}
	if n := len(s.StatusHistory); n > 0 {
		if last := s.StatusHistory[n-1]; last.To != s.Status {
			return fmt.Errorf("history tail %s does not match status %s", last.To, s.Status)
		}
	}
	return nil
}

// Classification is the result of issue analysis, produced by the
// classifier collaborator and stored as advisory fields.
type Classification struct {
	IssueType       string  `json:"issue_type"`       // bug, feature, docs, test, refactor, question
	Priority        string  `json:"priority"`          // critical, high, medium, low
	ComplexityScore float64 `json:"complexity_score"` // 0..1
	ConfidenceScore float64 `json:"confidence_score"` // 0..1
	Agent           string  `json:"agent"`            // recommended remediation agent
	Model           string  `json:"model"`            // recommended model tier
	EstimatedCost   float64 `json:"estimated_cost"`   // USD
	EstimatedHours  float64 `json:"estimated_hours"`
}

// ExecutionResult is the outcome of a remediation attempt.
type ExecutionResult struct {
	Success    bool   `json:"success"`
	BranchName string `json:"branch_name,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IssuePayload carries the triggering issue content into the pipeline.
type IssuePayload struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
	Author string   `json:"author,omitempty"`
}
