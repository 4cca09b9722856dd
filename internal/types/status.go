// Package types defines core data structures for the issuepilot lifecycle.
package types

// Status represents the current lifecycle state of a tracked issue.
type Status string

// Lifecycle status constants.
//
// NEW through ANALYZED cover intake and analysis, APPROVED through
// PR_CREATED cover automated execution, and MERGED/CLOSED/REJECTED are
// terminal. Persisted as these canonical strings, never ordinals.
const (
	StatusNew          Status = "new"           // Just created, awaiting analysis
	StatusAnalyzing    Status = "analyzing"     // Classifier is analyzing the issue
	StatusAnalyzed     Status = "analyzed"      // Analysis complete, awaiting decision
	StatusApproved     Status = "approved"      // Approved for automated remediation
	StatusInProgress   Status = "in_progress"   // Remediation agent is working on it
	StatusBlocked      Status = "blocked"       // Automation hit an error, needs attention
	StatusReviewNeeded Status = "review_needed" // Requires human review before continuing
	StatusCompleted    Status = "completed"     // Remediation merged-ready and confirmed
	StatusPRCreated    Status = "pr_created"    // Pull request opened for the fix
	StatusMerged       Status = "merged"        // Pull request was merged
	StatusClosed       Status = "closed"        // Issue closed without merge
	StatusRejected     Status = "rejected"      // Not suitable for automation
)

// AllStatuses lists every status in declaration order. Kept in sync with the
// constants above; TestStatusMappingsExhaustive fails if a status is added
// without updating the label and emoji tables.
var AllStatuses = []Status{
	StatusNew, StatusAnalyzing, StatusAnalyzed, StatusApproved,
	StatusInProgress, StatusBlocked, StatusReviewNeeded, StatusCompleted,
	StatusPRCreated, StatusMerged, StatusClosed, StatusRejected,
}

// IsValid checks if the status value is one of the canonical states.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusAnalyzing, StatusAnalyzed, StatusApproved,
		StatusInProgress, StatusBlocked, StatusReviewNeeded, StatusCompleted,
		StatusPRCreated, StatusMerged, StatusClosed, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether the status has no outgoing edges. Once a record
// reaches a terminal status no further transition may be committed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusMerged, StatusClosed, StatusRejected:
		return true
	}
	return false
}

// transitions is the legal status graph. A status absent from the map (or
// mapped to an empty set) is terminal. Self-loops are never legal.
var transitions = map[Status][]Status{
	StatusNew:          {StatusAnalyzing, StatusRejected},
	StatusAnalyzing:    {StatusAnalyzed, StatusRejected},
	StatusAnalyzed:     {StatusApproved, StatusReviewNeeded, StatusRejected},
	StatusApproved:     {StatusInProgress, StatusBlocked},
	StatusInProgress:   {StatusPRCreated, StatusCompleted, StatusBlocked, StatusReviewNeeded},
	StatusPRCreated:    {StatusCompleted, StatusBlocked},
	StatusBlocked:      {StatusInProgress, StatusReviewNeeded, StatusRejected},
	StatusReviewNeeded: {StatusApproved, StatusRejected, StatusInProgress},
	StatusCompleted:    {StatusMerged, StatusClosed},
	StatusMerged:       nil,
	StatusClosed:       nil,
	StatusRejected:     nil,
}

// CanTransition reports whether from -> to is an edge in the legal status
// graph. Pure lookup: unknown statuses, self-loops, and edges out of
// terminal states all return false.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal destination statuses from the given status.
// Returns nil for terminal or unknown statuses.
func NextStatuses(from Status) []Status {
	next := transitions[from]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// Label returns the GitHub tracking label for a status. Every status has a
// label; the exhaustiveness is enforced by a test over AllStatuses.
func (s Status) Label() string {
	switch s {
	case StatusNew:
		return "🆕 ai-new"
	case StatusAnalyzing:
		return "🔍 ai-analyzing"
	case StatusAnalyzed:
		return "📊 ai-analyzed"
	case StatusApproved:
		return "✅ ai-approved"
	case StatusInProgress:
		return "🚀 ai-in-progress"
	case StatusBlocked:
		return "🚫 ai-blocked"
	case StatusReviewNeeded:
		return "👥 ai-review-needed"
	case StatusCompleted:
		return "✨ ai-completed"
	case StatusPRCreated:
		return "🔀 ai-pr-created"
	case StatusMerged:
		return "🎉 ai-merged"
	case StatusClosed:
		return "🔒 ai-closed"
	case StatusRejected:
		return "❌ ai-rejected"
	}
	return ""
}

// Emoji returns the status marker used in comments and CLI output.
func (s Status) Emoji() string {
	switch s {
	case StatusNew:
		return "🆕"
	case StatusAnalyzing:
		return "🔍"
	case StatusAnalyzed:
		return "📊"
	case StatusApproved:
		return "✅"
	case StatusInProgress:
		return "🚀"
	case StatusBlocked:
		return "🚫"
	case StatusReviewNeeded:
		return "👥"
	case StatusCompleted:
		return "✨"
	case StatusPRCreated:
		return "🔀"
	case StatusMerged:
		return "🎉"
	case StatusClosed:
		return "🔒"
	case StatusRejected:
		return "❌"
	}
	return "📋"
}
