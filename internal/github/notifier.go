package github

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/issuepilot/issuepilot/internal/types"
)

// Notifier mirrors lifecycle status onto the GitHub issue: one status
// label at a time plus a comment per transition. All operations are
// best-effort; failures are logged and never affect stored state.
type Notifier struct {
	client *Client
}

// NewNotifier creates a notifier around the given client.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// Notify syncs the issue's status label and posts a transition comment.
func (n *Notifier) Notify(ctx context.Context, key types.IssueKey, state *types.IssueState) error {
	if err := n.syncLabel(ctx, key.IssueNumber, state.Status); err != nil {
		log.Printf("github: label sync failed for %s: %v", key, err)
		return err
	}
	if _, err := n.client.CreateComment(ctx, key.IssueNumber, StatusComment(state)); err != nil {
		log.Printf("github: status comment failed for %s: %v", key, err)
		return err
	}
	return nil
}

// syncLabel removes stale managed labels and applies the one for the
// current status.
func (n *Notifier) syncLabel(ctx context.Context, number int, status types.Status) error {
	current, err := n.client.ListLabels(ctx, number)
	if err != nil {
		return err
	}

	want := status.Label()
	for _, l := range current {
		if l.Name == want {
			want = "" // Already applied
			continue
		}
		// Only labels in the managed status set are ever removed;
		// human-applied labels stay, even ones containing "ai-".
		if isManagedLabel(l.Name) {
			if err := n.client.RemoveLabel(ctx, number, l.Name); err != nil {
				return err
			}
		}
	}

	if want == "" {
		return nil
	}
	return n.client.AddLabels(ctx, number, []string{want})
}

// isManagedLabel reports whether the label belongs to the orchestrator's
// status label set.
func isManagedLabel(name string) bool {
	for _, s := range types.AllStatuses {
		if s.Label() == name {
			return true
		}
	}
	return false
}

// StatusComment renders the markdown comment body posted for a state.
// Also used by the CLI to preview what reviewers see on the issue.
func StatusComment(state *types.IssueState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Status: **%s**\n", state.Status.Emoji(), strings.ToUpper(string(state.Status)))

	if state.AssignedAgent != "" {
		fmt.Fprintf(&b, "\n- Agent: %s", state.AssignedAgent)
	}
	if state.ConfidenceScore > 0 {
		fmt.Fprintf(&b, "\n- Confidence: %.0f%%", state.ConfidenceScore*100)
	}
	if state.EstimatedCost > 0 {
		fmt.Fprintf(&b, "\n- Estimated cost: $%.3f", state.EstimatedCost)
	}
	if state.EstimatedHours > 0 {
		fmt.Fprintf(&b, "\n- Estimated effort: %.1fh", state.EstimatedHours)
	}
	if state.BranchName != "" {
		fmt.Fprintf(&b, "\n- Branch: `%s`", state.BranchName)
	}
	if state.PRNumber > 0 {
		fmt.Fprintf(&b, "\n- Pull request: #%d", state.PRNumber)
	}
	if state.Status == types.StatusBlocked && state.ErrorMessage != "" {
		fmt.Fprintf(&b, "\n- Error: %s", state.ErrorMessage)
	}

	return b.String()
}
