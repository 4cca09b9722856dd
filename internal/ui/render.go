package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/issuepilot/issuepilot/internal/types"
)

// RenderState renders a full issue state block: header line, advisory
// fields, and the transition history as a tree.
func RenderState(s *types.IssueState) string {
	var b strings.Builder

	key := fmt.Sprintf("%s#%d", s.Repository, s.IssueNumber)
	fmt.Fprintf(&b, "%s %s\n", RenderAccent(key), RenderStatus(s.Status))

	if s.AssignedAgent != "" {
		fmt.Fprintf(&b, "%sagent: %s\n", TreeIndent, s.AssignedAgent)
	}
	if s.ConfidenceScore > 0 {
		fmt.Fprintf(&b, "%sconfidence: %.0f%%\n", TreeIndent, s.ConfidenceScore*100)
	}
	if s.EstimatedCost > 0 {
		fmt.Fprintf(&b, "%sestimated cost: $%.3f\n", TreeIndent, s.EstimatedCost)
	}
	if s.EstimatedHours > 0 {
		fmt.Fprintf(&b, "%sestimated effort: %.1fh\n", TreeIndent, s.EstimatedHours)
	}
	if s.BranchName != "" {
		fmt.Fprintf(&b, "%sbranch: %s\n", TreeIndent, s.BranchName)
	}
	if s.PRNumber > 0 {
		fmt.Fprintf(&b, "%spull request: #%d\n", TreeIndent, s.PRNumber)
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(&b, "%s%s %s\n", TreeIndent, RenderFailIconText(), s.ErrorMessage)
	}

	if len(s.StatusHistory) > 0 {
		b.WriteString(RenderSeparator())
		b.WriteByte('\n')
		b.WriteString(RenderHistory(s.StatusHistory))
	}

	return b.String()
}

// RenderHistory renders the transition history, oldest first.
func RenderHistory(history []types.Transition) string {
	var b strings.Builder
	for _, tr := range history {
		fmt.Fprintf(&b, "%s%s %s → %s",
			TreeIndent,
			RenderMuted(tr.Timestamp.Format("2006-01-02 15:04")),
			RenderStatus(tr.From),
			RenderStatus(tr.To))
		if tr.Note != "" {
			fmt.Fprintf(&b, "  %s", RenderMuted(tr.Note))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderStateLine renders a one-line summary for list output.
func RenderStateLine(s *types.IssueState) string {
	key := fmt.Sprintf("%s#%d", s.Repository, s.IssueNumber)
	age := RenderMuted(relativeAge(s.UpdatedAt, time.Now()))
	return fmt.Sprintf("%-40s %-18s %s", RenderAccent(key), RenderStatus(s.Status), age)
}

// RenderFailIconText renders the fail icon with styling.
func RenderFailIconText() string {
	return FailStyle.Render(IconFail)
}

// relativeAge formats how long ago t was, coarsely.
func relativeAge(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
