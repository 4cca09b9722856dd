package types

import (
	"strings"
	"testing"
)

func TestCanTransitionLegalEdges(t *testing.T) {
	legal := []struct{ from, to Status }{
		{StatusNew, StatusAnalyzing},
		{StatusNew, StatusRejected},
		{StatusAnalyzing, StatusAnalyzed},
		{StatusAnalyzing, StatusRejected},
		{StatusAnalyzed, StatusApproved},
		{StatusAnalyzed, StatusReviewNeeded},
		{StatusAnalyzed, StatusRejected},
		{StatusApproved, StatusInProgress},
		{StatusApproved, StatusBlocked},
		{StatusInProgress, StatusPRCreated},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusBlocked},
		{StatusInProgress, StatusReviewNeeded},
		{StatusPRCreated, StatusCompleted},
		{StatusPRCreated, StatusBlocked},
		{StatusBlocked, StatusInProgress},
		{StatusBlocked, StatusReviewNeeded},
		{StatusBlocked, StatusRejected},
		{StatusReviewNeeded, StatusApproved},
		{StatusReviewNeeded, StatusRejected},
		{StatusReviewNeeded, StatusInProgress},
		{StatusCompleted, StatusMerged},
		{StatusCompleted, StatusClosed},
	}
	for _, e := range legal {
		if !CanTransition(e.from, e.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", e.from, e.to)
		}
	}
}

// TestCanTransitionRejectsEverythingElse sweeps the full status product and
// verifies only the declared edges are legal. In particular: no self-loops,
// no edges out of terminal states, and no COMPLETED -> BLOCKED edge.
func TestCanTransitionRejectsEverythingElse(t *testing.T) {
	legalCount := 0
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			got := CanTransition(from, to)
			if got {
				legalCount++
			}
			if from == to && got {
				t.Errorf("self-loop %s -> %s allowed", from, to)
			}
			if from.IsTerminal() && got {
				t.Errorf("edge out of terminal state %s -> %s allowed", from, to)
			}
		}
	}
	if legalCount != 23 {
		t.Errorf("legal edge count = %d, want 23", legalCount)
	}

	if CanTransition(StatusCompleted, StatusBlocked) {
		t.Error("COMPLETED -> BLOCKED must not be a legal edge")
	}
	if CanTransition(Status("bogus"), StatusNew) {
		t.Error("unknown status must have no outgoing edges")
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range AllStatuses {
		wantTerminal := s == StatusMerged || s == StatusClosed || s == StatusRejected
		if s.IsTerminal() != wantTerminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, s.IsTerminal(), wantTerminal)
		}
		if wantTerminal && len(NextStatuses(s)) != 0 {
			t.Errorf("terminal status %s has outgoing edges %v", s, NextStatuses(s))
		}
	}
}

// TestStatusMappingsExhaustive guards the redesign requirement that adding a
// status cannot silently omit a label or emoji mapping.
func TestStatusMappingsExhaustive(t *testing.T) {
	seenLabels := make(map[string]Status)
	for _, s := range AllStatuses {
		if !s.IsValid() {
			t.Errorf("AllStatuses contains invalid status %q", s)
		}
		label := s.Label()
		if label == "" {
			t.Errorf("status %s has no tracking label", s)
		}
		if !strings.Contains(label, "ai-") {
			t.Errorf("label %q for %s missing ai- scope", label, s)
		}
		if prev, dup := seenLabels[label]; dup {
			t.Errorf("label %q shared by %s and %s", label, prev, s)
		}
		seenLabels[label] = s

		if s.Emoji() == "" || s.Emoji() == "📋" {
			t.Errorf("status %s has no dedicated emoji", s)
		}
	}
}

func TestStatusIsValid(t *testing.T) {
	if Status("").IsValid() {
		t.Error("empty status must be invalid")
	}
	if Status("OPEN").IsValid() {
		t.Error("status values are case-sensitive canonical strings")
	}
}
