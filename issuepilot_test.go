package issuepilot_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/issuepilot/issuepilot"
)

func TestOpenAndCommit(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	ctx := context.Background()
	store, err := issuepilot.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	key := issuepilot.IssueKey{Repository: "acme/widgets", IssueNumber: 1}
	state, err := store.Commit(ctx, key, func(s *issuepilot.IssueState) error {
		return s.Transition(issuepilot.StatusAnalyzing, "analysis started", time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if state.Status != issuepilot.StatusAnalyzing {
		t.Errorf("Status = %s, want analyzing", state.Status)
	}
}

func TestCanTransition(t *testing.T) {
	if !issuepilot.CanTransition(issuepilot.StatusNew, issuepilot.StatusAnalyzing) {
		t.Error("new -> analyzing should be legal")
	}
	if issuepilot.CanTransition(issuepilot.StatusMerged, issuepilot.StatusNew) {
		t.Error("merged is terminal")
	}
}
