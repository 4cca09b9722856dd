package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePolicy(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, PolicyFileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadRepoPolicy(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, `
approval_threshold = 0.9
base_branch = "develop"
protected_files = ["Makefile"]
trusted_authors = ["release-bot[bot]"]
`)

	p, err := LoadRepoPolicy(dir)
	if err != nil {
		t.Fatalf("LoadRepoPolicy() error = %v", err)
	}
	if p.ApprovalThreshold != 0.9 {
		t.Errorf("ApprovalThreshold = %v", p.ApprovalThreshold)
	}
	if p.BaseBranch != "develop" {
		t.Errorf("BaseBranch = %q", p.BaseBranch)
	}
	if len(p.ProtectedFiles) != 1 || p.ProtectedFiles[0] != "Makefile" {
		t.Errorf("ProtectedFiles = %v", p.ProtectedFiles)
	}
}

func TestLoadRepoPolicyMissingFile(t *testing.T) {
	p, err := LoadRepoPolicy(t.TempDir())
	if err != nil {
		t.Fatalf("LoadRepoPolicy() error = %v", err)
	}
	if p.ApprovalThreshold != 0 || p.BaseBranch != "" {
		t.Errorf("missing file should yield zero policy, got %+v", p)
	}
}

func TestLoadRepoPolicyRejectsBadThreshold(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, `approval_threshold = 1.5`)
	if _, err := LoadRepoPolicy(dir); err == nil {
		t.Error("LoadRepoPolicy() accepted threshold 1.5")
	}
}

func TestPolicyWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, `approval_threshold = 0.7`)

	w, err := NewPolicyWatcher(dir)
	if err != nil {
		t.Fatal(err)
	}
	if w.Current().ApprovalThreshold != 0.7 {
		t.Fatalf("initial threshold = %v", w.Current().ApprovalThreshold)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx)
	}()

	// Give the watcher a moment to arm before rewriting.
	time.Sleep(100 * time.Millisecond)
	writePolicy(t, dir, `approval_threshold = 0.95`)

	deadline := time.After(3 * time.Second)
	for w.Current().ApprovalThreshold != 0.95 {
		select {
		case <-deadline:
			t.Fatalf("policy not reloaded, threshold = %v", w.Current().ApprovalThreshold)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
