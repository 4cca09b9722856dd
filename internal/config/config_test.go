package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() with explicit missing file succeeded, want error")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8090" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Policy.ApprovalThreshold != 0.8 {
		t.Errorf("ApprovalThreshold = %v", cfg.Policy.ApprovalThreshold)
	}
	if cfg.Executor.Timeout != 30*time.Minute {
		t.Errorf("Executor.Timeout = %v", cfg.Executor.Timeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pilot.yaml")
	content := `
server:
  addr: ":9999"
github:
  owner: acme
  repo: widgets
policy:
  approval_threshold: 0.95
  classify_timeout: 10s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.GitHub.Owner != "acme" || cfg.GitHub.Repo != "widgets" {
		t.Errorf("GitHub = %+v", cfg.GitHub)
	}
	if cfg.Policy.ApprovalThreshold != 0.95 {
		t.Errorf("ApprovalThreshold = %v", cfg.Policy.ApprovalThreshold)
	}
	if cfg.Policy.ClassifyTimeout != 10*time.Second {
		t.Errorf("ClassifyTimeout = %v", cfg.Policy.ClassifyTimeout)
	}
	// File silent on base_branch keeps the default.
	if cfg.GitHub.BaseBranch != "main" {
		t.Errorf("BaseBranch = %q", cfg.GitHub.BaseBranch)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PILOT_SERVER_ADDR", ":7777")
	t.Setenv("PILOT_STORAGE_CONN", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("Server.Addr = %q, want env override", cfg.Server.Addr)
	}
	if cfg.Storage.Conn != "memory" {
		t.Errorf("Storage.Conn = %q", cfg.Storage.Conn)
	}
}

func TestGitHubTokenFallback(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_fallback")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GitHub.Token != "ghp_fallback" {
		t.Errorf("Token = %q, want GITHUB_TOKEN fallback", cfg.GitHub.Token)
	}
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pilot.yaml")
	if err := WriteTemplate(path); err != nil {
		t.Fatalf("WriteTemplate() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("template does not round-trip: %v", err)
	}
	if cfg.Server.Addr != ":8090" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}

	if err := WriteTemplate(path); err == nil {
		t.Error("WriteTemplate() over existing file succeeded, want error")
	}
}
