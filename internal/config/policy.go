package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// PolicyFileName is the per-repository policy override file, checked into
// the target repository's root.
const PolicyFileName = ".issuepilot.toml"

// RepoPolicy carries per-repository overrides for lifecycle and merge
// decisions. Zero values mean "use the global config".
type RepoPolicy struct {
	ApprovalThreshold float64  `toml:"approval_threshold"`
	BaseBranch        string   `toml:"base_branch"`
	AutoMergeDisabled bool     `toml:"auto_merge_disabled"`
	ProtectedFiles    []string `toml:"protected_files"`
	ProtectedDirs     []string `toml:"protected_dirs"`
	TrustedAuthors    []string `toml:"trusted_authors"`
}

// LoadRepoPolicy reads the policy file from dir. A missing file returns an
// empty policy, not an error.
func LoadRepoPolicy(dir string) (*RepoPolicy, error) {
	path := filepath.Join(dir, PolicyFileName)
	var p RepoPolicy
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if os.IsNotExist(err) {
			return &RepoPolicy{}, nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if p.ApprovalThreshold < 0 || p.ApprovalThreshold > 1 {
		return nil, fmt.Errorf("%s: approval_threshold must be in [0, 1], got %v", path, p.ApprovalThreshold)
	}
	return &p, nil
}

// PolicyWatcher serves the current repo policy and hot-reloads it when the
// file changes on disk.
type PolicyWatcher struct {
	dir     string
	mu      sync.RWMutex
	current *RepoPolicy

	// OnReload, when set, is called with each successfully reloaded policy.
	// Set it before calling Watch.
	OnReload func(*RepoPolicy)
}

// NewPolicyWatcher loads the initial policy from dir.
func NewPolicyWatcher(dir string) (*PolicyWatcher, error) {
	p, err := LoadRepoPolicy(dir)
	if err != nil {
		return nil, err
	}
	return &PolicyWatcher{dir: dir, current: p}, nil
}

// Current returns the most recently loaded policy.
func (w *PolicyWatcher) Current() *RepoPolicy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Watch reloads the policy on file changes until ctx is done. Reload
// failures keep the previous policy and log the problem.
func (w *PolicyWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: editors replace files on save,
	// which drops a direct file watch.
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != PolicyFileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			p, err := LoadRepoPolicy(w.dir)
			if err != nil {
				log.Printf("config: policy reload failed, keeping previous: %v", err)
				continue
			}
			w.mu.Lock()
			w.current = p
			w.mu.Unlock()
			log.Printf("config: reloaded %s", PolicyFileName)
			if w.OnReload != nil {
				w.OnReload(p)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watcher error: %v", err)
		}
	}
}
