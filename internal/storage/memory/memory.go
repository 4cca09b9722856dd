// Package memory implements the storage interface with an in-process map.
// Used by tests and by `pilot serve --db memory` for local development; it
// keeps the same versioned compare-and-swap discipline as the durable
// backends so orchestrator behavior is identical.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/types"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu     sync.RWMutex
	states map[types.IssueKey]*types.IssueState

	// now is swappable for tests that need deterministic timestamps.
	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		states: make(map[types.IssueKey]*types.IssueState),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store's clock. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Load returns a snapshot of the record, or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, key types.IssueKey) (*types.IssueState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return st.Clone(), nil
}

// Commit applies fn to a copy of the stored record (creating it at NEW on
// first reference) and swaps it in. The whole read-mutate-write runs under
// the lock, so commits on the same key are serialized; the version bump
// mirrors what the SQL backends enforce with a CAS UPDATE.
func (s *Store) Commit(ctx context.Context, key types.IssueKey, fn storage.Mutator) (*types.IssueState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var work *types.IssueState
	if cur, ok := s.states[key]; ok {
		work = cur.Clone()
	} else {
		work = types.NewIssueState(key, s.now())
	}

	if err := fn(work); err != nil {
		return nil, err // Nothing persisted
	}
	if err := work.Validate(); err != nil {
		return nil, err
	}

	work.Version++
	s.states[key] = work
	return work.Clone(), nil
}

// List returns snapshots for one repository ordered by issue number.
func (s *Store) List(ctx context.Context, repository string) ([]*types.IssueState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.IssueState
	for key, st := range s.states {
		if key.Repository == repository {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssueNumber < out[j].IssueNumber })
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }
