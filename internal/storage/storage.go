// Package storage provides shared types for issue lifecycle storage.
//
// Concrete backends live in the memory and sqlstore sub-packages. This
// package holds the interface, the error taxonomy, and the retry policy
// referenced by both the backends and their consumers.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/issuepilot/issuepilot/internal/types"
)

// ErrNotFound is returned by Load when no record exists for the key. It is
// distinct from ErrUnavailable: callers use it to decide create-new vs
// use-existing and must never treat an I/O failure as "no such issue".
var ErrNotFound = errors.New("issue state not found")

// ErrUnavailable is returned when the persistence layer itself fails.
// Commit retries these with backoff before surfacing the error; when the
// error does surface, the triggering event must not be acknowledged so the
// webhook boundary can redeliver.
var ErrUnavailable = errors.New("storage unavailable")

// ErrConflict is returned when a compare-and-swap write loses a race with a
// concurrent commit on the same key. The per-issue serializer makes this
// structurally unreachable for orchestrated writes; it exists as defense in
// depth against external writers.
var ErrConflict = errors.New("concurrent modification")

// Mutator is applied to a copy of the stored record inside Commit. It must
// perform status changes only through (*types.IssueState).Transition so the
// legal-edge check runs; returning an error aborts the commit and nothing
// is persisted.
type Mutator func(*types.IssueState) error

// Store is durable keyed storage for one IssueState per (repository, issue
// number). Commit is the only write path: there is no direct field
// overwrite API, which keeps the record invariants enforceable in one
// place.
type Store interface {
	// Load returns a snapshot of the record, or ErrNotFound.
	Load(ctx context.Context, key types.IssueKey) (*types.IssueState, error)

	// Commit applies fn to the current record (creating it at NEW if the
	// key has never been seen) and persists the result atomically with
	// respect to concurrent commits on the same key. Returns the
	// persisted snapshot. Errors from fn — including
	// *types.InvalidTransitionError — abort the commit and leave the
	// stored record unchanged.
	Commit(ctx context.Context, key types.IssueKey, fn Mutator) (*types.IssueState, error)

	// List returns snapshots of all records for a repository, ordered by
	// issue number. Reporting path; not used by the orchestrator loop.
	List(ctx context.Context, repository string) ([]*types.IssueState, error)

	Close() error
}

// retryBackOff builds the backoff schedule for transient storage failures.
// Short and bounded: the webhook boundary owns long-horizon redelivery.
func retryBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(bo, ctx)
}

// WithRetry runs op, retrying while it reports ErrUnavailable. Any other
// error — invalid transitions, CAS conflicts, mutator errors — is permanent
// and returned immediately.
func WithRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrUnavailable) {
			return err // Retryable
		}
		return backoff.Permanent(err)
	}, retryBackOff(ctx))
}
