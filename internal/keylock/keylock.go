// Package keylock serializes work per issue key.
//
// At most one work function runs for a given key at any moment. A trigger
// arriving while a run is active is coalesced into a one-value mailbox:
// its value is parked and the active runner re-runs with that value after
// finishing. A newer trigger arriving while the mailbox is occupied
// replaces the parked value, so the mailbox always holds the most recent
// trigger. This bounds memory to one parked value per key — duplicate
// webhook deliveries collapse instead of queueing — and relies on the
// caller's work being idempotent per value, which the lifecycle
// orchestrator's status-driven advance guarantees.
//
// Distinct keys never block each other.
package keylock

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Outcome reports how Do handled a trigger.
type Outcome int

// Trigger outcomes.
const (
	OutcomeRan       Outcome = iota // work ran in this call
	OutcomeCoalesced                // value parked; the active run will re-run with it
	OutcomeReplaced                 // value parked, displacing an older parked value
)

// entry tracks the in-flight state for one key.
type entry[V any] struct {
	active  bool
	pending bool
	next    V
}

// Locker admits one run per key with a one-value coalescing mailbox.
type Locker[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
}

// New creates an empty Locker.
func New[K comparable, V any]() *Locker[K, V] {
	return &Locker[K, V]{entries: make(map[K]*entry[V])}
}

// Do runs work for key and value, serialized against other Do calls for
// the same key.
//
// If no run is active for key, work runs synchronously in this call —
// possibly more than once, once per value parked while it ran — and its
// last error is returned. If a run is active, value is parked in the
// key's mailbox (replacing any older parked value) and the call returns
// immediately with OutcomeCoalesced or OutcomeReplaced and a nil error;
// the active runner re-runs its own work function with the parked value.
// Callers for one key must therefore supply work functions that agree on
// what a value means.
//
// The admission ticket is always released, including when work panics.
func (l *Locker[K, V]) Do(ctx context.Context, key K, value V, work func(context.Context, V) error) (Outcome, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry[V]{}
		l.entries[key] = e
	}
	if e.active {
		replaced := e.pending
		e.pending = true
		e.next = value
		l.mu.Unlock()
		if replaced {
			return OutcomeReplaced, nil
		}
		return OutcomeCoalesced, nil
	}
	e.active = true
	l.mu.Unlock()

	var err error
	for {
		err = l.runOnce(ctx, key, value, work)

		l.mu.Lock()
		if e.pending && ctx.Err() == nil {
			value = e.next
			e.pending = false
			var zero V
			e.next = zero
			l.mu.Unlock()
			continue
		}
		// Done, or the context died with a re-run owed; either way the
		// ticket is released and the entry dropped.
		delete(l.entries, key)
		l.mu.Unlock()
		return OutcomeRan, err
	}
}

// runOnce executes work, converting a panic into an error so the ticket is
// released and the process survives a misbehaving collaborator.
func (l *Locker[K, V]) runOnce(ctx context.Context, key K, value V, work func(context.Context, V) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("keylock: work for %v panicked: %v", key, r)
			log.Printf("keylock: recovered panic for key %v: %v", key, r)
		}
	}()
	return work(ctx, value)
}

// Active reports whether a run is currently in flight for key. Introspection
// for tests and status reporting.
func (l *Locker[K, V]) Active(key K) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return ok && e.active
}
