// Package eventbus dispatches lifecycle trigger events to registered
// handlers. Local channel-free dispatch — intake and orchestration run in
// one process, so no broker is involved; the webhook server publishes here
// and the lifecycle handler consumes.
package eventbus

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Bus dispatches events to registered handlers.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{}
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Dispatch sends an event to all registered handlers that handle its kind.
// Handlers are called sequentially in priority order (lowest first).
// Handler errors are collected into the result and logged, but do not stop
// the chain; the last error is returned so the intake boundary can decide
// whether to acknowledge the delivery.
func (b *Bus) Dispatch(ctx context.Context, event *Event) error {
	if event == nil {
		return fmt.Errorf("eventbus: nil event")
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Kind)
	b.mu.RUnlock()

	var lastErr error
	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("eventbus: context cancelled: %w", err)
		}
		if err := h.Handle(ctx, event); err != nil {
			log.Printf("eventbus: handler %q error for %s %s: %v", h.ID(), event.Kind, event.Key, err)
			lastErr = err
		}
	}
	return lastErr
}

// Handlers returns all registered handlers (for introspection/status
// reporting).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers for the given event kind, sorted by
// priority (lowest first). Must be called with at least a read lock held.
func (b *Bus) matchingHandlers(kind EventKind) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, k := range h.Handles() {
			if k == kind {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
