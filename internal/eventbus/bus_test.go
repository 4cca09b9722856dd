package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/issuepilot/issuepilot/internal/types"
)

// recordingHandler appends its ID to a shared order slice on every call.
type recordingHandler struct {
	id       string
	kinds    []EventKind
	priority int
	order    *[]string
	err      error
}

func (h *recordingHandler) ID() string          { return h.id }
func (h *recordingHandler) Handles() []EventKind { return h.kinds }
func (h *recordingHandler) Priority() int       { return h.priority }
func (h *recordingHandler) Handle(ctx context.Context, e *Event) error {
	*h.order = append(*h.order, h.id)
	return h.err
}

func testEvent(kind EventKind) *Event {
	return &Event{
		Kind:       kind,
		Key:        types.IssueKey{Repository: "acme/widgets", IssueNumber: 1},
		ReceivedAt: time.Now().UTC(),
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	bus := New()
	var order []string

	bus.Register(&recordingHandler{id: "late", kinds: []EventKind{EventIssueOpened}, priority: 50, order: &order})
	bus.Register(&recordingHandler{id: "early", kinds: []EventKind{EventIssueOpened}, priority: 10, order: &order})
	bus.Register(&recordingHandler{id: "other", kinds: []EventKind{EventPRMerged}, priority: 0, order: &order})

	if err := bus.Dispatch(context.Background(), testEvent(EventIssueOpened)); err != nil {
		t.Fatalf("Dispatch = %v", err)
	}
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Errorf("call order = %v, want [early late]", order)
	}
}

func TestDispatchHandlerErrorDoesNotStopChain(t *testing.T) {
	bus := New()
	var order []string
	boom := errors.New("boom")

	bus.Register(&recordingHandler{id: "fails", kinds: []EventKind{EventRetry}, priority: 1, order: &order, err: boom})
	bus.Register(&recordingHandler{id: "runs", kinds: []EventKind{EventRetry}, priority: 2, order: &order})

	err := bus.Dispatch(context.Background(), testEvent(EventRetry))
	if !errors.Is(err, boom) {
		t.Errorf("Dispatch = %v, want boom surfaced", err)
	}
	if len(order) != 2 {
		t.Errorf("chain stopped early: %v", order)
	}
}

func TestDispatchNilEvent(t *testing.T) {
	if err := New().Dispatch(context.Background(), nil); err == nil {
		t.Error("Dispatch(nil) succeeded, want error")
	}
}

func TestEventKindIsValid(t *testing.T) {
	for _, k := range []EventKind{
		EventIssueOpened, EventIssueClosed, EventPRMerged,
		EventReviewApproved, EventReviewRejected, EventRetry,
	} {
		if !k.IsValid() {
			t.Errorf("%s reported invalid", k)
		}
	}
	if EventKind("bogus").IsValid() {
		t.Error("bogus kind reported valid")
	}
}
