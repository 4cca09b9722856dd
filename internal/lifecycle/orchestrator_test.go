package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/issuepilot/issuepilot/internal/eventbus"
	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/storage/memory"
	"github.com/issuepilot/issuepilot/internal/types"
)

var testKey = types.IssueKey{Repository: "acme/widgets", IssueNumber: 7}

type fakeClassifier struct {
	confidence float64
	err        error
}

func (f *fakeClassifier) Analyze(_ context.Context, _ types.IssuePayload) (*types.Classification, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &types.Classification{
		IssueType:       "bug",
		Priority:        "high",
		ConfidenceScore: f.confidence,
		Agent:           "debugger",
		Model:           "sonnet",
		EstimatedCost:   0.025,
		EstimatedHours:  1.5,
	}, nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	result *types.ExecutionResult
	err    error
	calls  int

	// started is closed when the first Execute begins; gate, when set,
	// blocks Execute until closed. Used to hold a run mid-executor.
	started chan struct{}
	gate    chan struct{}
}

func (f *fakeExecutor) Execute(_ context.Context, key types.IssueKey, _ *types.Classification, _ types.IssuePayload) (*types.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	started, gate := f.started, f.gate
	f.started = nil
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &types.ExecutionResult{Success: true, BranchName: "pilot/issue-7"}, nil
}

type fakePRManager struct {
	createErr   error
	merged      bool
	mergeReason string
	mergeErr    error
}

func (f *fakePRManager) CreatePullRequest(_ context.Context, _ types.IssueKey, _, _, _ string) (int, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	return 99, nil
}

func (f *fakePRManager) MergePullRequest(_ context.Context, _ types.IssueKey, _ int) (bool, string, error) {
	return f.merged, f.mergeReason, f.mergeErr
}

type fakeSink struct {
	mu       sync.Mutex
	statuses []types.Status
	err      error
}

func (f *fakeSink) Notify(_ context.Context, _ types.IssueKey, state *types.IssueState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, state.Status)
	return f.err
}

func (f *fakeSink) seen() []types.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Status, len(f.statuses))
	copy(out, f.statuses)
	return out
}

// harness bundles an orchestrator with its fakes and in-memory store.
type harness struct {
	orch       *Orchestrator
	store      storage.Store
	classifier *fakeClassifier
	executor   *fakeExecutor
	prs        *fakePRManager
	sink       *fakeSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      memory.New(),
		classifier: &fakeClassifier{confidence: 0.9},
		executor:   &fakeExecutor{},
		prs:        &fakePRManager{merged: true},
		sink:       &fakeSink{},
	}
	h.orch = New(h.store, h.classifier, h.executor, h.prs, WithSink(h.sink))
	return h
}

func opened(key types.IssueKey) *eventbus.Event {
	return &eventbus.Event{
		Kind:       eventbus.EventIssueOpened,
		Key:        key,
		Payload:    types.IssuePayload{Title: "crash on save", Body: "stack trace attached"},
		ReceivedAt: time.Now().UTC(),
	}
}

func event(kind eventbus.EventKind, key types.IssueKey) *eventbus.Event {
	return &eventbus.Event{Kind: kind, Key: key, Actor: "reviewer", ReceivedAt: time.Now().UTC()}
}

// historySequence extracts the ordered To statuses from the record.
func historySequence(t *testing.T, store storage.Store, key types.IssueKey) []types.Status {
	t.Helper()
	state, err := store.Load(context.Background(), key)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	out := make([]types.Status, len(state.StatusHistory))
	for i, tr := range state.StatusHistory {
		out[i] = tr.To
	}
	return out
}

func assertSequence(t *testing.T, got, want []types.Status) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", got, want)
		}
	}
}

func TestHappyPathToMerged(t *testing.T) {
	h := newHarness(t)

	if err := h.orch.HandleEvent(context.Background(), opened(testKey)); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	assertSequence(t, historySequence(t, h.store, testKey), []types.Status{
		types.StatusAnalyzing,
		types.StatusAnalyzed,
		types.StatusApproved,
		types.StatusInProgress,
		types.StatusPRCreated,
		types.StatusCompleted,
		types.StatusMerged,
	})

	state, _ := h.store.Load(context.Background(), testKey)
	if state.PRNumber != 99 {
		t.Errorf("PRNumber = %d, want 99", state.PRNumber)
	}
	if state.BranchName != "pilot/issue-7" {
		t.Errorf("BranchName = %q", state.BranchName)
	}
	if state.AssignedAgent != "debugger" {
		t.Errorf("AssignedAgent = %q", state.AssignedAgent)
	}
	if got := h.sink.seen(); len(got) != 7 {
		t.Errorf("notifications = %v, want one per commit", got)
	}
}

func TestLowConfidenceParksAtReviewNeeded(t *testing.T) {
	h := newHarness(t)
	h.classifier.confidence = 0.4

	if err := h.orch.HandleEvent(context.Background(), opened(testKey)); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	assertSequence(t, historySequence(t, h.store, testKey), []types.Status{
		types.StatusAnalyzing,
		types.StatusAnalyzed,
		types.StatusReviewNeeded,
	})
	if h.executor.calls != 0 {
		t.Errorf("executor ran %d times for unapproved issue", h.executor.calls)
	}

	// A duplicate delivery advances nothing.
	if err := h.orch.HandleEvent(context.Background(), opened(testKey)); err != nil {
		t.Fatalf("duplicate HandleEvent() error = %v", err)
	}
	if got := historySequence(t, h.store, testKey); len(got) != 3 {
		t.Errorf("duplicate delivery grew history: %v", got)
	}
}

func TestReviewApprovalResumesToMerged(t *testing.T) {
	h := newHarness(t)
	h.classifier.confidence = 0.4

	ctx := context.Background()
	if err := h.orch.HandleEvent(ctx, opened(testKey)); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.HandleEvent(ctx, event(eventbus.EventReviewApproved, testKey)); err != nil {
		t.Fatalf("HandleEvent(review.approved) error = %v", err)
	}

	state, _ := h.store.Load(ctx, testKey)
	if state.Status != types.StatusMerged {
		t.Errorf("Status = %s, want merged", state.Status)
	}
}

func TestExecutorFailureBlocks(t *testing.T) {
	h := newHarness(t)
	h.executor.result = &types.ExecutionResult{Success: false, Error: "agent could not reproduce"}

	if err := h.orch.HandleEvent(context.Background(), opened(testKey)); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	state, _ := h.store.Load(context.Background(), testKey)
	if state.Status != types.StatusBlocked {
		t.Fatalf("Status = %s, want blocked", state.Status)
	}
	if state.ErrorMessage != "agent could not reproduce" {
		t.Errorf("ErrorMessage = %q", state.ErrorMessage)
	}
}

func TestRetryFromBlockedRecovers(t *testing.T) {
	h := newHarness(t)
	h.executor.err = errors.New("sandbox offline")

	ctx := context.Background()
	if err := h.orch.HandleEvent(ctx, opened(testKey)); err != nil {
		t.Fatal(err)
	}
	state, _ := h.store.Load(ctx, testKey)
	if state.Status != types.StatusBlocked {
		t.Fatalf("Status = %s, want blocked", state.Status)
	}

	h.executor.err = nil
	if err := h.orch.HandleEvent(ctx, event(eventbus.EventRetry, testKey)); err != nil {
		t.Fatalf("HandleEvent(retry) error = %v", err)
	}

	state, _ = h.store.Load(ctx, testKey)
	if state.Status != types.StatusMerged {
		t.Errorf("Status = %s, want merged", state.Status)
	}
	if state.ErrorMessage != "" {
		t.Errorf("ErrorMessage = %q, want cleared on leaving blocked", state.ErrorMessage)
	}
}

func TestUnmergeableRoutesToBlockedNotCompleted(t *testing.T) {
	h := newHarness(t)
	h.prs.merged = false
	h.prs.mergeReason = "risk score above threshold"

	if err := h.orch.HandleEvent(context.Background(), opened(testKey)); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	state, _ := h.store.Load(context.Background(), testKey)
	if state.Status != types.StatusBlocked {
		t.Fatalf("Status = %s, want blocked", state.Status)
	}
	for _, tr := range state.StatusHistory {
		if tr.To == types.StatusCompleted {
			t.Error("reached completed before merge confirmation")
		}
	}
	if state.ErrorMessage != "risk score above threshold" {
		t.Errorf("ErrorMessage = %q", state.ErrorMessage)
	}
}

func TestClassifierFailureAnnotatesWithoutTransition(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = errors.New("model unavailable")

	err := h.orch.HandleEvent(context.Background(), opened(testKey))
	if err == nil {
		t.Fatal("HandleEvent() = nil, want error for redelivery")
	}

	state, _ := h.store.Load(context.Background(), testKey)
	if state.Status != types.StatusAnalyzing {
		t.Errorf("Status = %s, want analyzing", state.Status)
	}
	if state.ErrorMessage == "" {
		t.Error("ErrorMessage empty, want classifier fault recorded")
	}
	if len(state.StatusHistory) != 1 {
		t.Errorf("history = %v, want only the NEW->ANALYZING entry", state.StatusHistory)
	}
}

// TestCloseDuringActiveRunIsNotLost covers a distinct event kind racing an
// active run for the same key: the close parks in the serializer's mailbox
// and the re-run must apply the close, not replay the opened pipeline.
func TestCloseDuringActiveRunIsNotLost(t *testing.T) {
	h := newHarness(t)
	h.executor.result = &types.ExecutionResult{Success: false, Error: "agent could not reproduce"}
	h.executor.started = make(chan struct{})
	h.executor.gate = make(chan struct{})

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		done <- h.orch.HandleEvent(ctx, opened(testKey))
	}()

	<-h.executor.started

	// The issue is closed on GitHub while the agent is still running.
	if err := h.orch.HandleEvent(ctx, event(eventbus.EventIssueClosed, testKey)); err != nil {
		t.Fatalf("HandleEvent(issue.closed) error = %v", err)
	}

	close(h.executor.gate)
	if err := <-done; err != nil {
		t.Fatalf("runner = %v", err)
	}

	// First run parked the issue at BLOCKED; the mailboxed close must then
	// have mapped it to REJECTED.
	state, _ := h.store.Load(ctx, testKey)
	if state.Status != types.StatusRejected {
		t.Errorf("Status = %s, want rejected after mailboxed close", state.Status)
	}
}

func TestSteeringEventsIgnoreUnknownKeys(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	unknown := types.IssueKey{Repository: "acme/widgets", IssueNumber: 404}
	for _, kind := range []eventbus.EventKind{eventbus.EventReviewApproved, eventbus.EventRetry} {
		if err := h.orch.HandleEvent(ctx, event(kind, unknown)); err != nil {
			t.Fatalf("HandleEvent(%s) error = %v", kind, err)
		}
	}

	if _, err := h.store.Load(ctx, unknown); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Load() error = %v, want ErrNotFound (steering event created a record)", err)
	}
	if h.executor.calls != 0 {
		t.Errorf("executor ran %d times for untracked issue", h.executor.calls)
	}
}

func TestGetStatusUnknownKeyNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.GetStatus(context.Background(), types.IssueKey{Repository: "acme/widgets", IssueNumber: 404})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetStatus() error = %v, want ErrNotFound", err)
	}
}

func TestExternalCloseMapsOntoGraph(t *testing.T) {
	h := newHarness(t)
	h.classifier.confidence = 0.4

	ctx := context.Background()
	if err := h.orch.HandleEvent(ctx, opened(testKey)); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.HandleEvent(ctx, event(eventbus.EventIssueClosed, testKey)); err != nil {
		t.Fatalf("HandleEvent(issue.closed) error = %v", err)
	}

	state, _ := h.store.Load(ctx, testKey)
	if state.Status != types.StatusRejected {
		t.Errorf("Status = %s, want rejected from review_needed", state.Status)
	}

	// Closing an untracked or terminal issue is a no-op.
	if err := h.orch.HandleEvent(ctx, event(eventbus.EventIssueClosed, testKey)); err != nil {
		t.Fatalf("close on terminal record: %v", err)
	}
}

func TestNotificationFailureDoesNotAffectState(t *testing.T) {
	h := newHarness(t)
	h.sink.err = errors.New("github down")

	if err := h.orch.HandleEvent(context.Background(), opened(testKey)); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	state, _ := h.store.Load(context.Background(), testKey)
	if state.Status != types.StatusMerged {
		t.Errorf("Status = %s, want merged despite sink failures", state.Status)
	}
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	h := newHarness(t)

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.orch.HandleEvent(context.Background(), opened(testKey))
		}()
	}
	wg.Wait()

	// History reflects the distinct legal steps, not the delivery count.
	got := historySequence(t, h.store, testKey)
	assertSequence(t, got, []types.Status{
		types.StatusAnalyzing,
		types.StatusAnalyzed,
		types.StatusApproved,
		types.StatusInProgress,
		types.StatusPRCreated,
		types.StatusCompleted,
		types.StatusMerged,
	})
}

func TestDistinctKeysProceedIndependently(t *testing.T) {
	h := newHarness(t)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := types.IssueKey{Repository: "acme/widgets", IssueNumber: n}
			_ = h.orch.HandleEvent(ctx, opened(key))
		}(i)
	}
	wg.Wait()

	states, err := h.store.List(ctx, "acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 8 {
		t.Fatalf("List() returned %d records, want 8", len(states))
	}
	for _, s := range states {
		if s.Status != types.StatusMerged {
			t.Errorf("#%d Status = %s, want merged", s.IssueNumber, s.Status)
		}
	}
}
