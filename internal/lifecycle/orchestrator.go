package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/issuepilot/issuepilot/internal/eventbus"
	"github.com/issuepilot/issuepilot/internal/keylock"
	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/telemetry"
	"github.com/issuepilot/issuepilot/internal/types"
)

// Orchestrator advances issues through the status graph. It is safe for
// concurrent use: work for distinct issue keys proceeds in parallel, work
// for one key is serialized, with events arriving mid-run parked in the
// serializer's mailbox and processed after the active run finishes.
type Orchestrator struct {
	store      storage.Store
	locks      *keylock.Locker[types.IssueKey, *eventbus.Event]
	classifier Classifier
	executor   Executor
	prs        PRManager
	sink       NotificationSink
	policy     Policy
}

func now() time.Time { return time.Now().UTC() }

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy overrides the default policy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithSink sets the notification sink. Without one, notifications are
// silently skipped.
func WithSink(sink NotificationSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// New creates an orchestrator over the given store and collaborators.
func New(store storage.Store, classifier Classifier, executor Executor, prs PRManager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		locks:      keylock.New[types.IssueKey, *eventbus.Event](),
		classifier: classifier,
		executor:   executor,
		prs:        prs,
		policy:     DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}
	transitionMetricsOnce.Do(initTransitionMetrics)
	return o
}

// Eventbus handler wiring. The orchestrator consumes every trigger kind at
// default priority.

func (o *Orchestrator) ID() string { return "lifecycle" }

func (o *Orchestrator) Priority() int { return 10 }

func (o *Orchestrator) Handles() []eventbus.EventKind {
	return []eventbus.EventKind{
		eventbus.EventIssueOpened,
		eventbus.EventIssueClosed,
		eventbus.EventPRMerged,
		eventbus.EventReviewApproved,
		eventbus.EventReviewRejected,
		eventbus.EventRetry,
	}
}

func (o *Orchestrator) Handle(ctx context.Context, event *eventbus.Event) error {
	return o.HandleEvent(ctx, event)
}

// HandleEvent processes one trigger for an issue. Idempotent with respect
// to duplicate deliveries: the advance loop is driven by stored status, so
// re-delivery of an event already acted on is a no-op. A returned error
// means the event was not fully processed and the boundary should allow
// redelivery.
func (o *Orchestrator) HandleEvent(ctx context.Context, event *eventbus.Event) error {
	if event == nil || !event.Kind.IsValid() {
		return fmt.Errorf("lifecycle: invalid event")
	}
	if err := event.Key.Validate(); err != nil {
		return fmt.Errorf("lifecycle: %w", err)
	}

	_, err := o.locks.Do(ctx, event.Key, event, o.advance)
	return err
}

// GetStatus returns a snapshot of the record. Read path: bypasses the
// serializer, returns storage.ErrNotFound for unknown keys.
func (o *Orchestrator) GetStatus(ctx context.Context, key types.IssueKey) (*types.IssueState, error) {
	return o.store.Load(ctx, key)
}

// List returns snapshots of all records for a repository.
func (o *Orchestrator) List(ctx context.Context, repository string) ([]*types.IssueState, error) {
	return o.store.List(ctx, repository)
}

// advance runs the status-driven pipeline for one event. It loops until
// the issue parks (REVIEW_NEEDED, BLOCKED, terminal) or the current event
// kind has nothing left to contribute.
func (o *Orchestrator) advance(ctx context.Context, event *eventbus.Event) error {
	key := event.Key

	switch event.Kind {
	case eventbus.EventIssueClosed:
		return o.handleExternalClose(ctx, key)
	case eventbus.EventPRMerged:
		return o.handleExternalMerge(ctx, key)
	case eventbus.EventReviewRejected:
		return o.reject(ctx, key, "rejected by "+event.Actor)
	}

	// issue.opened, review.approved, and retry all feed the main pipeline;
	// the stored status decides what actually happens.
	for {
		state, err := o.store.Load(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if state == nil && event.Kind != eventbus.EventIssueOpened {
			return nil // Only an opened issue creates a record
		}

		status := types.StatusNew
		if state != nil {
			status = state.Status
		}

		switch status {
		case types.StatusNew:
			if err := o.commitAndNotify(ctx, key, "analysis started", types.StatusAnalyzing, nil); err != nil {
				return err
			}

		case types.StatusAnalyzing:
			if err := o.classifyStep(ctx, key, event.Payload); err != nil {
				return err
			}

		case types.StatusAnalyzed:
			approved := state.ConfidenceScore >= o.policy.ApprovalThreshold
			if !approved {
				note := fmt.Sprintf("confidence %.2f below threshold %.2f", state.ConfidenceScore, o.policy.ApprovalThreshold)
				return o.commitAndNotify(ctx, key, note, types.StatusReviewNeeded, nil)
			}
			note := fmt.Sprintf("confidence %.2f meets threshold", state.ConfidenceScore)
			if err := o.commitAndNotify(ctx, key, note, types.StatusApproved, nil); err != nil {
				return err
			}

		case types.StatusApproved:
			if err := o.executeStep(ctx, key, state, event.Payload); err != nil {
				return err
			}

		case types.StatusPRCreated:
			return o.mergeStep(ctx, key, state)

		case types.StatusReviewNeeded:
			if event.Kind != eventbus.EventReviewApproved {
				return nil // Parked until a human weighs in
			}
			note := "approved by " + event.Actor
			if err := o.commitAndNotify(ctx, key, note, types.StatusApproved, nil); err != nil {
				return err
			}

		case types.StatusBlocked:
			if event.Kind != eventbus.EventRetry {
				return nil // Parked until explicitly retried
			}
			if err := o.commitAndNotify(ctx, key, "retry requested", types.StatusInProgress, nil); err != nil {
				return err
			}
			// Re-load falls through to IN_PROGRESS handling below.

		case types.StatusInProgress:
			// Mid-flight record from a crashed or retried run; re-drive the
			// execution step without a fresh APPROVED commit.
			return o.remediate(ctx, key, state, event.Payload)

		case types.StatusCompleted:
			return o.finalMerge(ctx, key, state)

		default:
			return nil // Terminal
		}
	}
}

// classifyStep calls the classifier and commits ANALYZING→ANALYZED with
// the advisory fields. A classifier failure has no legal edge to BLOCKED
// from ANALYZING, so the fault is recorded as an annotation and the error
// propagates for redelivery.
func (o *Orchestrator) classifyStep(ctx context.Context, key types.IssueKey, payload types.IssuePayload) error {
	cctx, cancel := context.WithTimeout(ctx, o.policy.ClassifyTimeout)
	cls, err := o.classifier.Analyze(cctx, payload)
	cancel()
	if err != nil {
		if _, aerr := o.store.Commit(ctx, key, func(s *types.IssueState) error {
			s.Annotate("classification failed: "+err.Error(), now())
			return nil
		}); aerr != nil {
			log.Printf("lifecycle: %s: recording classifier fault failed: %v", key, aerr)
		}
		return fmt.Errorf("lifecycle: classify %s: %w", key, err)
	}

	return o.commitAndNotify(ctx, key, "analysis complete", types.StatusAnalyzed, func(s *types.IssueState) {
		s.AssignedAgent = cls.Agent
		s.ConfidenceScore = cls.ConfidenceScore
		s.EstimatedCost = cls.EstimatedCost
		s.EstimatedHours = cls.EstimatedHours
	})
}

// executeStep commits APPROVED→IN_PROGRESS and runs remediation.
func (o *Orchestrator) executeStep(ctx context.Context, key types.IssueKey, state *types.IssueState, payload types.IssuePayload) error {
	if err := o.commitAndNotify(ctx, key, "remediation started", types.StatusInProgress, nil); err != nil {
		return err
	}
	return o.remediate(ctx, key, state, payload)
}

// remediate runs the executor and, on success, opens a pull request.
// Failures commit IN_PROGRESS→BLOCKED with the reason.
func (o *Orchestrator) remediate(ctx context.Context, key types.IssueKey, state *types.IssueState, payload types.IssuePayload) error {
	cls := &types.Classification{Agent: state.AssignedAgent, ConfidenceScore: state.ConfidenceScore}

	ectx, cancel := context.WithTimeout(ctx, o.policy.ExecuteTimeout)
	result, err := o.executor.Execute(ectx, key, cls, payload)
	cancel()

	if err != nil {
		return o.block(ctx, key, "executor failed: "+err.Error())
	}
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "remediation failed"
		}
		return o.block(ctx, key, reason)
	}

	title := fmt.Sprintf("fix: resolve issue #%d", key.IssueNumber)
	if payload.Title != "" {
		title = fmt.Sprintf("fix: %s (#%d)", payload.Title, key.IssueNumber)
	}
	body := fmt.Sprintf("Automated remediation for #%d.", key.IssueNumber)

	pctx, cancel := context.WithTimeout(ctx, o.policy.MergeTimeout)
	prNumber, err := o.prs.CreatePullRequest(pctx, key, result.BranchName, title, body)
	cancel()
	if err != nil {
		return o.block(ctx, key, "pull request creation failed: "+err.Error())
	}

	if err := o.commitAndNotify(ctx, key, fmt.Sprintf("opened PR #%d", prNumber), types.StatusPRCreated, func(s *types.IssueState) {
		s.BranchName = result.BranchName
		s.PRNumber = prNumber
	}); err != nil {
		return err
	}

	state, err = o.store.Load(ctx, key)
	if err != nil {
		return err
	}
	return o.mergeStep(ctx, key, state)
}

// mergeStep attempts the merge from PR_CREATED. COMPLETED is committed
// only once the merge is confirmed — the status graph has no COMPLETED→
// BLOCKED edge, so an unmergeable PR routes PR_CREATED→BLOCKED instead.
func (o *Orchestrator) mergeStep(ctx context.Context, key types.IssueKey, state *types.IssueState) error {
	mctx, cancel := context.WithTimeout(ctx, o.policy.MergeTimeout)
	merged, reason, err := o.prs.MergePullRequest(mctx, key, state.PRNumber)
	cancel()

	if err != nil {
		return o.block(ctx, key, "merge failed: "+err.Error())
	}
	if !merged {
		if reason == "" {
			reason = "pull request not eligible for auto-merge"
		}
		return o.block(ctx, key, reason)
	}

	if err := o.commitAndNotify(ctx, key, "merge confirmed", types.StatusCompleted, nil); err != nil {
		return err
	}
	return o.commitAndNotify(ctx, key, fmt.Sprintf("PR #%d merged", state.PRNumber), types.StatusMerged, nil)
}

// finalMerge handles a record resuming at COMPLETED: the merge was
// confirmed in a previous run, so only the MERGED commit remains.
func (o *Orchestrator) finalMerge(ctx context.Context, key types.IssueKey, state *types.IssueState) error {
	return o.commitAndNotify(ctx, key, fmt.Sprintf("PR #%d merged", state.PRNumber), types.StatusMerged, nil)
}

// handleExternalClose maps an out-of-band issue close onto the graph:
// COMPLETED→CLOSED where legal, otherwise REJECTED where legal, otherwise
// a no-op (already terminal).
func (o *Orchestrator) handleExternalClose(ctx context.Context, key types.IssueKey) error {
	state, err := o.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil // Never tracked; nothing to close
		}
		return err
	}

	switch {
	case types.CanTransition(state.Status, types.StatusClosed):
		return o.commitAndNotify(ctx, key, "issue closed externally", types.StatusClosed, nil)
	case types.CanTransition(state.Status, types.StatusRejected):
		return o.commitAndNotify(ctx, key, "issue closed externally", types.StatusRejected, nil)
	default:
		return nil
	}
}

// handleExternalMerge records a merge observed via webhook rather than
// performed by the orchestrator.
func (o *Orchestrator) handleExternalMerge(ctx context.Context, key types.IssueKey) error {
	state, err := o.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	switch state.Status {
	case types.StatusPRCreated:
		if err := o.commitAndNotify(ctx, key, "merge observed externally", types.StatusCompleted, nil); err != nil {
			return err
		}
		return o.commitAndNotify(ctx, key, "PR merged externally", types.StatusMerged, nil)
	case types.StatusCompleted:
		return o.commitAndNotify(ctx, key, "PR merged externally", types.StatusMerged, nil)
	default:
		return nil
	}
}

// reject moves the record to REJECTED if the current status allows it.
func (o *Orchestrator) reject(ctx context.Context, key types.IssueKey, note string) error {
	state, err := o.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if !types.CanTransition(state.Status, types.StatusRejected) {
		return nil
	}
	return o.commitAndNotify(ctx, key, note, types.StatusRejected, nil)
}

// block commits a transition to BLOCKED with the failure reason.
func (o *Orchestrator) block(ctx context.Context, key types.IssueKey, reason string) error {
	state, err := o.store.Commit(ctx, key, func(s *types.IssueState) error {
		return s.Block(reason, now())
	})
	if err != nil {
		return err
	}
	o.notify(ctx, key, state)
	return nil
}

// commitAndNotify commits one transition, optionally mutating advisory
// fields in the same commit, then fires the best-effort notification.
func (o *Orchestrator) commitAndNotify(ctx context.Context, key types.IssueKey, note string, to types.Status, extra func(*types.IssueState)) error {
	state, err := o.store.Commit(ctx, key, func(s *types.IssueState) error {
		if err := s.Transition(to, note, now()); err != nil {
			return err
		}
		if extra != nil {
			extra(s)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordTransition(ctx, to)
	o.notify(ctx, key, state)
	return nil
}

// notify invokes the sink, logging failures. Notification delivery is
// independent of state correctness.
func (o *Orchestrator) notify(ctx context.Context, key types.IssueKey, state *types.IssueState) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Notify(ctx, key, state); err != nil {
		log.Printf("lifecycle: notification for %s (%s) failed: %v", key, state.Status, err)
	}
}

var transitionMetrics struct {
	transitions metric.Int64Counter
}

var transitionMetricsOnce sync.Once

func initTransitionMetrics() {
	m := telemetry.Meter("github.com/issuepilot/issuepilot/lifecycle")
	transitionMetrics.transitions, _ = m.Int64Counter("pilot.lifecycle.transitions",
		metric.WithDescription("Committed issue status transitions"),
		metric.WithUnit("{transition}"),
	)
}

func recordTransition(ctx context.Context, to types.Status) {
	if transitionMetrics.transitions == nil {
		return
	}
	transitionMetrics.transitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("pilot.status", string(to))))
}
