package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/issuepilot/issuepilot/internal/config"
	"github.com/issuepilot/issuepilot/internal/eventbus"
	"github.com/issuepilot/issuepilot/internal/github"
	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/types"
	"github.com/issuepilot/issuepilot/internal/ui"
)

var (
	reviewDecision string
	reviewActor    string
)

var reviewCmd = &cobra.Command{
	Use:   "review <owner/repo> <issue>",
	Short: "Record a human review decision for a parked issue",
	Long: `Records a decision for an issue waiting at review_needed or blocked.

Approving resumes the automated pipeline, which may run the remediation
agent; rejecting retires the issue; retry re-drives a blocked issue. With
no --decision flag an interactive form is shown.`,
	Args: cobra.ExactArgs(2),
	RunE: runReview,
}

func init() {
	reviewCmd.Flags().StringVar(&reviewDecision, "decision", "", "Decision: approve, reject, or retry (skips the form)")
	reviewCmd.Flags().StringVar(&reviewActor, "actor", "", "Reviewer name recorded in the transition note (default: $USER)")
}

func runReview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	key, err := parseIssueArgs(args[0], args[1])
	if err != nil {
		return err
	}

	watcherDir := cfg.Executor.WorkDir
	if watcherDir == "" {
		watcherDir = "."
	}
	repoPolicy, err := config.LoadRepoPolicy(watcherDir)
	if err != nil {
		return err
	}

	p, err := buildPipeline(ctx, cfg, repoPolicy)
	if err != nil {
		return err
	}
	defer p.Close()

	state, err := p.orch.GetStatus(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no lifecycle record for %s", key)
	}
	if err != nil {
		return err
	}

	decision := reviewDecision
	if decision == "" {
		// Show the status comment as it appears on the issue before asking.
		fmt.Println(ui.RenderMarkdown(github.StatusComment(state)))
		decision, err = promptDecision(state)
		if err != nil {
			return err
		}
	}

	var kind eventbus.EventKind
	switch decision {
	case "approve":
		kind = eventbus.EventReviewApproved
	case "reject":
		kind = eventbus.EventReviewRejected
	case "retry":
		kind = eventbus.EventRetry
	default:
		return fmt.Errorf("unknown decision %q (want approve, reject, or retry)", decision)
	}

	actor := reviewActor
	if actor == "" {
		actor = os.Getenv("USER")
	}

	if err := p.bus.Dispatch(ctx, &eventbus.Event{
		Kind:       kind,
		Key:        key,
		Actor:      actor,
		ReceivedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	state, err = p.orch.GetStatus(ctx, key)
	if err != nil {
		return err
	}
	if jsonOutput {
		outputJSON(state)
		return nil
	}
	fmt.Print(ui.RenderState(state))
	return nil
}

// promptDecision shows the interactive review form for the given state.
func promptDecision(state *types.IssueState) (string, error) {
	options := []huh.Option[string]{
		huh.NewOption("Approve - resume automation", "approve"),
		huh.NewOption("Reject - retire the issue", "reject"),
	}
	if state.Status == types.StatusBlocked {
		options = append(options, huh.NewOption("Retry - re-run the failed step", "retry"))
	}

	var decision string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("%s#%d is %s", state.Repository, state.IssueNumber, state.Status)).
				Description(reviewSummary(state)).
				Options(options...).
				Value(&decision),
		),
	)
	if err := form.Run(); err != nil {
		return "", err
	}
	return decision, nil
}

func reviewSummary(state *types.IssueState) string {
	if state.ErrorMessage != "" {
		return state.ErrorMessage
	}
	if state.ConfidenceScore > 0 {
		return fmt.Sprintf("classifier confidence %.0f%%", state.ConfidenceScore*100)
	}
	return ""
}
