package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/issuepilot/issuepilot/internal/analyze"
	"github.com/issuepilot/issuepilot/internal/classify"
	"github.com/issuepilot/issuepilot/internal/config"
	"github.com/issuepilot/issuepilot/internal/eventbus"
	"github.com/issuepilot/issuepilot/internal/executor"
	"github.com/issuepilot/issuepilot/internal/github"
	"github.com/issuepilot/issuepilot/internal/lifecycle"
	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/storage/factory"
	"github.com/issuepilot/issuepilot/internal/telemetry"
	"github.com/issuepilot/issuepilot/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and lifecycle pipeline",
	Long: `Starts the HTTP server that receives GitHub webhook deliveries and
drives the issue lifecycle. Per-repository overrides in .issuepilot.toml
(in the executor working directory) are hot-reloaded while running.`,
	RunE: runServe,
}

// pipeline is the assembled lifecycle machinery shared by serve and the
// event-dispatching CLI commands.
type pipeline struct {
	store storage.Store
	bus   *eventbus.Bus
	orch  *lifecycle.Orchestrator
	pulls *analyze.PullManager
}

func (p *pipeline) Close() {
	if err := p.store.Close(); err != nil {
		log.Printf("store close: %v", err)
	}
}

// buildPipeline wires storage, classifier, executor, merge gate, and
// notifier into an orchestrator registered on a fresh event bus.
func buildPipeline(ctx context.Context, cfg *config.Config, repoPolicy *config.RepoPolicy) (*pipeline, error) {
	store, err := factory.Open(ctx, cfg.Storage.Conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	client := github.NewClient(cfg.GitHub.Token, cfg.GitHub.Owner, cfg.GitHub.Repo)

	var classifier lifecycle.Classifier
	if cfg.Anthropic.APIKey != "" || os.Getenv("ANTHROPIC_API_KEY") != "" {
		classifier, err = classify.NewClaude(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	} else {
		log.Printf("serve: no Anthropic API key, using rule-based classifier")
		classifier = classify.NewRules()
	}

	agent := executor.NewCommand(cfg.Executor.Binary, cfg.Executor.Args...)
	agent.WorkDir = cfg.Executor.WorkDir
	if cfg.Executor.Timeout > 0 {
		agent.Timeout = cfg.Executor.Timeout
	}

	pulls := analyze.NewPullManager(client)
	if cfg.GitHub.BaseBranch != "" {
		pulls.BaseBranch = cfg.GitHub.BaseBranch
	}

	policy := lifecycle.DefaultPolicy()
	if cfg.Policy.ApprovalThreshold > 0 {
		policy.ApprovalThreshold = cfg.Policy.ApprovalThreshold
	}
	if cfg.Policy.ClassifyTimeout > 0 {
		policy.ClassifyTimeout = cfg.Policy.ClassifyTimeout
	}
	if cfg.Policy.MergeTimeout > 0 {
		policy.MergeTimeout = cfg.Policy.MergeTimeout
	}
	if cfg.Executor.Timeout > 0 {
		policy.ExecuteTimeout = cfg.Executor.Timeout
	}
	applyRepoPolicy(repoPolicy, &policy, pulls)

	orch := lifecycle.New(store, classifier, agent, pulls,
		lifecycle.WithPolicy(policy),
		lifecycle.WithSink(github.NewNotifier(client)),
	)

	bus := eventbus.New()
	bus.Register(eventbus.NewMetricsHandler())
	bus.Register(orch)

	return &pipeline{store: store, bus: bus, orch: orch, pulls: pulls}, nil
}

// applyRepoPolicy overlays .issuepilot.toml overrides onto the lifecycle
// policy and the merge gate.
func applyRepoPolicy(rp *config.RepoPolicy, policy *lifecycle.Policy, pulls *analyze.PullManager) {
	if rp == nil {
		return
	}
	if rp.ApprovalThreshold > 0 {
		policy.ApprovalThreshold = rp.ApprovalThreshold
	}
	if rp.BaseBranch != "" {
		pulls.BaseBranch = rp.BaseBranch
	}
	pulls.SetAutoMergeDisabled(rp.AutoMergeDisabled)
	pulls.SwapAnalyzer(analyzerFromPolicy(rp))
}

// analyzerFromPolicy builds a merge-gate analyzer with policy overrides
// layered over the defaults.
func analyzerFromPolicy(rp *config.RepoPolicy) *analyze.Analyzer {
	a := analyze.NewAnalyzer()
	if rp == nil {
		return a
	}
	if len(rp.ProtectedFiles) > 0 {
		a.ProtectedFiles = append(a.ProtectedFiles, rp.ProtectedFiles...)
	}
	if len(rp.ProtectedDirs) > 0 {
		a.ProtectedDirs = append(a.ProtectedDirs, rp.ProtectedDirs...)
	}
	if len(rp.TrustedAuthors) > 0 {
		a.TrustedAuthors = append(a.TrustedAuthors, rp.TrustedAuthors...)
	}
	return a
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "issuepilot", Version); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	// Per-repository policy lives in the executor working directory, next
	// to the code the agent operates on.
	policyDir := cfg.Executor.WorkDir
	if policyDir == "" {
		policyDir = "."
	}
	watcher, err := config.NewPolicyWatcher(policyDir)
	if err != nil {
		return err
	}

	p, err := buildPipeline(ctx, cfg, watcher.Current())
	if err != nil {
		return err
	}
	defer p.Close()

	watcher.OnReload = func(rp *config.RepoPolicy) {
		p.pulls.SwapAnalyzer(analyzerFromPolicy(rp))
		p.pulls.SetAutoMergeDisabled(rp.AutoMergeDisabled)
	}

	srv := webhook.NewServer(webhook.ServerConfig{
		Bus:    p.bus,
		Reader: p.orch,
		Secret: []byte(cfg.Server.WebhookSecret),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("serve: listening on %s", cfg.Server.Addr)
		return srv.Start(ctx, cfg.Server.Addr)
	})
	g.Go(func() error {
		return watcher.Watch(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Printf("serve: shut down")
	return nil
}
