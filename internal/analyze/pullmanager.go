package analyze

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/issuepilot/issuepilot/internal/github"
	"github.com/issuepilot/issuepilot/internal/types"
)

// PullManager creates and merges pull requests, gating every merge on an
// auto-merge assessment. It satisfies the orchestrator's PRManager
// contract.
type PullManager struct {
	client *github.Client

	mu       sync.RWMutex
	analyzer *Analyzer
	disabled bool

	// BaseBranch is the merge target. Empty means "main".
	BaseBranch string
}

// NewPullManager creates a pull manager over the given client with the
// default analyzer.
func NewPullManager(client *github.Client) *PullManager {
	return &PullManager{client: client, analyzer: NewAnalyzer(), BaseBranch: "main"}
}

// SwapAnalyzer replaces the merge gate's analyzer. Used when per-repository
// policy overrides are loaded or hot-reloaded.
func (m *PullManager) SwapAnalyzer(a *Analyzer) {
	if a == nil {
		return
	}
	m.mu.Lock()
	m.analyzer = a
	m.mu.Unlock()
}

// SetAutoMergeDisabled turns the merge gate off entirely. While disabled,
// MergePullRequest declines every PR without assessing it.
func (m *PullManager) SetAutoMergeDisabled(disabled bool) {
	m.mu.Lock()
	m.disabled = disabled
	m.mu.Unlock()
}

func (m *PullManager) currentAnalyzer() *Analyzer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.analyzer
}

func (m *PullManager) mergeDisabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disabled
}

// CreatePullRequest opens a PR from branch into the base branch.
func (m *PullManager) CreatePullRequest(ctx context.Context, key types.IssueKey, branch, title, body string) (int, error) {
	pr, err := m.client.CreatePull(ctx, title, body, branch, m.BaseBranch)
	if err != nil {
		return 0, err
	}
	log.Printf("analyze: opened PR #%d for %s from %s", pr.Number, key, branch)
	return pr.Number, nil
}

// MergePullRequest assesses the PR and merges it only when the assessment
// approves auto-merge. merged=false with a nil error carries the
// assessment's reason; the orchestrator routes it to BLOCKED for human
// attention.
func (m *PullManager) MergePullRequest(ctx context.Context, key types.IssueKey, prNumber int) (bool, string, error) {
	if m.mergeDisabled() {
		return false, "auto-merge disabled by repository policy", nil
	}

	pr, err := m.client.FetchPull(ctx, prNumber)
	if err != nil {
		return false, "", err
	}
	if pr.Merged {
		return true, "", nil // Someone beat us to it
	}

	files, err := m.client.ListPullFiles(ctx, prNumber)
	if err != nil {
		return false, "", err
	}

	assessment := m.currentAnalyzer().Assess(pr, files)
	if !assessment.ShouldAutoMerge {
		return false, assessment.Summary(), nil
	}

	result, err := m.client.MergePull(ctx, prNumber, fmt.Sprintf("%s (#%d)", pr.Title, key.IssueNumber))
	if err != nil {
		return false, "", err
	}
	if !result.Merged {
		return false, result.Message, nil
	}

	log.Printf("analyze: merged PR #%d for %s (confidence %.0f%%, risk %.0f)",
		prNumber, key, assessment.Confidence, assessment.RiskScore)
	return true, "", nil
}
