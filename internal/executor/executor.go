// Package executor runs a remediation agent against an issue and reports
// whether it produced a working branch. The agent is an external command
// (a coding agent CLI); the executor owns the timeout, the branch naming
// convention, and the environment handoff.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/issuepilot/issuepilot/internal/types"
)

// DefaultTimeout bounds a single agent run. Long enough for a real fix,
// short enough that a wedged agent does not pin an issue in IN_PROGRESS.
const DefaultTimeout = 30 * time.Minute

// Executor attempts to resolve an issue and returns the outcome. A nil
// error with Success=false means the attempt ran and failed; a non-nil
// error means the attempt could not run at all.
type Executor interface {
	Execute(ctx context.Context, key types.IssueKey, cls *types.Classification, payload types.IssuePayload) (*types.ExecutionResult, error)
}

// Command runs an external agent binary per issue.
type Command struct {
	// Binary is the agent command, e.g. "claude". Required.
	Binary string

	// Args are fixed arguments prepended before the issue prompt.
	Args []string

	// WorkDir is the checkout the agent operates in. Empty means the
	// current directory.
	WorkDir string

	// Timeout bounds the run. Zero means DefaultTimeout.
	Timeout time.Duration
}

// NewCommand creates an executor around the given agent binary.
func NewCommand(binary string, args ...string) *Command {
	return &Command{Binary: binary, Args: args, Timeout: DefaultTimeout}
}

// BranchName returns the work branch for an issue. One branch per issue;
// re-runs reuse it.
func BranchName(key types.IssueKey) string {
	return fmt.Sprintf("pilot/issue-%d", key.IssueNumber)
}

// Execute runs the agent with the issue context in its environment and a
// prompt on the command line. The agent is expected to commit its work to
// the branch named by BranchName.
func (c *Command) Execute(ctx context.Context, key types.IssueKey, cls *types.Classification, payload types.IssuePayload) (*types.ExecutionResult, error) {
	if c.Binary == "" {
		return nil, fmt.Errorf("executor: no agent binary configured")
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	branch := BranchName(key)
	prompt := buildPrompt(key, payload, branch)

	args := append(append([]string{}, c.Args...), prompt)
	cmd := exec.CommandContext(runCtx, c.Binary, args...)
	cmd.Dir = c.WorkDir
	cmd.Env = append(os.Environ(),
		"PILOT_REPOSITORY="+key.Repository,
		fmt.Sprintf("PILOT_ISSUE_NUMBER=%d", key.IssueNumber),
		"PILOT_BRANCH="+branch,
		"PILOT_AGENT="+cls.Agent,
		"PILOT_MODEL="+cls.Model,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started).Round(time.Second)

	if err != nil {
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			reason = fmt.Sprintf("agent timed out after %s", timeout)
		}
		log.Printf("executor: %s failed after %s: %s", key, elapsed, reason)
		return &types.ExecutionResult{Success: false, Error: reason}, nil
	}

	log.Printf("executor: %s completed in %s on branch %s", key, elapsed, branch)
	return &types.ExecutionResult{Success: true, BranchName: branch}, nil
}

func buildPrompt(key types.IssueKey, payload types.IssuePayload, branch string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Resolve GitHub issue %s.\n\n", key)
	fmt.Fprintf(&b, "Title: %s\n\n", payload.Title)
	if payload.Body != "" {
		fmt.Fprintf(&b, "%s\n\n", payload.Body)
	}
	fmt.Fprintf(&b, "Commit your changes to branch %s. Do not push.", branch)
	return b.String()
}
