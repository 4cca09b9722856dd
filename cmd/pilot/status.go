package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/storage/factory"
	"github.com/issuepilot/issuepilot/internal/types"
	"github.com/issuepilot/issuepilot/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status <owner/repo> <issue>",
	Short: "Show an issue's lifecycle state and transition history",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseIssueArgs(args[0], args[1])
		if err != nil {
			return err
		}

		store, err := factory.Open(cmd.Context(), cfg.Storage.Conn)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		state, err := store.Load(cmd.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no lifecycle record for %s", key)
		}
		if err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(state)
			return nil
		}
		fmt.Print(ui.RenderState(state))
		return nil
	},
}

// parseIssueArgs validates "owner/repo" and the issue number.
func parseIssueArgs(repo, number string) (types.IssueKey, error) {
	if strings.Count(repo, "/") != 1 {
		return types.IssueKey{}, fmt.Errorf("repository must be owner/repo, got %q", repo)
	}
	n, err := strconv.Atoi(number)
	if err != nil || n <= 0 {
		return types.IssueKey{}, fmt.Errorf("issue number must be a positive integer, got %q", number)
	}
	key := types.IssueKey{Repository: repo, IssueNumber: n}
	return key, key.Validate()
}
