package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/issuepilot/issuepilot/internal/storage/factory"
	"github.com/issuepilot/issuepilot/internal/timeparsing"
	"github.com/issuepilot/issuepilot/internal/types"
	"github.com/issuepilot/issuepilot/internal/ui"
)

var (
	listSince  string
	listStatus string
)

var listCmd = &cobra.Command{
	Use:   "list <owner/repo>",
	Short: "List tracked issues for a repository",
	Long: `Lists lifecycle records for a repository, newest activity first.

--since accepts compact durations (-1d, -2w), absolute dates (2025-03-01),
and natural language ("yesterday", "last monday").`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := args[0]
		if strings.Count(repo, "/") != 1 {
			return fmt.Errorf("repository must be owner/repo, got %q", repo)
		}

		var cutoff time.Time
		if listSince != "" {
			t, err := timeparsing.Parse(listSince, time.Now())
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			cutoff = t
		}

		var statusFilter types.Status
		if listStatus != "" {
			statusFilter = types.Status(listStatus)
			if !statusFilter.IsValid() {
				return fmt.Errorf("unknown status %q", listStatus)
			}
		}

		store, err := factory.Open(cmd.Context(), cfg.Storage.Conn)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		states, err := store.List(cmd.Context(), repo)
		if err != nil {
			return err
		}

		filtered := states[:0]
		for _, s := range states {
			if !cutoff.IsZero() && s.UpdatedAt.Before(cutoff) {
				continue
			}
			if statusFilter != "" && s.Status != statusFilter {
				continue
			}
			filtered = append(filtered, s)
		}

		if jsonOutput {
			outputJSON(filtered)
			return nil
		}
		if len(filtered) == 0 {
			fmt.Println(ui.RenderMuted("no matching issues"))
			return nil
		}
		for _, s := range filtered {
			fmt.Println(ui.RenderStateLine(s))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listSince, "since", "", "Only issues updated since (e.g. -1d, 2025-03-01, yesterday)")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by lifecycle status")
}
