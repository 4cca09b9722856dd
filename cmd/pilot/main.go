// Command pilot runs the GitHub issue lifecycle orchestrator: a webhook
// server that walks issues from triage through agent remediation to an
// auto-merged pull request, plus CLI commands for inspecting and steering
// individual issues.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/issuepilot/issuepilot/internal/config"
)

var (
	// Version is overridden by ldflags at build time.
	Version = "0.3.0"
	// Build can be set via ldflags at compile time.
	Build = "dev"
)

var (
	configPath  string
	dbConn      string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "pilot - GitHub issue lifecycle orchestrator",
	Long: `Drives GitHub issues through a fixed lifecycle: classify, approve,
remediate with a coding agent, open a pull request, and auto-merge when the
change assesses as safe. Issues that fail any gate park for human review.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("pilot version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		applyVerbosityFlags()

		// init writes the config file, so it must not require one.
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbConn != "" {
			cfg.Storage.Conn = dbConn
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: pilot.yaml in . or ~/.config/issuepilot)")
	rootCmd.PersistentFlags().StringVar(&dbConn, "db", "", "State store connection (memory, path.db, or mysql:// DSN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.Flags().BoolP("version", "V", false, "Print version information")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// applyVerbosityFlags configures the stdlib logger. Quiet wins over
// verbose.
func applyVerbosityFlags() {
	switch {
	case quietFlag:
		log.SetOutput(io.Discard)
	case verboseFlag:
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	default:
		log.SetFlags(log.LstdFlags)
	}
}

// outputJSON prints v as indented JSON on stdout.
func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
