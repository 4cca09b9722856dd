package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/issuepilot/issuepilot/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a starter pilot.yaml config file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "pilot.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteTemplate(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}
