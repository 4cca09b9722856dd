package ui

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsAgentMode reports whether output is being consumed by an automation
// agent rather than a human. Agents set PILOT_AGENT_MODE; piped output is
// treated the same way.
func IsAgentMode() bool {
	if os.Getenv("PILOT_AGENT_MODE") != "" {
		return true
	}
	return !term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor reports whether styled output should be emitted.
// Honors NO_COLOR and CLICOLOR=0 (via termenv), lets CLICOLOR_FORCE
// override TTY detection, and otherwise requires stdout to be a terminal.
func ShouldUseColor() bool {
	if termenv.EnvNoColor() {
		return false
	}
	if force := os.Getenv("CLICOLOR_FORCE"); force != "" && force != "0" {
		return true
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
