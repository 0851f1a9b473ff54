// Package cmd wires the foreman CLI: run a request, inspect routing, and
// browse execution history.
package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand creates the root foreman command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "foreman",
		Short: "Orchestration engine for model-driven code editing",
		Long: `Foreman takes a natural-language coding request, classifies it, routes it
to the right models, and executes it against the workspace as atomic,
policy-checked file transactions with bounded retries and escalation.`,
		Version:      Version,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
