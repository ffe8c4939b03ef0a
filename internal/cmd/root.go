package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for autopilot
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Autonomous goal execution for design-authoring models",
		Long: `Autopilot turns a natural-language goal into a plan of model operations,
checks the plan against safety guardrails, executes it step by step,
heals recoverable failures and replans until the goal is met.

Operations run against a bridge command or the built-in sandbox model.
Configuration is loaded from .autopilot/config.yaml if present.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .autopilot/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().String("log-dir", "", "Directory for log files")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewPlanCommand())
	cmd.AddCommand(NewTemplatesCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
