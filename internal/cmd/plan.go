package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/autopilot/internal/models"
)

// NewPlanCommand creates the plan command
func NewPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <goal>",
		Short: "Preview the plan for a goal without executing it",
		Long: `Plan a goal and check it against the guardrails without dispatching
any operation. The exit status is non-zero when no template matches the goal
or the guardrails block the plan.

Examples:
  autopilot plan "tag all rooms"
  autopilot plan "delete all elements" --context category=Doors`,
		Args: cobra.ExactArgs(1),
		RunE: planCommand,
	}

	cmd.Flags().StringArray("context", nil, "Goal context as key=value (repeatable)")

	return cmd
}

func planCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, overrides{})
	if err != nil {
		return err
	}
	contextPairs, _ := cmd.Flags().GetStringArray("context")
	goalCtx, err := parseContext(contextPairs)
	if err != nil {
		return err
	}

	sess, err := newSession(cmd, cfg, executorOptions{sandbox: true}, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	plan, verdict := sess.engine.PreviewPlan(args[0], goalCtx)
	out := cmd.OutOrStdout()

	if plan.IsEmpty() {
		fmt.Fprintf(out, "No template matches goal %q.\n", args[0])
		fmt.Fprintf(out, "Run 'autopilot templates' to list the known goals.\n")
		return fmt.Errorf("could not create plan for goal %q", args[0])
	}

	fmt.Fprintf(out, "Plan %s (%s): %d steps\n", plan.ID, planLabel(plan), len(plan.Steps))
	printSteps(out, plan.Steps)

	switch {
	case verdict.RequiresApproval:
		fmt.Fprintf(out, "\nGuardrails: approval required at step %d: %s\n", verdict.FailedStep, verdict.Reason)
	case !verdict.Valid:
		fmt.Fprintf(out, "\nGuardrails: BLOCKED at step %d: %s\n", verdict.FailedStep, verdict.Reason)
		return fmt.Errorf("plan blocked: %s", verdict.Reason)
	default:
		fmt.Fprintf(out, "\nGuardrails: OK\n")
	}
	return nil
}

// printSteps prints numbered steps with their parameters.
func printSteps(w io.Writer, steps []models.ExecutionStep) {
	for _, step := range steps {
		optional := ""
		if !step.Required {
			optional = " (optional)"
		}
		fmt.Fprintf(w, "  %d. %s - %s%s\n", step.Number, step.Operation, step.Description, optional)
		if len(step.Params) > 0 {
			fmt.Fprintf(w, "     params: %s\n", formatParams(step.Params))
		}
	}
}

// formatParams renders params as sorted key=value pairs.
func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}

// NewTemplatesCommand creates the templates command
func NewTemplatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List goal templates in match priority order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, overrides{})
			if err != nil {
				return err
			}
			p, err := newPlanner(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i, t := range p.Templates() {
				fmt.Fprintf(out, "%d. %s\n", i+1, t.Name)
				if t.Description != "" {
					fmt.Fprintf(out, "   %s\n", t.Description)
				}
				if len(t.Triggers) > 0 {
					fmt.Fprintf(out, "   triggers: %s\n", strings.Join(t.Triggers, ", "))
				}
			}
			return nil
		},
	}
}
