package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harrison/autopilot/internal/engine"
	"github.com/harrison/autopilot/internal/filelock"
	"github.com/harrison/autopilot/internal/models"
)

// stdinIsTerminal reports whether r is an interactive terminal.
var stdinIsTerminal = func(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Plan and execute a goal",
		Long: `Plan and execute a natural-language goal.

The goal is matched against the goal templates, the resulting plan is checked
by the guardrails and then executed step by step. Recoverable failures are
healed; a shortfall in quality triggers up to max_retries replans.

Plans containing destructive operations wait for approval. On a terminal you
are prompted; --auto-approve approves without asking. Otherwise the task is
left pending and the command exits with status 2.

Examples:
  autopilot run "tag all rooms" --sandbox
  autopilot run "create floor plans" --context view_template="Architectural Plan"
  autopilot run "delete all elements" --context category=Doors --auto-approve
  autopilot run "audit model" --json --report audit.json
  autopilot run "renumber doors" --model fixtures/office.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().StringArray("context", nil, "Goal context as key=value (repeatable)")
	cmd.Flags().Bool("sandbox", false, "Run against the built-in sandbox model instead of the bridge")
	cmd.Flags().String("model", "", "Sandbox model fixture (YAML); implies --sandbox")
	cmd.Flags().Bool("auto-approve", false, "Approve destructive plans without prompting")
	cmd.Flags().Bool("json", false, "Print the result as JSON")
	cmd.Flags().String("report", "", "Write the JSON result to this file")
	cmd.Flags().Int("max-retries", 0, "Maximum replans per task (overrides config)")
	cmd.Flags().String("replan-strategy", "", "Replan strategy: resume or full (overrides config)")
	cmd.Flags().String("timeout", "", "Timeout for a single operation dispatch (e.g., 30s, 2m)")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	o, err := engineOverrides(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, o)
	if err != nil {
		return err
	}

	contextPairs, _ := cmd.Flags().GetStringArray("context")
	goalCtx, err := parseContext(contextPairs)
	if err != nil {
		return err
	}

	sandbox, _ := cmd.Flags().GetBool("sandbox")
	modelPath, _ := cmd.Flags().GetString("model")
	autoApprove, _ := cmd.Flags().GetBool("auto-approve")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	reportPath, _ := cmd.Flags().GetString("report")

	sess, err := newSession(cmd, cfg, executorOptions{sandbox: sandbox, modelPath: modelPath}, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	result := sess.engine.ExecuteGoal(ctx, args[0], goalCtx)

	if result.Status == engine.StatusAwaitingApproval {
		approve := autoApprove
		if !approve && stdinIsTerminal(cmd.InOrStdin()) {
			approve = promptApproval(cmd, result)
		}
		if approve {
			result = sess.engine.ApproveTask(ctx, result.TaskID)
		}
	}

	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
	} else {
		printResult(cmd.OutOrStdout(), result)
	}

	if reportPath != "" {
		if err := writeReport(reportPath, result); err != nil {
			return err
		}
	}

	switch {
	case result.Status == engine.StatusAwaitingApproval:
		return &ExitError{Code: 2, Err: fmt.Errorf("task %s is awaiting approval: %s", result.TaskID, result.PendingReason)}
	case !result.Success:
		return fmt.Errorf("task %s %s: %s", result.TaskID, result.Status, result.Message)
	}
	return nil
}

// engineOverrides reads the changed run flags.
func engineOverrides(cmd *cobra.Command) (overrides, error) {
	var o overrides
	if cmd.Flags().Changed("max-retries") {
		v, _ := cmd.Flags().GetInt("max-retries")
		o.maxRetries = &v
	}
	if cmd.Flags().Changed("replan-strategy") {
		v, _ := cmd.Flags().GetString("replan-strategy")
		o.replanStrategy = &v
	}
	if cmd.Flags().Changed("timeout") {
		timeoutStr, _ := cmd.Flags().GetString("timeout")
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return o, fmt.Errorf("invalid timeout format %q: %w", timeoutStr, err)
		}
		o.timeout = &timeout
	}
	return o, nil
}

// promptApproval shows the pending plan and reads a yes/no answer.
func promptApproval(cmd *cobra.Command, result models.GoalResult) bool {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task %s requires approval: %s\n", result.TaskID, result.PendingReason)
	if result.Plan != nil {
		printSteps(out, result.Plan.Steps)
	}
	fmt.Fprint(out, "Approve? [y/N] ")

	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// writeReport writes the JSON result under a lock so concurrent runs never
// leave a partial report.
func writeReport(path string, result models.GoalResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := filelock.LockAndWrite(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// printResult prints a human-readable result.
func printResult(w io.Writer, result models.GoalResult) {
	fmt.Fprintf(w, "\nTask %s: %s\n", result.TaskID, strings.ToUpper(result.Status))
	fmt.Fprintf(w, "  %s\n", result.Message)

	if result.Plan != nil {
		fmt.Fprintf(w, "  Plan: %s (%d steps)\n", planLabel(result.Plan), len(result.Plan.Steps))
	}
	fmt.Fprintf(w, "  Retries: %d\n", result.RetryCount)
	fmt.Fprintf(w, "  Duration: %s\n", result.Duration.Round(time.Millisecond))

	if result.Execution != nil && len(result.Execution.Steps) > 0 {
		fmt.Fprintf(w, "\nSteps:\n")
		for _, step := range result.Execution.Steps {
			status := "OK"
			if !step.Success {
				status = "FAILED: " + step.Error
			}
			if step.HealedWith != "" {
				status += " (healed: " + step.HealedWith + ")"
			}
			fmt.Fprintf(w, "  %d. %s  %s\n", step.StepNumber, step.Operation, status)
		}
	}

	if result.Assessment != nil && len(result.Assessment.Recommendations) > 0 {
		fmt.Fprintf(w, "\nRecommendations:\n")
		for _, rec := range result.Assessment.Recommendations {
			fmt.Fprintf(w, "  - %s\n", rec)
		}
	}
}

func planLabel(plan *models.ExecutionPlan) string {
	if plan.Source == "" {
		return plan.ID
	}
	return plan.Source
}
