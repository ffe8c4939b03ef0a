package cmd

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harrison/autopilot/internal/engine"
	"github.com/harrison/autopilot/internal/models"
)

func TestRunCommand_Completes(t *testing.T) {
	inTempProject(t)

	out, err := executeCommand(t, "", "run", "tag all rooms", "--sandbox")
	if err != nil {
		t.Fatalf("run returned error: %v\n%s", err, out)
	}

	for _, want := range []string{
		"COMPLETED",
		"Goal achieved: 2/2 steps succeeded",
		"Plan: tag all rooms (2 steps)",
		"1. find_untagged_rooms  OK",
		"2. tag_rooms  OK",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out)
		}
	}

	if _, err := os.Readlink(filepath.Join(".autopilot", "logs", "latest.log")); err != nil {
		t.Errorf("expected run log symlink: %v", err)
	}
	if _, err := os.Stat(filepath.Join(".autopilot", "history.db")); err != nil {
		t.Errorf("expected history database: %v", err)
	}
}

func TestRunCommand_AwaitingApprovalExitsTwo(t *testing.T) {
	inTempProject(t)

	out, err := executeCommand(t, "", "run", "delete all elements", "--sandbox", "--context", "category=Doors")
	if err == nil {
		t.Fatal("expected pending task to return an error")
	}
	if code := ExitCode(err); code != 2 {
		t.Errorf("ExitCode() = %d, want 2 (err: %v)", code, err)
	}
	if !strings.Contains(out, "AWAITING_APPROVAL") {
		t.Errorf("expected awaiting approval status, got:\n%s", out)
	}
}

func TestRunCommand_AutoApprove(t *testing.T) {
	inTempProject(t)

	out, err := executeCommand(t, "", "run", "delete all elements", "--sandbox", "--context", "category=Doors", "--auto-approve")
	if err != nil {
		t.Fatalf("run returned error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "COMPLETED") || !strings.Contains(out, "delete_elements  OK") {
		t.Errorf("expected approved deletion to complete, got:\n%s", out)
	}
}

func TestRunCommand_PromptsOnTerminal(t *testing.T) {
	inTempProject(t)

	original := stdinIsTerminal
	stdinIsTerminal = func(io.Reader) bool { return true }
	defer func() { stdinIsTerminal = original }()

	t.Run("approved", func(t *testing.T) {
		out, err := executeCommand(t, "y\n", "run", "delete all elements", "--sandbox", "--context", "category=Doors")
		if err != nil {
			t.Fatalf("run returned error: %v\n%s", err, out)
		}
		if !strings.Contains(out, "Approve? [y/N]") {
			t.Errorf("expected approval prompt, got:\n%s", out)
		}
		if !strings.Contains(out, "1. get_elements - ") {
			t.Errorf("expected prompt to list the plan, got:\n%s", out)
		}
		if !strings.Contains(out, "COMPLETED") {
			t.Errorf("expected completion after approval, got:\n%s", out)
		}
	})

	t.Run("declined", func(t *testing.T) {
		out, err := executeCommand(t, "n\n", "run", "delete all elements", "--sandbox", "--context", "category=Doors")
		if ExitCode(err) != 2 {
			t.Fatalf("expected exit code 2, got %d (err: %v)", ExitCode(err), err)
		}
		if !strings.Contains(out, "AWAITING_APPROVAL") {
			t.Errorf("expected task to stay pending, got:\n%s", out)
		}
	})
}

func TestRunCommand_JSONAndReport(t *testing.T) {
	dir := inTempProject(t)
	report := filepath.Join(dir, "reports", "audit.json")

	out, err := executeCommand(t, "", "run", "audit model", "--sandbox", "--json", "--report", report)
	if err != nil {
		t.Fatalf("run returned error: %v\n%s", err, out)
	}

	var result models.GoalResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("stdout is not a JSON result: %v\n%s", err, out)
	}
	if !result.Success || result.Status != "completed" {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.Execution == nil || len(result.Execution.Steps) != 3 {
		t.Errorf("expected 3 executed steps, got %+v", result.Execution)
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var reported models.GoalResult
	if err := json.Unmarshal(data, &reported); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if reported.TaskID != result.TaskID {
		t.Errorf("report task %q, stdout task %q", reported.TaskID, result.TaskID)
	}
	if _, err := os.Stat(report + ".lock"); !os.IsNotExist(err) {
		t.Errorf("report lock file should be removed, stat err = %v", err)
	}
}

func TestRunCommand_ModelFixture(t *testing.T) {
	dir := inTempProject(t)
	fixture := filepath.Join(dir, "office.yaml")
	content := `project:
  name: Office
levels:
  - id: 1
    name: Ground
rooms:
  - id: 11
    name: Reception
    level_id: 1
types:
  - id: 90
    name: Room Tag
    category: Room Tags
`
	if err := os.WriteFile(fixture, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	out, err := executeCommand(t, "", "run", "tag all rooms", "--model", fixture, "--json")
	if err != nil {
		t.Fatalf("run returned error: %v\n%s", err, out)
	}

	var result models.GoalResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("stdout is not a JSON result: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	ids, ok := result.Execution.Steps[0].Output["room_ids"].([]any)
	if !ok || len(ids) != 1 || ids[0] != float64(11) {
		t.Errorf("room_ids = %#v, want [11]", result.Execution.Steps[0].Output["room_ids"])
	}
}

func TestRunCommand_BridgeCommand(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	inTempProject(t)
	writeConfig(t, `bridge:
  command: sh
  args: ["-c", "cat >/dev/null; echo '{\"success\": true}'"]
history:
  enabled: false
`)

	out, err := executeCommand(t, "", "run", "audit model")
	if err != nil {
		t.Fatalf("run returned error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Goal achieved: 3/3 steps succeeded") {
		t.Errorf("expected bridge run to complete, got:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(".autopilot", "history.db")); !os.IsNotExist(err) {
		t.Errorf("history disabled but database exists (err = %v)", err)
	}
}

func TestRunCommand_UnknownGoal(t *testing.T) {
	inTempProject(t)

	out, err := executeCommand(t, "", "run", "paint the walls", "--sandbox")
	if err == nil {
		t.Fatal("expected unknown goal to fail")
	}
	if ExitCode(err) != 1 {
		t.Errorf("ExitCode() = %d, want 1", ExitCode(err))
	}
	if !strings.Contains(out, "FAILED") {
		t.Errorf("expected failed status, got:\n%s", out)
	}
}

func TestRunCommand_ErrorCases(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing goal", []string{"run"}, "accepts 1 arg"},
		{"bad context", []string{"run", "audit model", "--context", "nope"}, "expected key=value"},
		{"bad timeout", []string{"run", "audit model", "--timeout", "soon"}, "invalid timeout format"},
		{"bad strategy", []string{"run", "audit model", "--replan-strategy", "sideways"}, "invalid configuration"},
		{"bad log level", []string{"run", "audit model", "--log-level", "loud"}, "invalid configuration"},
		{"missing config", []string{"run", "audit model", "--config", "nope.yaml"}, ""},
		{"missing model", []string{"run", "audit model", "--model", "missing.yaml"}, "failed to read sandbox model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inTempProject(t)

			_, err := executeCommand(t, "", tt.args...)
			if tt.wantErr == "" {
				// A missing explicit config file falls back to defaults
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRunCommand_Flags(t *testing.T) {
	cmd := NewRunCommand()
	for _, flag := range []string{"context", "sandbox", "model", "auto-approve", "json", "report", "max-retries", "replan-strategy", "timeout"} {
		if cmd.Flags().Lookup(flag) == nil {
			t.Errorf("missing flag --%s", flag)
		}
	}
	if cmd.Use != "run <goal>" {
		t.Errorf("Use = %q", cmd.Use)
	}
}

func TestMultiLogger(t *testing.T) {
	var a, b countingLogger
	ml := &multiLogger{loggers: []engine.Logger{&a, &b}}

	ml.LogTaskStart(models.TaskStatus{})
	ml.LogStepResult("t", models.StepExecutionResult{})
	ml.LogAssessment("t", nil)
	ml.LogTaskEnd(models.GoalResult{})
	ml.Warnf("w")
	ml.Infof("i")
	ml.Debugf("d")

	if a.calls != 7 || b.calls != 7 {
		t.Errorf("expected 7 calls per logger, got %d and %d", a.calls, b.calls)
	}
}

type countingLogger struct{ calls int }

func (c *countingLogger) LogTaskStart(models.TaskStatus)                  { c.calls++ }
func (c *countingLogger) LogStepResult(string, models.StepExecutionResult) { c.calls++ }
func (c *countingLogger) LogAssessment(string, *models.QualityAssessment)  { c.calls++ }
func (c *countingLogger) LogTaskEnd(models.GoalResult)                    { c.calls++ }
func (c *countingLogger) Warnf(string, ...interface{})                    { c.calls++ }
func (c *countingLogger) Infof(string, ...interface{})                    { c.calls++ }
func (c *countingLogger) Debugf(string, ...interface{})                   { c.calls++ }
