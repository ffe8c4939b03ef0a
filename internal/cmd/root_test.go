package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harrison/autopilot/internal/config"
)

// executeCommand runs the root command with args and stdin, returning stdout and error.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := NewRootCommand()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

// inTempProject moves the test into an empty project directory.
func inTempProject(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv(config.HomeEnv, "")
	return dir
}

// writeConfig writes .autopilot/config.yaml in the current directory.
func writeConfig(t *testing.T, content string) {
	t.Helper()

	if err := os.MkdirAll(".autopilot", 0755); err != nil {
		t.Fatalf("failed to create .autopilot: %v", err)
	}
	if err := os.WriteFile(filepath.Join(".autopilot", "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestRootCommand(t *testing.T) {
	out, err := executeCommand(t, "", "--help")
	if err != nil {
		t.Fatalf("--help returned error: %v", err)
	}
	if !strings.Contains(out, "autopilot") {
		t.Errorf("help text should mention autopilot, got: %s", out)
	}
	if !strings.Contains(out, "guardrails") {
		t.Errorf("help text should describe guardrails, got: %s", out)
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()
	if root.Use != "autopilot" {
		t.Errorf("expected Use to be 'autopilot', got %q", root.Use)
	}

	want := map[string]bool{"run": false, "plan": false, "templates": false, "history": false}
	for _, sub := range root.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}

	for _, flag := range []string{"config", "log-level", "log-dir"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag --%s", flag)
		}
	}
}

func TestVersionFlag(t *testing.T) {
	out, err := executeCommand(t, "", "--version")
	if err != nil {
		t.Fatalf("--version returned error: %v", err)
	}
	if !strings.Contains(out, Version) {
		t.Errorf("version output should contain %q, got %q", Version, out)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"exit error", &ExitError{Code: 2, Err: errors.New("pending")}, 2},
		{"wrapped exit error", fmt.Errorf("run: %w", &ExitError{Code: 2, Err: errors.New("pending")}), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseContext(t *testing.T) {
	ctx, err := parseContext([]string{"category=Doors", "limit=5", "ids=[1, 2]", "prefix=", "name=Level 1"})
	if err != nil {
		t.Fatalf("parseContext() error = %v", err)
	}

	if ctx["category"] != "Doors" {
		t.Errorf("category = %#v", ctx["category"])
	}
	if ctx["limit"] != 5 {
		t.Errorf("limit = %#v, want int 5", ctx["limit"])
	}
	ids, ok := ctx["ids"].([]any)
	if !ok || len(ids) != 2 || ids[0] != 1 {
		t.Errorf("ids = %#v", ctx["ids"])
	}
	if ctx["prefix"] != "" {
		t.Errorf("prefix = %#v, want empty string", ctx["prefix"])
	}
	if ctx["name"] != "Level 1" {
		t.Errorf("name = %#v", ctx["name"])
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseContext([]string{bad}); err == nil {
			t.Errorf("parseContext(%q) should fail", bad)
		}
	}
}
