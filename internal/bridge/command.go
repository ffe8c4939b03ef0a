package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/harrison/autopilot/internal/ops"
)

// request is the JSON payload written to the bridge process.
type request struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params"`
}

// CommandExecutor runs one bridge process per operation. The process reads a
// {"operation", "params"} object on stdin and writes a flat result object on stdout.
type CommandExecutor struct {
	Command string
	Args    []string
	Env     []string // Extra environment entries appended to the parent's
}

// NewCommandExecutor creates a command executor.
func NewCommandExecutor(command string, args ...string) *CommandExecutor {
	return &CommandExecutor{Command: command, Args: args}
}

// Execute implements ops.Executor. A process that cannot start, exits
// non-zero or prints an unparseable result is a transport error.
func (c *CommandExecutor) Execute(ctx context.Context, operation string, params map[string]any) (ops.Result, error) {
	if c.Command == "" {
		return ops.Result{}, fmt.Errorf("bridge command is not configured")
	}
	if params == nil {
		params = map[string]any{}
	}

	payload, err := json.Marshal(request{Operation: operation, Params: params})
	if err != nil {
		return ops.Result{}, fmt.Errorf("encode %s request: %w", operation, err)
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ops.Result{}, fmt.Errorf("bridge %s: %w", operation, ctx.Err())
		}
		return ops.Result{}, fmt.Errorf("bridge %s failed: %w (stderr: %s)", operation, err, strings.TrimSpace(stderr.String()))
	}

	var result ops.Result
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &result); err != nil {
		return ops.Result{}, fmt.Errorf("bridge %s: %w", operation, err)
	}
	return result, nil
}
