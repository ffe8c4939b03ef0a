// Package logger provides logging implementations for autopilot tasks.
//
// The logger package records task lifecycle events (start, every step,
// the quality assessment and the final result) with level filtering.
// Implementations are thread-safe and support various output destinations
// (console, file, etc.).
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/harrison/autopilot/internal/models"
)

// levels lists the log levels from most to least verbose.
var levels = []string{"trace", "debug", "info", "warn", "error"}

// levelColors colors the level tag on terminals.
var levelColors = map[string]color.Attribute{
	"TRACE": color.FgHiBlack,
	"DEBUG": color.FgCyan,
	"INFO":  color.FgBlue,
	"WARN":  color.FgYellow,
	"ERROR": color.FgRed,
}

// ConsoleLogger writes task progress to a writer, one "[HH:MM:SS]" prefixed
// line per event. Messages below the configured level are dropped. Colors are
// used only when writing to a terminal on stdout or stderr.
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger. A nil writer discards everything.
// Unknown or empty levels fall back to "info"; matching is case-insensitive.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is a color-capable terminal.
// NO_COLOR disables colors through fatih/color.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	if f != os.Stdout && f != os.Stderr {
		return false
	}
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return false
	}
	return !color.NoColor
}

func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if logLevelToInt(normalized) < 0 {
		return "info"
	}
	return normalized
}

func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return levelEnabled(cl.logLevel, messageLevel)
}

// levelEnabled reports whether a message at messageLevel passes a logger set to configured.
func levelEnabled(configured, messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(configured)
}

// logLevelToInt returns the position of level in levels, or -1.
func logLevelToInt(level string) int {
	for i, l := range levels {
		if l == level {
			return i
		}
	}
	return -1
}

// LogTrace logs a trace-level message.
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

// Debugf formats and logs a debug-level message.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof formats and logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf formats and logs a warning-level message.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	line := fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	if cl.colorOutput {
		line = cl.formatWithColor(ts, level, message)
	}
	io.WriteString(cl.writer, line)
}

func (cl *ConsoleLogger) formatWithColor(ts, level, message string) string {
	if attr, ok := levelColors[level]; ok {
		level = color.New(attr).Sprint(level)
	}
	return fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
}

// write emits a pre-formatted line at the given level.
func (cl *ConsoleLogger) write(level, line string) {
	if cl.writer == nil || !cl.shouldLog(level) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	cl.writer.Write([]byte(fmt.Sprintf("[%s] %s\n", timestamp(), line)))
}

// LogTaskStart logs a newly admitted task at INFO level.
// Format: "[HH:MM:SS] Task <id> started: <goal>"
func (cl *ConsoleLogger) LogTaskStart(task models.TaskStatus) {
	id := task.ID
	if cl.colorOutput {
		id = color.New(color.Bold).Sprint(id)
	}
	cl.write("info", fmt.Sprintf("Task %s started: %s", id, task.Goal))
}

// LogStepResult logs one executed step at DEBUG level, or WARN when it failed.
// Format: "[HH:MM:SS] Step <n> (<operation>): OK|FAILED [healed: <strategy>] (<duration>)"
func (cl *ConsoleLogger) LogStepResult(taskID string, result models.StepExecutionResult) {
	level := "debug"
	status := "OK"
	if !result.Success {
		level = "warn"
		status = "FAILED"
	}

	if cl.colorOutput {
		if result.Success {
			status = color.New(color.FgGreen).Sprint(status)
		} else {
			status = color.New(color.FgRed).Sprint(status)
		}
	}

	line := fmt.Sprintf("Task %s step %d (%s): %s", taskID, result.StepNumber, result.Operation, status)
	if result.HealedWith != "" {
		line += fmt.Sprintf(" [healed: %s]", result.HealedWith)
	}
	if !result.Success && result.Error != "" {
		line += ": " + result.Error
	}
	line += fmt.Sprintf(" (%s)", formatDuration(result.Duration))

	cl.write(level, line)
}

// LogAssessment logs the quality assessment at INFO level.
func (cl *ConsoleLogger) LogAssessment(taskID string, qa *models.QualityAssessment) {
	if qa == nil {
		return
	}

	metrics := formatStepMetrics(qa, cl.colorOutput)
	cl.write("info", fmt.Sprintf("Task %s assessed: %s [%s]", taskID, qa.Summary, metrics))
	cl.write("debug", NewProgressBar(qa.StepsSucceeded, qa.StepsExecuted, 10, cl.colorOutput).WithPrefix("  steps ").Render())
	for _, rec := range qa.Recommendations {
		cl.write("debug", "  -> "+rec)
	}
}

// LogTaskEnd logs the result a caller receives at INFO level.
// Format: "[HH:MM:SS] Task <id> <status>: <message> (<duration>, <n> retries)"
func (cl *ConsoleLogger) LogTaskEnd(result models.GoalResult) {
	status := strings.ToUpper(result.Status)
	if cl.colorOutput {
		status = statusColor(result.Status).Sprint(status)
	}
	cl.write("info", fmt.Sprintf("Task %s %s: %s (%s, %d %s)",
		result.TaskID, status, result.Message, formatDuration(result.Duration), result.RetryCount, plural(result.RetryCount, "retry", "retries")))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "250ms", "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d >= time.Second:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

// NoOpLogger is an engine logger that discards all messages.
// Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// LogTaskStart is a no-op implementation.
func (n *NoOpLogger) LogTaskStart(task models.TaskStatus) {}

// LogStepResult is a no-op implementation.
func (n *NoOpLogger) LogStepResult(taskID string, result models.StepExecutionResult) {}

// LogAssessment is a no-op implementation.
func (n *NoOpLogger) LogAssessment(taskID string, qa *models.QualityAssessment) {}

// LogTaskEnd is a no-op implementation.
func (n *NoOpLogger) LogTaskEnd(result models.GoalResult) {}

// Warnf is a no-op implementation.
func (n *NoOpLogger) Warnf(format string, args ...interface{}) {}

// Infof is a no-op implementation.
func (n *NoOpLogger) Infof(format string, args ...interface{}) {}

// Debugf is a no-op implementation.
func (n *NoOpLogger) Debugf(format string, args ...interface{}) {}
