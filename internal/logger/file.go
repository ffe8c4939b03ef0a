package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/autopilot/internal/models"
)

// FileLogger appends task events to a per-run log under its log directory
// (.autopilot/logs by default) and writes each final result to
// tasks/task-<id>.json. latest.log always links to the newest run log.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	tasksDir string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a new FileLogger that writes to .autopilot/logs/.
func NewFileLogger() (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(filepath.Join(".autopilot", "logs"), "info")
}

// NewFileLoggerWithDir creates a new FileLogger with a custom log directory.
// Uses default log level "info".
func NewFileLoggerWithDir(logDir string) (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(logDir, "info")
}

// NewFileLoggerWithDirAndLevel opens run-YYYYMMDD-HHMMSS.log under logDir,
// creating the directory tree, and points latest.log at it.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	tasksDir := filepath.Join(logDir, "tasks")
	if err := os.MkdirAll(tasksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tasks directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", timestamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		tasksDir: tasksDir,
		logLevel: normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== Autopilot Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return levelEnabled(fl.logLevel, messageLevel)
}

// LogTrace logs a trace-level message (most verbose).
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

// Debugf formats and logs a debug-level message.
func (fl *FileLogger) Debugf(format string, args ...interface{}) {
	fl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// Infof formats and logs an info-level message.
func (fl *FileLogger) Infof(format string, args ...interface{}) {
	fl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// Warnf formats and logs a warning-level message.
func (fl *FileLogger) Warnf(format string, args ...interface{}) {
	fl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message))
}

// LogTaskStart logs a newly admitted task at INFO level.
func (fl *FileLogger) LogTaskStart(task models.TaskStatus) {
	if !fl.shouldLog("info") {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] Task %s started: %s\n", time.Now().Format("15:04:05"), task.ID, task.Goal))
}

// LogStepResult logs every executed step at INFO level, regardless of outcome.
// Format: "[HH:MM:SS] Task <id> step <n> (<operation>): OK|FAILED in 0.2s [healed: x] error: y"
func (fl *FileLogger) LogStepResult(taskID string, result models.StepExecutionResult) {
	if !fl.shouldLog("info") {
		return
	}

	status := "OK"
	if !result.Success {
		status = "FAILED"
	}
	message := fmt.Sprintf("[%s] Task %s step %d (%s): %s in %.1fs",
		time.Now().Format("15:04:05"), taskID, result.StepNumber, result.Operation, status, result.Duration.Seconds())
	if result.HealedWith != "" {
		message += " [healed: " + result.HealedWith + "]"
	}
	if result.Error != "" {
		message += " error: " + result.Error
	}
	fl.writeRunLog(message + "\n")
}

// LogAssessment logs the quality assessment at INFO level.
func (fl *FileLogger) LogAssessment(taskID string, qa *models.QualityAssessment) {
	if qa == nil || !fl.shouldLog("info") {
		return
	}

	ts := time.Now().Format("15:04:05")
	message := fmt.Sprintf("[%s] Task %s assessment: %s (%s, goal met: %t, can retry: %t)\n",
		ts, taskID, qa.Summary, formatStepMetrics(qa, false), qa.GoalMet, qa.CanRetry)
	for _, rec := range qa.Recommendations {
		message += fmt.Sprintf("[%s]          → %s\n", ts, rec)
	}
	fl.writeRunLog(message)
}

// LogTaskEnd writes the task summary to the run log and the full result to
// tasks/task-<id>.json.
func (fl *FileLogger) LogTaskEnd(result models.GoalResult) {
	if fl.shouldLog("info") {
		ts := time.Now().Format("15:04:05")
		fl.writeRunLog(fmt.Sprintf(
			"\n[%s] === TASK %s ===\n"+
				"[%s] Status:       %s\n"+
				"[%s] Message:      %s\n"+
				"[%s] Retries:      %d\n"+
				"[%s] Total time:   %.1fs\n\n",
			ts, result.TaskID,
			ts, strings.ToUpper(result.Status),
			ts, result.Message,
			ts, result.RetryCount,
			ts, result.Duration.Seconds(),
		))
	}

	if err := fl.writeTaskResult(result); err != nil {
		fl.logWithLevel("WARN", err.Error())
	}
}

func (fl *FileLogger) writeTaskResult(result models.GoalResult) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task result: %w", err)
	}

	path := filepath.Join(fl.tasksDir, fmt.Sprintf("task-%s.json", result.TaskID))
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write task log: %w", err)
	}
	return nil
}

// Close syncs and closes the run log. Later writes are dropped.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}

	return nil
}

// writeRunLog appends message and syncs so the log can be tailed.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		fl.runLog.Sync()
	}
}
