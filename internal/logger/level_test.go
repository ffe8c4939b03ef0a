package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/harrison/autopilot/internal/models"
)

var allLevels = []string{"trace", "debug", "info", "warn", "error"}

// logAt writes message through the method for level.
func logAt(l interface {
	LogTrace(string)
	LogDebug(string)
	LogInfo(string)
	LogWarn(string)
	LogError(string)
}, level, message string) {
	switch level {
	case "trace":
		l.LogTrace(message)
	case "debug":
		l.LogDebug(message)
	case "info":
		l.LogInfo(message)
	case "warn":
		l.LogWarn(message)
	case "error":
		l.LogError(message)
	}
}

// TestLogLevelFiltering verifies every configured level against every message level
func TestLogLevelFiltering(t *testing.T) {
	for ci, configured := range allLevels {
		for mi, message := range allLevels {
			shouldAppear := mi >= ci
			t.Run(configured+"/"+message, func(t *testing.T) {
				buf := &bytes.Buffer{}
				logAt(NewConsoleLogger(buf, configured), message, message+" msg")

				contains := strings.Contains(buf.String(), message+" msg")
				if shouldAppear && !contains {
					t.Errorf("expected %s message at %s level, got %q", message, configured, buf.String())
				}
				if !shouldAppear && contains {
					t.Errorf("%s message should be filtered at %s level", message, configured)
				}
			})
		}
	}
}

// TestLogLevelEdgeCases verifies normalization of configured levels
func TestLogLevelEdgeCases(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "info"},
		{"DEBUG", "debug"},
		{"  warn ", "warn"},
		{"verbose", "info"},
		{"Error", "error"},
	}
	for _, tt := range tests {
		if got := NewConsoleLogger(&bytes.Buffer{}, tt.input).logLevel; got != tt.want {
			t.Errorf("NewConsoleLogger(%q) level = %q, want %q", tt.input, got, tt.want)
		}
	}
}

// TestTaskEventsRespectLogLevel verifies lifecycle events disappear at warn level
func TestTaskEventsRespectLogLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "warn")

	logger.LogTaskStart(models.TaskStatus{ID: "t1", Goal: "audit model"})
	logger.LogStepResult("t1", models.StepExecutionResult{StepNumber: 1, Operation: "get_project_info", Success: true})
	logger.LogAssessment("t1", &models.QualityAssessment{Summary: "Goal achieved: 1/1 steps succeeded"})
	logger.LogTaskEnd(models.GoalResult{TaskID: "t1", Status: "completed"})

	if buf.Len() != 0 {
		t.Errorf("expected no output at warn level, got %q", buf.String())
	}

	logger.LogStepResult("t1", models.StepExecutionResult{StepNumber: 2, Operation: "get_warnings", Error: "boom"})
	if !strings.Contains(buf.String(), "FAILED: boom") {
		t.Errorf("failed steps are warnings, got %q", buf.String())
	}
}

// TestFileLoggerWithLogLevel verifies FileLogger respects log level
func TestFileLoggerWithLogLevel(t *testing.T) {
	logger, err := NewFileLoggerWithDirAndLevel(t.TempDir(), "warn")
	if err != nil {
		t.Fatalf("NewFileLoggerWithDirAndLevel() error = %v", err)
	}
	defer logger.Close()

	for _, level := range allLevels {
		logAt(logger, level, level+" message")
	}

	content := readFileLoggerOutput(t, logger)
	for _, level := range []string{"trace", "debug", "info"} {
		if strings.Contains(content, level+" message") {
			t.Errorf("%s message should be filtered at warn level", level)
		}
	}
	for _, level := range []string{"warn", "error"} {
		if !strings.Contains(content, level+" message") {
			t.Errorf("%s message should appear at warn level", level)
		}
	}
}

// TestNewFileLoggerUsesDefaultLevel verifies NewFileLoggerWithDir uses default info level
func TestNewFileLoggerUsesDefaultLevel(t *testing.T) {
	logger, err := NewFileLoggerWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLoggerWithDir() error = %v", err)
	}
	defer logger.Close()

	logger.Debugf("debug %s", "message")
	logger.Infof("info %s", "message")

	content := readFileLoggerOutput(t, logger)
	if strings.Contains(content, "debug message") {
		t.Error("debug should be filtered at default info level")
	}
	if !strings.Contains(content, "info message") {
		t.Error("info should appear at default info level")
	}
}

// readFileLoggerOutput returns the run log contents
func readFileLoggerOutput(t *testing.T, logger *FileLogger) string {
	t.Helper()

	content, err := os.ReadFile(logger.RunFile())
	if err != nil {
		t.Fatalf("Failed to read run log: %v", err)
	}
	return string(content)
}
