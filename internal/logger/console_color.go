package logger

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/harrison/autopilot/internal/models"
	"github.com/harrison/autopilot/internal/quality"
)

// colorScheme defines consistent colors for different metric types.
// Green: success/positive metrics
// Red: failure/error metrics
// Yellow: warning/threshold metrics
// Cyan: labels and identifiers
type colorScheme struct {
	success *color.Color
	fail    *color.Color
	warn    *color.Color
	label   *color.Color
	value   *color.Color
}

// newColorScheme creates the standard color scheme for metrics.
func newColorScheme() *colorScheme {
	return &colorScheme{
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		label:   color.New(color.FgCyan),
		value:   color.New(color.FgWhite),
	}
}

// formatColorizedMetric formats a single metric with colorized label and value.
// Format: "label: value"
func formatColorizedMetric(label string, value interface{}, scheme *colorScheme) string {
	return fmt.Sprintf("%s: %s", scheme.label.Sprint(label), scheme.value.Sprintf("%v", value))
}

// formatStepMetrics formats assessment counts.
// Format: "ok: N, failed: N, ratio: X%"
// The ratio is green at or above the success threshold, yellow below it and red at zero.
func formatStepMetrics(qa *models.QualityAssessment, colored bool) string {
	ratio := fmt.Sprintf("%.0f%%", qa.SuccessRatio*100)
	if !colored {
		return fmt.Sprintf("ok: %d, failed: %d, ratio: %s", qa.StepsSucceeded, qa.StepsFailed, ratio)
	}

	scheme := newColorScheme()
	parts := []string{
		fmt.Sprintf("%s: %s", scheme.success.Sprint("ok"), scheme.value.Sprintf("%d", qa.StepsSucceeded)),
	}
	if qa.StepsFailed > 0 {
		parts = append(parts, fmt.Sprintf("%s: %s", scheme.fail.Sprint("failed"), scheme.fail.Sprintf("%d", qa.StepsFailed)))
	} else {
		parts = append(parts, formatColorizedMetric("failed", 0, scheme))
	}

	switch {
	case qa.SuccessRatio >= quality.SuccessThreshold:
		ratio = scheme.success.Sprint(ratio)
	case qa.SuccessRatio > 0:
		ratio = scheme.warn.Sprint(ratio)
	default:
		ratio = scheme.fail.Sprint(ratio)
	}
	parts = append(parts, fmt.Sprintf("%s: %s", scheme.label.Sprint("ratio"), ratio))

	return strings.Join(parts, ", ")
}

// statusColor picks the color of a result status.
func statusColor(status string) *color.Color {
	switch status {
	case models.StateCompleted.String():
		return color.New(color.FgGreen, color.Bold)
	case models.StateFailed.String():
		return color.New(color.FgRed, color.Bold)
	case models.StateAwaitingApproval.String():
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgHiBlack)
	}
}
