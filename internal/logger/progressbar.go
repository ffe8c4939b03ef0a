package logger

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

// ProgressBar renders a fixed-width ASCII bar for a done/total count.
type ProgressBar struct {
	done        int
	total       int
	width       int
	enableColor bool
	prefix      string
}

// NewProgressBar creates a progress bar. Widths below 1 default to 10.
func NewProgressBar(done, total, width int, enableColor bool) *ProgressBar {
	if width < 1 {
		width = 10
	}
	return &ProgressBar{done: done, total: total, width: width, enableColor: enableColor}
}

// WithPrefix sets a label rendered before the bar.
func (pb *ProgressBar) WithPrefix(prefix string) *ProgressBar {
	pb.prefix = prefix
	return pb
}

// Percentage returns the progress percentage clamped to 0-100.
func (pb *ProgressBar) Percentage() int {
	if pb.total <= 0 {
		return 0
	}
	perc := (pb.done * 100) / pb.total
	if perc > 100 {
		return 100
	}
	if perc < 0 {
		return 0
	}
	return perc
}

// Render generates the bar string.
// Format: "<prefix>[======    ] 6/10 (60%)"
func (pb *ProgressBar) Render() string {
	perc := pb.Percentage()
	filled := (perc * pb.width) / 100

	bar := "[" + strings.Repeat("=", filled) + strings.Repeat(" ", pb.width-filled) + "]"
	result := fmt.Sprintf("%s%s %d/%d (%d%%)", pb.prefix, bar, pb.done, pb.total, perc)

	if !pb.enableColor {
		return result
	}
	if perc == 100 {
		return color.New(color.FgGreen).Sprint(result)
	}
	return color.New(color.FgCyan).Sprint(result)
}
