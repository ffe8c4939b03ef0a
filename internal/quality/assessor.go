// Package quality judges whether an executed plan achieved its goal.
package quality

import (
	"fmt"
	"time"

	"github.com/harrison/autopilot/internal/models"
)

// SuccessThreshold is the minimum success ratio for a goal to count as met.
const SuccessThreshold = 0.8

// Assessor computes quality assessments from plan execution results.
type Assessor struct {
	now func() time.Time
}

// NewAssessor creates an assessor using the wall clock.
func NewAssessor() *Assessor {
	return &Assessor{now: time.Now}
}

// WithClock returns an assessor that stamps assessments with now().
func WithClock(now func() time.Time) *Assessor {
	if now == nil {
		now = time.Now
	}
	return &Assessor{now: now}
}

// Ratio returns succeeded/executed, or 0 when nothing executed.
func Ratio(succeeded, executed int) float64 {
	if executed <= 0 {
		return 0
	}
	return float64(succeeded) / float64(executed)
}

// Assess evaluates exec against goal. A nil result assesses as zero steps executed.
func (a *Assessor) Assess(goal string, exec *models.PlanExecutionResult) *models.QualityAssessment {
	executed, succeeded, failed := exec.Counts()
	ratio := Ratio(succeeded, executed)
	planSuccess := exec != nil && exec.Success

	qa := &models.QualityAssessment{
		Goal:           goal,
		AssessedAt:     a.now(),
		StepsExecuted:  executed,
		StepsSucceeded: succeeded,
		StepsFailed:    failed,
		SuccessRatio:   ratio,
		GoalMet:        planSuccess && ratio >= SuccessThreshold,
	}

	switch {
	case qa.GoalMet:
		qa.Summary = fmt.Sprintf("Goal achieved: %d/%d steps succeeded", succeeded, executed)
		qa.CanRetry = false
	case exec != nil && exec.StoppedAtStep > 0:
		qa.Summary = fmt.Sprintf("Execution stopped at step %d: %s", exec.StoppedAtStep, exec.LastError())
		qa.CanRetry = true
	case ratio < 1.0:
		qa.Summary = fmt.Sprintf("Partial success: %d/%d steps succeeded (%.0f%%)", succeeded, executed, ratio*100)
		qa.CanRetry = true
	default:
		qa.Summary = "All steps succeeded but the plan did not complete"
		qa.CanRetry = false
	}

	if exec != nil {
		for _, step := range exec.Steps {
			if !step.Success {
				qa.Recommendations = append(qa.Recommendations,
					fmt.Sprintf("Step %d (%s): %s", step.StepNumber, step.Operation, step.Error))
			}
		}
	}

	return qa
}
