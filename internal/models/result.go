package models

import (
	"time"

	"github.com/harrison/autopilot/internal/ops"
)

// StepExecutionResult is the outcome of dispatching one step.
type StepExecutionResult struct {
	StepNumber int            `json:"step_number"`
	Operation  string         `json:"operation"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	Raw        ops.Result     `json:"raw"`
	Output     map[string]any `json:"output,omitempty"` // Values extracted into the task context
	Duration   time.Duration  `json:"duration"`
	HealedWith string         `json:"healed_with,omitempty"` // Heal strategy that succeeded
}

// PlanExecutionResult aggregates the step results of one plan run.
type PlanExecutionResult struct {
	PlanID        string                `json:"plan_id"`
	StartedAt     time.Time             `json:"started_at"`
	EndedAt       time.Time             `json:"ended_at"`
	Steps         []StepExecutionResult `json:"steps"`
	Success       bool                  `json:"success"`
	StoppedAtStep int                   `json:"stopped_at_step,omitempty"` // 0 when the run did not stop early
}

// Counts returns executed, succeeded and failed step counts.
func (r *PlanExecutionResult) Counts() (executed, succeeded, failed int) {
	if r == nil {
		return 0, 0, 0
	}
	for _, step := range r.Steps {
		executed++
		if step.Success {
			succeeded++
		} else {
			failed++
		}
	}
	return executed, succeeded, failed
}

// LastError returns the error of the last failed step, if any.
func (r *PlanExecutionResult) LastError() string {
	if r == nil {
		return ""
	}
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if !r.Steps[i].Success {
			return r.Steps[i].Error
		}
	}
	return ""
}

// QualityAssessment judges whether an executed plan achieved its goal.
type QualityAssessment struct {
	Goal            string    `json:"goal"`
	AssessedAt      time.Time `json:"assessed_at"`
	StepsExecuted   int       `json:"steps_executed"`
	StepsSucceeded  int       `json:"steps_succeeded"`
	StepsFailed     int       `json:"steps_failed"`
	SuccessRatio    float64   `json:"success_ratio"`
	GoalMet         bool      `json:"goal_met"`
	Summary         string    `json:"summary"`
	CanRetry        bool      `json:"can_retry"`
	Recommendations []string  `json:"recommendations,omitempty"`
}

// ValidationResult is the guardrail verdict for a plan.
type ValidationResult struct {
	Valid            bool   `json:"valid"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
	FailedStep       int    `json:"failed_step,omitempty"` // 0 when no step failed
}

// GoalResult is returned to callers of the public task API.
type GoalResult struct {
	TaskID        string               `json:"task_id"`
	Success       bool                 `json:"success"`
	Status        string               `json:"status"`
	Message       string               `json:"message"`
	Plan          *ExecutionPlan       `json:"plan,omitempty"`
	Execution     *PlanExecutionResult `json:"execution,omitempty"`
	Assessment    *QualityAssessment   `json:"assessment,omitempty"`
	Duration      time.Duration        `json:"duration"`
	RetryCount    int                  `json:"retry_count"`
	PendingReason string               `json:"pending_reason,omitempty"`
	Transitions   []TaskState          `json:"transitions,omitempty"` // States entered by the task so far
}

// Statistics summarizes engine activity.
type Statistics struct {
	ActiveTasks        int           `json:"active_tasks"`
	CompletedTasks     int           `json:"completed_tasks"`
	StepsSucceeded24h  int           `json:"steps_succeeded_24h"`
	StepsFailed24h     int           `json:"steps_failed_24h"`
	MeanStepDuration   time.Duration `json:"mean_step_duration"`
	HistoryWindowStart time.Time     `json:"history_window_start"`
}
