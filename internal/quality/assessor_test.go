package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/autopilot/internal/models"
)

func steps(outcomes ...bool) []models.StepExecutionResult {
	out := make([]models.StepExecutionResult, len(outcomes))
	for i, ok := range outcomes {
		out[i] = models.StepExecutionResult{StepNumber: i + 1, Operation: "op", Success: ok}
		if !ok {
			out[i].Error = "boom"
		}
	}
	return out
}

func TestAssess(t *testing.T) {
	tests := []struct {
		name         string
		exec         *models.PlanExecutionResult
		wantMet      bool
		wantRetry    bool
		wantRatio    float64
		wantSummary  string
		wantRecCount int
	}{
		{
			name:        "all steps succeed",
			exec:        &models.PlanExecutionResult{Success: true, Steps: steps(true, true)},
			wantMet:     true,
			wantRatio:   1.0,
			wantSummary: "Goal achieved: 2/2 steps succeeded",
		},
		{
			name:         "optional failure above threshold",
			exec:         &models.PlanExecutionResult{Success: true, Steps: steps(true, true, true, true, false)},
			wantMet:      true,
			wantRatio:    0.8,
			wantSummary:  "Goal achieved: 4/5 steps succeeded",
			wantRecCount: 1,
		},
		{
			name:         "successful plan below threshold",
			exec:         &models.PlanExecutionResult{Success: true, Steps: steps(true, false, false)},
			wantRetry:    true,
			wantRatio:    1.0 / 3.0,
			wantSummary:  "Partial success: 1/3 steps succeeded (33%)",
			wantRecCount: 2,
		},
		{
			name:         "stopped at a required step",
			exec:         &models.PlanExecutionResult{Success: false, StoppedAtStep: 2, Steps: steps(true, false)},
			wantRetry:    true,
			wantRatio:    0.5,
			wantSummary:  "Execution stopped at step 2: boom",
			wantRecCount: 1,
		},
		{
			name:        "every step succeeded but plan failed",
			exec:        &models.PlanExecutionResult{Success: false, Steps: steps(true, true)},
			wantRatio:   1.0,
			wantSummary: "All steps succeeded but the plan did not complete",
		},
		{
			name:        "nothing executed",
			exec:        &models.PlanExecutionResult{Success: false},
			wantRetry:   true,
			wantRatio:   0,
			wantSummary: "Partial success: 0/0 steps succeeded (0%)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qa := NewAssessor().Assess("goal", tt.exec)

			assert.Equal(t, tt.wantMet, qa.GoalMet)
			assert.Equal(t, tt.wantRetry, qa.CanRetry)
			assert.InDelta(t, tt.wantRatio, qa.SuccessRatio, 1e-9)
			assert.Equal(t, tt.wantSummary, qa.Summary)
			assert.Len(t, qa.Recommendations, tt.wantRecCount)
			assert.Equal(t, qa.StepsExecuted, qa.StepsSucceeded+qa.StepsFailed)
		})
	}
}

func TestAssess_Recommendations(t *testing.T) {
	exec := &models.PlanExecutionResult{
		Success:       false,
		StoppedAtStep: 3,
		Steps: []models.StepExecutionResult{
			{StepNumber: 1, Operation: "get_warnings", Success: false, Error: "timeout"},
			{StepNumber: 2, Operation: "list_views", Success: true},
			{StepNumber: 3, Operation: "create_sheets", Success: false, Error: "Sheet already exists"},
		},
	}

	qa := NewAssessor().Assess("create sheets", exec)

	require.Len(t, qa.Recommendations, 2)
	assert.Equal(t, "Step 1 (get_warnings): timeout", qa.Recommendations[0])
	assert.Equal(t, "Step 3 (create_sheets): Sheet already exists", qa.Recommendations[1])
	assert.Equal(t, "Execution stopped at step 3: Sheet already exists", qa.Summary)
}

func TestAssess_RatioMonotonic(t *testing.T) {
	const n = 10
	prev := -1.0
	for k := 0; k <= n; k++ {
		outcomes := make([]bool, n)
		for i := 0; i < k; i++ {
			outcomes[i] = true
		}
		qa := NewAssessor().Assess("goal", &models.PlanExecutionResult{Success: true, Steps: steps(outcomes...)})

		assert.GreaterOrEqual(t, qa.SuccessRatio, prev, "k=%d", k)
		assert.Equal(t, qa.SuccessRatio >= SuccessThreshold, qa.GoalMet, "k=%d", k)
		prev = qa.SuccessRatio
	}
}

func TestAssess_NilResultAndClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	qa := WithClock(func() time.Time { return fixed }).Assess("goal", nil)

	assert.Equal(t, fixed, qa.AssessedAt)
	assert.False(t, qa.GoalMet)
	assert.Zero(t, qa.StepsExecuted)
	assert.Zero(t, qa.SuccessRatio)
}
