// Package healer repairs failed steps in flight and builds reduced plans
// after a run stops at a failed step.
package healer

import (
	"context"
	"time"

	"github.com/harrison/autopilot/internal/models"
	"github.com/harrison/autopilot/internal/planner"
)

// StrategyBlindRetry tags a heal that succeeded by re-dispatching unchanged parameters.
const StrategyBlindRetry = "blind_retry"

// Dispatch sends a step with the given parameters to the operation executor.
type Dispatch func(ctx context.Context, step models.ExecutionStep, params map[string]any) models.StepExecutionResult

// Logger receives healing diagnostics. Nil loggers are allowed.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

// Healer applies the error pattern table and plan-level replanning.
type Healer struct {
	patterns []ErrorPattern
	logger   Logger
	newID    func() string
	now      func() time.Time
}

// New creates a healer. With no patterns the builtin table is used.
func New(logger Logger, patterns ...ErrorPattern) *Healer {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Healer{
		patterns: patterns,
		logger:   logger,
		newID:    planner.NewPlanID,
		now:      time.Now,
	}
}

// Patterns returns the pattern table in match order.
func (h *Healer) Patterns() []ErrorPattern {
	return append([]ErrorPattern{}, h.patterns...)
}

// Classify returns the first pattern matching the error message.
func (h *Healer) Classify(errMsg string) (ErrorPattern, bool) {
	for _, p := range h.patterns {
		if p.Matches(errMsg) {
			return p, true
		}
	}
	return ErrorPattern{}, false
}

// HealStep tries to recover a failed step. Each matching fixable pattern gets
// one re-dispatch with rewritten parameters; if none succeeds, one blind retry
// with the original parameters follows. A matching unfixable pattern ends
// healing at once. Returns nil when every attempt failed.
func (h *Healer) HealStep(ctx context.Context, step models.ExecutionStep, params map[string]any, errMsg string, dispatch Dispatch) *models.StepExecutionResult {
	if dispatch == nil {
		return nil
	}

	for _, pattern := range h.patterns {
		if !pattern.Matches(errMsg) {
			continue
		}
		if pattern.Unfixable {
			h.debugf("step %d (%s): %q is unfixable, skipping heal", step.Number, step.Operation, pattern.Substring)
			return nil
		}
		if pattern.Fix == nil {
			continue
		}

		fixed, changed := pattern.Fix(models.CloneParams(params))
		if !changed {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		result := dispatch(ctx, step, fixed)
		if result.Success {
			result.HealedWith = pattern.Strategy()
			h.infof("step %d (%s) healed with %s", step.Number, step.Operation, result.HealedWith)
			return &result
		}
		h.debugf("step %d (%s): %s did not help: %s", step.Number, step.Operation, pattern.Strategy(), result.Error)
	}

	if ctx.Err() != nil {
		return nil
	}

	result := dispatch(ctx, step, models.CloneParams(params))
	if result.Success {
		result.HealedWith = StrategyBlindRetry
		h.infof("step %d (%s) healed with %s", step.Number, step.Operation, StrategyBlindRetry)
		return &result
	}

	return nil
}

// HealPlan builds a plan holding the steps from the failed step onward, renumbered from 1.
// Returns nil unless the run stopped at a known step of this plan.
func (h *Healer) HealPlan(plan *models.ExecutionPlan, exec *models.PlanExecutionResult) *models.ExecutionPlan {
	if plan == nil || exec == nil || exec.Success || exec.StoppedAtStep < 1 {
		return nil
	}
	if exec.StoppedAtStep > len(plan.Steps) {
		return nil
	}

	return &models.ExecutionPlan{
		ID:        h.newID(),
		Goal:      plan.Goal,
		Steps:     models.Renumber(plan.Steps[exec.StoppedAtStep-1:]),
		Source:    "healed:" + plan.ID,
		CreatedAt: h.now(),
	}
}

func (h *Healer) debugf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Debugf(format, args...)
	}
}

func (h *Healer) infof(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.Infof(format, args...)
	}
}
