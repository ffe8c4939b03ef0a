package engine

import (
	"context"
	"errors"

	"github.com/harrison/autopilot/internal/guardrail"
	"github.com/harrison/autopilot/internal/history"
	"github.com/harrison/autopilot/internal/models"
)

// runPlan executes the task's plan step by step. Cancellation is checked
// between steps only; a cancelled run returns what executed so far.
func (e *Engine) runPlan(ctx context.Context, entry *taskEntry) *models.PlanExecutionResult {
	task := entry.task
	plan := task.Plan
	exec := &models.PlanExecutionResult{
		PlanID:    plan.ID,
		StartedAt: e.now(),
		Success:   true,
	}

	for _, step := range plan.Steps {
		if e.stopRequested(ctx, entry) {
			exec.Success = false
			break
		}
		e.update(entry, func() { task.CurrentStep = step.Number })

		result := e.executeStep(ctx, task, step)
		exec.Steps = append(exec.Steps, result)
		e.recordStep(ctx, task.ID, plan.ID, result)
		if e.logger != nil {
			e.logger.LogStepResult(task.ID, result)
		}

		if result.Success {
			continue
		}
		if step.Required {
			exec.Success = false
			exec.StoppedAtStep = step.Number
			break
		}
		e.warnf("Task %s: optional step %d (%s) failed, continuing: %s", task.ID, step.Number, step.Operation, result.Error)
	}

	exec.EndedAt = e.now()
	e.update(entry, func() { task.CurrentStep = 0 })
	return exec
}

// executeStep resolves placeholders, re-checks the operation against the
// guardrail, dispatches it and heals a failure.
func (e *Engine) executeStep(ctx context.Context, task *models.Task, step models.ExecutionStep) models.StepExecutionResult {
	params := ResolveParams(step.Params, task.Context)

	check := e.stepCheck(task, step, params)
	if !check.Allowed {
		return models.StepExecutionResult{
			StepNumber: step.Number,
			Operation:  step.Operation,
			Success:    false,
			Error:      "guardrail blocked: " + check.Reason,
		}
	}

	result := e.dispatch(ctx, step, params)
	if !result.Success {
		e.debugf("Task %s: step %d (%s) failed, healing: %s", task.ID, step.Number, step.Operation, result.Error)
		if healed := e.healer.HealStep(ctx, step, params, result.Error, e.dispatch); healed != nil {
			healed.Duration += result.Duration
			result = *healed
		}
	}

	if result.Success {
		result.Output = extractOutputs(step, result.Raw, task.Context)
	}
	return result
}

// stepCheck re-checks a step after placeholder substitution. Approval covers
// the destructive gate and any batch already visible in the approved plan; a
// batch that only grew past the limit through substitution is still blocked.
func (e *Engine) stepCheck(task *models.Task, step models.ExecutionStep, params map[string]any) guardrail.CheckResult {
	policy := e.currentPolicy()
	check := policy.CheckOperation(step.Operation, params)
	if check.Allowed || !check.RequiresApproval || !task.Approved {
		return check
	}

	batch := policy.CheckBatch(step.Operation, params)
	if batch.Allowed || !policy.CheckBatch(step.Operation, step.Params).Allowed {
		return guardrail.CheckResult{Allowed: true}
	}
	return batch
}

// dispatch sends one operation to the executor while holding the target lock.
// Transport errors become failed results carrying the error text.
func (e *Engine) dispatch(ctx context.Context, step models.ExecutionStep, params map[string]any) (result models.StepExecutionResult) {
	result = models.StepExecutionResult{StepNumber: step.Number, Operation: step.Operation}
	start := e.now()
	defer func() { result.Duration = e.now().Sub(start) }()

	release, err := e.lock.Acquire(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer release()

	dispatchCtx := ctx
	timeout := e.currentConfig().DispatchTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	raw, err := e.executor.Execute(dispatchCtx, step.Operation, params)
	if err != nil {
		if timeout > 0 && errors.Is(dispatchCtx.Err(), context.DeadlineExceeded) {
			err = &TimeoutError{StepNumber: step.Number, Operation: step.Operation, Timeout: timeout}
		}
		stepErr := &StepError{StepNumber: step.Number, Operation: step.Operation, Message: "dispatch failed", Err: err}
		e.warnf("%v", stepErr)
		result.Error = err.Error()
		return result
	}

	result.Raw = raw
	result.Success = raw.Success
	result.Error = raw.Error
	if !raw.Success && result.Error == "" {
		result.Error = "operation reported failure"
	}
	return result
}

func (e *Engine) recordStep(ctx context.Context, taskID, planID string, result models.StepExecutionResult) {
	rec := &history.StepRecord{
		TaskID:     taskID,
		PlanID:     planID,
		StepNumber: result.StepNumber,
		Operation:  result.Operation,
		Success:    result.Success,
		Error:      result.Error,
		HealedWith: result.HealedWith,
		Duration:   result.Duration,
		RecordedAt: e.now(),
	}
	if err := e.history.RecordStep(context.WithoutCancel(ctx), rec); err != nil {
		e.warnf("Failed to record step %d of task %s: %v", result.StepNumber, taskID, err)
	}
}
