package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harrison/autopilot/internal/history"
	"github.com/harrison/autopilot/internal/models"
)

// maxIDDraws bounds task id re-draws on collision.
const maxIDDraws = 8

const (
	msgNoPlan    = "could not create plan"
	msgCancelled = "task cancelled"

	// StatusAwaitingApproval is the result status of a task parked for approval.
	StatusAwaitingApproval = "awaiting_approval"
	// StatusNotFound is the result status of an approval for an unknown task.
	StatusNotFound = "not_found"
)

// ExecuteGoal plans, validates, executes and assesses a goal. It returns when
// the task reaches a terminal state or parks awaiting approval. It never panics.
func (e *Engine) ExecuteGoal(ctx context.Context, goal string, goalCtx map[string]any) (result models.GoalResult) {
	start := e.now()
	task := models.NewTask(e.newID(), goal, goalCtx, start)
	entry := &taskEntry{task: task, running: true, initialCtx: models.CloneParams(task.Context)}

	defer func() {
		if r := recover(); r != nil {
			result = e.panicked(entry, start, r)
		}
	}()

	if err := e.admit(entry); err != nil {
		e.warnf("Rejecting goal %q: %v", goal, err)
		if errors.Is(err, ErrTaskIDCollision) {
			return e.unstored(entry, start, err.Error())
		}
		return e.finish(entry, models.StateFailed, start, nil, err.Error())
	}

	if e.logger != nil {
		e.logger.LogTaskStart(e.snapshot(entry))
	}
	return e.drive(ctx, entry, start)
}

// ApproveTask grants approval to a task awaiting it and runs the task from
// Executing without validating the plan again. It never panics.
func (e *Engine) ApproveTask(ctx context.Context, id string) (result models.GoalResult) {
	start := e.now()

	entry, err := e.claimApproval(id)
	if err != nil {
		return e.approvalError(id, err)
	}

	defer func() {
		if r := recover(); r != nil {
			result = e.panicked(entry, start, r)
		}
	}()

	e.infof("Task %s approved", id)
	return e.drive(ctx, entry, start)
}

// admit registers a new task unless the concurrent task limit is reached.
// An id already held by an active task or a stored result is re-drawn.
func (e *Engine) admit(entry *taskEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry.task.Transition(models.StatePlanning)
	for draws := 1; e.idInUseLocked(entry.task.ID); draws++ {
		if draws >= maxIDDraws {
			return fmt.Errorf("%w after %d draws", ErrTaskIDCollision, draws)
		}
		entry.task.ID = e.newID()
	}
	if e.runningLocked() >= e.cfg.MaxConcurrentTasks {
		return ErrTooManyTasks
	}
	e.active[entry.task.ID] = entry
	return nil
}

func (e *Engine) idInUseLocked(id string) bool {
	if _, ok := e.active[id]; ok {
		return true
	}
	return e.results.has(id)
}

func (e *Engine) runningLocked() int {
	n := 0
	for _, entry := range e.active {
		if entry.running {
			n++
		}
	}
	return n
}

func (e *Engine) claimApproval(id string) (*taskEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.active[id]
	if !ok {
		return nil, fmt.Errorf("approve %s: %w", id, ErrTaskNotFound)
	}
	if entry.task.State != models.StateAwaitingApproval {
		return nil, fmt.Errorf("approve %s (state %s): %w", id, entry.task.State, ErrNotAwaitingApproval)
	}
	if e.runningLocked() >= e.cfg.MaxConcurrentTasks {
		return nil, fmt.Errorf("approve %s: %w", id, ErrTooManyTasks)
	}

	entry.running = true
	entry.task.Approved = true
	entry.task.PendingReason = ""
	entry.task.Transition(models.StateExecuting)
	return entry, nil
}

func (e *Engine) approvalError(id string, err error) models.GoalResult {
	result := models.GoalResult{TaskID: id, Success: false, Message: err.Error()}

	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.active[id]; ok {
		result.Status = entry.task.State.String()
		result.Plan = entry.task.Plan
		result.PendingReason = entry.task.PendingReason
	} else {
		result.Status = StatusNotFound
	}
	return result
}

// drive runs the state machine from the task's current state.
func (e *Engine) drive(ctx context.Context, entry *taskEntry, start time.Time) models.GoalResult {
	task := entry.task
	var exec *models.PlanExecutionResult

	for {
		if e.stopRequested(ctx, entry) {
			return e.cancelledResult(entry, start, exec)
		}

		switch e.state(entry) {
		case models.StatePlanning:
			plan := e.planner.CreatePlan(task.Goal, task.Context)
			if plan.IsEmpty() {
				err := &PlanError{Phase: PhasePlanning, PlanID: plan.ID, Message: msgNoPlan}
				e.update(entry, func() { task.Plan = plan })
				return e.finish(entry, models.StateFailed, start, nil, err.Error())
			}
			e.debugf("Task %s: plan %s from %q with %d steps", task.ID, plan.ID, plan.Source, len(plan.Steps))
			e.update(entry, func() {
				task.Plan = plan
				task.Transition(models.StateValidating)
			})

		case models.StateValidating:
			verdict := e.currentPolicy().ValidatePlan(task.Plan)
			if !verdict.Valid {
				if !verdict.RequiresApproval {
					err := &PlanError{Phase: PhaseValidating, PlanID: task.Plan.ID, Message: "validation failed: " + verdict.Reason}
					return e.finish(entry, models.StateFailed, start, nil, err.Error())
				}
				if !task.Approved {
					return e.park(entry, start, verdict)
				}
				e.debugf("Task %s: step %d needs approval, already granted", task.ID, verdict.FailedStep)
			}
			e.update(entry, func() { task.Transition(models.StateExecuting) })

		case models.StateExecuting:
			exec = e.runPlan(ctx, entry)
			if e.stopRequested(ctx, entry) {
				return e.cancelledResult(entry, start, exec)
			}
			e.update(entry, func() { task.Transition(models.StateAssessing) })

		case models.StateAssessing:
			if result, done := e.assess(entry, start, exec); done {
				return result
			}

		default:
			err := &PlanError{Phase: PhaseExecuting, Message: fmt.Sprintf("unexpected task state %s", task.State)}
			return e.finish(entry, models.StateFailed, start, exec, err.Error())
		}
	}
}

// assess judges the run and either finishes the task or sets up a replan.
func (e *Engine) assess(entry *taskEntry, start time.Time, exec *models.PlanExecutionResult) (models.GoalResult, bool) {
	task := entry.task
	qa := e.assessor.Assess(task.Goal, exec)
	e.update(entry, func() { task.Assessment = qa })
	if e.logger != nil {
		e.logger.LogAssessment(task.ID, qa)
	}

	if qa.GoalMet {
		return e.finish(entry, models.StateCompleted, start, exec, qa.Summary), true
	}
	if !qa.CanRetry {
		return e.finish(entry, models.StateFailed, start, exec, qa.Summary), true
	}

	cfg := e.currentConfig()
	if task.RetryCount >= cfg.MaxRetries {
		msg := fmt.Sprintf("%s (retry budget of %d exhausted)", qa.Summary, cfg.MaxRetries)
		return e.finish(entry, models.StateFailed, start, exec, msg), true
	}

	healed := e.healer.HealPlan(task.Plan, exec)
	if healed == nil {
		return e.finish(entry, models.StateFailed, start, exec, qa.Summary), true
	}

	e.update(entry, func() {
		task.RetryCount++
		task.Plan = healed
		switch cfg.ReplanStrategy {
		case ReplanFull:
			task.Approved = false
			task.Context = models.CloneParams(entry.initialCtx)
			task.Transition(models.StatePlanning)
		default:
			task.Transition(models.StateValidating)
		}
	})
	e.infof("Task %s: replanning (%s, attempt %d/%d): %s", task.ID, cfg.ReplanStrategy, task.RetryCount, cfg.MaxRetries, qa.Summary)
	return models.GoalResult{}, false
}

// stopRequested reports whether the task was cancelled, explicitly or through ctx.
func (e *Engine) stopRequested(ctx context.Context, entry *taskEntry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry.cancelled {
		return true
	}
	if ctx.Err() == nil {
		return false
	}
	entry.cancelled = true
	entry.task.Finish(models.StateCancelled, e.now())
	delete(e.active, entry.task.ID)
	return true
}

func (e *Engine) state(entry *taskEntry) models.TaskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return entry.task.State
}

func (e *Engine) snapshot(entry *taskEntry) models.TaskStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return entry.task.Status()
}

// update applies fn to the task under the engine lock.
func (e *Engine) update(entry *taskEntry, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// park leaves the task active in AwaitingApproval.
func (e *Engine) park(entry *taskEntry, start time.Time, verdict models.ValidationResult) models.GoalResult {
	task := entry.task

	e.mu.Lock()
	if entry.cancelled {
		e.mu.Unlock()
		return e.cancelledResult(entry, start, nil)
	}
	task.PendingReason = verdict.Reason
	task.Transition(models.StateAwaitingApproval)
	entry.running = false
	result := models.GoalResult{
		TaskID:        task.ID,
		Success:       false,
		Status:        StatusAwaitingApproval,
		Message:       fmt.Sprintf("Approval required for step %d: %s", verdict.FailedStep, verdict.Reason),
		Plan:          task.Plan,
		Assessment:    task.Assessment,
		Duration:      e.now().Sub(start),
		RetryCount:    task.RetryCount,
		PendingReason: verdict.Reason,
		Transitions:   append([]models.TaskState{}, task.Transitions...),
	}
	e.mu.Unlock()

	e.infof("Task %s awaiting approval: %s", task.ID, verdict.Reason)
	if e.logger != nil {
		e.logger.LogTaskEnd(result)
	}
	return result
}

// finish moves the task to a terminal state, stores and records its result.
func (e *Engine) finish(entry *taskEntry, state models.TaskState, start time.Time, exec *models.PlanExecutionResult, message string) models.GoalResult {
	task := entry.task

	e.mu.Lock()
	if entry.cancelled {
		e.mu.Unlock()
		return e.cancelledResult(entry, start, exec)
	}
	now := e.now()
	task.Finish(state, now)
	delete(e.active, task.ID)
	result := models.GoalResult{
		TaskID:      task.ID,
		Success:     state == models.StateCompleted,
		Status:      state.String(),
		Message:     message,
		Plan:        task.Plan,
		Execution:   exec,
		Assessment:  task.Assessment,
		Duration:    now.Sub(start),
		RetryCount:  task.RetryCount,
		Transitions: append([]models.TaskState{}, task.Transitions...),
	}
	e.results.put(task.ID, result, now)
	e.mu.Unlock()

	rec := &history.TaskRecord{
		TaskID:     task.ID,
		Goal:       task.Goal,
		Status:     result.Status,
		Success:    result.Success,
		RetryCount: result.RetryCount,
		Duration:   result.Duration,
		FinishedAt: now,
	}
	if err := e.history.RecordTask(context.Background(), rec); err != nil {
		e.warnf("Failed to record task %s in history: %v", task.ID, err)
	}

	if e.logger != nil {
		e.logger.LogTaskEnd(result)
	}
	return result
}

// unstored fails a task that was never admitted. Nothing is stored, recorded
// or logged per task, so whatever already holds the id is left alone.
func (e *Engine) unstored(entry *taskEntry, start time.Time, message string) models.GoalResult {
	e.mu.Lock()
	task := entry.task
	now := e.now()
	task.Finish(models.StateFailed, now)
	result := models.GoalResult{
		TaskID:      task.ID,
		Success:     false,
		Status:      models.StateFailed.String(),
		Message:     message,
		Duration:    now.Sub(start),
		Transitions: append([]models.TaskState{}, task.Transitions...),
	}
	e.mu.Unlock()
	return result
}

// cancelledResult reports a cancelled task. Nothing is stored.
func (e *Engine) cancelledResult(entry *taskEntry, start time.Time, exec *models.PlanExecutionResult) models.GoalResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	task := entry.task
	return models.GoalResult{
		TaskID:      task.ID,
		Success:     false,
		Status:      models.StateCancelled.String(),
		Message:     msgCancelled,
		Plan:        task.Plan,
		Execution:   exec,
		Assessment:  task.Assessment,
		Duration:    e.now().Sub(start),
		RetryCount:  task.RetryCount,
		Transitions: append([]models.TaskState{}, task.Transitions...),
	}
}

// panicked converts a recovered panic into a failed result.
func (e *Engine) panicked(entry *taskEntry, start time.Time, r interface{}) models.GoalResult {
	e.warnf("Task %s: recovered from panic: %v", entry.task.ID, r)
	return e.finish(entry, models.StateFailed, start, nil, fmt.Sprintf("unexpected error: %v", r))
}
