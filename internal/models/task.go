package models

import (
	"strings"
	"time"
)

// TaskState is a lifecycle state of an autonomous task.
type TaskState string

const (
	StatePlanning         TaskState = "planning"
	StateValidating       TaskState = "validating"
	StateAwaitingApproval TaskState = "awaiting_approval"
	StateExecuting        TaskState = "executing"
	StateAssessing        TaskState = "assessing"
	StateCompleted        TaskState = "completed"
	StateFailed           TaskState = "failed"
	StateCancelled        TaskState = "cancelled"
)

// IsTerminal reports whether no further transitions can leave the state.
func (s TaskState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// String returns the lower-cased state name used in results.
func (s TaskState) String() string {
	return strings.ToLower(string(s))
}

// Task is the unit of autonomous work owned by the engine.
type Task struct {
	ID            string             // Short opaque identifier, stable for the task's lifetime
	Goal          string             // Natural-language goal
	Context       map[string]any     // Planner input and scratch space for inter-step data
	State         TaskState          // Current lifecycle state
	Plan          *ExecutionPlan     // Active plan (nil until planned)
	CurrentStep   int                // Step number currently executing (0 when idle)
	RetryCount    int                // Quality-driven replans consumed
	CreatedAt     time.Time          // When the goal request arrived
	CompletedAt   *time.Time         // When the task reached a terminal state
	PendingReason string             // Why the task awaits approval
	Assessment    *QualityAssessment // Latest quality assessment
	Approved      bool               // Approval granted for the current plan lineage
	Transitions   []TaskState        // Every state entered, in order
}

// NewTask creates a task in the planning state.
// The context map is copied so callers can reuse their map.
func NewTask(id, goal string, ctx map[string]any, now time.Time) *Task {
	taskCtx := make(map[string]any, len(ctx))
	for k, v := range ctx {
		taskCtx[k] = v
	}
	return &Task{
		ID:        id,
		Goal:      goal,
		Context:   taskCtx,
		CreatedAt: now,
	}
}

// Transition moves the task into state and records it.
// A task already in a terminal state stays there.
func (t *Task) Transition(state TaskState) {
	if t.State.IsTerminal() {
		return
	}
	t.State = state
	t.Transitions = append(t.Transitions, state)
}

// Finish moves the task into a terminal state and stamps the end time.
// Finishing an already finished task is a no-op.
func (t *Task) Finish(state TaskState, now time.Time) {
	if t.State.IsTerminal() {
		return
	}
	t.Transition(state)
	t.CurrentStep = 0
	t.CompletedAt = &now
}

// Status returns a read-only snapshot of the task.
func (t *Task) Status() TaskStatus {
	status := TaskStatus{
		ID:            t.ID,
		Goal:          t.Goal,
		State:         t.State,
		CurrentStep:   t.CurrentStep,
		RetryCount:    t.RetryCount,
		CreatedAt:     t.CreatedAt,
		PendingReason: t.PendingReason,
	}
	if t.Plan != nil {
		status.PlanID = t.Plan.ID
		status.TotalSteps = len(t.Plan.Steps)
	}
	return status
}

// TaskStatus is the caller-facing view of an active task.
type TaskStatus struct {
	ID            string    `json:"id"`
	Goal          string    `json:"goal"`
	State         TaskState `json:"state"`
	PlanID        string    `json:"plan_id,omitempty"`
	CurrentStep   int       `json:"current_step"`
	TotalSteps    int       `json:"total_steps"`
	RetryCount    int       `json:"retry_count"`
	CreatedAt     time.Time `json:"created_at"`
	PendingReason string    `json:"pending_reason,omitempty"`
}
