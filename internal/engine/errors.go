package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTaskNotFound is returned when no active task has the given id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotAwaitingApproval is returned when approving a task that is not pending.
	ErrNotAwaitingApproval = errors.New("task is not awaiting approval")
	// ErrTooManyTasks is returned when the concurrent task limit is reached.
	ErrTooManyTasks = errors.New("too many concurrent tasks")
	// ErrTaskIDCollision is returned when no unused task id could be drawn.
	ErrTaskIDCollision = errors.New("could not allocate a unique task id")
)

// Phase is the pipeline phase in which an error occurred.
type Phase int

const (
	// PhasePlanning covers goal-to-plan conversion.
	PhasePlanning Phase = iota
	// PhaseValidating covers guardrail plan validation.
	PhaseValidating
	// PhaseExecuting covers step dispatch and healing.
	PhaseExecuting
	// PhaseAssessing covers quality assessment and replanning.
	PhaseAssessing
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhasePlanning:
		return "planning"
	case PhaseValidating:
		return "validating"
	case PhaseExecuting:
		return "executing"
	case PhaseAssessing:
		return "assessing"
	default:
		return "unknown"
	}
}

// StepError describes a failed step dispatch.
type StepError struct {
	StepNumber int
	Operation  string
	Message    string
	Err        error
}

// Error implements the error interface for StepError.
func (e *StepError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("step %d (%s): %s", e.StepNumber, e.Operation, e.Message))
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// PlanError describes a task failure outside a single step.
// Its message is what callers see in GoalResult.Message.
type PlanError struct {
	Phase   Phase
	PlanID  string
	Message string
	Err     error
}

// Error implements the error interface for PlanError.
func (e *PlanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PlanError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a dispatch that exceeded the configured timeout.
type TimeoutError struct {
	StepNumber int
	Operation  string
	Timeout    time.Duration
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %d (%s): timeout after %v", e.StepNumber, e.Operation, e.Timeout)
}

// Unwrap returns context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsStepError checks if the error is or wraps a StepError.
func IsStepError(err error) bool {
	var se *StepError
	return err != nil && errors.As(err, &se)
}

// IsPlanError checks if the error is or wraps a PlanError.
func IsPlanError(err error) bool {
	var pe *PlanError
	return err != nil && errors.As(err, &pe)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
