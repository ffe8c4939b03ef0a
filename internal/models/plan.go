package models

import (
	"time"
)

// ExecutionPlan is an ordered list of steps believed sufficient to reach a goal.
// Plans are not modified after construction; regenerating steps produces a new plan.
type ExecutionPlan struct {
	ID        string          `json:"id"`
	Goal      string          `json:"goal"`
	Steps     []ExecutionStep `json:"steps"`
	Source    string          `json:"source,omitempty"` // Template name, or "healed:<parent id>"
	CreatedAt time.Time       `json:"created_at"`
}

// IsEmpty reports whether the plan has no steps.
func (p *ExecutionPlan) IsEmpty() bool {
	return p == nil || len(p.Steps) == 0
}

// Step returns the step with the given 1-based number.
func (p *ExecutionPlan) Step(number int) (ExecutionStep, bool) {
	if p == nil || number < 1 || number > len(p.Steps) {
		return ExecutionStep{}, false
	}
	return p.Steps[number-1], true
}

// ExecutionStep is one operation invocation within a plan.
type ExecutionStep struct {
	Number      int               `json:"number"`      // 1-based, dense, matches plan order
	Description string            `json:"description"` // Human-readable description
	Operation   string            `json:"operation"`   // Operation name sent to the executor
	Params      map[string]any    `json:"params"`      // May contain "{{key}}" placeholders
	Required    bool              `json:"required"`    // Failure stops the plan when true
	Outputs     map[string]string `json:"outputs,omitempty"`
}

// Clone returns a deep copy of the step's maps so callers can modify parameters.
func (s ExecutionStep) Clone() ExecutionStep {
	out := s
	out.Params = CloneParams(s.Params)
	if s.Outputs != nil {
		out.Outputs = make(map[string]string, len(s.Outputs))
		for k, v := range s.Outputs {
			out.Outputs[k] = v
		}
	}
	return out
}

// CloneParams returns a shallow copy of a parameter map.
func CloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// Renumber returns copies of steps numbered densely from 1.
func Renumber(steps []ExecutionStep) []ExecutionStep {
	out := make([]ExecutionStep, len(steps))
	for i, step := range steps {
		out[i] = step.Clone()
		out[i].Number = i + 1
	}
	return out
}
