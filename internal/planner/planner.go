// Package planner maps natural-language goals to execution plans.
//
// Templates are evaluated in declared priority order and the first match
// wins, so ambiguous goals always resolve the same way. A goal nothing
// matches yields an empty plan, which the engine treats as a planning
// failure.
package planner

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/autopilot/internal/models"
)

// Builder produces the steps for a matched goal.
// The context map is read-only for builders.
type Builder func(goal string, ctx map[string]any) []models.ExecutionStep

// Template pairs a goal predicate with a plan builder.
type Template struct {
	Name        string                 // Canonical trigger phrase
	Triggers    []string               // Extra phrases; Name is always a trigger
	Description string                 // Shown by `autopilot templates`
	Match       func(goal string) bool // Optional custom predicate; replaces phrase matching
	Build       Builder
}

// Matches reports whether the template applies to the goal.
// Without a custom predicate, a trigger phrase must be a case-insensitive substring of the goal.
func (t Template) Matches(goal string) bool {
	if t.Match != nil {
		return t.Match(goal)
	}
	lower := strings.ToLower(goal)
	for _, phrase := range t.phrases() {
		if phrase != "" && strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

func (t Template) phrases() []string {
	return append([]string{t.Name}, t.Triggers...)
}

// Planner holds the priority-ordered template list.
type Planner struct {
	mu        sync.RWMutex
	templates []Template
	newID     func() string
	now       func() time.Time
}

// New creates a planner over the given templates, highest priority first.
func New(templates ...Template) *Planner {
	return &Planner{
		templates: append([]Template{}, templates...),
		newID:     NewPlanID,
		now:       time.Now,
	}
}

// NewDefault creates a planner with the builtin catalog.
func NewDefault() *Planner {
	return New(BuiltinTemplates()...)
}

// NewPlanID returns a fresh plan identifier.
func NewPlanID() string {
	return "plan-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// Register appends a template at the lowest priority.
func (p *Planner) Register(t Template) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates = append(p.templates, t)
}

// Prepend inserts templates ahead of every existing template, preserving their order.
func (p *Planner) Prepend(templates ...Template) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.templates = append(append([]Template{}, templates...), p.templates...)
}

// Templates returns the templates in priority order.
func (p *Planner) Templates() []Template {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Template{}, p.templates...)
}

// Match returns the first template matching the goal.
func (p *Planner) Match(goal string) (Template, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, t := range p.templates {
		if t.Matches(goal) {
			return t, true
		}
	}
	return Template{}, false
}

// CreatePlan builds a plan for the goal. Unrecognized goals get a plan with no steps.
func (p *Planner) CreatePlan(goal string, ctx map[string]any) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{
		ID:        p.newID(),
		Goal:      goal,
		CreatedAt: p.now(),
	}

	t, ok := p.Match(goal)
	if !ok || t.Build == nil {
		return plan
	}

	if ctx == nil {
		ctx = map[string]any{}
	}
	plan.Source = t.Name
	plan.Steps = models.Renumber(t.Build(goal, ctx))
	return plan
}
