// Package engine runs autonomous tasks: it turns a goal into a plan, checks
// the plan against the guardrail, dispatches the steps to the target
// application with inline healing, assesses the outcome and replans when the
// goal was not met.
//
// One Engine is built at process start and shared by every caller. Steps run
// sequentially within a task, and every dispatch holds the target lock
// because the target application is not reentrant.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/autopilot/internal/filelock"
	"github.com/harrison/autopilot/internal/guardrail"
	"github.com/harrison/autopilot/internal/healer"
	"github.com/harrison/autopilot/internal/history"
	"github.com/harrison/autopilot/internal/models"
	"github.com/harrison/autopilot/internal/ops"
	"github.com/harrison/autopilot/internal/planner"
	"github.com/harrison/autopilot/internal/quality"
)

// Logger receives task lifecycle events. Nil loggers are allowed.
type Logger interface {
	LogTaskStart(task models.TaskStatus)
	LogStepResult(taskID string, result models.StepExecutionResult)
	LogAssessment(taskID string, qa *models.QualityAssessment)
	LogTaskEnd(result models.GoalResult)
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// ReplanStrategy selects what happens after a retryable quality shortfall.
type ReplanStrategy string

const (
	// ReplanResume continues with the healed step-subset plan from Validating.
	ReplanResume ReplanStrategy = "resume"
	// ReplanFull discards the healed plan and plans the goal again from scratch.
	ReplanFull ReplanStrategy = "full"
)

// Valid reports whether s is a known strategy.
func (s ReplanStrategy) Valid() bool {
	return s == ReplanResume || s == ReplanFull
}

// Config holds engine settings.
type Config struct {
	MaxRetries                    int
	MaxConcurrentTasks            int
	RequireApprovalForDestructive bool
	ReplanStrategy                ReplanStrategy
	DispatchTimeout               time.Duration // 0 means no per-dispatch timeout
	Retention                     Retention
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:                    3,
		MaxConcurrentTasks:            1,
		RequireApprovalForDestructive: true,
		ReplanStrategy:                ReplanResume,
		Retention:                     DefaultRetention(),
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be >= 1, got %d", c.MaxConcurrentTasks)
	}
	if !c.ReplanStrategy.Valid() {
		return fmt.Errorf("replan_strategy must be %q or %q, got %q", ReplanResume, ReplanFull, c.ReplanStrategy)
	}
	if c.DispatchTimeout < 0 {
		return fmt.Errorf("target timeout must be >= 0, got %v", c.DispatchTimeout)
	}
	return nil
}

// ConfigureOptions changes selected settings at runtime. Nil fields are left unchanged.
type ConfigureOptions struct {
	MaxRetries                    *int
	MaxConcurrentTasks            *int
	RequireApprovalForDestructive *bool
	ReplanStrategy                *ReplanStrategy
}

// Options wires an engine. Executor is required; every other field has a default.
type Options struct {
	Executor ops.Executor
	Config   Config
	Planner  *planner.Planner
	Policy   *guardrail.Policy // RequireApprovalForDestructive is taken from Config
	Healer   *healer.Healer
	Assessor *quality.Assessor
	History  history.Store
	Lock     *filelock.TargetLock
	Logger   Logger
	Now      func() time.Time
	NewID    func() string
}

// taskEntry is an active task and its cancellation flag.
type taskEntry struct {
	task       *models.Task
	cancelled  bool
	running    bool           // Being driven by a caller, as opposed to parked awaiting approval
	initialCtx map[string]any // Caller context, restored by a full replan
}

// Engine owns every task for its lifetime.
type Engine struct {
	executor ops.Executor
	planner  *planner.Planner
	healer   *healer.Healer
	assessor *quality.Assessor
	history  history.Store
	lock     *filelock.TargetLock
	logger   Logger
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	cfg     Config
	policy  *guardrail.Policy
	active  map[string]*taskEntry
	results *resultStore
}

// New creates an engine. It returns an error for a missing executor or an invalid config.
func New(opts Options) (*Engine, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("operation executor is required")
	}

	cfg := opts.Config
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if cfg.ReplanStrategy == "" {
		cfg.ReplanStrategy = ReplanResume
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		executor: opts.Executor,
		planner:  opts.Planner,
		healer:   opts.Healer,
		assessor: opts.Assessor,
		history:  opts.History,
		lock:     opts.Lock,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
		cfg:      cfg,
		active:   make(map[string]*taskEntry),
		results:  newResultStore(cfg.Retention),
	}

	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = NewTaskID
	}
	if e.planner == nil {
		e.planner = planner.NewDefault()
	}
	if e.healer == nil {
		e.healer = healer.New(opts.Logger)
	}
	if e.assessor == nil {
		e.assessor = quality.WithClock(e.now)
	}
	if e.history == nil {
		e.history = history.NewMemoryStore(0)
	}
	if e.lock == nil {
		e.lock = filelock.NewTargetLock("")
	}

	policy := opts.Policy
	if policy == nil {
		var err error
		policy, err = guardrail.NewPolicy(guardrail.Config{})
		if err != nil {
			return nil, fmt.Errorf("build guardrail policy: %w", err)
		}
	}
	e.policy = policy.WithRequireApproval(cfg.RequireApprovalForDestructive)

	return e, nil
}

// NewTaskID returns a short opaque task identifier.
func NewTaskID() string {
	return uuid.New().String()[:8]
}

// Configure applies the non-nil options. Invalid values leave the configuration unchanged.
func (e *Engine) Configure(opts ConfigureOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.cfg
	if opts.MaxRetries != nil {
		next.MaxRetries = *opts.MaxRetries
	}
	if opts.MaxConcurrentTasks != nil {
		next.MaxConcurrentTasks = *opts.MaxConcurrentTasks
	}
	if opts.RequireApprovalForDestructive != nil {
		next.RequireApprovalForDestructive = *opts.RequireApprovalForDestructive
	}
	if opts.ReplanStrategy != nil {
		next.ReplanStrategy = *opts.ReplanStrategy
	}
	if err := next.Validate(); err != nil {
		return err
	}

	e.cfg = next
	e.policy = e.policy.WithRequireApproval(next.RequireApprovalForDestructive)
	return nil
}

// Configuration returns the current configuration.
func (e *Engine) Configuration() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Planner returns the goal planner.
func (e *Engine) Planner() *planner.Planner {
	return e.planner
}

// ListActiveTasks returns snapshots of active tasks, oldest first.
func (e *Engine) ListActiveTasks() []models.TaskStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	statuses := make([]models.TaskStatus, 0, len(e.active))
	for _, entry := range e.active {
		statuses = append(statuses, entry.task.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].CreatedAt.Equal(statuses[j].CreatedAt) {
			return statuses[i].ID < statuses[j].ID
		}
		return statuses[i].CreatedAt.Before(statuses[j].CreatedAt)
	})
	return statuses
}

// GetTaskResult returns the final result of a finished task.
// Cancelled tasks and tasks still active have none.
func (e *Engine) GetTaskResult(id string) (models.GoalResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results.get(id, e.now())
}

// CancelTask cancels an active task. The task leaves the active set at once;
// a running task stops before its next step. Returns false for unknown ids.
func (e *Engine) CancelTask(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.active[id]
	if !ok {
		return false
	}
	entry.cancelled = true
	entry.task.Finish(models.StateCancelled, e.now())
	delete(e.active, id)
	e.infof("Task %s cancelled", id)
	return true
}

// Statistics summarizes active and completed tasks and the last 24 hours of steps.
func (e *Engine) Statistics(ctx context.Context) models.Statistics {
	now := e.now()
	since := now.Add(-24 * time.Hour)

	e.mu.Lock()
	stats := models.Statistics{
		ActiveTasks:        len(e.active),
		CompletedTasks:     e.results.len(now),
		HistoryWindowStart: since,
	}
	e.mu.Unlock()

	steps, err := e.history.StepStats(ctx, since)
	if err != nil {
		e.warnf("Failed to read step history: %v", err)
		return stats
	}
	stats.StepsSucceeded24h = steps.Succeeded
	stats.StepsFailed24h = steps.Failed
	stats.MeanStepDuration = steps.MeanDuration
	return stats
}

// PreviewPlan plans the goal and validates the plan without executing anything.
func (e *Engine) PreviewPlan(goal string, goalCtx map[string]any) (*models.ExecutionPlan, models.ValidationResult) {
	plan := e.planner.CreatePlan(goal, goalCtx)
	if plan.IsEmpty() {
		return plan, models.ValidationResult{Valid: false, Reason: msgNoPlan}
	}
	return plan, e.currentPolicy().ValidatePlan(plan)
}

func (e *Engine) currentPolicy() *guardrail.Policy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.policy
}

func (e *Engine) currentConfig() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Engine) warnf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Warnf(format, args...)
	}
}

func (e *Engine) infof(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Infof(format, args...)
	}
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.logger != nil {
		e.logger.Debugf(format, args...)
	}
}
