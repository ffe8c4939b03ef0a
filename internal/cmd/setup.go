package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/harrison/autopilot/internal/bridge"
	"github.com/harrison/autopilot/internal/config"
	"github.com/harrison/autopilot/internal/engine"
	"github.com/harrison/autopilot/internal/filelock"
	"github.com/harrison/autopilot/internal/guardrail"
	"github.com/harrison/autopilot/internal/history"
	"github.com/harrison/autopilot/internal/logger"
	"github.com/harrison/autopilot/internal/models"
	"github.com/harrison/autopilot/internal/ops"
	"github.com/harrison/autopilot/internal/planner"
)

// ExitError carries a process exit code other than 1.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode returns the exit code for an error returned by a command.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// overrides are the engine-related flags a command exposes.
type overrides struct {
	maxRetries     *int
	replanStrategy *string
	timeout        *time.Duration
}

// loadConfig loads the config named by --config, or .autopilot/config.yaml,
// merges the changed flags and validates the result.
func loadConfig(cmd *cobra.Command, o overrides) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	var logLevelPtr, logDirPtr *string
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &v
	}
	if cmd.Flags().Changed("log-dir") {
		v, _ := cmd.Flags().GetString("log-dir")
		logDirPtr = &v
	}

	cfg.MergeWithFlags(logLevelPtr, logDirPtr, o.maxRetries, o.replanStrategy, o.timeout)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseContext turns repeated key=value flags into a goal context. Values are
// decoded as YAML scalars or flow collections, so "limit=5" gives an int and
// "ids=[1,2]" gives a list.
func parseContext(pairs []string) (map[string]any, error) {
	goalCtx := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context %q: expected key=value", pair)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		goalCtx[key] = value
	}
	return goalCtx, nil
}

// executorOptions selects the operation executor.
type executorOptions struct {
	sandbox   bool
	modelPath string
}

// newExecutor returns the bridge command executor, or the sandbox when
// requested or when no bridge command is configured.
func newExecutor(cfg *config.Config, opts executorOptions) (ops.Executor, error) {
	if !opts.sandbox && opts.modelPath == "" && cfg.Bridge.Command != "" {
		return bridge.NewCommandExecutor(cfg.Bridge.Command, cfg.Bridge.Args...), nil
	}

	model := bridge.DefaultModel()
	if opts.modelPath != "" {
		var err error
		model, err = bridge.LoadModel(opts.modelPath)
		if err != nil {
			return nil, err
		}
	}
	return bridge.NewSandbox(model), nil
}

// newPlanner returns the builtin planner with the configured catalog in front.
func newPlanner(cfg *config.Config) (*planner.Planner, error) {
	p := planner.NewDefault()
	if cfg.Templates.Path == "" {
		return p, nil
	}
	templates, err := planner.LoadCatalog(cfg.Templates.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	p.Prepend(templates...)
	return p, nil
}

// openHistory opens the SQLite history store, resolving relative paths
// against the autopilot home.
func openHistory(cfg *config.Config) (*history.SQLiteStore, error) {
	if !cfg.History.Enabled {
		return nil, fmt.Errorf("history is disabled in configuration")
	}
	home, err := config.GetAutopilotHome()
	if err != nil {
		return nil, err
	}
	store, err := history.NewSQLiteStore(config.ResolvePath(home, cfg.History.DBPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// session is an engine and the resources it holds.
type session struct {
	engine  *engine.Engine
	fileLog *logger.FileLogger
	closers []func() error
}

// Close releases the history store and the file logger.
func (r *session) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newSession wires an engine from cfg. With withLogs set, task events go to
// the console on stderr and to a run log under the configured log directory.
func newSession(cmd *cobra.Command, cfg *config.Config, opts executorOptions, withLogs bool) (*session, error) {
	rt := &session{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	executor, err := newExecutor(cfg, opts)
	if err != nil {
		return nil, err
	}
	p, err := newPlanner(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := guardrail.NewPolicy(cfg.Policy())
	if err != nil {
		return nil, fmt.Errorf("invalid guardrail configuration: %w", err)
	}

	engineOpts := engine.Options{
		Executor: executor,
		Config:   cfg.Engine(),
		Planner:  p,
		Policy:   policy,
		Lock:     filelock.NewTargetLock(cfg.Target.LockFile),
	}

	if withLogs && cfg.History.Enabled {
		store, err := openHistory(cfg)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		engineOpts.History = store
	}

	if withLogs {
		consoleLog := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
		fileLog, err := logger.NewFileLoggerWithDirAndLevel(cfg.LogDir, cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create file logger: %w", err)
		}
		rt.fileLog = fileLog
		rt.closers = append(rt.closers, fileLog.Close)
		engineOpts.Logger = &multiLogger{loggers: []engine.Logger{consoleLog, fileLog}}
	}

	rt.engine, err = engine.New(engineOpts)
	if err != nil {
		return nil, err
	}
	ok = true
	return rt, nil
}

// multiLogger implements engine.Logger by delegating to multiple loggers
type multiLogger struct {
	loggers []engine.Logger
}

// LogTaskStart forwards to all loggers
func (ml *multiLogger) LogTaskStart(task models.TaskStatus) {
	for _, l := range ml.loggers {
		l.LogTaskStart(task)
	}
}

// LogStepResult forwards to all loggers
func (ml *multiLogger) LogStepResult(taskID string, result models.StepExecutionResult) {
	for _, l := range ml.loggers {
		l.LogStepResult(taskID, result)
	}
}

// LogAssessment forwards to all loggers
func (ml *multiLogger) LogAssessment(taskID string, qa *models.QualityAssessment) {
	for _, l := range ml.loggers {
		l.LogAssessment(taskID, qa)
	}
}

// LogTaskEnd forwards to all loggers
func (ml *multiLogger) LogTaskEnd(result models.GoalResult) {
	for _, l := range ml.loggers {
		l.LogTaskEnd(result)
	}
}

// Warnf forwards to all loggers
func (ml *multiLogger) Warnf(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Warnf(format, args...)
	}
}

// Infof forwards to all loggers
func (ml *multiLogger) Infof(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Infof(format, args...)
	}
}

// Debugf forwards to all loggers
func (ml *multiLogger) Debugf(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.Debugf(format, args...)
	}
}
