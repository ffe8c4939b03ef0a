package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/autopilot/internal/engine"
	"github.com/harrison/autopilot/internal/guardrail"
)

// RetentionConfig bounds how many finished task results are kept in memory
type RetentionConfig struct {
	// MaxResults is the number of results kept before the oldest are evicted (0 = unbounded)
	MaxResults int `yaml:"max_results"`

	// TTL is how long a result is kept (0 = no expiry)
	TTL time.Duration `yaml:"-"`
}

// HistoryConfig represents the execution history store
type HistoryConfig struct {
	// Enabled records every step and task outcome in SQLite
	Enabled bool `yaml:"enabled"`

	// DBPath is the path to the history database
	DBPath string `yaml:"db_path"`

	// KeepDays is how many days `history clear` keeps (0 = clear everything)
	KeepDays int `yaml:"keep_days"`
}

// TargetConfig describes the host application the operations run against
type TargetConfig struct {
	// LockFile serializes dispatches across processes when set
	LockFile string `yaml:"lock_file"`

	// Timeout bounds a single dispatch (0 = no timeout)
	Timeout time.Duration `yaml:"-"`
}

// TemplatesConfig points at an extra goal catalog
type TemplatesConfig struct {
	// Path is a YAML or Markdown catalog whose templates take priority over the builtin ones
	Path string `yaml:"path"`
}

// GuardrailConfig extends the builtin operation profiles
type GuardrailConfig struct {
	// SafeOperations are name patterns that are always allowed
	SafeOperations []string `yaml:"safe_operations"`

	// DestructiveOperations are name patterns that need approval
	DestructiveOperations []string `yaml:"destructive_operations"`

	// BatchParams overrides which parameters count against the batch limit, per operation
	BatchParams map[string][]string `yaml:"batch_params"`
}

// BridgeConfig configures the external command executor
type BridgeConfig struct {
	// Command is the bridge executable; empty means the built-in sandbox is used
	Command string `yaml:"command"`

	// Args are passed to Command
	Args []string `yaml:"args"`
}

// Config represents autopilot configuration options
type Config struct {
	// MaxRetries is the number of quality-driven replans per task
	MaxRetries int `yaml:"max_retries"`

	// MaxConcurrentTasks is the number of tasks allowed to execute at once
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// RequireApprovalForDestructive parks destructive plans until approved
	RequireApprovalForDestructive bool `yaml:"require_approval_for_destructive"`

	// BatchLimit is the largest id array allowed without approval
	BatchLimit int `yaml:"batch_limit"`

	// ReplanStrategy is "resume" or "full"
	ReplanStrategy string `yaml:"replan_strategy"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs will be written
	LogDir string `yaml:"log_dir"`

	Retention RetentionConfig `yaml:"retention"`
	History   HistoryConfig   `yaml:"history"`
	Target    TargetConfig    `yaml:"target"`
	Templates TemplatesConfig `yaml:"templates"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	retention := engine.DefaultRetention()
	return &Config{
		MaxRetries:                    3,
		MaxConcurrentTasks:            1,
		RequireApprovalForDestructive: true,
		BatchLimit:                    guardrail.DefaultBatchLimit,
		ReplanStrategy:                string(engine.ReplanResume),
		LogLevel:                      "info",
		LogDir:                        ".autopilot/logs",
		Retention: RetentionConfig{
			MaxResults: retention.MaxResults,
			TTL:        retention.TTL,
		},
		History: HistoryConfig{
			Enabled:  true,
			DBPath:   ".autopilot/history.db",
			KeepDays: 30,
		},
	}
}

// yamlConfig mirrors Config with pointers so that keys present in the file
// override defaults even when set to a zero value
type yamlConfig struct {
	MaxRetries                    *int    `yaml:"max_retries"`
	MaxConcurrentTasks            *int    `yaml:"max_concurrent_tasks"`
	RequireApprovalForDestructive *bool   `yaml:"require_approval_for_destructive"`
	BatchLimit                    *int    `yaml:"batch_limit"`
	ReplanStrategy                *string `yaml:"replan_strategy"`
	LogLevel                      *string `yaml:"log_level"`
	LogDir                        *string `yaml:"log_dir"`
	Retention                     struct {
		MaxResults *int    `yaml:"max_results"`
		TTL        *string `yaml:"ttl"`
	} `yaml:"retention"`
	History struct {
		Enabled  *bool   `yaml:"enabled"`
		DBPath   *string `yaml:"db_path"`
		KeepDays *int    `yaml:"keep_days"`
	} `yaml:"history"`
	Target struct {
		LockFile *string `yaml:"lock_file"`
		Timeout  *string `yaml:"timeout"`
	} `yaml:"target"`
	Templates TemplatesConfig `yaml:"templates"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setInt(&cfg.MaxRetries, raw.MaxRetries)
	setInt(&cfg.MaxConcurrentTasks, raw.MaxConcurrentTasks)
	setBool(&cfg.RequireApprovalForDestructive, raw.RequireApprovalForDestructive)
	setInt(&cfg.BatchLimit, raw.BatchLimit)
	setString(&cfg.ReplanStrategy, raw.ReplanStrategy)
	setString(&cfg.LogLevel, raw.LogLevel)
	setString(&cfg.LogDir, raw.LogDir)

	setInt(&cfg.Retention.MaxResults, raw.Retention.MaxResults)
	if err := setDuration(&cfg.Retention.TTL, raw.Retention.TTL, "retention.ttl"); err != nil {
		return nil, err
	}

	setBool(&cfg.History.Enabled, raw.History.Enabled)
	setString(&cfg.History.DBPath, raw.History.DBPath)
	setInt(&cfg.History.KeepDays, raw.History.KeepDays)

	setString(&cfg.Target.LockFile, raw.Target.LockFile)
	if err := setDuration(&cfg.Target.Timeout, raw.Target.Timeout, "target.timeout"); err != nil {
		return nil, err
	}

	if raw.Templates.Path != "" {
		cfg.Templates = raw.Templates
	}
	cfg.Guardrail = raw.Guardrail
	if raw.Bridge.Command != "" {
		cfg.Bridge = raw.Bridge
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .autopilot/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ".autopilot", "config.yaml")
	return LoadConfig(configPath)
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(logLevel *string, logDir *string, maxRetries *int, replanStrategy *string, timeout *time.Duration) {
	setString(&c.LogLevel, logLevel)
	setString(&c.LogDir, logDir)
	setInt(&c.MaxRetries, maxRetries)
	setString(&c.ReplanStrategy, replanStrategy)
	if timeout != nil {
		c.Target.Timeout = *timeout
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.BatchLimit < 0 {
		return fmt.Errorf("batch_limit must be >= 0, got %d", c.BatchLimit)
	}
	if c.Retention.MaxResults < 0 {
		return fmt.Errorf("retention.max_results must be >= 0, got %d", c.Retention.MaxResults)
	}
	if c.Retention.TTL < 0 {
		return fmt.Errorf("retention.ttl must be >= 0, got %v", c.Retention.TTL)
	}

	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path cannot be empty when history is enabled")
	}
	if c.History.KeepDays < 0 {
		return fmt.Errorf("history.keep_days must be >= 0, got %d", c.History.KeepDays)
	}

	if err := c.Engine().Validate(); err != nil {
		return err
	}
	if _, err := guardrail.NewPolicy(c.Policy()); err != nil {
		return fmt.Errorf("invalid guardrail configuration: %w", err)
	}
	return nil
}

// Engine returns the engine settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		MaxRetries:                    c.MaxRetries,
		MaxConcurrentTasks:            c.MaxConcurrentTasks,
		RequireApprovalForDestructive: c.RequireApprovalForDestructive,
		ReplanStrategy:                engine.ReplanStrategy(c.ReplanStrategy),
		DispatchTimeout:               c.Target.Timeout,
		Retention: engine.Retention{
			MaxResults: c.Retention.MaxResults,
			TTL:        c.Retention.TTL,
		},
	}
}

// Policy returns the guardrail settings.
func (c *Config) Policy() guardrail.Config {
	return guardrail.Config{
		RequireApprovalForDestructive: c.RequireApprovalForDestructive,
		BatchLimit:                    c.BatchLimit,
		Profiles:                      guardrail.ProfilesFrom(c.Guardrail.SafeOperations, c.Guardrail.DestructiveOperations),
		BatchParams:                   c.Guardrail.BatchParams,
	}
}

// HistoryCutoff returns the time before which `history clear` deletes records.
func (c *Config) HistoryCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.History.KeepDays)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s format %q: %w", key, *v, err)
	}
	*dst = d
	return nil
}
