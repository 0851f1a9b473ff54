// Package config loads engine configuration from .foreman/config.yaml,
// merging file values over built-in defaults. A missing file is not an
// error; a malformed one is.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyConfig holds the workspace sandbox globs.
type PolicyConfig struct {
	// Allow lists path globs the engine may write; empty means everything
	// inside the workspace root.
	Allow []string `yaml:"allow"`

	// Deny lists path globs that are always rejected. The built-in deny
	// set (.git, lock files, engine state) applies on top of these.
	Deny []string `yaml:"deny"`
}

// HistoryConfig controls the optional execution-history database.
type HistoryConfig struct {
	// Enabled turns history recording on.
	Enabled bool `yaml:"enabled"`

	// DBPath is the SQLite database path, relative to the workspace root.
	DBPath string `yaml:"db_path"`

	// FailureContext is how many recent failures to feed into prompts.
	FailureContext int `yaml:"failure_context"`
}

// Config holds every tunable of the execution engine.
type Config struct {
	// MaxConcurrency caps parallel step execution within a wave (0 = serial).
	MaxConcurrency int `yaml:"max_concurrency"`

	// StepTimeout is the per-attempt inference deadline.
	StepTimeout time.Duration `yaml:"step_timeout"`

	// RetryCeiling bounds attempts per step: at most RetryCeiling+1 in total.
	RetryCeiling int `yaml:"retry_ceiling"`

	// MaxRefinements bounds plan refinement rounds after the first draft.
	MaxRefinements int `yaml:"max_refinements"`

	// MinPlanScore is the validation score at which refinement stops early.
	MinPlanScore float64 `yaml:"min_plan_score"`

	// MaxReplans bounds full replan cycles after a critical health verdict.
	MaxReplans int `yaml:"max_replans"`

	// MonitorFloor is the step success rate below which health degrades.
	MonitorFloor float64 `yaml:"monitor_floor"`

	// LogLevel sets verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogDir receives the rotating engine log; empty disables file logging.
	LogDir string `yaml:"log_dir"`

	// DryRun validates and plans without touching the workspace.
	DryRun bool `yaml:"dry_run"`

	// CueTablePath overrides the embedded classifier cue table.
	CueTablePath string `yaml:"cue_table_path"`

	// CapabilityTablePath overrides the embedded model capability table.
	CapabilityTablePath string `yaml:"capability_table_path"`

	// Workers maps model ids to the command lines that serve them.
	Workers map[string][]string `yaml:"workers"`

	Policy  PolicyConfig  `yaml:"policy"`
	History HistoryConfig `yaml:"history"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency: 4,
		StepTimeout:    2 * time.Minute,
		RetryCeiling:   2,
		MaxRefinements: 2,
		MinPlanScore:   0.6,
		MaxReplans:     1,
		MonitorFloor:   0.5,
		LogLevel:       "info",
		LogDir:         ".foreman/logs",
		History: HistoryConfig{
			Enabled:        true,
			DBPath:         ".foreman/history.db",
			FailureContext: 3,
		},
	}
}

// LoadConfig loads configuration from path, merging over defaults. A missing
// file returns the defaults without error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Durations arrive as strings, so unmarshal into a wire struct first.
	type yamlConfig struct {
		MaxConcurrency      *int                `yaml:"max_concurrency"`
		StepTimeout         string              `yaml:"step_timeout"`
		RetryCeiling        *int                `yaml:"retry_ceiling"`
		MaxRefinements      *int                `yaml:"max_refinements"`
		MinPlanScore        *float64            `yaml:"min_plan_score"`
		MaxReplans          *int                `yaml:"max_replans"`
		MonitorFloor        *float64            `yaml:"monitor_floor"`
		LogLevel            string              `yaml:"log_level"`
		LogDir              *string             `yaml:"log_dir"`
		DryRun              *bool               `yaml:"dry_run"`
		CueTablePath        string              `yaml:"cue_table_path"`
		CapabilityTablePath string              `yaml:"capability_table_path"`
		Workers             map[string][]string `yaml:"workers"`
		Policy              *PolicyConfig       `yaml:"policy"`
		History             *HistoryConfig      `yaml:"history"`
	}

	var wire yamlConfig
	if err := yaml.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if wire.MaxConcurrency != nil {
		cfg.MaxConcurrency = *wire.MaxConcurrency
	}
	if wire.StepTimeout != "" {
		d, err := time.ParseDuration(wire.StepTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid step_timeout %q: %w", wire.StepTimeout, err)
		}
		cfg.StepTimeout = d
	}
	if wire.RetryCeiling != nil {
		cfg.RetryCeiling = *wire.RetryCeiling
	}
	if wire.MaxRefinements != nil {
		cfg.MaxRefinements = *wire.MaxRefinements
	}
	if wire.MinPlanScore != nil {
		cfg.MinPlanScore = *wire.MinPlanScore
	}
	if wire.MaxReplans != nil {
		cfg.MaxReplans = *wire.MaxReplans
	}
	if wire.MonitorFloor != nil {
		cfg.MonitorFloor = *wire.MonitorFloor
	}
	if wire.LogLevel != "" {
		cfg.LogLevel = wire.LogLevel
	}
	if wire.LogDir != nil {
		cfg.LogDir = *wire.LogDir
	}
	if wire.DryRun != nil {
		cfg.DryRun = *wire.DryRun
	}
	if wire.CueTablePath != "" {
		cfg.CueTablePath = wire.CueTablePath
	}
	if wire.CapabilityTablePath != "" {
		cfg.CapabilityTablePath = wire.CapabilityTablePath
	}
	if wire.Workers != nil {
		cfg.Workers = wire.Workers
	}
	if wire.Policy != nil {
		cfg.Policy = *wire.Policy
	}
	if wire.History != nil {
		cfg.History = *wire.History
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromDir loads .foreman/config.yaml from the given workspace root.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".foreman", "config.yaml"))
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.RetryCeiling < 0 {
		return fmt.Errorf("retry_ceiling must be >= 0, got %d", c.RetryCeiling)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be >= 0, got %d", c.MaxConcurrency)
	}
	if c.MinPlanScore < 0 || c.MinPlanScore > 1 {
		return fmt.Errorf("min_plan_score must be in [0,1], got %v", c.MinPlanScore)
	}
	if c.MonitorFloor < 0 || c.MonitorFloor > 1 {
		return fmt.Errorf("monitor_floor must be in [0,1], got %v", c.MonitorFloor)
	}
	if c.MaxReplans < 0 || c.MaxRefinements < 0 {
		return fmt.Errorf("replan and refinement bounds must be >= 0")
	}
	return nil
}
