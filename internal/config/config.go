package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ControllerConfig struct {
	Addr     string `yaml:"addr"`
	DBPath   string `yaml:"db_path"`
	SeedPath string `yaml:"seed_path"`
	CertPath string `yaml:"cert_path"`
	KeyPath  string `yaml:"key_path"`

	// APIToken guards the mutating routes. Empty leaves them open.
	APIToken  string          `yaml:"api_token"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// SchedulerConfig controls the periodic passes. It is passed to the
// scheduler explicitly; nothing reads it from package state.
type SchedulerConfig struct {
	Enabled              bool          `yaml:"enabled"`
	PriorityInterval     time.Duration `yaml:"priority_interval"`
	AssignInterval       time.Duration `yaml:"assign_interval"`
	DeadlineInterval     time.Duration `yaml:"deadline_interval"`
	CompletionInterval   time.Duration `yaml:"completion_interval"`
	TimeWindowInterval   time.Duration `yaml:"time_window_interval"`
	CompletionGrace      time.Duration `yaml:"completion_grace"`
	PendingLimit         int           `yaml:"pending_limit"`
	CycleAlertAfter      int           `yaml:"cycle_alert_after"`
	ScoreChangeThreshold float64       `yaml:"score_change_threshold"`

	// Timezone in which printer time windows are read. Empty means local.
	Timezone string `yaml:"timezone"`
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:              true,
		PriorityInterval:     15 * time.Minute,
		AssignInterval:       60 * time.Second,
		DeadlineInterval:     time.Hour,
		CompletionInterval:   30 * time.Second,
		TimeWindowInterval:   15 * time.Minute,
		CompletionGrace:      5 * time.Minute,
		PendingLimit:         50,
		CycleAlertAfter:      3,
		ScoreChangeThreshold: 0.5,
	}
}

// WithDefaults fills zero or negative values from DefaultSchedulerConfig.
// Enabled is left as is.
func (c SchedulerConfig) WithDefaults() SchedulerConfig {
	d := DefaultSchedulerConfig()
	if c.PriorityInterval <= 0 {
		c.PriorityInterval = d.PriorityInterval
	}
	if c.AssignInterval <= 0 {
		c.AssignInterval = d.AssignInterval
	}
	if c.DeadlineInterval <= 0 {
		c.DeadlineInterval = d.DeadlineInterval
	}
	if c.CompletionInterval <= 0 {
		c.CompletionInterval = d.CompletionInterval
	}
	if c.TimeWindowInterval <= 0 {
		c.TimeWindowInterval = d.TimeWindowInterval
	}
	if c.CompletionGrace <= 0 {
		c.CompletionGrace = d.CompletionGrace
	}
	if c.PendingLimit <= 0 {
		c.PendingLimit = d.PendingLimit
	}
	if c.CycleAlertAfter <= 0 {
		c.CycleAlertAfter = d.CycleAlertAfter
	}
	if c.ScoreChangeThreshold <= 0 {
		c.ScoreChangeThreshold = d.ScoreChangeThreshold
	}
	return c
}

// Location resolves Timezone, falling back to the local zone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Addr:      ":8090",
		DBPath:    "farmd.db",
		Scheduler: DefaultSchedulerConfig(),
	}
}

// LoadControllerConfig decodes path over the defaults, so keys absent from
// the file keep their default value.
func LoadControllerConfig(path string) (*ControllerConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := DefaultControllerConfig()
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.Scheduler = cfg.Scheduler.WithDefaults()
	return &cfg, nil
}
