// Package config handles loading and saving tw configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/tw/config.yaml
//   - Data:    ~/.local/share/tw/ (job archive database)
//   - State:   ~/.local/state/tw/ (performance report files)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MetricsConfig controls the performance aggregator.
type MetricsConfig struct {
	FreezeThresholdMs int    `yaml:"freeze_threshold_ms,omitempty"` // Minimum UI stall to count (default 500)
	ReportIntervalSec int    `yaml:"report_interval_sec,omitempty"` // Window length (default 300)
	ReportDir         string `yaml:"report_dir,omitempty"`          // Where performance_*.log files go
}

// FreezeThreshold returns the freeze threshold as a duration.
func (m MetricsConfig) FreezeThreshold() time.Duration {
	return time.Duration(m.FreezeThresholdMs) * time.Millisecond
}

// ReportInterval returns the window length as a duration.
func (m MetricsConfig) ReportInterval() time.Duration {
	return time.Duration(m.ReportIntervalSec) * time.Second
}

// ResolvedReportDir returns the report directory with ~ expanded, falling
// back to the XDG state directory.
func (m MetricsConfig) ResolvedReportDir() string {
	if m.ReportDir != "" {
		return expandHome(m.ReportDir)
	}
	return StateDir()
}

// RunnerConfig controls the background task runner queues.
type RunnerConfig struct {
	Workers      int `yaml:"workers,omitempty"`       // Worker goroutines (default 1)
	QueueSize    int `yaml:"queue_size,omitempty"`    // Pending task capacity (default 256)
	ResultBuffer int `yaml:"result_buffer,omitempty"` // Undrained result capacity (default 1024)
}

// UIConfig holds UI preference settings.
type UIConfig struct {
	PollActiveMs  int  `yaml:"poll_active_ms,omitempty"` // Result poll cadence while work is landing (default 100)
	PollIdleMs    int  `yaml:"poll_idle_ms,omitempty"`   // Result poll cadence when quiet (default 500)
	ChunkSize     int  `yaml:"chunk_size,omitempty"`     // Items per bulk-operation step (default 50)
	CompactHeader bool `yaml:"compact_header,omitempty"` // Single-line header mode
}

// PollActive returns the busy poll cadence as a duration.
func (u UIConfig) PollActive() time.Duration {
	return time.Duration(u.PollActiveMs) * time.Millisecond
}

// PollIdle returns the quiet poll cadence as a duration.
func (u UIConfig) PollIdle() time.Duration {
	return time.Duration(u.PollIdleMs) * time.Millisecond
}

// DatabaseConfig points at the job archive store.
type DatabaseConfig struct {
	Path     string `yaml:"path,omitempty"`      // SQLite file; empty means DataDir()/jobs.db
	SeedJobs int    `yaml:"seed_jobs,omitempty"` // Rows seeded into an empty database (default 500)
}

// ResolvedPath returns the database path with ~ expanded, falling back to
// the XDG data directory.
func (d DatabaseConfig) ResolvedPath() string {
	if d.Path != "" {
		return expandHome(d.Path)
	}
	return filepath.Join(DataDir(), "jobs.db")
}

// Config is the top-level configuration for tw.
type Config struct {
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	Runner   RunnerConfig   `yaml:"runner,omitempty"`
	UI       UIConfig       `yaml:"ui,omitempty"`
	Database DatabaseConfig `yaml:"database,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Metrics: MetricsConfig{
			FreezeThresholdMs: 500,
			ReportIntervalSec: 300,
		},
		Runner: RunnerConfig{
			Workers:      1,
			QueueSize:    256,
			ResultBuffer: 1024,
		},
		UI: UIConfig{
			PollActiveMs: 100,
			PollIdleMs:   500,
			ChunkSize:    50,
		},
		Database: DatabaseConfig{
			SeedJobs: 500,
		},
	}
}

// ConfigDir returns the XDG config directory for tw.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "tw")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tw")
}

// DataDir returns the XDG data directory for tw.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tw")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "tw")
}

// StateDir returns the XDG state directory for tw.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "tw")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "tw")
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the config file from the XDG config directory.
// Returns DefaultConfig if the file doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path.
// Returns DefaultConfig if the file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// normalize replaces non-positive numeric settings with their defaults so
// a hand-edited file cannot wedge the timers or queues.
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.Metrics.FreezeThresholdMs <= 0 {
		c.Metrics.FreezeThresholdMs = def.Metrics.FreezeThresholdMs
	}
	if c.Metrics.ReportIntervalSec <= 0 {
		c.Metrics.ReportIntervalSec = def.Metrics.ReportIntervalSec
	}
	if c.Runner.Workers <= 0 {
		c.Runner.Workers = def.Runner.Workers
	}
	if c.Runner.QueueSize <= 0 {
		c.Runner.QueueSize = def.Runner.QueueSize
	}
	if c.Runner.ResultBuffer <= 0 {
		c.Runner.ResultBuffer = def.Runner.ResultBuffer
	}
	if c.UI.PollActiveMs <= 0 {
		c.UI.PollActiveMs = def.UI.PollActiveMs
	}
	if c.UI.PollIdleMs <= 0 {
		c.UI.PollIdleMs = def.UI.PollIdleMs
	}
	if c.UI.ChunkSize <= 0 {
		c.UI.ChunkSize = def.UI.ChunkSize
	}
	if c.Database.SeedJobs <= 0 {
		c.Database.SeedJobs = def.Database.SeedJobs
	}
}

// ApplyEnv overlays TW_* environment overrides on top of the loaded
// config. Invalid values are ignored.
func (c *Config) ApplyEnv() {
	c.Metrics.FreezeThresholdMs = envPositiveIntOr("TW_FREEZE_THRESHOLD_MS", c.Metrics.FreezeThresholdMs)
	c.Metrics.ReportIntervalSec = envPositiveIntOr("TW_REPORT_INTERVAL_SEC", c.Metrics.ReportIntervalSec)
	if v := strings.TrimSpace(os.Getenv("TW_REPORT_DIR")); v != "" {
		c.Metrics.ReportDir = v
	}
	c.Runner.Workers = envPositiveIntOr("TW_WORKERS", c.Runner.Workers)
	c.Runner.QueueSize = envPositiveIntOr("TW_QUEUE_SIZE", c.Runner.QueueSize)
	c.Runner.ResultBuffer = envPositiveIntOr("TW_RESULT_BUFFER", c.Runner.ResultBuffer)
	c.UI.PollActiveMs = envPositiveIntOr("TW_POLL_ACTIVE_MS", c.UI.PollActiveMs)
	c.UI.PollIdleMs = envPositiveIntOr("TW_POLL_IDLE_MS", c.UI.PollIdleMs)
	c.UI.ChunkSize = envPositiveIntOr("TW_CHUNK_SIZE", c.UI.ChunkSize)
	if envBool("TW_COMPACT_HEADER") {
		c.UI.CompactHeader = true
	}
	if v := strings.TrimSpace(os.Getenv("TW_DB_PATH")); v != "" {
		c.Database.Path = v
	}
	c.Database.SeedJobs = envPositiveIntOr("TW_SEED_JOBS", c.Database.SeedJobs)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
