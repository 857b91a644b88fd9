package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/errors"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Worker        WorkerConfig        `toml:"worker"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Web           WebConfig           `toml:"web"`
	Notifications NotificationsConfig `toml:"notifications"`
	Logging       LoggingConfig       `toml:"logging"`
}

// GeneralConfig holds storage locations
type GeneralConfig struct {
	DataDir      string `toml:"data_dir"`
	JobsPath     string `toml:"jobs_path"`
	DatabasePath string `toml:"database_path"`
	// Timezone is an IANA name used to read the wall clock. Empty means local time.
	Timezone string `toml:"timezone"`
}

// WorkerConfig describes how the booking worker is started
type WorkerConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Dir     string   `toml:"dir"`
	// SuccessMarker is the stdout substring that proves a booking was made
	SuccessMarker  string   `toml:"success_marker"`
	DryRunArg      string   `toml:"dry_run_arg"`
	PayloadEnv     string   `toml:"payload_env"`
	TerminateGrace Duration `toml:"terminate_grace"`
}

// SchedulerConfig holds ticker settings
type SchedulerConfig struct {
	Enabled    bool     `toml:"enabled"`
	Interval   Duration `toml:"interval"`
	RunOnStart bool     `toml:"run_on_start"`
}

// WebConfig holds HTTP server settings
type WebConfig struct {
	Port      int    `toml:"port"`
	Host      string `toml:"host"`
	StaticDir string `toml:"static_dir"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	JSON  bool   `toml:"json"`
	Level string `toml:"level"`
}

// Duration is a time.Duration written as "5s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	cfg := &Config{
		General: GeneralConfig{
			DataDir: filepath.Join(home, ".court-orch"),
		},
		Worker: WorkerConfig{
			Command:        "node",
			Args:           []string{"index.js", "--no-close"},
			SuccessMarker:  "RESERVATION SUCCESS",
			DryRunArg:      "--dry-run",
			PayloadEnv:     "BOOKING_CONFIG",
			TerminateGrace: Duration{5 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			Interval:   Duration{5 * time.Second},
			RunOnStart: true,
		},
		Web: WebConfig{
			Port: 3001,
			Host: "127.0.0.1",
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
	cfg.resolvePaths()
	return cfg
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	// Derived paths are recomputed after decoding so a custom data_dir moves them too.
	cfg.General.JobsPath = ""
	cfg.General.DatabasePath = ""

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.JobsPath = ExpandPath(cfg.General.JobsPath)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Worker.Dir = ExpandPath(cfg.Worker.Dir)
	cfg.Web.StaticDir = ExpandPath(cfg.Web.StaticDir)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths() {
	if c.General.JobsPath == "" {
		c.General.JobsPath = filepath.Join(c.General.DataDir, "reservations.json")
	}
	if c.General.DatabasePath == "" {
		c.General.DatabasePath = filepath.Join(c.General.DataDir, "runs.db")
	}
}

// Validate checks settings that would otherwise fail at run time
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Worker.Command) == "" {
		return errors.NewValidationError("worker.command must be set")
	}
	if c.Worker.SuccessMarker == "" {
		return errors.NewValidationError("worker.success_marker must be set")
	}
	if c.Scheduler.Interval.Duration <= 0 {
		return errors.NewValidationError("scheduler.interval must be positive")
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return errors.NewValidationError("web.port %d out of range", c.Web.Port)
	}
	if _, err := c.Location(); err != nil {
		return errors.NewValidationError("general.timezone %q: %v", c.General.Timezone, err)
	}
	return nil
}

// Location returns the time zone used for scheduling
func (c *Config) Location() (*time.Location, error) {
	if c.General.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.General.Timezone)
}

// RunsDir is where per-run worker payload files are written
func (c *Config) RunsDir() string {
	return filepath.Join(c.General.DataDir, "runs")
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "court-orch", "config.toml")
}
