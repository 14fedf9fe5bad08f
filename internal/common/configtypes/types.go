// Package configtypes holds the typed configuration for the revalidation
// daemon, parsed from YAML and validated at load time.
package configtypes

import (
	"fmt"
	"time"

	"github.com/driftcms/revalidator/pkg/types"
)

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log output formats
const (
	LogFormatConsole = "console"
	LogFormatText    = "text"
	LogFormatJSON    = "json"
)

// Compression algorithms for stored history log blobs
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// RevalidatorConfig is the root configuration for the revalidate-daemon service
type RevalidatorConfig struct {
	DaemonID  string          `yaml:"daemon_id"`  // Unique identifier for this daemon instance
	Redis     RedisConfig     `yaml:"redis"`      // Redis connection configuration
	HTTPApi   HTTPApiConfig   `yaml:"http_api"`   // Admin HTTP API configuration
	Runner    RunnerConfig    `yaml:"runner"`     // Job runner behavior
	History   HistoryConfig   `yaml:"history"`    // Run history retention
	Scheduler SchedulerConfig `yaml:"scheduler"`  // Recurring schedule execution
	Logging   LogConfig       `yaml:"logging"`    // Logging configuration
	Metrics   MetricsConfig   `yaml:"metrics"`    // Metrics configuration
}

// RedisConfig defines the Redis connection settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// HTTPApiConfig defines the admin API server configuration
type HTTPApiConfig struct {
	Enabled             bool           `yaml:"enabled"`
	Listen              string         `yaml:"listen"`                // Listen address (e.g., ":10440")
	RequestTimeout      types.Duration `yaml:"request_timeout"`       // Timeout for incoming API requests
	AuthKey             string         `yaml:"auth_key"`              // Shared key checked in X-Internal-Auth
	SchedulerControlAPI bool           `yaml:"scheduler_control_api"` // Enable scheduler pause/resume API (for testing)
}

// RunnerConfig defines job execution behavior
type RunnerConfig struct {
	MaxConcurrentJobs int            `yaml:"max_concurrent_jobs"` // Upper bound on jobs executing at once
	StepDelay         types.Duration `yaml:"step_delay"`          // Artificial pacing between steps (0 in production)
	WarmConcurrency   int            `yaml:"warm_concurrency"`    // Parallel warm fetches per job
	WarmTimeout       types.Duration `yaml:"warm_timeout"`        // Timeout per warm fetch
	WarmBaseURL       string         `yaml:"warm_base_url"`       // Origin prefix for warm fetches (e.g., https://www.example.com)
	CDNPurgeURL       string         `yaml:"cdn_purge_url"`       // Optional CDN purge endpoint; empty disables purge calls
	JobStatusTTL      types.Duration `yaml:"job_status_ttl"`      // How long finished job status stays readable
}

// HistoryConfig defines run history retention
type HistoryConfig struct {
	MaxEntries  int    `yaml:"max_entries"` // Oldest runs beyond this are trimmed
	Compression string `yaml:"compression"` // Log blob compression: none, snappy, lz4
}

// SchedulerConfig defines the recurring schedule execution loop
type SchedulerConfig struct {
	TickInterval    types.Duration `yaml:"tick_interval"`    // How often due schedules are checked (min: 100ms)
	AllowProduction bool           `yaml:"allow_production"` // Permit schedules targeting production (default false)
}

// LogConfig defines logging outputs and levels
type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

// ConsoleLogConfig defines stdout logging
type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

// FileLogConfig defines file logging with rotation
type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig defines log file rotation limits (lumberjack)
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

// MetricsConfig defines the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Validate validates the daemon configuration
func (c *RevalidatorConfig) Validate() error {
	if c == nil {
		return nil
	}

	if c.DaemonID == "" {
		return fmt.Errorf("daemon_id must be specified")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be specified")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
	}

	if c.HTTPApi.Enabled {
		if c.HTTPApi.Listen == "" {
			return fmt.Errorf("http_api.listen must be specified when enabled")
		}
		if err := ValidateListenAddress(c.HTTPApi.Listen); err != nil {
			return fmt.Errorf("invalid http_api.listen: %w", err)
		}
		if time.Duration(c.HTTPApi.RequestTimeout) <= 0 {
			return fmt.Errorf("http_api.request_timeout must be > 0 when http_api is enabled")
		}
		if c.HTTPApi.AuthKey == "" {
			return fmt.Errorf("http_api.auth_key must be specified when http_api is enabled")
		}
	}

	if c.Runner.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("runner.max_concurrent_jobs must be > 0, got %d", c.Runner.MaxConcurrentJobs)
	}
	if c.Runner.WarmConcurrency <= 0 {
		return fmt.Errorf("runner.warm_concurrency must be > 0, got %d", c.Runner.WarmConcurrency)
	}
	if time.Duration(c.Runner.JobStatusTTL) <= 0 {
		return fmt.Errorf("runner.job_status_ttl must be > 0")
	}

	if c.History.MaxEntries <= 0 {
		return fmt.Errorf("history.max_entries must be > 0, got %d", c.History.MaxEntries)
	}
	switch c.History.Compression {
	case CompressionNone, CompressionSnappy, CompressionLZ4:
	default:
		return fmt.Errorf("history.compression must be one of none, snappy, lz4, got %q", c.History.Compression)
	}

	// Allow faster ticks for tests but reject accidental sub-100ms loops
	tickInterval := time.Duration(c.Scheduler.TickInterval)
	if tickInterval < 100*time.Millisecond {
		return fmt.Errorf("scheduler.tick_interval must be >= 100ms, got %v", tickInterval)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return fmt.Errorf("metrics.listen must be specified when enabled")
		}
		if err := ValidateListenAddress(c.Metrics.Listen); err != nil {
			return fmt.Errorf("invalid metrics.listen: %w", err)
		}
		if c.HTTPApi.Enabled {
			apiPort, err := GetPortFromListen(c.HTTPApi.Listen)
			if err != nil {
				return fmt.Errorf("invalid http_api.listen: %w", err)
			}
			metricsPort, err := GetPortFromListen(c.Metrics.Listen)
			if err != nil {
				return fmt.Errorf("invalid metrics.listen: %w", err)
			}
			if apiPort == metricsPort {
				return fmt.Errorf("metrics.listen port %d conflicts with http_api.listen", metricsPort)
			}
		}
	}

	return nil
}
