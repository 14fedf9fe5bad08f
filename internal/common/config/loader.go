// Package config loads and validates the daemon configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/configtypes"
	"github.com/driftcms/revalidator/internal/common/yamlutil"
	"github.com/driftcms/revalidator/pkg/types"
)

// applyDefaults fills in defaults for optional settings after a successful parse
func applyDefaults(config *configtypes.RevalidatorConfig) {
	// If both log outputs are disabled (zero values), enable console by default
	if !config.Logging.Console.Enabled && !config.Logging.File.Enabled {
		config.Logging.Console.Enabled = true
	}
	if config.Logging.Console.Format == "" {
		config.Logging.Console.Format = configtypes.LogFormatConsole
	}
	if config.Logging.File.Format == "" {
		config.Logging.File.Format = configtypes.LogFormatText
	}

	if config.Runner.MaxConcurrentJobs == 0 {
		config.Runner.MaxConcurrentJobs = 4
	}
	if config.Runner.WarmConcurrency == 0 {
		config.Runner.WarmConcurrency = 8
	}
	if config.Runner.WarmTimeout == 0 {
		config.Runner.WarmTimeout = types.Duration(15 * time.Second)
	}
	if config.Runner.JobStatusTTL == 0 {
		config.Runner.JobStatusTTL = types.Duration(time.Hour)
	}

	if config.History.MaxEntries == 0 {
		config.History.MaxEntries = 100
	}
	if config.History.Compression == "" {
		config.History.Compression = configtypes.CompressionSnappy
	}

	if config.Scheduler.TickInterval == 0 {
		config.Scheduler.TickInterval = types.Duration(time.Second)
	}

	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}
}

// Load reads the daemon configuration from a YAML file, applies defaults and
// validates the result.
func Load(path string, logger *zap.Logger) (*configtypes.RevalidatorConfig, error) {
	logger.Info("Loading revalidator configuration", zap.String("path", path))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config configtypes.RevalidatorConfig
	if err := yamlutil.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Info("Revalidator configuration loaded successfully",
		zap.String("daemon_id", config.DaemonID),
		zap.String("redis_addr", config.Redis.Addr),
		zap.Bool("http_api_enabled", config.HTTPApi.Enabled))

	return &config, nil
}
