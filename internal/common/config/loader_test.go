package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/configtypes"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "revalidator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
daemon_id: test-daemon
redis:
  addr: localhost:6379
http_api:
  enabled: true
  listen: ":10440"
  request_timeout: 30s
  auth_key: secret
`

func TestLoad(t *testing.T) {
	logger := zap.NewNop()

	t.Run("minimal config with defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, minimalConfig), logger)
		require.NoError(t, err)

		assert.Equal(t, "test-daemon", cfg.DaemonID)
		assert.True(t, cfg.Logging.Console.Enabled, "console logging enabled by default")
		assert.Equal(t, 4, cfg.Runner.MaxConcurrentJobs)
		assert.Equal(t, 8, cfg.Runner.WarmConcurrency)
		assert.Equal(t, time.Hour, cfg.Runner.JobStatusTTL.ToDuration())
		assert.Equal(t, 100, cfg.History.MaxEntries)
		assert.Equal(t, configtypes.CompressionSnappy, cfg.History.Compression)
		assert.Equal(t, time.Second, cfg.Scheduler.TickInterval.ToDuration())
		assert.Equal(t, "/metrics", cfg.Metrics.Path)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load("/nonexistent/revalidator.yaml", logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := Load(writeConfig(t, minimalConfig+"\nunknown_setting: 1\n"), logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown configuration field")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "daemon_id: [unclosed"), logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse YAML")
	})

	t.Run("validation failure surfaces", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
daemon_id: ""
redis:
  addr: localhost:6379
`), logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation failed")
	})

	t.Run("extended durations accepted", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, minimalConfig+`
runner:
  job_status_ttl: 2d
`), logger)
		require.NoError(t, err)
		assert.Equal(t, 48*time.Hour, cfg.Runner.JobStatusTTL.ToDuration())
	})
}
