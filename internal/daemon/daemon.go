// Package daemon implements the revalidation daemon: the admin HTTP API for
// submitting and polling revalidation jobs, the job runner that executes
// them against the Redis-backed page cache, the run history store and the
// recurring-schedule loop.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/configtypes"
	"github.com/driftcms/revalidator/internal/common/metricsserver"
	"github.com/driftcms/revalidator/internal/common/redis"
	"github.com/driftcms/revalidator/internal/daemon/metrics"
	"github.com/driftcms/revalidator/internal/orchestrate"
)

// Daemon is the revalidation daemon service
type Daemon struct {
	config          *configtypes.RevalidatorConfig
	redis           *redis.Client
	logger          *zap.Logger
	internalAuthKey string
	keyGenerator    *redis.KeyGenerator

	jobStore      *JobStore
	historyStore  *HistoryStore
	scheduleStore *ScheduleStore
	builder       *orchestrate.ScheduleBuilder
	runner        *Runner

	metricsCollector *metrics.MetricsCollector
	metricsServer    *fasthttp.Server

	startTime    time.Time
	lastTickMu   sync.RWMutex
	lastTickTime time.Time

	schedulerCtx     context.Context
	schedulerCancel  context.CancelFunc
	schedulerPaused  bool
	schedulerPauseMu sync.RWMutex
}

type productionPolicy struct {
	allow bool
}

func (p productionPolicy) AllowProduction() bool { return p.allow }

// NewDaemon creates a revalidation daemon instance
func NewDaemon(
	cfg *configtypes.RevalidatorConfig,
	redisClient *redis.Client,
	logger *zap.Logger,
) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.HTTPApi.Enabled && cfg.HTTPApi.AuthKey == "" {
		return nil, fmt.Errorf("http_api.auth_key is required when the API is enabled")
	}

	keyGenerator := redis.NewKeyGenerator()

	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)

	metricsServer, err := metricsserver.Start(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		metricsCollector,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	jobStore := NewJobStore(redisClient, keyGenerator, time.Duration(cfg.Runner.JobStatusTTL), logger)
	historyStore := NewHistoryStore(redisClient, keyGenerator, cfg.History.MaxEntries, cfg.History.Compression, logger)
	scheduleStore := NewScheduleStore(redisClient, keyGenerator, logger)

	builder := orchestrate.NewScheduleBuilder(
		scheduleStore,
		productionPolicy{allow: cfg.Scheduler.AllowProduction},
		logger,
	)

	runner := NewRunner(
		cfg.Runner,
		redisClient,
		keyGenerator,
		jobStore,
		historyStore,
		metricsCollector,
		logger,
	)

	return &Daemon{
		config:           cfg,
		redis:            redisClient,
		logger:           logger,
		internalAuthKey:  cfg.HTTPApi.AuthKey,
		keyGenerator:     keyGenerator,
		jobStore:         jobStore,
		historyStore:     historyStore,
		scheduleStore:    scheduleStore,
		builder:          builder,
		runner:           runner,
		metricsCollector: metricsCollector,
		metricsServer:    metricsServer,
		startTime:        time.Now().UTC(),
	}, nil
}

// Start starts the daemon components (schedule loop, etc.)
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info("Starting revalidation daemon components")

	d.schedulerCtx, d.schedulerCancel = context.WithCancel(ctx)
	go d.Run(d.schedulerCtx)

	d.logger.Info("Revalidation daemon components started")
	return nil
}

// Shutdown gracefully shuts down the daemon
func (d *Daemon) Shutdown() error {
	d.logger.Info("Shutting down revalidation daemon")

	if d.metricsServer != nil {
		d.logger.Info("Shutting down metrics server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.ShutdownWithContext(ctx); err != nil {
			d.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		cancel()
	}

	if d.schedulerCancel != nil {
		d.schedulerCancel()
	}

	d.logger.Info("Revalidation daemon shutdown complete")
	return nil
}

// PauseScheduler pauses the schedule processing loop
func (d *Daemon) PauseScheduler() {
	d.schedulerPauseMu.Lock()
	defer d.schedulerPauseMu.Unlock()
	d.schedulerPaused = true
	d.logger.Info("Scheduler paused")
}

// ResumeScheduler resumes the schedule processing loop
func (d *Daemon) ResumeScheduler() {
	d.schedulerPauseMu.Lock()
	defer d.schedulerPauseMu.Unlock()
	d.schedulerPaused = false
	d.logger.Info("Scheduler resumed")
}

// IsSchedulerPaused returns true if the schedule loop is paused
func (d *Daemon) IsSchedulerPaused() bool {
	d.schedulerPauseMu.RLock()
	defer d.schedulerPauseMu.RUnlock()
	return d.schedulerPaused
}

func (d *Daemon) recordTick(now time.Time) {
	d.lastTickMu.Lock()
	d.lastTickTime = now
	d.lastTickMu.Unlock()
}

func (d *Daemon) lastTick() time.Time {
	d.lastTickMu.RLock()
	defer d.lastTickMu.RUnlock()
	return d.lastTickTime
}
