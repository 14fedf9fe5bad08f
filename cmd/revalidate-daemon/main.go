package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/driftcms/revalidator/internal/common/config"
	"github.com/driftcms/revalidator/internal/common/logger"
	"github.com/driftcms/revalidator/internal/common/redis"
	"github.com/driftcms/revalidator/internal/daemon"
)

func main() {
	configPath := flag.String("c", "configs/example/revalidator.yaml", "path to revalidation daemon configuration file")
	flag.Parse()

	// Initial logger for startup, before the config file is loaded
	initialLogger, err := logger.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	initialLogger.Info("Starting Revalidation Daemon",
		zap.String("config_path", *configPath))

	cfg, err := config.Load(*configPath, initialLogger)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	configuredLogger, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer configuredLogger.Sync()

	// Add daemon ID to all logs
	zapLogger := configuredLogger.With(zap.String("daemon_id", cfg.DaemonID))

	redisClient, err := redis.NewClient(&cfg.Redis, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	d, err := daemon.NewDaemon(cfg, redisClient, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create daemon", zap.Error(err))
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start daemon components", zap.Error(err))
	}

	if cfg.HTTPApi.Enabled {
		httpServer := &fasthttp.Server{
			Handler:                      d.ServeHTTP,
			Name:                         "RevalidateDaemon/1.0",
			ReadTimeout:                  time.Duration(cfg.HTTPApi.RequestTimeout),
			WriteTimeout:                 time.Duration(cfg.HTTPApi.RequestTimeout),
			IdleTimeout:                  60 * time.Second,
			DisablePreParseMultipartForm: true,
			NoDefaultServerHeader:        true,
			NoDefaultDate:                true,
		}

		listenAddr := cfg.HTTPApi.Listen

		go func() {
			zapLogger.Info("HTTP API server starting", zap.String("addr", listenAddr))
			if err := httpServer.ListenAndServe(listenAddr); err != nil {
				zapLogger.Error("HTTP server error", zap.Error(err))
			}
		}()

		zapLogger.Info("Revalidation daemon started",
			zap.String("daemon_id", cfg.DaemonID),
			zap.String("api_addr", listenAddr))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		zapLogger.Info("Shutting down Revalidation Daemon...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Daemon components first, then the HTTP server
		if err := d.Shutdown(); err != nil {
			zapLogger.Error("Failed to shutdown daemon components gracefully", zap.Error(err))
		}
		if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
			zapLogger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}

		zapLogger.Info("Revalidation daemon stopped")
	} else {
		zapLogger.Warn("HTTP API is disabled in configuration")
		zapLogger.Info("Revalidation daemon started (HTTP API disabled)")

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		zapLogger.Info("Shutting down Revalidation Daemon...")
		if err := d.Shutdown(); err != nil {
			zapLogger.Error("Failed to shutdown daemon components gracefully", zap.Error(err))
		}
		zapLogger.Info("Revalidation daemon stopped")
	}
}
