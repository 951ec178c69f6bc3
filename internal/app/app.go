// Package app wires the engine together and drives its two modes: one-shot
// analysis of model files from disk, and a long-running queue worker.
package app

import (
	"context"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vk/drivergrid/internal/ctxlog"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *prometheus.Registry
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and metrics
// registry.
func NewApp(outW io.Writer, config *Config) *App {
	logger := newLogger(config.LogLevel, config.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	return &App{
		outW:     outW,
		logger:   logger,
		config:   config,
		registry: prometheus.NewRegistry(),
	}
}

// Run executes the main application logic based on the configured mode.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if a.config.MetricsPort > 0 {
		shutdown := a.startMetricsServer(ctx, a.config.MetricsPort)
		defer shutdown()
	}

	if a.config.ModelPath != "" {
		return a.runModelFiles(ctx)
	}
	return a.runWorkers(ctx)
}
