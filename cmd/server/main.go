package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/LotTrace/internal/config"
	"github.com/JonMunkholm/LotTrace/internal/core"
	"github.com/JonMunkholm/LotTrace/internal/logging"
	"github.com/JonMunkholm/LotTrace/internal/metrics"
	"github.com/JonMunkholm/LotTrace/internal/store"
	"github.com/JonMunkholm/LotTrace/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"jobs_dir", cfg.Jobs.Dir,
		"pipeline_max_concurrent", cfg.Pipeline.MaxConcurrent,
		"link_window", cfg.Pipeline.LinkWindow,
		"merge_window", cfg.Pipeline.MergeWindow,
		"archive_enabled", cfg.Database.ArchiveEnabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// The archive database is optional
	var archiver core.Archiver
	if cfg.Database.ArchiveEnabled() {
		pool, err := store.Open(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to open archive database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		st := store.New(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare archive schema", "error", err)
			os.Exit(1)
		}
		archiver = st
	}

	service, err := core.NewService(cfg, m, archiver)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	// Log registered inputs
	sources := core.AllSources()
	slog.Info("input sources registered", "count", len(sources))
	for _, src := range sources {
		slog.Debug("input source", "key", src.Key, "file", src.FileName, "required", src.RequiredColumns)
	}

	server := web.NewServer(service, cfg, m)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active pipeline runs to complete (with timeout)
		status := service.Limiter().Status()
		if status.Active > 0 {
			slog.Info("waiting for pipeline runs to complete", "active", status.Active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("pipeline runs did not complete in time", "error", err)
			} else {
				slog.Info("all pipeline runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
