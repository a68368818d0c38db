package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/impex/internal/config"
	"github.com/JonMunkholm/impex/internal/core"
	"github.com/JonMunkholm/impex/internal/core/resources"
	"github.com/JonMunkholm/impex/internal/database"
	"github.com/JonMunkholm/impex/internal/format"
	"github.com/JonMunkholm/impex/internal/logging"
	"github.com/JonMunkholm/impex/internal/runner"
	"github.com/JonMunkholm/impex/internal/storage"
	"github.com/JonMunkholm/impex/internal/web"
	"github.com/joho/godotenv"
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
	if err == nil {
		err = cfg.RequireDatabase()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logCloser := logging.Setup(cfg.Logging.Options())
	defer logCloser.Close()

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"job_workers", cfg.Jobs.Workers,
		"upload_max_concurrent", cfg.Server.MaxConcurrentUploads,
		"require_api_key", cfg.Security.RequireAPIKey,
	)

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	files, err := storage.NewOS(cfg.Storage.Dir)
	if err != nil {
		slog.Error("failed to open storage", "dir", cfg.Storage.Dir, "error", err)
		os.Exit(1)
	}

	tasks := runner.NewTacheRunner(runner.Options{Workers: cfg.Jobs.Workers, Retention: cfg.Jobs.TaskRetention})

	service := core.NewService(core.Deps{
		Registry: resources.NewRegistry(),
		Formats:  format.NewRegistry(),
		Jobs:     database.NewJobs(pool),
		Entities: database.NewEntities(pool),
		Files:    files,
		Runner:   tasks,
	}, cfg.Jobs.ServiceConfig())

	service.OnImportFailed(func(ctx context.Context, job *core.ImportJob) {
		logging.FromContext(ctx).Warn("import job failed", "job_id", job.ID, "status", job.Status, "error", job.ErrorMessage)
	})
	service.OnExportFailed(func(ctx context.Context, job *core.ExportJob) {
		logging.FromContext(ctx).Warn("export job failed", "job_id", job.ID, "status", job.Status, "error", job.ErrorMessage)
	})

	slog.Info("resources registered",
		"count", service.Registry().Count(),
		"formats", service.Formats().Extensions(),
	)

	server := web.NewServer(service, cfg.Server, cfg.Security)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	if cfg.Jobs.ReconcileInterval > 0 {
		go service.StartReconciler(jobCtx, cfg.Jobs.ReconcileInterval)
	}
	tasks.StartPruner(jobCtx, cfg.Jobs.TaskRetention/4)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		cancelJobs()
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
