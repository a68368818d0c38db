package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/JonMunkholm/impex/internal/config"
	"github.com/JonMunkholm/impex/internal/core"
	"github.com/JonMunkholm/impex/internal/core/resources"
	"github.com/JonMunkholm/impex/internal/database"
	"github.com/JonMunkholm/impex/internal/database/sqlite"
	"github.com/JonMunkholm/impex/internal/format"
	"github.com/JonMunkholm/impex/internal/logging"
	"github.com/JonMunkholm/impex/internal/memstore"
	"github.com/JonMunkholm/impex/internal/runner"
	"github.com/JonMunkholm/impex/internal/storage"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

// app is what every command runs against. Jobs run inline, so a command
// returns once the phase it started has finished.
type app struct {
	cfg      *config.Config
	service  *core.Service
	entities core.EntityStore
	out      io.Writer

	closers []io.Closer
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openApp loads configuration and opens the stores.
//
// Job history lives in sqlite. Entities live in Postgres when DATABASE_URL
// is set and in memory otherwise, which makes every run a dry run.
func openApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	if err := godotenv.Overload(cmd.String("env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, out: cmd.Root().Writer}
	if a.out == nil {
		a.out = os.Stdout
	}
	a.closers = append(a.closers, logging.Setup(cfg.Logging.Options()))

	jobs, err := sqlite.Open(ctx, cfg.Database.SQLitePath, cfg.Database.ConnectAttempts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closerFunc(jobs.Close))

	if cfg.Database.URL != "" {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, closerFunc(func() error { pool.Close(); return nil }))
		if err := database.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		a.entities = database.NewEntities(pool)
	} else {
		slog.Warn("DATABASE_URL not set, entities are kept in memory for this run")
		a.entities = memstore.NewEntities()
	}

	files, err := storage.NewOS(cfg.Storage.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.service = core.NewService(core.Deps{
		Registry: resources.NewRegistry(),
		Formats:  format.NewRegistry(),
		Jobs:     jobs,
		Entities: a.entities,
		Files:    files,
		Runner:   runner.NewInlineRunner(),
	}, cfg.Jobs.ServiceConfig())
	return a, nil
}

// withApp adapts an action that needs an app to a cli action.
func withApp(fn func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := openApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a)
	}
}

// actor names the job creator: the --actor flag, or the OS user.
func actor(cmd *cli.Command) string {
	if v := cmd.String("actor"); v != "" {
		return v
	}
	return os.Getenv("USER")
}
