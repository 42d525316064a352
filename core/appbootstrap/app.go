package appbootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"utp-reporta/api"
	"utp-reporta/config"
	"utp-reporta/core/store"
	"utp-reporta/core/utils"
	"utp-reporta/core/zones"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// App is the wired process: database, HTTP server and background workers.
type App struct {
	cfg     *config.AppConfig
	db      *store.DB
	server  *api.Server
	tracker *zones.Tracker
	workers []api.BackgroundWorker
	logger  *utils.Logger
}

// Open connects to the database, applies migrations and composes the runtime.
func Open(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) (*App, error) {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	rt, err := composeRuntime(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &App{
		cfg:     cfg,
		db:      db,
		server:  api.NewServer(cfg, rt.serverDeps, logger),
		tracker: rt.tracker,
		workers: rt.workers,
		logger:  logger,
	}, nil
}

// Migrate only applies pending migrations.
func Migrate(ctx context.Context, cfg *config.AppConfig, logger *utils.Logger) error {
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	return store.ApplyMigrations(ctx, db, logger)
}

// Run serves HTTP and runs the workers until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	for _, w := range a.workers {
		w.StartWithContext(ctx)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		for _, w := range a.workers {
			if err := w.StopWithContext(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	err := g.Wait()
	if a.logger != nil {
		a.logger.Printf("app: stopped")
	}
	return err
}

// SweepZones runs one expiry pass outside the scheduler.
func (a *App) SweepZones(ctx context.Context) ([]zones.Change, error) {
	return a.tracker.ExpireWindows(ctx)
}

func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
