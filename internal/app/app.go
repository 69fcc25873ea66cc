// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/collegepulse/collegescraper/internal/clock/system"
	"github.com/collegepulse/collegescraper/internal/config"
	"github.com/collegepulse/collegescraper/internal/database"
	"github.com/collegepulse/collegescraper/internal/logging"
	"github.com/collegepulse/collegescraper/internal/progress"
	"github.com/collegepulse/collegescraper/internal/storage"
	gcsstore "github.com/collegepulse/collegescraper/internal/storage/gcs"
	"github.com/collegepulse/collegescraper/internal/storage/local"
)

// App holds the shared, long-lived services for the application: logger,
// database provider, document cache and progress store. It is initialized
// once at startup and passed to the components that need it, and fails fast
// if any critical service cannot be initialized.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Database database.Provider
	Cache    storage.Provider
	Progress *progress.Store
	Clock    *system.Clock

	gcsCloser interface{ Close() error }
}

// New builds the App container from configuration.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Path)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  system.New(),
	}

	if err := a.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.initCache(ctx); err != nil {
		a.Database.Close()
		return nil, err
	}

	a.Progress = progress.NewStore(cfg.Progress.Path, cfg.ProgressExpiry(), a.Clock, logger)
	a.Progress.Load()

	logger.Info("Application services initialized",
		zap.String("db_provider", cfg.DB.Provider),
		zap.String("cache_provider", cfg.Cache.Provider),
	)
	return a, nil
}

func (a *App) initDatabase(ctx context.Context) error {
	switch a.Config.DB.Provider {
	case "postgres":
		a.Logger.Info("Connecting to PostgreSQL...")
		db, err := database.NewPostgres(ctx, database.Config{
			DSN:      a.Config.DB.DSN,
			MaxConns: int32(a.Config.DB.MaxOpenConns),
			MinConns: int32(a.Config.DB.MinOpenConns),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.Database = db
	case "noop":
		a.Logger.Info("Using No-Op database provider with the built-in sample list.")
		a.Database = &database.NoOpProvider{}
	default:
		return fmt.Errorf("unknown database provider: %s", a.Config.DB.Provider)
	}
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	switch a.Config.Cache.Provider {
	case "local":
		cache, err := local.New(local.Config{BaseDir: a.Config.Cache.BaseDir})
		if err != nil {
			return fmt.Errorf("failed to initialize document cache: %w", err)
		}
		a.Cache = cache
	case "gcs":
		a.Logger.Info("Using GCS document cache",
			zap.String("bucket", a.Config.Cache.GCSBucket))
		cache, err := gcsstore.New(ctx, a.Config.Cache.GCSBucket, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize GCS cache: %w", err)
		}
		a.Cache = cache
		a.gcsCloser = cache
	case "noop":
		a.Logger.Info("Document caching disabled.")
		a.Cache = &storage.NoOpProvider{}
	default:
		return fmt.Errorf("unknown cache provider: %s", a.Config.Cache.Provider)
	}
	return nil
}

// Close gracefully shuts down all services in the container. Progress is
// saved first so an interrupted run can resume.
func (a *App) Close() {
	if err := a.Progress.Save(); err != nil {
		a.Logger.Warn("Error saving progress on shutdown", zap.Error(err))
	}
	if a.gcsCloser != nil {
		if err := a.gcsCloser.Close(); err != nil {
			a.Logger.Warn("Error closing GCS client", zap.Error(err))
		}
	}
	a.Database.Close()
	_ = a.Logger.Sync()
}
