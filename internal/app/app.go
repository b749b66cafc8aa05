package app

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/digitalboi0/Template-man/internal/cache"
	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/config"
	"github.com/digitalboi0/Template-man/internal/redis"
	"github.com/digitalboi0/Template-man/internal/storage"
	"github.com/digitalboi0/Template-man/internal/templates"

	// Register storage backends
	_ "github.com/digitalboi0/Template-man/internal/storage/postgres"
	_ "github.com/digitalboi0/Template-man/internal/storage/sqlite"
)

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Storage     storage.Storage
	RedisClient *redis.Client
	Versions    *cache.VersionCounter
	Aside       *cache.ScopedCacheAside
	Mirror      *cache.MirrorCache
	Renderer    *templates.Renderer
	Logger      logging.Logger

	cleanupCron *cron.Cron
	cancelSync  context.CancelFunc
}

// New creates a new application instance with all dependencies
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.String("component", "app")),
	}

	// Initialize components in order of dependency
	if err := app.initializeStorage(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// The cache store is an optimization; reads degrade to direct
		// database access without it.
		app.Logger.Warn("cache store initialization failed, continuing without caching",
			logging.Err(err),
		)
	}

	if err := app.initializeCache(ctx); err != nil {
		return nil, err
	}

	app.initializeRenderer()

	if err := app.initializeCleanup(); err != nil {
		return nil, err
	}

	return app, nil
}

// Cleanup releases all application resources
func (app *App) Cleanup() {
	if app.cleanupCron != nil {
		app.cleanupCron.Stop()
	}

	if app.cancelSync != nil {
		app.cancelSync()
	}

	if app.RedisClient != nil {
		if err := app.RedisClient.Close(); err != nil {
			app.Logger.Warn("error closing cache store client", logging.Err(err))
		}
	}

	if app.Storage != nil {
		if err := app.Storage.Close(); err != nil {
			app.Logger.Warn("error closing storage", logging.Err(err))
		}
	}
}
