package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/digitalboi0/Template-man/internal/cache"
	"github.com/digitalboi0/Template-man/internal/common/logging"
)

func (app *App) initializeCache(ctx context.Context) error {
	if !app.Config.CacheEnabled || app.RedisClient == nil {
		app.Logger.Info("Template caching: disabled (reads go to the database)")
		return nil
	}

	app.Aside = cache.NewScopedCacheAside(app.RedisClient, app.Storage, &cache.AsideConfig{
		TTL: app.Config.CacheTTLDuration(),
	})

	memoryLimitMB, _ := strconv.Atoi(app.Config.CacheMemoryLimitMB)
	warmupCount, _ := strconv.Atoi(app.Config.CacheWarmupCount)

	mirror, err := cache.NewMirrorCache(ctx, app.Storage, app.Versions, cache.MirrorConfig{
		SyncInterval:     app.Config.CacheSyncIntervalDuration(),
		MemoryLimitBytes: int64(memoryLimitMB) * 1024 * 1024,
		WarmupCount:      warmupCount,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mirror cache: %w", err)
	}

	app.Mirror = mirror

	syncCtx, cancel := context.WithCancel(context.Background())
	app.cancelSync = cancel
	go mirror.Run(syncCtx)

	app.Logger.Info("Template caching: enabled",
		logging.Int("templates", mirror.Stats().TemplateCount),
		logging.Duration("sync_interval", app.Config.CacheSyncIntervalDuration()),
		logging.Int("memory_limit_mb", memoryLimitMB),
	)

	return nil
}
