package app

import (
	"strconv"

	"github.com/digitalboi0/Template-man/internal/cache"
	"github.com/digitalboi0/Template-man/internal/common/logging"
	"github.com/digitalboi0/Template-man/internal/redis"
)

func (app *App) initializeRedis() error {
	if app.Config.RedisAddress == "" {
		app.Logger.Info("Cache store: not configured (caching disabled)")
		return nil
	}

	redisDB, _ := strconv.Atoi(app.Config.RedisDB)
	redisPoolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)
	maxRetries, _ := strconv.Atoi(app.Config.RedisMaxRetries)

	redisConfig := &redis.Config{
		Address:       app.Config.RedisAddress,
		Password:      app.Config.RedisPassword,
		DB:            redisDB,
		PoolSize:      redisPoolSize,
		SocketTimeout: app.Config.RedisSocketTimeoutDuration(),
	}
	if maxRetries > 0 {
		redisConfig.Retry.MaxAttempts = maxRetries
	}

	redisClient, err := redis.NewClient(redisConfig)
	if err != nil {
		return err
	}

	app.RedisClient = redisClient
	app.Versions = cache.NewVersionCounter(redisClient, app.Config.CacheNamespace)
	app.Logger.Info("Cache store: connected",
		logging.String("address", app.Config.RedisAddress),
		logging.Int("pool_size", redisPoolSize),
	)

	return nil
}
