package app

import (
	"context"

	"automation-engine/internal/common/cache"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/locks"
	"automation-engine/internal/redis"
)

func (app *App) initializeRedis(ctx context.Context) error {
	if !app.Config.RedisEnabled() {
		app.Logger.Info("Redis: Not configured (shared rate limiting and distributed locks disabled)")
		return nil
	}

	client, err := redis.NewClient(ctx, &redis.Config{
		Address:  app.Config.RedisAddress,
		Password: app.Config.RedisPassword,
		DB:       app.Config.RedisDB,
		PoolSize: app.Config.RedisPoolSize,
	})
	if err != nil {
		return err
	}

	app.Redis = client
	app.Logger.Info("Redis: Connected", logging.String("address", app.Config.RedisAddress))
	return nil
}

// initializeLocks picks redsync when Redis is up so single-flight holds
// across instances, and an in-process manager otherwise.
func (app *App) initializeLocks() {
	if app.Redis != nil {
		manager, err := locks.NewRedsyncManager(app.Redis)
		if err == nil {
			app.Locks = manager
			app.Logger.Info("Distributed Locks: Enabled")
			return
		}
		app.Logger.Warn("Distributed locks unavailable, using local locks", logging.Err(err))
	}
	app.Locks = locks.NewLocalManager()
}

// deliveryCache remembers inbound delivery ids, in Redis when it is up so
// every instance sees the same ids. Nil when de-duplication is disabled.
func (app *App) deliveryCache() cache.Cache {
	if app.Config.InboundDedupeTTL <= 0 {
		return nil
	}
	cfg := cache.DefaultConfig()
	cfg.TTL = app.Config.InboundDedupeTTL
	if app.Redis != nil {
		cfg.Type = cache.TypeRedis
		cfg.RedisClient = app.Redis.GoRedis()
	}
	c, err := cache.New(cfg)
	if err != nil {
		app.Logger.Warn("Delivery de-duplication disabled", logging.Err(err))
		return nil
	}
	return c
}
