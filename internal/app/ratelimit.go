package app

import (
	"automation-engine/internal/common/logging"
	"automation-engine/internal/ratelimit"
)

// initializeRateLimiter builds the limiter shared by /api and inbound
// webhooks: Redis backed when Redis is up, per process otherwise.
func (app *App) initializeRateLimiter() {
	cfg := app.Config
	if !cfg.RateLimitEnabled {
		app.Logger.Info("Rate Limiting: Disabled")
		return
	}

	backend := "local"
	if app.Redis != nil {
		app.Limiter = ratelimit.NewRedisLimiter(app.Redis, cfg.RateLimitDefault, cfg.RateLimitWindow)
		backend = "redis"
	} else {
		app.Limiter = ratelimit.NewWindowLimiter(cfg.RateLimitDefault, cfg.RateLimitWindow)
	}

	app.Logger.Info("Rate Limiting: Enabled",
		logging.String("backend", backend),
		logging.Int("limit", cfg.RateLimitDefault),
		logging.Duration("window", cfg.RateLimitWindow))
}

// hostLimiter throttles outbound deliveries per target host. Nil when no
// limit is configured.
func (app *App) hostLimiter() ratelimit.Limiter {
	if app.Config.WebhookHostRateLimit <= 0 {
		return nil
	}
	return ratelimit.NewPerSecondLimiter(app.Config.WebhookHostRateLimit)
}
