package app

import (
	"automation-engine/internal/circuitbreaker"
	enginehttp "automation-engine/internal/common/http"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/signature"
	"automation-engine/internal/webhook"
)

// initializeDelivery builds the outbound webhook worker with per-host
// breakers, optional per-host throttling and optional signing.
func (app *App) initializeDelivery() {
	cfg := app.Config

	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.WebhookBreakerFailures > 0 {
		breakerCfg.MaxFailures = cfg.WebhookBreakerFailures
	}
	if cfg.WebhookBreakerTimeout > 0 {
		breakerCfg.Timeout = cfg.WebhookBreakerTimeout
	}

	backoff := webhook.DefaultBackoff()
	backoff.JitterFactor = cfg.WebhookJitterFactor
	if cfg.WebhookMaxBackoff > 0 {
		backoff.Max = cfg.WebhookMaxBackoff
	}

	var signer *signature.Signer
	if cfg.WebhookSigningSecret != "" {
		signer = signature.NewSigner(cfg.WebhookSigningSecret)
	}

	app.Delivery = webhook.NewWorker(app.Store, webhook.WorkerOptions{
		PollInterval:     cfg.WebhookPollInterval,
		Workers:          cfg.WebhookWorkers,
		ClaimLease:       cfg.WebhookClaimLease,
		AttemptTimeout:   cfg.WebhookAttemptTimeout,
		MaxResponseBytes: cfg.WebhookMaxResponseBytes,
		Backoff:          backoff,
		Breakers:         circuitbreaker.NewManager(breakerCfg, logging.GetGlobalLogger()),
		BreakerTimeout:   breakerCfg.Timeout,
		HostLimiter:      app.hostLimiter(),
		Signer:           signer,
		Client: enginehttp.NewClient(
			enginehttp.WithTimeout(cfg.WebhookAttemptTimeout),
			enginehttp.WithUserAgent("automation-engine/"+app.Version),
		),
		Logger: logging.GetGlobalLogger(),
	})

	app.Logger.Info("Webhook delivery: Configured",
		logging.Int("workers", cfg.WebhookWorkers),
		logging.Int("max_attempts", cfg.WebhookMaxAttempts),
		logging.Bool("signed", signer != nil))
}
