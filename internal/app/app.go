package app

import (
	"context"
	"sync"

	"automation-engine/internal/brokers"
	"automation-engine/internal/catalog"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/config"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/events"
	"automation-engine/internal/locks"
	"automation-engine/internal/modules"
	"automation-engine/internal/ratelimit"
	"automation-engine/internal/redis"
	"automation-engine/internal/schedule"
	"automation-engine/internal/scheduler"
	"automation-engine/internal/storage/sqlstore"
	"automation-engine/internal/webhook"
)

// App holds all the engine dependencies
type App struct {
	Config     *config.Config
	Store      *sqlstore.Store
	Redis      *redis.Client
	Locks      locks.Manager
	Broker     brokers.Broker
	Modules    *dispatch.Registry
	Dispatcher *dispatch.Dispatcher
	Webhooks   *webhook.Service
	Delivery   *webhook.Worker
	Events     *events.Service
	Scheduler  *scheduler.Scheduler
	Catalog    *catalog.Service
	Limiter    ratelimit.Limiter
	Planner    *schedule.Planner
	Logger     logging.Logger
	Version    string

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// New wires every component from cfg. Nothing is started; call Start.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	app := &App{
		Config:  cfg,
		Version: version,
		Planner: schedule.NewPlanner(cfg.Location()),
		Logger:  logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Initialize components in order of dependency
	if err := app.initializeStorage(ctx); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(ctx); err != nil {
		// Redis is optional, just log the error
		app.Logger.Warn("Redis initialization failed, continuing without Redis", logging.Err(err))
	}
	app.initializeLocks()
	app.initializeRateLimiter()

	if err := app.initializeBroker(ctx); err != nil {
		app.Close()
		return nil, err
	}

	if err := app.initializeDispatch(); err != nil {
		app.Close()
		return nil, err
	}

	app.Events = events.New(app.Store, app.Dispatcher, events.Options{
		QueueSize: cfg.EventQueueSize,
		Workers:   cfg.EventWorkers,
		Logger:    logging.GetGlobalLogger(),
	})
	app.Scheduler = scheduler.New(app.Store, app.Dispatcher, scheduler.Options{
		PollInterval: cfg.SchedulerPollInterval,
		Workers:      cfg.SchedulerWorkers,
		BatchSize:    cfg.SchedulerBatchSize,
		ClaimLease:   cfg.SchedulerClaimLease,
		Planner:      app.Planner,
		Locks:        app.Locks,
		Logger:       logging.GetGlobalLogger(),
	})
	app.Catalog = catalog.New(app.Store, app.Modules, catalog.Options{
		Planner:    app.Planner,
		Logger:     logging.GetGlobalLogger(),
		Dispatcher: app.Dispatcher,
		RunLedger:  app.Store,
	})
	app.initializeDelivery()

	return app, nil
}

// initializeDispatch builds the module registry and the dispatcher. The
// webhook service comes first because webhook.send enqueues through it.
func (app *App) initializeDispatch() error {
	cfg := app.Config
	app.Webhooks = webhook.NewService(app.Store, webhook.ServiceOptions{
		MaxAttempts:    cfg.WebhookMaxAttempts,
		BackoffSeconds: cfg.WebhookBackoffSeconds,
		Logger:         logging.GetGlobalLogger(),
	})

	app.Modules = dispatch.NewRegistry()
	if err := modules.RegisterBuiltins(app.Modules, modules.Deps{
		Webhooks: app.Webhooks,
		Broker:   app.Broker,
		Logger:   logging.GetGlobalLogger(),
	}); err != nil {
		return err
	}

	app.Dispatcher = dispatch.New(app.Modules, dispatch.Options{
		Timeout:  cfg.DispatchTimeout,
		Location: cfg.Location(),
		Logger:   logging.GetGlobalLogger(),
	})
	if app.Broker != nil && cfg.EventBrokerOutcomeTopic != "" {
		app.Dispatcher.AddObserver(brokers.NewOutcomePublisher(app.Broker, cfg.EventBrokerOutcomeTopic, logging.GetGlobalLogger()))
		app.Logger.Info("Run outcomes published", logging.String("topic", cfg.EventBrokerOutcomeTopic))
	}

	app.Logger.Info("Modules registered", logging.Strings("modules", app.Modules.IDs()))
	return nil
}

// Start launches the background loops enabled by the configuration.
func (app *App) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	if err := app.Events.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if app.Config.SchedulerEnabled {
		if err := app.Scheduler.Start(runCtx); err != nil {
			cancel()
			return err
		}
	} else {
		app.Logger.Info("Scheduler: Disabled")
	}
	if app.Config.WebhookWorkerEnabled {
		if err := app.Delivery.Start(runCtx); err != nil {
			cancel()
			return err
		}
	} else {
		app.Logger.Info("Webhook delivery: Disabled")
	}
	if app.Broker != nil {
		src := events.NewBrokerSource(app.Broker, app.Config.EventBrokerTopic, app.Events, logging.GetGlobalLogger())
		if err := src.Start(runCtx); err != nil {
			cancel()
			return err
		}
	}

	app.started = true
	return nil
}

// Shutdown stops the loops and waits for in-flight work to finish or ctx to
// expire.
func (app *App) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	started := app.started
	app.started = false
	if app.cancel != nil {
		app.cancel()
	}
	app.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.Scheduler.Stop()
		app.Delivery.Stop()
		app.Events.Stop()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases all resources
func (app *App) Close() {
	if app.Broker != nil {
		if err := app.Broker.Close(); err != nil {
			app.Logger.Warn("Failed to close broker", logging.Err(err))
		}
	}
	if app.Locks != nil {
		app.Locks.Close()
	}
	if app.Redis != nil {
		app.Redis.Close()
	}
	if app.Store != nil {
		app.Store.Close()
	}
}
