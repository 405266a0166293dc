package app

import (
	"context"

	"automation-engine/internal/brokers"
	"automation-engine/internal/brokers/aws"
	"automation-engine/internal/brokers/gcp"
	"automation-engine/internal/brokers/kafka"
	"automation-engine/internal/brokers/rabbitmq"
	redisbroker "automation-engine/internal/brokers/redis"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/config"
	"automation-engine/internal/redis"
)

// RegisterBrokerOpeners registers every supported event bus with reg. The
// redis bus reuses redisClient, which may be nil when Redis is not configured.
func RegisterBrokerOpeners(reg *brokers.Registry, redisClient *redis.Client) error {
	openers := map[string]brokers.Opener{
		"rabbitmq": func(_ context.Context, cfg *config.Config, logger logging.Logger) (brokers.Broker, error) {
			return rabbitmq.NewBroker(rabbitmq.FromConfig(cfg), logger)
		},
		"kafka": func(_ context.Context, cfg *config.Config, logger logging.Logger) (brokers.Broker, error) {
			return kafka.NewBroker(kafka.FromConfig(cfg), logger)
		},
		"redis": func(_ context.Context, cfg *config.Config, logger logging.Logger) (brokers.Broker, error) {
			if redisClient == nil {
				return nil, errors.ConfigError("redis event bus requires REDIS_ADDRESS")
			}
			return redisbroker.NewBroker(redisClient.GoRedis(), redisbroker.FromConfig(cfg), logger)
		},
		"aws": func(ctx context.Context, cfg *config.Config, logger logging.Logger) (brokers.Broker, error) {
			return aws.NewBroker(ctx, aws.FromConfig(cfg), logger)
		},
		"gcp": func(ctx context.Context, cfg *config.Config, logger logging.Logger) (brokers.Broker, error) {
			return gcp.NewBroker(ctx, gcp.FromConfig(cfg), logger)
		},
	}
	for brokerType, open := range openers {
		if err := reg.Register(brokerType, open); err != nil {
			return err
		}
	}
	return nil
}

// initializeBroker connects the event bus named by EVENT_BROKER_TYPE. An
// empty type leaves the engine without a bus.
func (app *App) initializeBroker(ctx context.Context) error {
	if app.Config.EventBrokerType == "" {
		app.Logger.Info("Event bus: Not configured")
		return nil
	}

	reg := brokers.NewRegistry()
	if err := RegisterBrokerOpeners(reg, app.Redis); err != nil {
		return err
	}
	broker, err := reg.Open(ctx, app.Config, logging.GetGlobalLogger())
	if err != nil {
		return err
	}

	app.Broker = broker
	app.Logger.Info("Event bus: Connected",
		logging.String("type", broker.Type()),
		logging.String("topic", app.Config.EventBrokerTopic))
	return nil
}
