package brokers

import (
	"context"

	"automation-engine/internal/common/logging"
	"automation-engine/internal/common/registry"
	"automation-engine/internal/config"
)

// Opener connects a broker of one type from the engine configuration.
type Opener func(ctx context.Context, cfg *config.Config, logger logging.Logger) (Broker, error)

// Registry maps broker types to openers.
type Registry struct {
	openers *registry.Registry[Opener]
}

func NewRegistry() *Registry {
	return &Registry{openers: registry.New[Opener]("broker type")}
}

func (r *Registry) Register(brokerType string, open Opener) error {
	return r.openers.Register(brokerType, open)
}

// Open connects the broker named by cfg.EventBrokerType.
func (r *Registry) Open(ctx context.Context, cfg *config.Config, logger logging.Logger) (Broker, error) {
	open, err := r.openers.Get(cfg.EventBrokerType)
	if err != nil {
		return nil, err
	}
	return open(ctx, cfg, logger)
}

func (r *Registry) Types() []string {
	return r.openers.Names()
}

func (r *Registry) IsRegistered(brokerType string) bool {
	return r.openers.IsRegistered(brokerType)
}
