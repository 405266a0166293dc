package rabbitmq

import (
	"fmt"
	"strings"

	"automation-engine/internal/config"
)

type Config struct {
	URL      string
	PoolSize int
	// Exchange, when set, is a durable topic exchange; topics become
	// routing keys bound to same-named queues.
	Exchange string
	Prefetch int
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("RabbitMQ URL is required")
	}
	if !strings.HasPrefix(c.URL, "amqp://") && !strings.HasPrefix(c.URL, "amqps://") {
		return fmt.Errorf("RabbitMQ URL must start with amqp:// or amqps://")
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 2
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}
	return nil
}

func FromConfig(cfg *config.Config) Config {
	return Config{URL: cfg.RabbitMQURL}
}
