package redis

import (
	"fmt"
	"time"

	"automation-engine/internal/config"
)

type Config struct {
	StreamMaxLen  int64 // 0 means unbounded
	ConsumerGroup string
	ConsumerName  string
	Block         time.Duration
	BatchSize     int64
}

func (c *Config) Validate() error {
	if c.StreamMaxLen < 0 {
		return fmt.Errorf("stream max length must not be negative")
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "automation-engine"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "automation-engine-consumer"
	}
	if c.Block <= 0 {
		c.Block = 100 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	return nil
}

// FromConfig derives the stream settings from the engine configuration.
func FromConfig(cfg *config.Config) Config {
	return Config{
		ConsumerGroup: cfg.RedisStreamGroup,
		ConsumerName:  cfg.RedisStreamGroup + "-consumer",
	}
}
