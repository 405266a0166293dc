package gcp

import (
	"fmt"
	"time"

	"automation-engine/internal/config"
)

type Config struct {
	ProjectID       string
	CredentialsFile string
	// SubscriptionID names the subscription used for every Subscribe call.
	// Empty derives "<topic>-automation-engine".
	SubscriptionID string
	// CreateMissing creates topics and subscriptions that do not exist.
	CreateMissing          bool
	AckDeadline            time.Duration
	MaxOutstandingMessages int
}

func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("GCP project id is required")
	}
	if c.AckDeadline == 0 {
		c.AckDeadline = 60 * time.Second
	}
	if c.AckDeadline < 10*time.Second || c.AckDeadline > 600*time.Second {
		return fmt.Errorf("ack deadline must be between 10 and 600 seconds")
	}
	if c.MaxOutstandingMessages <= 0 {
		c.MaxOutstandingMessages = 100
	}
	return nil
}

func (c *Config) subscriptionFor(topic string) string {
	if c.SubscriptionID != "" {
		return c.SubscriptionID
	}
	return topic + "-automation-engine"
}

func FromConfig(cfg *config.Config) Config {
	return Config{
		ProjectID:       cfg.GCPProjectID,
		CredentialsFile: cfg.GCPCredentialsFile,
		SubscriptionID:  cfg.GCPSubscriptionID,
		CreateMissing:   true,
	}
}
