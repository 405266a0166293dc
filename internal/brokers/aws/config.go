package aws

import (
	"fmt"

	"automation-engine/internal/config"
)

// Config selects SQS and/or SNS. Publishing goes to the SNS topic when one is
// set, otherwise to the SQS queue; subscribing always reads the queue.
type Config struct {
	Region            string
	AccessKeyID       string
	SecretAccessKey   string
	SessionToken      string
	QueueURL          string
	TopicARN          string
	VisibilityTimeout int32
	WaitTimeSeconds   int32
	MaxMessages       int32
}

func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("AWS region is required")
	}
	if c.QueueURL == "" && c.TopicARN == "" {
		return fmt.Errorf("either an SQS queue URL or an SNS topic ARN is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("AWS access key id and secret access key must be set together")
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30
	}
	if c.WaitTimeSeconds <= 0 || c.WaitTimeSeconds > 20 {
		c.WaitTimeSeconds = 20
	}
	if c.MaxMessages <= 0 || c.MaxMessages > 10 {
		c.MaxMessages = 10
	}
	return nil
}

func (c *Config) endpoint() string {
	if c.TopicARN != "" {
		return "sns://" + c.TopicARN
	}
	return "sqs://" + c.QueueURL
}

func FromConfig(cfg *config.Config) Config {
	return Config{
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		QueueURL:        cfg.AWSQueueURL,
		TopicARN:        cfg.AWSTopicARN,
	}
}
