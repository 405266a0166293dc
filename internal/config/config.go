// Package config loads the automation engine configuration from environment
// variables (optionally seeded from a .env file) and validates it before the
// process starts any loop.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: HTTP port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: console or json (default: console)
//   - TIMEZONE: Reference timezone for cron evaluation and timestamp normalisation (default: UTC)
//   - SHUTDOWN_TIMEOUT: Graceful shutdown deadline (default: 30s)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./automation_engine.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_SSL_MODE
//
// Redis Configuration (optional, enables distributed single-flight locks):
//   - REDIS_ADDRESS: Redis server address; empty disables Redis
//   - REDIS_PASSWORD, REDIS_DB (0-15), REDIS_POOL_SIZE
//
// Scheduler:
//   - SCHEDULER_ENABLED (default: true)
//   - SCHEDULER_POLL_INTERVAL (default: 5s)
//   - SCHEDULER_WORKERS (default: 4)
//   - SCHEDULER_BATCH_SIZE (default: 50)
//   - SCHEDULER_CLAIM_LEASE (default: 5m)
//   - DISPATCH_TIMEOUT: Per module call timeout (default: 30s)
//
// Webhook delivery:
//   - WEBHOOK_WORKER_ENABLED (default: true)
//   - WEBHOOK_POLL_INTERVAL (default: 2s)
//   - WEBHOOK_WORKERS (default: 8)
//   - WEBHOOK_ATTEMPT_TIMEOUT (default: 10s)
//   - WEBHOOK_CLAIM_LEASE (default: 2m)
//   - WEBHOOK_MAX_ATTEMPTS (default: 5)
//   - WEBHOOK_BACKOFF_SECONDS (default: 300)
//   - WEBHOOK_JITTER_FACTOR: Proportional jitter in [0,1) (default: 0.2)
//   - WEBHOOK_MAX_BACKOFF (default: 24h)
//   - WEBHOOK_MAX_RESPONSE_BYTES (default: 65536)
//   - WEBHOOK_SIGNING_SECRET: Enables X-Webhook-Signature on outbound calls
//   - WEBHOOK_BREAKER_FAILURES (default: 5), WEBHOOK_BREAKER_TIMEOUT (default: 60s)
//   - WEBHOOK_HOST_RATE_LIMIT: Max outbound requests per second per host, 0 disables (default: 0)
//
// Ingestion and events:
//   - INBOUND_WEBHOOK_SECRET: Shared secret for POST /webhooks/inbound/{source}
//   - INBOUND_MAX_BODY_BYTES (default: 1048576)
//   - INBOUND_DEDUPE_TTL: How long Idempotency-Key / X-Delivery-ID values are remembered, 0 disables (default: 24h)
//   - RATE_LIMIT_ENABLED (default: true), RATE_LIMIT_DEFAULT (default: 100), RATE_LIMIT_WINDOW (default: 60s)
//   - EVENT_QUEUE_SIZE (default: 1024), EVENT_WORKERS (default: 4)
//
// Admin and security:
//   - ADMIN_TOKEN: Bearer token protecting /api; empty leaves the API open
//   - CONFIG_ENCRYPTION_KEY: 32 characters; encrypts stored webhook headers
//
// Event bus (optional):
//   - EVENT_BROKER_TYPE: rabbitmq, kafka, redis, aws or gcp; empty disables
//   - EVENT_BROKER_TOPIC (default: automation.events)
//   - EVENT_BROKER_OUTCOME_TOPIC: Publishes run outcomes when set
//   - RABBITMQ_URL
//   - KAFKA_BROKERS, KAFKA_GROUP_ID (default: automation-engine)
//   - KAFKA_SECURITY_PROTOCOL (default: PLAINTEXT), KAFKA_SASL_MECHANISM, KAFKA_SASL_USERNAME, KAFKA_SASL_PASSWORD
//   - REDIS_STREAM_GROUP (default: automation-engine)
//   - AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SQS_QUEUE_URL, AWS_SNS_TOPIC_ARN
//   - GCP_PROJECT_ID, GCP_CREDENTIALS_FILE, GCP_SUBSCRIPTION_ID
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"automation-engine/internal/common/utils"
)

// Config holds all configuration values for the automation engine.
type Config struct {
	// Application settings
	Port            string
	LogLevel        string
	LogFormat       string
	Timezone        string
	ShutdownTimeout time.Duration

	// Database
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis
	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisPoolSize int

	// Scheduler
	SchedulerEnabled      bool
	SchedulerPollInterval time.Duration
	SchedulerWorkers      int
	SchedulerBatchSize    int
	SchedulerClaimLease   time.Duration
	DispatchTimeout       time.Duration

	// Webhook delivery
	WebhookWorkerEnabled    bool
	WebhookPollInterval     time.Duration
	WebhookWorkers          int
	WebhookAttemptTimeout   time.Duration
	WebhookClaimLease       time.Duration
	WebhookMaxAttempts      int
	WebhookBackoffSeconds   int
	WebhookJitterFactor     float64
	WebhookMaxBackoff       time.Duration
	WebhookMaxResponseBytes int
	WebhookSigningSecret    string
	WebhookBreakerFailures  int
	WebhookBreakerTimeout   time.Duration
	WebhookHostRateLimit    float64

	// Ingestion and events
	InboundSecret       string
	InboundMaxBodyBytes int64
	InboundDedupeTTL    time.Duration
	RateLimitEnabled    bool
	RateLimitDefault    int
	RateLimitWindow     time.Duration
	EventQueueSize      int
	EventWorkers        int

	// Admin and security
	AdminToken    string
	EncryptionKey string

	// Event bus
	EventBrokerType         string
	EventBrokerTopic        string
	EventBrokerOutcomeTopic string
	RabbitMQURL             string
	KafkaBrokers            string
	KafkaGroupID            string
	KafkaSecurityProtocol   string
	KafkaSASLMechanism      string
	KafkaSASLUsername       string
	KafkaSASLPassword       string
	RedisStreamGroup        string
	AWSRegion               string
	AWSAccessKeyID          string
	AWSSecretAccessKey      string
	AWSQueueURL             string
	AWSTopicARN             string
	GCPProjectID            string
	GCPCredentialsFile      string
	GCPSubscriptionID       string

	location  *time.Location
	parseErrs []string
}

// Load creates a Config from environment variables, applying defaults for
// anything unset. Malformed numeric or duration values are reported by
// Validate rather than silently replaced.
func Load() *Config {
	c := &Config{}

	c.Port = getEnv("PORT", "8080")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "console")
	c.Timezone = getEnv("TIMEZONE", "UTC")
	c.ShutdownTimeout = c.getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second)

	c.DatabaseType = strings.ToLower(getEnv("DATABASE_TYPE", "sqlite"))
	c.DatabasePath = getEnv("DATABASE_PATH", "./automation_engine.db")
	c.PostgresHost = getEnv("POSTGRES_HOST", "localhost")
	c.PostgresPort = getEnv("POSTGRES_PORT", "5432")
	c.PostgresDB = getEnv("POSTGRES_DB", "automation_engine")
	c.PostgresUser = getEnv("POSTGRES_USER", "postgres")
	c.PostgresPassword = getEnv("POSTGRES_PASSWORD", "")
	c.PostgresSSLMode = getEnv("POSTGRES_SSL_MODE", "disable")

	c.RedisAddress = getEnv("REDIS_ADDRESS", "")
	c.RedisPassword = getEnv("REDIS_PASSWORD", "")
	c.RedisDB = c.getIntEnv("REDIS_DB", 0)
	c.RedisPoolSize = c.getIntEnv("REDIS_POOL_SIZE", 10)

	c.SchedulerEnabled = getBoolEnv("SCHEDULER_ENABLED", true)
	c.SchedulerPollInterval = c.getDurationEnv("SCHEDULER_POLL_INTERVAL", 5*time.Second)
	c.SchedulerWorkers = c.getIntEnv("SCHEDULER_WORKERS", 4)
	c.SchedulerBatchSize = c.getIntEnv("SCHEDULER_BATCH_SIZE", 50)
	c.SchedulerClaimLease = c.getDurationEnv("SCHEDULER_CLAIM_LEASE", 5*time.Minute)
	c.DispatchTimeout = c.getDurationEnv("DISPATCH_TIMEOUT", 30*time.Second)

	c.WebhookWorkerEnabled = getBoolEnv("WEBHOOK_WORKER_ENABLED", true)
	c.WebhookPollInterval = c.getDurationEnv("WEBHOOK_POLL_INTERVAL", 2*time.Second)
	c.WebhookWorkers = c.getIntEnv("WEBHOOK_WORKERS", 8)
	c.WebhookAttemptTimeout = c.getDurationEnv("WEBHOOK_ATTEMPT_TIMEOUT", 10*time.Second)
	c.WebhookClaimLease = c.getDurationEnv("WEBHOOK_CLAIM_LEASE", 2*time.Minute)
	c.WebhookMaxAttempts = c.getIntEnv("WEBHOOK_MAX_ATTEMPTS", 5)
	c.WebhookBackoffSeconds = c.getIntEnv("WEBHOOK_BACKOFF_SECONDS", 300)
	c.WebhookJitterFactor = c.getFloatEnv("WEBHOOK_JITTER_FACTOR", 0.2)
	c.WebhookMaxBackoff = c.getDurationEnv("WEBHOOK_MAX_BACKOFF", 24*time.Hour)
	c.WebhookMaxResponseBytes = c.getIntEnv("WEBHOOK_MAX_RESPONSE_BYTES", 64*1024)
	c.WebhookSigningSecret = getEnv("WEBHOOK_SIGNING_SECRET", "")
	c.WebhookBreakerFailures = c.getIntEnv("WEBHOOK_BREAKER_FAILURES", 5)
	c.WebhookBreakerTimeout = c.getDurationEnv("WEBHOOK_BREAKER_TIMEOUT", 60*time.Second)
	c.WebhookHostRateLimit = c.getFloatEnv("WEBHOOK_HOST_RATE_LIMIT", 0)

	c.InboundSecret = getEnv("INBOUND_WEBHOOK_SECRET", "")
	c.InboundMaxBodyBytes = int64(c.getIntEnv("INBOUND_MAX_BODY_BYTES", 1<<20))
	c.InboundDedupeTTL = c.getDurationEnv("INBOUND_DEDUPE_TTL", 24*time.Hour)
	c.RateLimitEnabled = getBoolEnv("RATE_LIMIT_ENABLED", true)
	c.RateLimitDefault = c.getIntEnv("RATE_LIMIT_DEFAULT", 100)
	c.RateLimitWindow = c.getDurationEnv("RATE_LIMIT_WINDOW", 60*time.Second)
	c.EventQueueSize = c.getIntEnv("EVENT_QUEUE_SIZE", 1024)
	c.EventWorkers = c.getIntEnv("EVENT_WORKERS", 4)

	c.AdminToken = getEnv("ADMIN_TOKEN", "")
	c.EncryptionKey = getEnv("CONFIG_ENCRYPTION_KEY", "")

	c.EventBrokerType = strings.ToLower(getEnv("EVENT_BROKER_TYPE", ""))
	c.EventBrokerTopic = getEnv("EVENT_BROKER_TOPIC", "automation.events")
	c.EventBrokerOutcomeTopic = getEnv("EVENT_BROKER_OUTCOME_TOPIC", "")
	c.RabbitMQURL = getEnv("RABBITMQ_URL", "")
	c.KafkaBrokers = getEnv("KAFKA_BROKERS", "")
	c.KafkaGroupID = getEnv("KAFKA_GROUP_ID", "automation-engine")
	c.KafkaSecurityProtocol = strings.ToUpper(getEnv("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT"))
	c.KafkaSASLMechanism = getEnv("KAFKA_SASL_MECHANISM", "")
	c.KafkaSASLUsername = getEnv("KAFKA_SASL_USERNAME", "")
	c.KafkaSASLPassword = getEnv("KAFKA_SASL_PASSWORD", "")
	c.RedisStreamGroup = getEnv("REDIS_STREAM_GROUP", "automation-engine")
	c.AWSRegion = getEnv("AWS_REGION", "")
	c.AWSAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	c.AWSSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	c.AWSQueueURL = getEnv("AWS_SQS_QUEUE_URL", "")
	c.AWSTopicARN = getEnv("AWS_SNS_TOPIC_ARN", "")
	c.GCPProjectID = getEnv("GCP_PROJECT_ID", "")
	c.GCPCredentialsFile = getEnv("GCP_CREDENTIALS_FILE", "")
	c.GCPSubscriptionID = getEnv("GCP_SUBSCRIPTION_ID", "")

	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings and falls back to
// defaultValue for anything else.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (c *Config) getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Sprintf("%s must be an integer", key))
		return defaultValue
	}
	return parsed
}

func (c *Config) getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Sprintf("%s must be a number", key))
		return defaultValue
	}
	return parsed
}

func (c *Config) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := utils.ParseDuration(value)
	if err != nil {
		c.parseErrs = append(c.parseErrs, fmt.Sprintf("%s must be a valid duration (e.g., '30s', '5m')", key))
		return defaultValue
	}
	return parsed
}

// Validate checks the loaded configuration for values the engine cannot run
// with. It returns the first problem found.
func (c *Config) Validate() error {
	if len(c.parseErrs) > 0 {
		return fmt.Errorf("%s", c.parseErrs[0])
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE %q is not a known location: %v", c.Timezone, err)
	}
	c.location = loc

	switch c.DatabaseType {
	case "sqlite":
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when using SQLite")
		}
	case "postgres", "postgresql":
		c.DatabaseType = "postgres"
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.RedisAddress != "" {
		if c.RedisDB < 0 || c.RedisDB > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if c.RedisPoolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	positiveDurations := []struct {
		name  string
		value time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", c.ShutdownTimeout},
		{"SCHEDULER_POLL_INTERVAL", c.SchedulerPollInterval},
		{"SCHEDULER_CLAIM_LEASE", c.SchedulerClaimLease},
		{"DISPATCH_TIMEOUT", c.DispatchTimeout},
		{"WEBHOOK_POLL_INTERVAL", c.WebhookPollInterval},
		{"WEBHOOK_ATTEMPT_TIMEOUT", c.WebhookAttemptTimeout},
		{"WEBHOOK_CLAIM_LEASE", c.WebhookClaimLease},
		{"WEBHOOK_BREAKER_TIMEOUT", c.WebhookBreakerTimeout},
	}
	for _, d := range positiveDurations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be a positive duration", d.name)
		}
	}

	if c.SchedulerClaimLease <= c.DispatchTimeout {
		return fmt.Errorf("SCHEDULER_CLAIM_LEASE must be longer than DISPATCH_TIMEOUT")
	}
	if c.WebhookClaimLease <= c.WebhookAttemptTimeout {
		return fmt.Errorf("WEBHOOK_CLAIM_LEASE must be longer than WEBHOOK_ATTEMPT_TIMEOUT")
	}

	positiveInts := []struct {
		name  string
		value int
	}{
		{"SCHEDULER_WORKERS", c.SchedulerWorkers},
		{"SCHEDULER_BATCH_SIZE", c.SchedulerBatchSize},
		{"WEBHOOK_WORKERS", c.WebhookWorkers},
		{"WEBHOOK_MAX_ATTEMPTS", c.WebhookMaxAttempts},
		{"WEBHOOK_BACKOFF_SECONDS", c.WebhookBackoffSeconds},
		{"WEBHOOK_MAX_RESPONSE_BYTES", c.WebhookMaxResponseBytes},
		{"WEBHOOK_BREAKER_FAILURES", c.WebhookBreakerFailures},
		{"EVENT_QUEUE_SIZE", c.EventQueueSize},
		{"EVENT_WORKERS", c.EventWorkers},
	}
	for _, n := range positiveInts {
		if n.value < 1 {
			return fmt.Errorf("%s must be a positive number", n.name)
		}
	}

	if c.WebhookJitterFactor < 0 || c.WebhookJitterFactor >= 1 {
		return fmt.Errorf("WEBHOOK_JITTER_FACTOR must be in the range [0, 1)")
	}
	if c.WebhookMaxBackoff < 0 {
		return fmt.Errorf("WEBHOOK_MAX_BACKOFF must not be negative")
	}
	if c.WebhookHostRateLimit < 0 {
		return fmt.Errorf("WEBHOOK_HOST_RATE_LIMIT must not be negative")
	}
	if c.InboundMaxBodyBytes < 1 {
		return fmt.Errorf("INBOUND_MAX_BODY_BYTES must be a positive number")
	}
	if c.InboundDedupeTTL < 0 {
		return fmt.Errorf("INBOUND_DEDUPE_TTL must not be negative")
	}

	if c.RateLimitEnabled {
		if c.RateLimitDefault < 1 {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a positive number")
		}
		if c.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a valid duration (e.g., '60s', '1m')")
		}
	}

	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("CONFIG_ENCRYPTION_KEY must be exactly 32 characters (256 bits) when provided")
	}

	return c.validateBroker()
}

func (c *Config) validateBroker() error {
	switch c.EventBrokerType {
	case "":
		return nil
	case "rabbitmq":
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when EVENT_BROKER_TYPE is rabbitmq")
		}
	case "kafka":
		if c.KafkaBrokers == "" {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENT_BROKER_TYPE is kafka")
		}
	case "redis":
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when EVENT_BROKER_TYPE is redis")
		}
	case "aws":
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required when EVENT_BROKER_TYPE is aws")
		}
		if c.AWSQueueURL == "" && c.AWSTopicARN == "" {
			return fmt.Errorf("AWS_SQS_QUEUE_URL or AWS_SNS_TOPIC_ARN is required when EVENT_BROKER_TYPE is aws")
		}
	case "gcp":
		if c.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when EVENT_BROKER_TYPE is gcp")
		}
	default:
		return fmt.Errorf("EVENT_BROKER_TYPE must be one of rabbitmq, kafka, redis, aws, gcp")
	}
	if c.EventBrokerTopic == "" {
		return fmt.Errorf("EVENT_BROKER_TOPIC must not be empty when a broker is configured")
	}
	return nil
}

// Location returns the reference timezone. Validate must have succeeded.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		if loc, err := time.LoadLocation(c.Timezone); err == nil {
			c.location = loc
		} else {
			c.location = time.UTC
		}
	}
	return c.location
}

// RedisEnabled reports whether a Redis address is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

// DatabaseDSN returns the driver name and data source for the configured
// database type.
func (c *Config) DatabaseDSN() (driver string, dsn string) {
	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		return "pgx", fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
			c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresUser, c.PostgresPassword, c.PostgresSSLMode)
	}
	return "sqlite3", c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}
