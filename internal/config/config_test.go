package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

var testEnvVars = []string{
	"PORT", "LOG_LEVEL", "LOG_FORMAT", "TIMEZONE", "SHUTDOWN_TIMEOUT",
	"DATABASE_TYPE", "DATABASE_PATH", "POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB",
	"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_SSL_MODE",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
	"SCHEDULER_ENABLED", "SCHEDULER_POLL_INTERVAL", "SCHEDULER_WORKERS", "SCHEDULER_BATCH_SIZE",
	"SCHEDULER_CLAIM_LEASE", "DISPATCH_TIMEOUT",
	"WEBHOOK_WORKER_ENABLED", "WEBHOOK_POLL_INTERVAL", "WEBHOOK_WORKERS", "WEBHOOK_ATTEMPT_TIMEOUT",
	"WEBHOOK_CLAIM_LEASE", "WEBHOOK_MAX_ATTEMPTS", "WEBHOOK_BACKOFF_SECONDS", "WEBHOOK_JITTER_FACTOR",
	"WEBHOOK_MAX_BACKOFF", "WEBHOOK_MAX_RESPONSE_BYTES", "WEBHOOK_SIGNING_SECRET",
	"WEBHOOK_BREAKER_FAILURES", "WEBHOOK_BREAKER_TIMEOUT", "WEBHOOK_HOST_RATE_LIMIT",
	"INBOUND_WEBHOOK_SECRET", "INBOUND_MAX_BODY_BYTES", "INBOUND_DEDUPE_TTL", "RATE_LIMIT_ENABLED", "RATE_LIMIT_DEFAULT",
	"RATE_LIMIT_WINDOW", "EVENT_QUEUE_SIZE", "EVENT_WORKERS", "ADMIN_TOKEN", "CONFIG_ENCRYPTION_KEY",
	"EVENT_BROKER_TYPE", "EVENT_BROKER_TOPIC", "EVENT_BROKER_OUTCOME_TOPIC", "RABBITMQ_URL",
	"KAFKA_BROKERS", "KAFKA_GROUP_ID", "REDIS_STREAM_GROUP", "AWS_REGION", "AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY", "AWS_SQS_QUEUE_URL", "AWS_SNS_TOPIC_ARN", "GCP_PROJECT_ID",
	"GCP_CREDENTIALS_FILE", "GCP_SUBSCRIPTION_ID",
}

func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range testEnvVars {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearTestEnvVars(t)

	c := Load()

	if c.Port != "8080" {
		t.Errorf("Load() Port = %v, want %v", c.Port, "8080")
	}
	if c.DatabaseType != "sqlite" {
		t.Errorf("Load() DatabaseType = %v, want %v", c.DatabaseType, "sqlite")
	}
	if c.DatabasePath != "./automation_engine.db" {
		t.Errorf("Load() DatabasePath = %v, want %v", c.DatabasePath, "./automation_engine.db")
	}
	if c.Timezone != "UTC" {
		t.Errorf("Load() Timezone = %v, want UTC", c.Timezone)
	}
	if c.SchedulerPollInterval != 5*time.Second {
		t.Errorf("Load() SchedulerPollInterval = %v, want 5s", c.SchedulerPollInterval)
	}
	if c.WebhookMaxAttempts != 5 {
		t.Errorf("Load() WebhookMaxAttempts = %v, want 5", c.WebhookMaxAttempts)
	}
	if c.WebhookBackoffSeconds != 300 {
		t.Errorf("Load() WebhookBackoffSeconds = %v, want 300", c.WebhookBackoffSeconds)
	}
	if c.WebhookJitterFactor != 0.2 {
		t.Errorf("Load() WebhookJitterFactor = %v, want 0.2", c.WebhookJitterFactor)
	}
	if c.InboundDedupeTTL != 24*time.Hour {
		t.Errorf("Load() InboundDedupeTTL = %v, want 24h", c.InboundDedupeTTL)
	}
	if c.RedisEnabled() {
		t.Errorf("Load() RedisEnabled = true, want false by default")
	}
	if !c.RateLimitEnabled {
		t.Errorf("Load() RateLimitEnabled = false, want true")
	}

	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() defaults error = %v", err)
	}
	if c.Location() != time.UTC {
		t.Errorf("Location() = %v, want UTC", c.Location())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "1m")
	t.Setenv("WEBHOOK_MAX_BACKOFF", "2d")
	t.Setenv("SCHEDULER_WORKERS", "16")
	t.Setenv("REDIS_ADDRESS", "localhost:6379")

	c := Load()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if c.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", c.Port)
	}
	if c.SchedulerPollInterval != time.Minute {
		t.Errorf("Load() SchedulerPollInterval = %v, want 1m", c.SchedulerPollInterval)
	}
	if c.WebhookMaxBackoff != 48*time.Hour {
		t.Errorf("Load() WebhookMaxBackoff = %v, want 48h", c.WebhookMaxBackoff)
	}
	if c.SchedulerWorkers != 16 {
		t.Errorf("Load() SchedulerWorkers = %v, want 16", c.SchedulerWorkers)
	}
	if c.Location().String() != "Europe/Berlin" {
		t.Errorf("Location() = %v, want Europe/Berlin", c.Location())
	}
	if !c.RedisEnabled() {
		t.Errorf("RedisEnabled() = false, want true")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"invalid port", map[string]string{"PORT": "70000"}, "PORT must be a valid port number"},
		{"bad timezone", map[string]string{"TIMEZONE": "Mars/Olympus"}, "TIMEZONE"},
		{"bad database type", map[string]string{"DATABASE_TYPE": "mysql"}, "DATABASE_TYPE must be"},
		{"postgres with defaults", map[string]string{"DATABASE_TYPE": "postgres"}, ""},
		{"unparseable duration", map[string]string{"DISPATCH_TIMEOUT": "soon"}, "DISPATCH_TIMEOUT must be a valid duration"},
		{"unparseable int", map[string]string{"WEBHOOK_WORKERS": "many"}, "WEBHOOK_WORKERS must be an integer"},
		{"zero attempts", map[string]string{"WEBHOOK_MAX_ATTEMPTS": "0"}, "WEBHOOK_MAX_ATTEMPTS must be a positive number"},
		{"jitter out of range", map[string]string{"WEBHOOK_JITTER_FACTOR": "1.5"}, "WEBHOOK_JITTER_FACTOR"},
		{"lease shorter than timeout", map[string]string{"SCHEDULER_CLAIM_LEASE": "10s", "DISPATCH_TIMEOUT": "30s"}, "SCHEDULER_CLAIM_LEASE must be longer"},
		{"short encryption key", map[string]string{"CONFIG_ENCRYPTION_KEY": "short"}, "CONFIG_ENCRYPTION_KEY"},
		{"unknown broker", map[string]string{"EVENT_BROKER_TYPE": "nats"}, "EVENT_BROKER_TYPE must be one of"},
		{"rabbitmq without url", map[string]string{"EVENT_BROKER_TYPE": "rabbitmq"}, "RABBITMQ_URL is required"},
		{"redis broker without redis", map[string]string{"EVENT_BROKER_TYPE": "redis"}, "REDIS_ADDRESS is required"},
		{"aws without destination", map[string]string{"EVENT_BROKER_TYPE": "aws", "AWS_REGION": "eu-west-1"}, "AWS_SQS_QUEUE_URL or AWS_SNS_TOPIC_ARN"},
		{"kafka ok", map[string]string{"EVENT_BROKER_TYPE": "kafka", "KAFKA_BROKERS": "localhost:9092"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnvVars(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			err := Load().Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("DATABASE_TYPE", "postgresql")
	t.Setenv("POSTGRES_PASSWORD", "secret")

	c := Load()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	driver, dsn := c.DatabaseDSN()
	if driver != "pgx" {
		t.Errorf("DatabaseDSN() driver = %v, want pgx", driver)
	}
	if !strings.Contains(dsn, "password=secret") || !strings.Contains(dsn, "dbname=automation_engine") {
		t.Errorf("DatabaseDSN() dsn = %v", dsn)
	}

	clearTestEnvVars(t)
	c = Load()
	driver, _ = c.DatabaseDSN()
	if driver != "sqlite3" {
		t.Errorf("DatabaseDSN() driver = %v, want sqlite3", driver)
	}
}
