package storage

import (
	"encoding/json"
	"time"

	"automation-engine/internal/schedule"
)

// AutomationKind distinguishes schedule-driven from event-driven automations.
type AutomationKind string

const (
	KindScheduled AutomationKind = "scheduled"
	KindEvent     AutomationKind = "event"
)

// AutomationStatus is the authoring-level on/off switch of an automation.
type AutomationStatus string

const (
	StatusActive   AutomationStatus = "active"
	StatusInactive AutomationStatus = "inactive"
)

// RunStatus is the lifecycle state of one run ledger row.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether s is a finished state.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunTrigger records what caused a run.
type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerEvent    RunTrigger = "event"
	TriggerManual   RunTrigger = "manual"
)

// Automation pairs a trigger (schedule, or event plus filter) with an action
// module and payload template.
type Automation struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	Kind           AutomationKind   `json:"kind"`
	CronExpression string           `json:"cron_expression,omitempty"`
	Cadence        string           `json:"cadence,omitempty"`
	ScheduledTime  *time.Time       `json:"scheduled_time,omitempty"`
	RunOnce        bool             `json:"run_once"`
	TriggerEvent   string           `json:"trigger_event,omitempty"`
	TriggerFilter  json.RawMessage  `json:"trigger_filter,omitempty"`
	ActionModule   string           `json:"action_module"`
	ActionPayload  json.RawMessage  `json:"action_payload,omitempty"`
	Status         AutomationStatus `json:"status"`
	NextRunAt      *time.Time       `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time       `json:"last_run_at,omitempty"`
	LastStatus     RunStatus        `json:"last_status,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ScheduleSpec returns the scheduling fields in planner form.
func (a *Automation) ScheduleSpec() schedule.Spec {
	return schedule.Spec{
		CronExpression: a.CronExpression,
		Cadence:        schedule.Cadence(a.Cadence),
		ScheduledTime:  a.ScheduledTime,
		RunOnce:        a.RunOnce,
		LastRunAt:      a.LastRunAt,
	}
}

// AutomationRun is one execution attempt of an automation.
type AutomationRun struct {
	ID            string          `json:"id"`
	AutomationID  string          `json:"automation_id"`
	Trigger       RunTrigger      `json:"trigger"`
	EventType     string          `json:"event_type,omitempty"`
	Module        string          `json:"module"`
	Status        RunStatus       `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	DurationMs    *int64          `json:"duration_ms,omitempty"`
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// ScheduledTask is a code-identified cron job whose command names a module.
type ScheduledTask struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Command             string          `json:"command"`
	Cron                string          `json:"cron"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	Active              bool            `json:"active"`
	MaxRetries          int             `json:"max_retries"`
	RetryBackoffSeconds int             `json:"retry_backoff_seconds"`
	RetryCount          int             `json:"retry_count"`
	NextRunAt           *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt           *time.Time      `json:"last_run_at,omitempty"`
	LastStatus          RunStatus       `json:"last_status,omitempty"`
	LastError           string          `json:"last_error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// ScheduledTaskRun mirrors AutomationRun for scheduled tasks. RetryAttempt
// is 0 for a natural tick and n for the n-th retry.
type ScheduledTaskRun struct {
	ID            string          `json:"id"`
	TaskID        string          `json:"task_id"`
	RetryAttempt  int             `json:"retry_attempt"`
	Status        RunStatus       `json:"status"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	DurationMs    *int64          `json:"duration_ms,omitempty"`
	ResultPayload json.RawMessage `json:"result_payload,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
}

// Direction says whether a webhook row records an inbound callback or an
// outbound delivery.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// WebhookStatus is the delivery state of a webhook row.
type WebhookStatus string

const (
	WebhookPending    WebhookStatus = "pending"
	WebhookDelivering WebhookStatus = "delivering"
	WebhookDelivered  WebhookStatus = "delivered"
	WebhookFailed     WebhookStatus = "failed"
)

// WebhookEvent is a durable record of one HTTP notification.
type WebhookEvent struct {
	ID             string            `json:"id"`
	Direction      Direction         `json:"direction"`
	Source         string            `json:"source,omitempty"`
	EventType      string            `json:"event_type,omitempty"`
	TargetURL      string            `json:"target_url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
	Status         WebhookStatus     `json:"status"`
	ResponseStatus *int              `json:"response_status,omitempty"`
	ResponseBody   string            `json:"response_body,omitempty"`
	AttemptCount   int               `json:"attempt_count"`
	MaxAttempts    int               `json:"max_attempts"`
	BackoffSeconds int               `json:"backoff_seconds"`
	NextAttemptAt  *time.Time        `json:"next_attempt_at,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty"`
}

// AttemptStatus is the outcome of a single HTTP call.
type AttemptStatus string

const (
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// WebhookAttempt is an append-only record of one HTTP call.
type WebhookAttempt struct {
	ID             string        `json:"id"`
	WebhookEventID string        `json:"webhook_event_id"`
	AttemptNumber  int           `json:"attempt_number"`
	Status         AttemptStatus `json:"status"`
	ResponseStatus *int          `json:"response_status,omitempty"`
	ResponseBody   string        `json:"response_body,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	DurationMs     int64         `json:"duration_ms"`
	AttemptedAt    time.Time     `json:"attempted_at"`
}
