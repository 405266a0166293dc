// Package storage defines the engine's persisted entities and the
// persistence boundary used by the scheduler, dispatcher, webhook worker and
// admin API.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique constraint (such as name) is violated.
	ErrDuplicate = errors.New("storage: duplicate")
	// ErrClaimLost is returned when a completion no longer owns the claim it
	// was issued for.
	ErrClaimLost = errors.New("storage: claim lost")
	// ErrAttemptOutOfOrder is returned when an attempt would not be the next
	// attempt number for its webhook event.
	ErrAttemptOutOfOrder = errors.New("storage: attempt out of order")
	// ErrInvalidState is returned when a transition is not allowed from the
	// row's current state.
	ErrInvalidState = errors.New("storage: invalid state")
)

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default and maximum page size.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// AutomationFilter narrows ListAutomations.
type AutomationFilter struct {
	Kind   AutomationKind
	Status AutomationStatus
	Page
}

// WebhookFilter narrows ListWebhookEvents.
type WebhookFilter struct {
	Direction Direction
	Status    WebhookStatus
	Page
}

// Claim identifies one claim-and-mark of a schedulable unit.
type Claim struct {
	ID         string
	Token      string
	Now        time.Time
	LeaseUntil time.Time
}

// AutomationCompletion records the end of a scheduled automation run and
// releases its claim.
type AutomationCompletion struct {
	ID         string
	Token      string
	LastRunAt  time.Time
	LastStatus RunStatus
	LastError  string
	NextRunAt  *time.Time
	Deactivate bool
	Now        time.Time
}

// TaskCompletion records the end of a scheduled task run and releases its
// claim.
type TaskCompletion struct {
	ID         string
	Token      string
	LastRunAt  time.Time
	LastStatus RunStatus
	LastError  string
	RetryCount int
	NextRunAt  *time.Time
	Now        time.Time
}

// AttemptOutcome is the result of one webhook HTTP call together with the
// event transition it causes.
type AttemptOutcome struct {
	Attempt       WebhookAttempt
	NextStatus    WebhookStatus
	NextAttemptAt *time.Time
	LastError     string
	ResponseBody  string
	DeliveredAt   *time.Time
}

// AutomationStore persists automations and their scheduling state.
type AutomationStore interface {
	CreateAutomation(ctx context.Context, a *Automation) error
	UpdateAutomation(ctx context.Context, a *Automation) error
	GetAutomation(ctx context.Context, id string) (*Automation, error)
	GetAutomationByName(ctx context.Context, name string) (*Automation, error)
	ListAutomations(ctx context.Context, filter AutomationFilter) ([]*Automation, error)
	SetAutomationStatus(ctx context.Context, id string, status AutomationStatus, nextRunAt *time.Time, now time.Time) error
	ListEventAutomations(ctx context.Context, eventType string) ([]*Automation, error)

	ListDueAutomations(ctx context.Context, now time.Time, limit int) ([]*Automation, error)
	ClaimAutomation(ctx context.Context, claim Claim) (bool, error)
	ReleaseAutomationClaim(ctx context.Context, id, token string) error
	CompleteAutomation(ctx context.Context, c AutomationCompletion) error
}

// TaskStore persists scheduled tasks and their scheduling state.
type TaskStore interface {
	CreateTask(ctx context.Context, t *ScheduledTask) error
	UpdateTask(ctx context.Context, t *ScheduledTask) error
	GetTask(ctx context.Context, id string) (*ScheduledTask, error)
	GetTaskByName(ctx context.Context, name string) (*ScheduledTask, error)
	ListTasks(ctx context.Context, page Page) ([]*ScheduledTask, error)
	SetTaskActive(ctx context.Context, id string, active bool, nextRunAt *time.Time, now time.Time) error

	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*ScheduledTask, error)
	ClaimTask(ctx context.Context, claim Claim) (bool, error)
	ReleaseTaskClaim(ctx context.Context, id, token string) error
	CompleteTask(ctx context.Context, c TaskCompletion) error
}

// RunLedger records one row per execution attempt.
type RunLedger interface {
	CreateAutomationRun(ctx context.Context, run *AutomationRun) error
	FinishAutomationRun(ctx context.Context, run *AutomationRun) error
	ListAutomationRuns(ctx context.Context, automationID string, page Page) ([]*AutomationRun, error)

	CreateTaskRun(ctx context.Context, run *ScheduledTaskRun) error
	FinishTaskRun(ctx context.Context, run *ScheduledTaskRun) error
	ListTaskRuns(ctx context.Context, taskID string, page Page) ([]*ScheduledTaskRun, error)

	// RecoverInterruptedRuns closes runs still marked running that started
	// before startedBefore, marking them failed at now.
	RecoverInterruptedRuns(ctx context.Context, startedBefore, now time.Time) (int64, error)
}

// WebhookStore persists webhook events and their attempt history.
type WebhookStore interface {
	CreateWebhookEvent(ctx context.Context, e *WebhookEvent) error
	GetWebhookEvent(ctx context.Context, id string) (*WebhookEvent, error)
	ListWebhookEvents(ctx context.Context, filter WebhookFilter) ([]*WebhookEvent, error)
	ListWebhookAttempts(ctx context.Context, eventID string) ([]*WebhookAttempt, error)

	ListDueWebhooks(ctx context.Context, now time.Time, limit int) ([]*WebhookEvent, error)
	ClaimWebhook(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	RecordWebhookAttempt(ctx context.Context, outcome AttemptOutcome) error
	DeferWebhook(ctx context.Context, id string, nextAttemptAt time.Time, reason string, now time.Time) error
	RequeueWebhook(ctx context.Context, id string, extraAttempts int, now time.Time) error
}

// Store is the full persistence boundary.
type Store interface {
	AutomationStore
	TaskStore
	RunLedger
	WebhookStore

	Ping(ctx context.Context) error
	Close() error
}
