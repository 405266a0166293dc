package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"automation-engine/internal/storage"
)

// RunRecord is the terminal state of one run.
type RunRecord struct {
	RunID      string
	Status     storage.RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMs int64
	Result     json.RawMessage
	Error      string
}

// Ledger opens and closes the single run row of a dispatch.
type Ledger interface {
	Begin(ctx context.Context, runID string, startedAt time.Time) error
	Finish(ctx context.Context, rec RunRecord) error
}

// AutomationLedger records automation runs.
type AutomationLedger struct {
	Store        storage.RunLedger
	AutomationID string
	Trigger      storage.RunTrigger
	EventType    string
	Module       string
}

func (l AutomationLedger) Begin(ctx context.Context, runID string, startedAt time.Time) error {
	return l.Store.CreateAutomationRun(ctx, &storage.AutomationRun{
		ID:           runID,
		AutomationID: l.AutomationID,
		Trigger:      l.Trigger,
		EventType:    l.EventType,
		Module:       l.Module,
		Status:       storage.RunRunning,
		StartedAt:    startedAt,
	})
}

func (l AutomationLedger) Finish(ctx context.Context, rec RunRecord) error {
	finished := rec.FinishedAt
	duration := rec.DurationMs
	return l.Store.FinishAutomationRun(ctx, &storage.AutomationRun{
		ID:            rec.RunID,
		Status:        rec.Status,
		FinishedAt:    &finished,
		DurationMs:    &duration,
		ResultPayload: rec.Result,
		ErrorMessage:  rec.Error,
	})
}

// TaskLedger records scheduled task runs.
type TaskLedger struct {
	Store        storage.RunLedger
	TaskID       string
	RetryAttempt int
}

func (l TaskLedger) Begin(ctx context.Context, runID string, startedAt time.Time) error {
	return l.Store.CreateTaskRun(ctx, &storage.ScheduledTaskRun{
		ID:           runID,
		TaskID:       l.TaskID,
		RetryAttempt: l.RetryAttempt,
		Status:       storage.RunRunning,
		StartedAt:    startedAt,
	})
}

func (l TaskLedger) Finish(ctx context.Context, rec RunRecord) error {
	finished := rec.FinishedAt
	duration := rec.DurationMs
	return l.Store.FinishTaskRun(ctx, &storage.ScheduledTaskRun{
		ID:            rec.RunID,
		Status:        rec.Status,
		FinishedAt:    &finished,
		DurationMs:    &duration,
		ResultPayload: rec.Result,
		ErrorMessage:  rec.Error,
	})
}
