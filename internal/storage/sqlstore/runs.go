package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"automation-engine/internal/storage"
)

const interruptedRunMessage = "interrupted before completion"

const automationRunColumns = `id, automation_id, trigger_source, event_type, module, status,
	started_at, finished_at, duration_ms, result_payload, error_message`

const taskRunColumns = `id, task_id, retry_attempt, status, started_at, finished_at,
	duration_ms, result_payload, error_message`

func (s *Store) CreateAutomationRun(ctx context.Context, run *storage.AutomationRun) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO automation_runs (`+automationRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AutomationID, string(run.Trigger), run.EventType, run.Module, string(run.Status),
		millis(run.StartedAt), nullMillis(run.FinishedAt), nullInt64(run.DurationMs),
		rawText(run.ResultPayload), run.ErrorMessage)
	return writeErr("insert automation run", err)
}

// FinishAutomationRun closes a running row. A run that is already terminal
// is left untouched and reported as ErrInvalidState.
func (s *Store) FinishAutomationRun(ctx context.Context, run *storage.AutomationRun) error {
	n, err := s.exec(ctx, s.db, `UPDATE automation_runs SET
		status = ?, finished_at = ?, duration_ms = ?, result_payload = ?, error_message = ?
		WHERE id = ? AND status = 'running'`,
		string(run.Status), nullMillis(run.FinishedAt), nullInt64(run.DurationMs),
		rawText(run.ResultPayload), run.ErrorMessage, run.ID)
	if err != nil {
		return infra("finish automation run", err)
	}
	if n == 0 {
		return storage.ErrInvalidState
	}
	return nil
}

func (s *Store) ListAutomationRuns(ctx context.Context, automationID string, page storage.Page) ([]*storage.AutomationRun, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+automationRunColumns+` FROM automation_runs
		WHERE automation_id = ? ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`),
		automationID, page.Limit, page.Offset)
	if err != nil {
		return nil, infra("list automation runs", err)
	}
	defer rows.Close()

	var out []*storage.AutomationRun
	for rows.Next() {
		var (
			run                  storage.AutomationRun
			trigger, status      string
			startedAt            int64
			finishedAt, duration sql.NullInt64
			result               string
		)
		if err := rows.Scan(&run.ID, &run.AutomationID, &trigger, &run.EventType, &run.Module, &status,
			&startedAt, &finishedAt, &duration, &result, &run.ErrorMessage); err != nil {
			return nil, infra("list automation runs", err)
		}
		run.Trigger = storage.RunTrigger(trigger)
		run.Status = storage.RunStatus(status)
		run.StartedAt = s.timeOf(startedAt)
		run.FinishedAt = s.timePtr(finishedAt)
		run.DurationMs = int64Ptr(duration)
		run.ResultPayload = textRaw(result)
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("list automation runs", err)
	}
	return out, nil
}

func (s *Store) CreateTaskRun(ctx context.Context, run *storage.ScheduledTaskRun) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO scheduled_task_runs (`+taskRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TaskID, run.RetryAttempt, string(run.Status), millis(run.StartedAt),
		nullMillis(run.FinishedAt), nullInt64(run.DurationMs), rawText(run.ResultPayload), run.ErrorMessage)
	return writeErr("insert task run", err)
}

func (s *Store) FinishTaskRun(ctx context.Context, run *storage.ScheduledTaskRun) error {
	n, err := s.exec(ctx, s.db, `UPDATE scheduled_task_runs SET
		status = ?, finished_at = ?, duration_ms = ?, result_payload = ?, error_message = ?
		WHERE id = ? AND status = 'running'`,
		string(run.Status), nullMillis(run.FinishedAt), nullInt64(run.DurationMs),
		rawText(run.ResultPayload), run.ErrorMessage, run.ID)
	if err != nil {
		return infra("finish task run", err)
	}
	if n == 0 {
		return storage.ErrInvalidState
	}
	return nil
}

func (s *Store) ListTaskRuns(ctx context.Context, taskID string, page storage.Page) ([]*storage.ScheduledTaskRun, error) {
	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+taskRunColumns+` FROM scheduled_task_runs
		WHERE task_id = ? ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`),
		taskID, page.Limit, page.Offset)
	if err != nil {
		return nil, infra("list task runs", err)
	}
	defer rows.Close()

	var out []*storage.ScheduledTaskRun
	for rows.Next() {
		var (
			run                  storage.ScheduledTaskRun
			status, result       string
			startedAt            int64
			finishedAt, duration sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.TaskID, &run.RetryAttempt, &status, &startedAt,
			&finishedAt, &duration, &result, &run.ErrorMessage); err != nil {
			return nil, infra("list task runs", err)
		}
		run.Status = storage.RunStatus(status)
		run.StartedAt = s.timeOf(startedAt)
		run.FinishedAt = s.timePtr(finishedAt)
		run.DurationMs = int64Ptr(duration)
		run.ResultPayload = textRaw(result)
		out = append(out, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("list task runs", err)
	}
	return out, nil
}

// RecoverInterruptedRuns fails every run still marked running that started
// before startedBefore. Both ledgers are closed in one transaction.
func (s *Store) RecoverInterruptedRuns(ctx context.Context, startedBefore, now time.Time) (int64, error) {
	var total int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"automation_runs", "scheduled_task_runs"} {
			n, err := s.exec(ctx, tx, `UPDATE `+table+` SET
				status = 'failed', finished_at = ?, duration_ms = ? - started_at, error_message = ?
				WHERE status = 'running' AND started_at < ?`,
				millis(now), millis(now), interruptedRunMessage, millis(startedBefore))
			if err != nil {
				return infra("recover interrupted runs", err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
