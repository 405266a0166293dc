package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"automation-engine/internal/storage"
)

const taskColumns = `id, name, command, cron, payload, active, max_retries, retry_backoff_seconds,
	retry_count, next_run_at, last_run_at, last_status, last_error, created_at, updated_at`

const dueTaskPredicate = `active = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
	AND (claimed_until IS NULL OR claimed_until < ?)`

func (s *Store) scanTask(row scanner) (*storage.ScheduledTask, error) {
	var (
		t                    storage.ScheduledTask
		payload, lastStatus  string
		nextRun, lastRun     sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(&t.ID, &t.Name, &t.Command, &t.Cron, &payload, &t.Active, &t.MaxRetries, &t.RetryBackoffSeconds,
		&t.RetryCount, &nextRun, &lastRun, &lastStatus, &t.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.Payload = textRaw(payload)
	t.LastStatus = storage.RunStatus(lastStatus)
	t.NextRunAt = s.timePtr(nextRun)
	t.LastRunAt = s.timePtr(lastRun)
	t.CreatedAt = s.timeOf(createdAt)
	t.UpdatedAt = s.timeOf(updatedAt)
	return &t, nil
}

func (s *Store) queryTasks(ctx context.Context, op, query string, args ...interface{}) ([]*storage.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, infra(op, err)
	}
	defer rows.Close()

	var out []*storage.ScheduledTask
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, infra(op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(op, err)
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, t *storage.ScheduledTask) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Command, t.Cron, rawText(t.Payload), t.Active, t.MaxRetries, t.RetryBackoffSeconds,
		t.RetryCount, nullMillis(t.NextRunAt), nullMillis(t.LastRunAt), string(t.LastStatus), t.LastError,
		millis(t.CreatedAt), millis(t.UpdatedAt))
	return writeErr("insert task", err)
}

func (s *Store) UpdateTask(ctx context.Context, t *storage.ScheduledTask) error {
	n, err := s.exec(ctx, s.db, `UPDATE scheduled_tasks SET
		name = ?, command = ?, cron = ?, payload = ?, active = ?, max_retries = ?,
		retry_backoff_seconds = ?, retry_count = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Command, t.Cron, rawText(t.Payload), t.Active, t.MaxRetries,
		t.RetryBackoffSeconds, t.RetryCount, nullMillis(t.NextRunAt), millis(t.UpdatedAt), t.ID)
	if err != nil {
		return writeErr("update task", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*storage.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`), id)
	t, err := s.scanTask(row)
	if err != nil {
		return nil, readErr("get task", err)
	}
	return t, nil
}

func (s *Store) GetTaskByName(ctx context.Context, name string) (*storage.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+taskColumns+` FROM scheduled_tasks WHERE name = ?`), name)
	t, err := s.scanTask(row)
	if err != nil {
		return nil, readErr("get task by name", err)
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, page storage.Page) ([]*storage.ScheduledTask, error) {
	page = page.Normalize()
	return s.queryTasks(ctx, "list tasks",
		`SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY name LIMIT ? OFFSET ?`, page.Limit, page.Offset)
}

// SetTaskActive toggles a task and resets its retry counter.
func (s *Store) SetTaskActive(ctx context.Context, id string, active bool, nextRunAt *time.Time, now time.Time) error {
	n, err := s.exec(ctx, s.db, `UPDATE scheduled_tasks SET active = ?, retry_count = 0, next_run_at = ?, updated_at = ?
		WHERE id = ?`, active, nullMillis(nextRunAt), millis(now), id)
	if err != nil {
		return infra("set task active", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]*storage.ScheduledTask, error) {
	if limit <= 0 {
		limit = 50
	}
	ms := millis(now)
	return s.queryTasks(ctx, "list due tasks",
		`SELECT `+taskColumns+` FROM scheduled_tasks WHERE `+dueTaskPredicate+`
		ORDER BY next_run_at LIMIT ?`, true, ms, ms, limit)
}

func (s *Store) ClaimTask(ctx context.Context, claim storage.Claim) (bool, error) {
	now := millis(claim.Now)
	n, err := s.exec(ctx, s.db, `UPDATE scheduled_tasks SET claim_token = ?, claimed_until = ?, updated_at = ?
		WHERE id = ? AND `+dueTaskPredicate,
		claim.Token, millis(claim.LeaseUntil), now, claim.ID, true, now, now)
	if err != nil {
		return false, infra("claim task", err)
	}
	return n == 1, nil
}

func (s *Store) ReleaseTaskClaim(ctx context.Context, id, token string) error {
	_, err := s.exec(ctx, s.db, `UPDATE scheduled_tasks SET claim_token = NULL, claimed_until = NULL
		WHERE id = ? AND claim_token = ?`, id, token)
	return infra("release task claim", err)
}

// CompleteTask records a finished task run, stores the retry counter and
// the next run time chosen by the scheduler, and releases the claim.
func (s *Store) CompleteTask(ctx context.Context, c storage.TaskCompletion) error {
	n, err := s.exec(ctx, s.db, `UPDATE scheduled_tasks SET
		last_run_at = ?, last_status = ?, last_error = ?, retry_count = ?, next_run_at = ?,
		claim_token = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND claim_token = ?`,
		millis(c.LastRunAt), string(c.LastStatus), c.LastError, c.RetryCount, nullMillis(c.NextRunAt),
		millis(c.Now), c.ID, c.Token)
	if err != nil {
		return infra("complete task", err)
	}
	if n == 0 {
		return storage.ErrClaimLost
	}
	return nil
}
