package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"automation-engine/internal/storage"
)

const automationColumns = `id, name, description, kind, cron_expression, cadence, scheduled_time,
	run_once, trigger_event, trigger_filter, action_module, action_payload, status,
	next_run_at, last_run_at, last_status, last_error, created_at, updated_at`

// dueAutomationPredicate selects scheduled automations whose next run has
// arrived and that no live claim holds. Parameters: now, now.
const dueAutomationPredicate = `kind = 'scheduled' AND status = 'active'
	AND next_run_at IS NOT NULL AND next_run_at <= ?
	AND (claimed_until IS NULL OR claimed_until < ?)`

func (s *Store) scanAutomation(row scanner) (*storage.Automation, error) {
	var (
		a                           storage.Automation
		kind, status, lastStatus    string
		filterDoc, payloadDoc       string
		scheduled, nextRun, lastRun sql.NullInt64
		createdAt, updatedAt        int64
	)
	err := row.Scan(&a.ID, &a.Name, &a.Description, &kind, &a.CronExpression, &a.Cadence, &scheduled,
		&a.RunOnce, &a.TriggerEvent, &filterDoc, &a.ActionModule, &payloadDoc, &status,
		&nextRun, &lastRun, &lastStatus, &a.LastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = storage.AutomationKind(kind)
	a.Status = storage.AutomationStatus(status)
	a.LastStatus = storage.RunStatus(lastStatus)
	a.ScheduledTime = s.timePtr(scheduled)
	a.NextRunAt = s.timePtr(nextRun)
	a.LastRunAt = s.timePtr(lastRun)
	a.TriggerFilter = textRaw(filterDoc)
	a.ActionPayload = textRaw(payloadDoc)
	a.CreatedAt = s.timeOf(createdAt)
	a.UpdatedAt = s.timeOf(updatedAt)
	return &a, nil
}

func (s *Store) queryAutomations(ctx context.Context, op, query string, args ...interface{}) ([]*storage.Automation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, infra(op, err)
	}
	defer rows.Close()

	var out []*storage.Automation
	for rows.Next() {
		a, err := s.scanAutomation(rows)
		if err != nil {
			return nil, infra(op, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(op, err)
	}
	return out, nil
}

func (s *Store) CreateAutomation(ctx context.Context, a *storage.Automation) error {
	_, err := s.exec(ctx, s.db, `INSERT INTO automations (`+automationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Description, string(a.Kind), a.CronExpression, a.Cadence, nullMillis(a.ScheduledTime),
		a.RunOnce, a.TriggerEvent, rawText(a.TriggerFilter), a.ActionModule, rawText(a.ActionPayload), string(a.Status),
		nullMillis(a.NextRunAt), nullMillis(a.LastRunAt), string(a.LastStatus), a.LastError,
		millis(a.CreatedAt), millis(a.UpdatedAt))
	return writeErr("insert automation", err)
}

// UpdateAutomation rewrites the authoring fields and next_run_at. Claim and
// last-run bookkeeping are left to the scheduler.
func (s *Store) UpdateAutomation(ctx context.Context, a *storage.Automation) error {
	n, err := s.exec(ctx, s.db, `UPDATE automations SET
		name = ?, description = ?, kind = ?, cron_expression = ?, cadence = ?, scheduled_time = ?,
		run_once = ?, trigger_event = ?, trigger_filter = ?, action_module = ?, action_payload = ?,
		status = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.Description, string(a.Kind), a.CronExpression, a.Cadence, nullMillis(a.ScheduledTime),
		a.RunOnce, a.TriggerEvent, rawText(a.TriggerFilter), a.ActionModule, rawText(a.ActionPayload),
		string(a.Status), nullMillis(a.NextRunAt), millis(a.UpdatedAt), a.ID)
	if err != nil {
		return writeErr("update automation", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetAutomation(ctx context.Context, id string) (*storage.Automation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+automationColumns+` FROM automations WHERE id = ?`), id)
	a, err := s.scanAutomation(row)
	if err != nil {
		return nil, readErr("get automation", err)
	}
	return a, nil
}

func (s *Store) GetAutomationByName(ctx context.Context, name string) (*storage.Automation, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+automationColumns+` FROM automations WHERE name = ?`), name)
	a, err := s.scanAutomation(row)
	if err != nil {
		return nil, readErr("get automation by name", err)
	}
	return a, nil
}

func (s *Store) ListAutomations(ctx context.Context, filter storage.AutomationFilter) ([]*storage.Automation, error) {
	page := filter.Page.Normalize()
	var (
		where []string
		args  []interface{}
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + automationColumns + ` FROM automations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name LIMIT ? OFFSET ?"
	args = append(args, page.Limit, page.Offset)
	return s.queryAutomations(ctx, "list automations", query, args...)
}

// SetAutomationStatus toggles an automation at now. nextRunAt replaces the
// stored next run time; pass nil to clear it.
func (s *Store) SetAutomationStatus(ctx context.Context, id string, status storage.AutomationStatus, nextRunAt *time.Time, now time.Time) error {
	n, err := s.exec(ctx, s.db, `UPDATE automations SET status = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		string(status), nullMillis(nextRunAt), millis(now), id)
	if err != nil {
		return infra("set automation status", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListEventAutomations returns the active event automations subscribed to
// eventType, in name order.
func (s *Store) ListEventAutomations(ctx context.Context, eventType string) ([]*storage.Automation, error) {
	return s.queryAutomations(ctx, "list event automations",
		`SELECT `+automationColumns+` FROM automations
		WHERE kind = 'event' AND status = 'active' AND trigger_event = ?
		ORDER BY name`, eventType)
}

func (s *Store) ListDueAutomations(ctx context.Context, now time.Time, limit int) ([]*storage.Automation, error) {
	if limit <= 0 {
		limit = 50
	}
	ms := millis(now)
	return s.queryAutomations(ctx, "list due automations",
		`SELECT `+automationColumns+` FROM automations WHERE `+dueAutomationPredicate+`
		ORDER BY next_run_at LIMIT ?`, ms, ms, limit)
}

// ClaimAutomation marks a due automation as owned by claim.Token until
// claim.LeaseUntil. It reports false when another process won the claim or
// the automation is no longer due.
func (s *Store) ClaimAutomation(ctx context.Context, claim storage.Claim) (bool, error) {
	now := millis(claim.Now)
	n, err := s.exec(ctx, s.db, `UPDATE automations SET claim_token = ?, claimed_until = ?, updated_at = ?
		WHERE id = ? AND `+dueAutomationPredicate,
		claim.Token, millis(claim.LeaseUntil), now, claim.ID, now, now)
	if err != nil {
		return false, infra("claim automation", err)
	}
	return n == 1, nil
}

func (s *Store) ReleaseAutomationClaim(ctx context.Context, id, token string) error {
	_, err := s.exec(ctx, s.db, `UPDATE automations SET claim_token = NULL, claimed_until = NULL
		WHERE id = ? AND claim_token = ?`, id, token)
	return infra("release automation claim", err)
}

// CompleteAutomation records a finished scheduled run and releases the
// claim. Deactivate turns off run-once automations.
func (s *Store) CompleteAutomation(ctx context.Context, c storage.AutomationCompletion) error {
	status := "status"
	if c.Deactivate {
		status = "'inactive'"
	}
	n, err := s.exec(ctx, s.db, `UPDATE automations SET
		last_run_at = ?, last_status = ?, last_error = ?, next_run_at = ?, status = `+status+`,
		claim_token = NULL, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND claim_token = ?`,
		millis(c.LastRunAt), string(c.LastStatus), c.LastError, nullMillis(c.NextRunAt),
		millis(c.Now), c.ID, c.Token)
	if err != nil {
		return infra("complete automation", err)
	}
	if n == 0 {
		return storage.ErrClaimLost
	}
	return nil
}
