package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"automation-engine/internal/storage"

	"github.com/cockroachdb/errors"
)

const webhookColumns = `id, direction, source, event_type, target_url, headers, payload, status,
	response_status, response_body, attempt_count, max_attempts, backoff_seconds,
	next_attempt_at, last_error, created_at, updated_at, delivered_at`

const attemptColumns = `id, webhook_event_id, attempt_number, status, response_status,
	response_body, error_message, duration_ms, attempted_at`

// dueWebhookPredicate selects outgoing rows ready for an attempt: pending
// rows whose retry time has arrived and delivering rows whose claim lease
// has expired. Parameters: now, now.
const dueWebhookPredicate = `direction = 'outgoing' AND (
	(status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
	OR (status = 'delivering' AND claimed_until < ?))`

func (s *Store) scanWebhook(row scanner) (*storage.WebhookEvent, error) {
	var (
		e                        storage.WebhookEvent
		direction, status        string
		headers, payload         string
		responseStatus           sql.NullInt64
		nextAttempt, deliveredAt sql.NullInt64
		createdAt, updatedAt     int64
	)
	err := row.Scan(&e.ID, &direction, &e.Source, &e.EventType, &e.TargetURL, &headers, &payload, &status,
		&responseStatus, &e.ResponseBody, &e.AttemptCount, &e.MaxAttempts, &e.BackoffSeconds,
		&nextAttempt, &e.LastError, &createdAt, &updatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	decoded, err := s.headers.DecodeHeaders(headers)
	if err != nil {
		return nil, errors.Wrapf(err, "webhook %s headers", e.ID)
	}
	e.Headers = decoded
	e.Direction = storage.Direction(direction)
	e.Status = storage.WebhookStatus(status)
	e.Payload = textRaw(payload)
	e.ResponseStatus = intPtr(responseStatus)
	e.NextAttemptAt = s.timePtr(nextAttempt)
	e.DeliveredAt = s.timePtr(deliveredAt)
	e.CreatedAt = s.timeOf(createdAt)
	e.UpdatedAt = s.timeOf(updatedAt)
	return &e, nil
}

func (s *Store) queryWebhooks(ctx context.Context, op, query string, args ...interface{}) ([]*storage.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, infra(op, err)
	}
	defer rows.Close()

	var out []*storage.WebhookEvent
	for rows.Next() {
		e, err := s.scanWebhook(rows)
		if err != nil {
			return nil, infra(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, infra(op, err)
	}
	return out, nil
}

func (s *Store) CreateWebhookEvent(ctx context.Context, e *storage.WebhookEvent) error {
	headers, err := s.headers.EncodeHeaders(e.Headers)
	if err != nil {
		return errors.Wrap(err, "encode webhook headers")
	}
	payload := rawText(e.Payload)
	if payload == "" {
		payload = "null"
	}
	_, err = s.exec(ctx, s.db, `INSERT INTO webhook_events (`+webhookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Direction), e.Source, e.EventType, e.TargetURL, headers, payload, string(e.Status),
		nullInt(e.ResponseStatus), e.ResponseBody, e.AttemptCount, e.MaxAttempts, e.BackoffSeconds,
		nullMillis(e.NextAttemptAt), e.LastError, millis(e.CreatedAt), millis(e.UpdatedAt), nullMillis(e.DeliveredAt))
	return writeErr("insert webhook event", err)
}

func (s *Store) GetWebhookEvent(ctx context.Context, id string) (*storage.WebhookEvent, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+webhookColumns+` FROM webhook_events WHERE id = ?`), id)
	e, err := s.scanWebhook(row)
	if err != nil {
		return nil, readErr("get webhook event", err)
	}
	return e, nil
}

func (s *Store) ListWebhookEvents(ctx context.Context, filter storage.WebhookFilter) ([]*storage.WebhookEvent, error) {
	page := filter.Page.Normalize()
	var (
		where []string
		args  []interface{}
	)
	if filter.Direction != "" {
		where = append(where, "direction = ?")
		args = append(args, string(filter.Direction))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + webhookColumns + ` FROM webhook_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, page.Limit, page.Offset)
	return s.queryWebhooks(ctx, "list webhook events", query, args...)
}

// ListWebhookAttempts returns an event's attempts in attempt order.
func (s *Store) ListWebhookAttempts(ctx context.Context, eventID string) ([]*storage.WebhookAttempt, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+attemptColumns+` FROM webhook_attempts
		WHERE webhook_event_id = ? ORDER BY attempt_number`), eventID)
	if err != nil {
		return nil, infra("list webhook attempts", err)
	}
	defer rows.Close()

	var out []*storage.WebhookAttempt
	for rows.Next() {
		var (
			a              storage.WebhookAttempt
			status         string
			responseStatus sql.NullInt64
			attemptedAt    int64
		)
		if err := rows.Scan(&a.ID, &a.WebhookEventID, &a.AttemptNumber, &status, &responseStatus,
			&a.ResponseBody, &a.ErrorMessage, &a.DurationMs, &attemptedAt); err != nil {
			return nil, infra("list webhook attempts", err)
		}
		a.Status = storage.AttemptStatus(status)
		a.ResponseStatus = intPtr(responseStatus)
		a.AttemptedAt = s.timeOf(attemptedAt)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("list webhook attempts", err)
	}
	return out, nil
}

func (s *Store) ListDueWebhooks(ctx context.Context, now time.Time, limit int) ([]*storage.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	ms := millis(now)
	return s.queryWebhooks(ctx, "list due webhooks",
		`SELECT `+webhookColumns+` FROM webhook_events WHERE `+dueWebhookPredicate+`
		ORDER BY COALESCE(next_attempt_at, created_at), id LIMIT ?`, ms, ms, limit)
}

// ClaimWebhook moves a due row to delivering until leaseUntil. It reports
// false when the row is not due or another worker claimed it first.
func (s *Store) ClaimWebhook(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error) {
	ms := millis(now)
	n, err := s.exec(ctx, s.db, `UPDATE webhook_events SET status = 'delivering', claimed_until = ?, updated_at = ?
		WHERE id = ? AND `+dueWebhookPredicate,
		millis(leaseUntil), ms, id, ms, ms)
	if err != nil {
		return false, infra("claim webhook", err)
	}
	return n == 1, nil
}

// RecordWebhookAttempt appends one attempt row and applies the resulting
// event transition atomically. The attempt must carry the next attempt
// number for a row this worker still holds in delivering, otherwise
// ErrAttemptOutOfOrder is returned and nothing is written.
func (s *Store) RecordWebhookAttempt(ctx context.Context, o storage.AttemptOutcome) error {
	a := o.Attempt
	if a.AttemptNumber < 1 {
		return errors.Wrapf(storage.ErrAttemptOutOfOrder, "attempt number %d", a.AttemptNumber)
	}
	now := millis(a.AttemptedAt)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := s.exec(ctx, tx, `UPDATE webhook_events SET
			attempt_count = ?, status = ?, response_status = ?, response_body = ?,
			next_attempt_at = ?, last_error = ?, delivered_at = ?, claimed_until = NULL, updated_at = ?
			WHERE id = ? AND status = 'delivering' AND attempt_count = ?`,
			a.AttemptNumber, string(o.NextStatus), nullInt(a.ResponseStatus), o.ResponseBody,
			nullMillis(o.NextAttemptAt), o.LastError, nullMillis(o.DeliveredAt), now,
			a.WebhookEventID, a.AttemptNumber-1)
		if err != nil {
			return infra("update webhook event", err)
		}
		if n == 0 {
			return errors.Wrapf(storage.ErrAttemptOutOfOrder, "webhook %s attempt %d", a.WebhookEventID, a.AttemptNumber)
		}

		_, err = s.exec(ctx, tx, `INSERT INTO webhook_attempts (`+attemptColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.WebhookEventID, a.AttemptNumber, string(a.Status), nullInt(a.ResponseStatus),
			a.ResponseBody, a.ErrorMessage, a.DurationMs, now)
		if err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(storage.ErrAttemptOutOfOrder, "webhook %s attempt %d", a.WebhookEventID, a.AttemptNumber)
			}
			return infra("insert webhook attempt", err)
		}
		return nil
	})
}

// DeferWebhook returns a claimed row to pending without consuming an
// attempt.
func (s *Store) DeferWebhook(ctx context.Context, id string, nextAttemptAt time.Time, reason string, now time.Time) error {
	n, err := s.exec(ctx, s.db, `UPDATE webhook_events SET
		status = 'pending', next_attempt_at = ?, last_error = ?, claimed_until = NULL, updated_at = ?
		WHERE id = ? AND status = 'delivering'`,
		millis(nextAttemptAt), reason, millis(now), id)
	if err != nil {
		return infra("defer webhook", err)
	}
	if n == 0 {
		return storage.ErrClaimLost
	}
	return nil
}

// RequeueWebhook grants a failed outgoing row extraAttempts more attempts
// starting at now. Attempt history is kept.
func (s *Store) RequeueWebhook(ctx context.Context, id string, extraAttempts int, now time.Time) error {
	if extraAttempts < 1 {
		extraAttempts = 1
	}
	ms := millis(now)
	n, err := s.exec(ctx, s.db, `UPDATE webhook_events SET
		status = 'pending', max_attempts = attempt_count + ?, next_attempt_at = ?,
		claimed_until = NULL, updated_at = ?
		WHERE id = ? AND direction = 'outgoing' AND status = 'failed'`,
		extraAttempts, ms, ms, id)
	if err != nil {
		return infra("requeue webhook", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetWebhookEvent(ctx, id); err != nil {
		return err
	}
	return storage.ErrInvalidState
}
