package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"automation-engine/internal/crypto"
	"automation-engine/internal/storage"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "engine.db") + "?_busy_timeout=5000&_foreign_keys=on"
	store, err := Open(ctx, "sqlite3", dsn, opts)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { store.Close() })
	return store
}

func scheduledAutomation(name string, next time.Time) *storage.Automation {
	return &storage.Automation{
		ID:             "auto-" + name,
		Name:           name,
		Kind:           storage.KindScheduled,
		CronExpression: "0 9 * * *",
		ActionModule:   "noop",
		ActionPayload:  json.RawMessage(`{"x":1}`),
		Status:         storage.StatusActive,
		NextRunAt:      timePtr(next),
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

func outgoingWebhook(id string) *storage.WebhookEvent {
	return &storage.WebhookEvent{
		ID:             id,
		Direction:      storage.DirectionOutgoing,
		EventType:      "ticket.created",
		TargetURL:      "https://example.test/hook",
		Headers:        map[string]string{"Authorization": "Bearer secret"},
		Payload:        json.RawMessage(`{"id":7}`),
		Status:         storage.WebhookPending,
		MaxAttempts:    3,
		BackoffSeconds: 60,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = ? AND b = ?", rebind(DialectSQLite, "a = ? AND b = ?"))
	assert.Equal(t, "a = $1 AND b = $2", rebind(DialectPostgres, "a = ? AND b = ?"))
}

func TestMigrationsAreIdempotent(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))

	status, err := NewMigrationManager(store.DB(), DialectSQLite, nil).Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Total)
	assert.Equal(t, 1, status.Applied)
	assert.Empty(t, status.Pending)
}

func TestMigrationFileSelection(t *testing.T) {
	sqlite := &MigrationManager{dialect: DialectSQLite}
	pg := &MigrationManager{dialect: DialectPostgres}

	assert.True(t, sqlite.compatible("001_initial.sql"))
	assert.False(t, sqlite.compatible("001_initial_postgres.sql"))
	assert.True(t, pg.compatible("001_initial_postgres.sql"))
	assert.False(t, pg.compatible("001_initial.sql"))
	assert.False(t, sqlite.compatible("README.md"))
	assert.Equal(t, "001", extractVersion("001_initial.sql"))
	assert.Empty(t, extractVersion("initial.sql"))
}

func TestAutomationCRUD(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	a := scheduledAutomation("daily-report", base)
	require.NoError(t, store.CreateAutomation(ctx, a))

	dup := scheduledAutomation("daily-report", base)
	dup.ID = "other"
	err := store.CreateAutomation(ctx, dup)
	assert.True(t, errors.Is(err, storage.ErrDuplicate), "got %v", err)

	got, err := store.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "daily-report", got.Name)
	assert.Equal(t, storage.KindScheduled, got.Kind)
	assert.JSONEq(t, `{"x":1}`, string(got.ActionPayload))
	assert.Nil(t, got.TriggerFilter)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.Equal(base))
	assert.False(t, got.RunOnce)

	byName, err := store.GetAutomationByName(ctx, "daily-report")
	require.NoError(t, err)
	assert.Equal(t, a.ID, byName.ID)

	got.Description = "morning digest"
	got.RunOnce = true
	got.UpdatedAt = base.Add(time.Minute)
	require.NoError(t, store.UpdateAutomation(ctx, got))

	again, err := store.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "morning digest", again.Description)
	assert.True(t, again.RunOnce)

	_, err = store.GetAutomation(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	missing := scheduledAutomation("nope", base)
	missing.ID = "missing"
	assert.ErrorIs(t, store.UpdateAutomation(ctx, missing), storage.ErrNotFound)
}

func TestListAutomationsFilters(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, store.CreateAutomation(ctx, scheduledAutomation("b-sched", base)))
	inactive := scheduledAutomation("c-sched", base)
	inactive.Status = storage.StatusInactive
	require.NoError(t, store.CreateAutomation(ctx, inactive))
	require.NoError(t, store.CreateAutomation(ctx, &storage.Automation{
		ID: "evt", Name: "a-event", Kind: storage.KindEvent, TriggerEvent: "ticket.created",
		TriggerFilter: json.RawMessage(`{"priority":"high"}`), ActionModule: "noop",
		Status: storage.StatusActive, CreatedAt: base, UpdatedAt: base,
	}))

	all, err := store.ListAutomations(ctx, storage.AutomationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a-event", all[0].Name)

	sched, err := store.ListAutomations(ctx, storage.AutomationFilter{Kind: storage.KindScheduled, Status: storage.StatusActive})
	require.NoError(t, err)
	require.Len(t, sched, 1)
	assert.Equal(t, "b-sched", sched[0].Name)

	paged, err := store.ListAutomations(ctx, storage.AutomationFilter{Page: storage.Page{Limit: 1, Offset: 1}})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "b-sched", paged[0].Name)

	subscribed, err := store.ListEventAutomations(ctx, "ticket.created")
	require.NoError(t, err)
	require.Len(t, subscribed, 1)
	assert.JSONEq(t, `{"priority":"high"}`, string(subscribed[0].TriggerFilter))

	none, err := store.ListEventAutomations(ctx, "ticket.closed")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClaimAutomationIsSingleFlight(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateAutomation(ctx, scheduledAutomation("tick", base)))

	var (
		wg      sync.WaitGroup
		winners int32
		winner  atomic.Value
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("token-%d", i)
			ok, err := store.ClaimAutomation(ctx, storage.Claim{
				ID: "auto-tick", Token: token, Now: base, LeaseUntil: base.Add(5 * time.Minute),
			})
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&winners, 1)
				winner.Store(token)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(1), winners)

	due, err := store.ListDueAutomations(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "claimed automation must not be listed as due")

	next := base.Add(24 * time.Hour)
	err = store.CompleteAutomation(ctx, storage.AutomationCompletion{
		ID: "auto-tick", Token: "stale", LastRunAt: base, LastStatus: storage.RunSucceeded, NextRunAt: &next,
	})
	assert.ErrorIs(t, err, storage.ErrClaimLost)

	require.NoError(t, store.CompleteAutomation(ctx, storage.AutomationCompletion{
		ID: "auto-tick", Token: winner.Load().(string), LastRunAt: base, LastStatus: storage.RunSucceeded, NextRunAt: &next,
		Now: base.Add(2 * time.Second),
	}))

	got, err := store.GetAutomation(ctx, "auto-tick")
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.Equal(next))
	assert.True(t, got.LastRunAt.Equal(base))
	assert.Equal(t, storage.RunSucceeded, got.LastStatus)
	assert.Equal(t, storage.StatusActive, got.Status)
	assert.True(t, got.UpdatedAt.Equal(base.Add(2*time.Second)), "updated_at %s", got.UpdatedAt)
}

func TestClaimAutomationLeaseExpiry(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateAutomation(ctx, scheduledAutomation("tick", base)))

	claim := storage.Claim{ID: "auto-tick", Token: "first", Now: base, LeaseUntil: base.Add(time.Minute)}
	ok, err := store.ClaimAutomation(ctx, claim)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ClaimAutomation(ctx, storage.Claim{ID: "auto-tick", Token: "second", Now: base.Add(30 * time.Second), LeaseUntil: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ClaimAutomation(ctx, storage.Claim{ID: "auto-tick", Token: "third", Now: base.Add(2 * time.Minute), LeaseUntil: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, ok)

	err = store.CompleteAutomation(ctx, storage.AutomationCompletion{ID: "auto-tick", Token: "first", LastRunAt: base, LastStatus: storage.RunFailed})
	assert.ErrorIs(t, err, storage.ErrClaimLost)

	require.NoError(t, store.ReleaseAutomationClaim(ctx, "auto-tick", "third"))
	ok, err = store.ClaimAutomation(ctx, storage.Claim{ID: "auto-tick", Token: "fourth", Now: base.Add(2 * time.Minute), LeaseUntil: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimSkipsInactiveAndFuture(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, store.CreateAutomation(ctx, scheduledAutomation("later", base.Add(time.Hour))))
	off := scheduledAutomation("off", base)
	off.Status = storage.StatusInactive
	require.NoError(t, store.CreateAutomation(ctx, off))

	for _, id := range []string{"auto-later", "auto-off"} {
		ok, err := store.ClaimAutomation(ctx, storage.Claim{ID: id, Token: "t", Now: base, LeaseUntil: base.Add(time.Minute)})
		require.NoError(t, err)
		assert.False(t, ok, id)
	}

	due, err := store.ListDueAutomations(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCompleteAutomationDeactivates(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	a := scheduledAutomation("once", base)
	a.CronExpression = ""
	a.ScheduledTime = timePtr(base)
	a.RunOnce = true
	require.NoError(t, store.CreateAutomation(ctx, a))

	ok, err := store.ClaimAutomation(ctx, storage.Claim{ID: a.ID, Token: "t", Now: base, LeaseUntil: base.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.CompleteAutomation(ctx, storage.AutomationCompletion{
		ID: a.ID, Token: "t", LastRunAt: base, LastStatus: storage.RunFailed, LastError: "boom", Deactivate: true,
		Now: base,
	}))

	got, err := store.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusInactive, got.Status)
	assert.Nil(t, got.NextRunAt)
	assert.Equal(t, "boom", got.LastError)
}

func TestTaskClaimAndComplete(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	task := &storage.ScheduledTask{
		ID: "task-1", Name: "purge", Command: "log", Cron: "*/5 * * * *", Active: true,
		MaxRetries: 2, RetryBackoffSeconds: 30, NextRunAt: timePtr(base), CreatedAt: base, UpdatedAt: base,
	}
	require.NoError(t, store.CreateTask(ctx, task))
	assert.ErrorIs(t, store.CreateTask(ctx, task), storage.ErrDuplicate)

	due, err := store.ListDueTasks(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 2, due[0].MaxRetries)

	ok, err := store.ClaimTask(ctx, storage.Claim{ID: "task-1", Token: "t", Now: base, LeaseUntil: base.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)

	retryAt := base.Add(30 * time.Second)
	require.NoError(t, store.CompleteTask(ctx, storage.TaskCompletion{
		ID: "task-1", Token: "t", LastRunAt: base, LastStatus: storage.RunFailed, LastError: "nope",
		RetryCount: 1, NextRunAt: &retryAt, Now: base.Add(time.Second),
	}))

	got, err := store.GetTaskByName(ctx, "purge")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.True(t, got.NextRunAt.Equal(retryAt))
	assert.Equal(t, storage.RunFailed, got.LastStatus)
	assert.True(t, got.UpdatedAt.Equal(base.Add(time.Second)))

	require.NoError(t, store.SetTaskActive(ctx, "task-1", false, nil, base.Add(time.Hour)))
	due, err = store.ListDueTasks(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	got, err = store.GetTask(ctx, "task-1")
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Zero(t, got.RetryCount)
	assert.True(t, got.UpdatedAt.Equal(base.Add(time.Hour)))
}

func TestSetAutomationStatusStampsCallerTime(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateAutomation(ctx, scheduledAutomation("tick", base)))

	at := base.Add(90 * time.Minute)
	require.NoError(t, store.SetAutomationStatus(ctx, "auto-tick", storage.StatusInactive, nil, at))

	got, err := store.GetAutomation(ctx, "auto-tick")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusInactive, got.Status)
	assert.Nil(t, got.NextRunAt)
	assert.True(t, got.UpdatedAt.Equal(at), "updated_at %s", got.UpdatedAt)

	assert.ErrorIs(t, store.SetAutomationStatus(ctx, "missing", storage.StatusActive, nil, at), storage.ErrNotFound)
}

func TestRunLedger(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateAutomation(ctx, scheduledAutomation("tick", base)))

	run := &storage.AutomationRun{
		ID: "run-1", AutomationID: "auto-tick", Trigger: storage.TriggerSchedule,
		Module: "noop", Status: storage.RunRunning, StartedAt: base,
	}
	require.NoError(t, store.CreateAutomationRun(ctx, run))

	finished := base.Add(1500 * time.Millisecond)
	ms := int64(1500)
	run.Status = storage.RunSucceeded
	run.FinishedAt = &finished
	run.DurationMs = &ms
	run.ResultPayload = json.RawMessage(`{"ok":true}`)
	require.NoError(t, store.FinishAutomationRun(ctx, run))

	run.Status = storage.RunFailed
	assert.ErrorIs(t, store.FinishAutomationRun(ctx, run), storage.ErrInvalidState)

	runs, err := store.ListAutomationRuns(ctx, "auto-tick", storage.Page{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunSucceeded, runs[0].Status)
	assert.Equal(t, int64(1500), *runs[0].DurationMs)
	assert.JSONEq(t, `{"ok":true}`, string(runs[0].ResultPayload))
}

func TestRecoverInterruptedRuns(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateAutomation(ctx, scheduledAutomation("tick", base)))
	require.NoError(t, store.CreateTask(ctx, &storage.ScheduledTask{
		ID: "task-1", Name: "purge", Command: "log", Cron: "* * * * *", Active: true, CreatedAt: base, UpdatedAt: base,
	}))

	require.NoError(t, store.CreateAutomationRun(ctx, &storage.AutomationRun{
		ID: "stale", AutomationID: "auto-tick", Trigger: storage.TriggerSchedule, Module: "noop",
		Status: storage.RunRunning, StartedAt: base,
	}))
	require.NoError(t, store.CreateAutomationRun(ctx, &storage.AutomationRun{
		ID: "fresh", AutomationID: "auto-tick", Trigger: storage.TriggerSchedule, Module: "noop",
		Status: storage.RunRunning, StartedAt: base.Add(time.Hour),
	}))
	require.NoError(t, store.CreateTaskRun(ctx, &storage.ScheduledTaskRun{
		ID: "task-stale", TaskID: "task-1", Status: storage.RunRunning, StartedAt: base,
	}))

	n, err := store.RecoverInterruptedRuns(ctx, base.Add(time.Minute), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	runs, err := store.ListAutomationRuns(ctx, "auto-tick", storage.Page{})
	require.NoError(t, err)
	statuses := map[string]storage.RunStatus{}
	for _, r := range runs {
		statuses[r.ID] = r.Status
		if r.ID == "stale" {
			assert.Equal(t, interruptedRunMessage, r.ErrorMessage)
			assert.Equal(t, int64(2*time.Minute/time.Millisecond), *r.DurationMs)
		}
	}
	assert.Equal(t, storage.RunFailed, statuses["stale"])
	assert.Equal(t, storage.RunRunning, statuses["fresh"])

	taskRuns, err := store.ListTaskRuns(ctx, "task-1", storage.Page{})
	require.NoError(t, err)
	require.Len(t, taskRuns, 1)
	assert.Equal(t, storage.RunFailed, taskRuns[0].Status)
}

func attempt(eventID string, n int, status storage.AttemptStatus, code int, at time.Time) storage.WebhookAttempt {
	return storage.WebhookAttempt{
		ID:             fmt.Sprintf("%s-a%d", eventID, n),
		WebhookEventID: eventID,
		AttemptNumber:  n,
		Status:         status,
		ResponseStatus: &code,
		AttemptedAt:    at,
	}
}

func TestWebhookAttemptsAreGapless(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateWebhookEvent(ctx, outgoingWebhook("wh-1")))

	due, err := store.ListDueWebhooks(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := store.ClaimWebhook(ctx, "wh-1", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.ClaimWebhook(ctx, "wh-1", base, base.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "a live claim must not be taken twice")

	retry := base.Add(time.Minute)
	require.NoError(t, store.RecordWebhookAttempt(ctx, storage.AttemptOutcome{
		Attempt:       attempt("wh-1", 1, storage.AttemptFailed, 500, base),
		NextStatus:    storage.WebhookPending,
		NextAttemptAt: &retry,
		LastError:     "HTTP 500",
	}))

	err = store.RecordWebhookAttempt(ctx, storage.AttemptOutcome{
		Attempt:    attempt("wh-1", 1, storage.AttemptFailed, 500, base),
		NextStatus: storage.WebhookPending,
	})
	assert.ErrorIs(t, err, storage.ErrAttemptOutOfOrder)

	ok, err = store.ClaimWebhook(ctx, "wh-1", retry, retry.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	err = store.RecordWebhookAttempt(ctx, storage.AttemptOutcome{
		Attempt:    attempt("wh-1", 3, storage.AttemptSucceeded, 200, retry),
		NextStatus: storage.WebhookDelivered,
	})
	assert.ErrorIs(t, err, storage.ErrAttemptOutOfOrder)

	require.NoError(t, store.RecordWebhookAttempt(ctx, storage.AttemptOutcome{
		Attempt:      attempt("wh-1", 2, storage.AttemptSucceeded, 200, retry),
		NextStatus:   storage.WebhookDelivered,
		ResponseBody: "ok",
		DeliveredAt:  &retry,
	}))

	attempts, err := store.ListWebhookAttempts(ctx, "wh-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.Equal(t, 2, attempts[1].AttemptNumber)

	got, err := store.GetWebhookEvent(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, storage.WebhookDelivered, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Equal(t, 200, *got.ResponseStatus)
	assert.Equal(t, "ok", got.ResponseBody)
	assert.True(t, got.DeliveredAt.Equal(retry))

	due, err = store.ListDueWebhooks(ctx, retry.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestWebhookStaleClaimIsRecoverable(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateWebhookEvent(ctx, outgoingWebhook("wh-1")))

	ok, err := store.ClaimWebhook(ctx, "wh-1", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	due, err := store.ListDueWebhooks(ctx, base.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = store.ListDueWebhooks(ctx, base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, storage.WebhookDelivering, due[0].Status)

	ok, err = store.ClaimWebhook(ctx, "wh-1", base.Add(2*time.Minute), base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWebhookDeferAndRequeue(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	require.NoError(t, store.CreateWebhookEvent(ctx, outgoingWebhook("wh-1")))

	ok, err := store.ClaimWebhook(ctx, "wh-1", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	later := base.Add(10 * time.Minute)
	require.NoError(t, store.DeferWebhook(ctx, "wh-1", later, "circuit open", base.Add(time.Second)))
	assert.ErrorIs(t, store.DeferWebhook(ctx, "wh-1", later, "again", base.Add(time.Second)), storage.ErrClaimLost)

	got, err := store.GetWebhookEvent(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, storage.WebhookPending, got.Status)
	assert.True(t, got.UpdatedAt.Equal(base.Add(time.Second)))
	assert.Zero(t, got.AttemptCount)
	assert.Equal(t, "circuit open", got.LastError)

	assert.ErrorIs(t, store.RequeueWebhook(ctx, "wh-1", 1, later), storage.ErrInvalidState)
	assert.ErrorIs(t, store.RequeueWebhook(ctx, "missing", 1, later), storage.ErrNotFound)

	ok, err = store.ClaimWebhook(ctx, "wh-1", later, later.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.RecordWebhookAttempt(ctx, storage.AttemptOutcome{
		Attempt:    attempt("wh-1", 1, storage.AttemptFailed, 404, later),
		NextStatus: storage.WebhookFailed,
		LastError:  "HTTP 404",
	}))

	require.NoError(t, store.RequeueWebhook(ctx, "wh-1", 2, later.Add(time.Hour)))
	got, err = store.GetWebhookEvent(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, storage.WebhookPending, got.Status)
	assert.Equal(t, 3, got.MaxAttempts)
	assert.Equal(t, 1, got.AttemptCount)

	failed, err := store.ListWebhookEvents(ctx, storage.WebhookFilter{Status: storage.WebhookFailed})
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestIncomingWebhooksAreNeverDue(t *testing.T) {
	store := newTestStore(t, Options{})
	ctx := context.Background()
	in := outgoingWebhook("in-1")
	in.Direction = storage.DirectionIncoming
	in.Source = "crm"
	in.Status = storage.WebhookDelivered
	in.DeliveredAt = timePtr(base)
	require.NoError(t, store.CreateWebhookEvent(ctx, in))
	require.NoError(t, store.CreateWebhookEvent(ctx, outgoingWebhook("out-1")))

	due, err := store.ListDueWebhooks(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "out-1", due[0].ID)

	incoming, err := store.ListWebhookEvents(ctx, storage.WebhookFilter{Direction: storage.DirectionIncoming})
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, "crm", incoming[0].Source)
}

func TestWebhookHeadersSealedAtRest(t *testing.T) {
	codec, err := crypto.NewConfigEncryptor("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	store := newTestStore(t, Options{Headers: codec})
	ctx := context.Background()
	require.NoError(t, store.CreateWebhookEvent(ctx, outgoingWebhook("wh-1")))

	var raw string
	require.NoError(t, store.DB().QueryRowContext(ctx, "SELECT headers FROM webhook_events WHERE id = ?", "wh-1").Scan(&raw))
	assert.True(t, strings.HasPrefix(raw, "enc:v1:"))
	assert.NotContains(t, raw, "secret")

	got, err := store.GetWebhookEvent(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", got.Headers["Authorization"])
}

func TestInfrastructureErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, Options{Dialect: DialectPostgres})
	mock.ExpectExec(`UPDATE automations SET claim_token = \$1, claimed_until = \$2`).
		WillReturnError(fmt.Errorf("connection reset"))

	ok, err := store.ClaimAutomation(context.Background(), storage.Claim{
		ID: "a", Token: "t", Now: base, LeaseUntil: base.Add(time.Minute),
	})
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim automation")
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, errors.Is(err, storage.ErrClaimLost))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db, Options{Dialect: DialectPostgres})
	mock.ExpectQuery(`SELECT .* FROM scheduled_tasks WHERE id = \$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = store.GetTask(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
