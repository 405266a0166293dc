package modules

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/common/clock"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/storage"
	"automation-engine/internal/storage/sqlstore"
	"automation-engine/internal/webhook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	published []*brokers.Message
	err       error
}

func (f *fakeBroker) Type() string { return "fake" }
func (f *fakeBroker) Publish(_ context.Context, msg *brokers.Message) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}
func (f *fakeBroker) Subscribe(context.Context, string, brokers.Handler) error { return nil }
func (f *fakeBroker) Health(context.Context) error                            { return nil }
func (f *fakeBroker) Close() error                                            { return nil }

func newWebhookService(t *testing.T) (*webhook.Service, *sqlstore.Store) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "modules.db")+"?_foreign_keys=on", sqlstore.Options{})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { store.Close() })

	svc := webhook.NewService(store, webhook.ServiceOptions{
		Clock:  clock.NewFake(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)),
		Logger: logging.NewNopLogger(),
	})
	return svc, store
}

func TestWebhookSendEnqueuesOutgoingEvent(t *testing.T) {
	svc, store := newWebhookService(t)
	m := NewWebhookSend(svc)

	res, err := m.Invoke(context.Background(), map[string]interface{}{
		"target_url": "https://crm.example.com/hooks",
		"headers":    map[string]interface{}{"X-Team": "support"},
		"payload":    map[string]interface{}{"ticket": 42},
	}, dispatch.InvokeOptions{AutomationID: "auto-1", EventType: "ticket.updated", SuppressRecursiveTriggers: true})
	require.NoError(t, err)
	require.Equal(t, dispatch.ResultSucceeded, res.Status)

	id := res.Output.(map[string]interface{})["webhook_event_id"].(string)
	e, err := store.GetWebhookEvent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, storage.DirectionOutgoing, e.Direction)
	assert.Equal(t, storage.WebhookPending, e.Status)
	assert.Equal(t, "automation:auto-1", e.Source)
	assert.Equal(t, "ticket.updated", e.EventType)
	assert.Equal(t, "support", e.Headers["X-Team"])
	assert.JSONEq(t, `{"ticket":42}`, string(e.Payload))
	assert.Equal(t, 5, e.MaxAttempts)
}

func TestWebhookSendRejectsBadPayloads(t *testing.T) {
	svc, _ := newWebhookService(t)
	m := NewWebhookSend(svc)

	for name, payload := range map[string]interface{}{
		"missing url":  map[string]interface{}{"payload": 1},
		"ftp url":      map[string]interface{}{"target_url": "ftp://files.example.com"},
		"not a map":    "hello",
		"bad attempts": map[string]interface{}{"target_url": "https://x.example.com", "max_attempts": 0.5},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := m.Invoke(context.Background(), payload, dispatch.InvokeOptions{TaskID: "t"})
			require.NoError(t, err)
			assert.Equal(t, dispatch.ResultFailed, res.Status)
			assert.False(t, res.Retryable)
		})
	}
}

func TestBrokerPublishMarksSuppressed(t *testing.T) {
	b := &fakeBroker{}
	m := NewBrokerPublish(b)

	res, err := m.Invoke(context.Background(), map[string]interface{}{
		"topic":   "crm.sync",
		"key":     "ticket-42",
		"headers": map[string]interface{}{"origin": "engine"},
		"body":    map[string]interface{}{"event_type": "ticket.synced"},
	}, dispatch.InvokeOptions{RunID: "run-9", SuppressRecursiveTriggers: true})
	require.NoError(t, err)
	assert.Equal(t, dispatch.ResultSucceeded, res.Status)

	require.Len(t, b.published, 1)
	msg := b.published[0]
	assert.Equal(t, "crm.sync", msg.Topic)
	assert.Equal(t, "ticket-42", msg.Key)
	assert.Equal(t, "engine", msg.Headers["origin"])
	assert.Equal(t, "run-9", msg.Headers["x-run-id"])
	assert.True(t, msg.Suppressed())
	assert.JSONEq(t, `{"event_type":"ticket.synced"}`, string(msg.Body))
}

func TestBrokerPublishErrors(t *testing.T) {
	m := NewBrokerPublish(&fakeBroker{err: errors.New("connection reset")})

	res, err := m.Invoke(context.Background(), map[string]interface{}{"topic": "t"}, dispatch.InvokeOptions{})
	require.Error(t, err)
	assert.Equal(t, dispatch.Result{}, res)

	res, err = NewBrokerPublish(&fakeBroker{}).Invoke(context.Background(), map[string]interface{}{"body": 1}, dispatch.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, dispatch.ResultFailed, res.Status)
}

func TestLogAndNoop(t *testing.T) {
	res, err := NewLog(logging.NewNopLogger()).Invoke(context.Background(), map[string]interface{}{"a": 1}, dispatch.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"logged": true}, res.Output)

	res, err = Noop().Invoke(context.Background(), []interface{}{"x"}, dispatch.InvokeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"x"}, res.Output)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := dispatch.NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, Deps{Logger: logging.NewNopLogger()}))
	assert.True(t, reg.Has(LogID))
	assert.True(t, reg.Has(NoopID))
	assert.False(t, reg.Has(WebhookSendID))
	assert.False(t, reg.Has(BrokerPublishID))

	svc, _ := newWebhookService(t)
	full := dispatch.NewRegistry()
	require.NoError(t, RegisterBuiltins(full, Deps{Webhooks: svc, Broker: &fakeBroker{}, Logger: logging.NewNopLogger()}))
	assert.Equal(t, []string{BrokerPublishID, LogID, NoopID, WebhookSendID}, full.IDs())

	assert.Error(t, RegisterBuiltins(full, Deps{Logger: logging.NewNopLogger()}))
}
