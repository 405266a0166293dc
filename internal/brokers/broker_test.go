package brokers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"automation-engine/internal/common/logging"
	"automation-engine/internal/config"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBroker struct {
	published []*Message
	err       error
}

func (c *captureBroker) Type() string { return "capture" }
func (c *captureBroker) Publish(_ context.Context, msg *Message) error {
	c.published = append(c.published, msg)
	return c.err
}
func (c *captureBroker) Subscribe(context.Context, string, Handler) error { return nil }
func (c *captureBroker) Health(context.Context) error                    { return nil }
func (c *captureBroker) Close() error                                    { return nil }

func TestOutcomePublisherMarksMessagesSuppressed(t *testing.T) {
	b := &captureBroker{}
	p := NewOutcomePublisher(b, "automation.outcomes", logging.NewNopLogger())

	started := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	p.RunFinished(context.Background(),
		dispatch.Request{Module: "webhook.send", System: dispatch.System{AutomationID: "auto-1", EventType: "ticket.updated", Trigger: "event"}},
		dispatch.RunResult{RunID: "run-1", Status: storage.RunSucceeded, StartedAt: started, FinishedAt: started.Add(2 * time.Second), Duration: 2 * time.Second})

	require.Len(t, b.published, 1)
	msg := b.published[0]
	assert.Equal(t, "automation.outcomes", msg.Topic)
	assert.Equal(t, "auto-1", msg.Key)
	assert.True(t, msg.Suppressed())

	var out Outcome
	require.NoError(t, json.Unmarshal(msg.Body, &out))
	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, "succeeded", out.Status)
	assert.Equal(t, int64(2000), out.DurationMs)
	assert.Equal(t, "ticket.updated", out.EventType)
}

func TestOutcomePublisherSwallowsBrokerErrors(t *testing.T) {
	b := &captureBroker{err: errors.New("down")}
	p := NewOutcomePublisher(b, "o", logging.NewNopLogger())
	assert.NotPanics(t, func() {
		p.RunFinished(context.Background(), dispatch.Request{System: dispatch.System{TaskID: "task-1"}}, dispatch.RunResult{RunID: "r"})
	})
	assert.Equal(t, "task-1", b.published[0].Key)
}

func TestRegistryOpensConfiguredType(t *testing.T) {
	r := NewRegistry()
	want := &captureBroker{}
	require.NoError(t, r.Register("capture", func(context.Context, *config.Config, logging.Logger) (Broker, error) {
		return want, nil
	}))
	assert.Error(t, r.Register("capture", nil))
	assert.True(t, r.IsRegistered("capture"))
	assert.Equal(t, []string{"capture"}, r.Types())

	got, err := r.Open(context.Background(), &config.Config{EventBrokerType: "capture"}, logging.NewNopLogger())
	require.NoError(t, err)
	assert.Same(t, want, got)

	_, err = r.Open(context.Background(), &config.Config{EventBrokerType: "nats"}, logging.NewNopLogger())
	assert.Error(t, err)
}
