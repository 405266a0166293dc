package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/common/logging"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	b, err := NewBroker(client, Config{ConsumerGroup: "engine", Block: 20 * time.Millisecond}, logging.NewNopLogger())
	require.NoError(t, err)
	return b, mr
}

func TestPublishAndSubscribe(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []*brokers.Message
	require.NoError(t, b.Subscribe(ctx, "automation.events", func(_ context.Context, msg *brokers.Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
		return nil
	}))

	out := brokers.NewMessage("automation.events", []byte(`{"event_type":"ticket.updated"}`), time.Now())
	out.Key = "ticket-1"
	out.Headers["origin"] = "crm"
	require.NoError(t, b.Publish(ctx, out))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	msg := got[0]
	mu.Unlock()
	assert.Equal(t, out.ID, msg.ID)
	assert.Equal(t, "ticket-1", msg.Key)
	assert.Equal(t, "crm", msg.Headers["origin"])
	assert.JSONEq(t, `{"event_type":"ticket.updated"}`, string(msg.Body))

	require.Eventually(t, func() bool {
		pending, err := b.client.XPending(ctx, "automation.events", "engine").Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFailedHandlerLeavesEntryPending(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 4)
	require.NoError(t, b.Subscribe(ctx, "automation.events", func(context.Context, *brokers.Message) error {
		calls <- struct{}{}
		return errors.New("not now")
	}))
	require.NoError(t, b.Publish(ctx, brokers.NewMessage("automation.events", []byte(`{}`), time.Now())))

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not called")
	}

	pending, err := b.client.XPending(ctx, "automation.events", "engine").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestPublishRequiresTopic(t *testing.T) {
	b, _ := newTestBroker(t)
	assert.Error(t, b.Publish(context.Background(), &brokers.Message{Body: []byte(`{}`)}))
}

func TestSubscribeTwiceReusesGroup(t *testing.T) {
	b, _ := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	noop := func(context.Context, *brokers.Message) error { return nil }
	require.NoError(t, b.Subscribe(ctx, "s", noop))
	require.NoError(t, b.Subscribe(ctx, "s", noop))
}

func TestHealth(t *testing.T) {
	b, mr := newTestBroker(t)
	require.NoError(t, b.Health(context.Background()))
	mr.Close()
	assert.Error(t, b.Health(context.Background()))
}
