package gcp

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/common/logging"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeBroker(t *testing.T, cfg Config) *Broker {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	b, err := NewBroker(context.Background(), cfg, logging.NewNopLogger(), option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestPublishAndSubscribe(t *testing.T) {
	b := newFakeBroker(t, Config{ProjectID: "test", CreateMissing: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *brokers.Message, 1)
	require.NoError(t, b.Subscribe(ctx, "automation.events", func(_ context.Context, msg *brokers.Message) error {
		got <- msg
		return nil
	}))

	out := brokers.NewMessage("automation.events", []byte(`{"event_type":"ticket.updated"}`), time.Now())
	out.Headers["origin"] = "crm"
	require.NoError(t, b.Publish(ctx, out))

	select {
	case msg := <-got:
		assert.Equal(t, out.ID, msg.ID)
		assert.Equal(t, "automation.events", msg.Topic)
		assert.Equal(t, "crm", msg.Headers["origin"])
		assert.JSONEq(t, string(out.Body), string(msg.Body))
	case <-time.After(5 * time.Second):
		t.Fatal("message was not received")
	}
}

func TestNackedMessageIsRedelivered(t *testing.T) {
	b := newFakeBroker(t, Config{ProjectID: "test", CreateMissing: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	done := make(chan struct{})
	require.NoError(t, b.Subscribe(ctx, "retry", func(context.Context, *brokers.Message) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("try again")
		}
		close(done)
		return nil
	}))
	require.NoError(t, b.Publish(ctx, brokers.NewMessage("retry", []byte(`{}`), time.Now())))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not redelivered")
	}
}

func TestMissingTopicWithoutCreate(t *testing.T) {
	b := newFakeBroker(t, Config{ProjectID: "test"})
	err := b.Publish(context.Background(), brokers.NewMessage("absent", nil, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestHealth(t *testing.T) {
	b := newFakeBroker(t, Config{ProjectID: "test"})
	assert.NoError(t, b.Health(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, (&Config{}).Validate())
	assert.Error(t, (&Config{ProjectID: "p", AckDeadline: time.Second}).Validate())

	cfg := Config{ProjectID: "p"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.AckDeadline)
	assert.Equal(t, "events-automation-engine", cfg.subscriptionFor("events"))
}
