package base

import (
	"context"
	"errors"
	"testing"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/common/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleAcknowledgement(t *testing.T) {
	b := NewBaseBroker("test", "local", logging.NewNopLogger())
	msg := &brokers.Message{ID: "m1", Topic: "events"}

	assert.True(t, Handle(context.Background(), b, func(context.Context, *brokers.Message) error { return nil }, msg))
	assert.False(t, Handle(context.Background(), b, func(context.Context, *brokers.Message) error {
		return errors.New("boom")
	}, msg))
	assert.False(t, Handle(context.Background(), b, func(context.Context, *brokers.Message) error {
		panic("handler bug")
	}, msg))
}

func TestAttributesCarryMetadataAndHeaders(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := &brokers.Message{
		ID:        "m1",
		Topic:     "automation.events",
		Key:       "ticket-7",
		Headers:   map[string]string{brokers.HeaderSuppressTriggers: "true"},
		Timestamp: ts,
	}

	attrs := EncodeAttributes(msg)
	assert.Equal(t, "true", attrs["Header_x-suppress-triggers"])

	got := DecodeAttributes(attrs, []byte(`{}`))
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "automation.events", got.Topic)
	assert.Equal(t, "ticket-7", got.Key)
	assert.True(t, got.Timestamp.Equal(ts))
	assert.True(t, got.Suppressed())
}

func TestDecodeAttributesKeepsForeignAttributes(t *testing.T) {
	got := DecodeAttributes(map[string]string{"Timestamp": "not-a-number", "origin": "crm"}, nil)
	assert.True(t, got.Timestamp.IsZero())
	assert.Equal(t, "crm", got.Headers["origin"])
}

func TestStringHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{"a": "1"}, StringHeaders(map[string]interface{}{"a": 1}))
	assert.Equal(t, map[string]string{"b": "true"}, StringHeaders(map[interface{}]interface{}{"b": true}))
	assert.Empty(t, StringHeaders(nil))
}

func TestRedactURL(t *testing.T) {
	require.Equal(t, "amqp://***@mq:5672/", RedactURL("amqp://guest:secret@mq:5672/"))
	require.Equal(t, "mq:5672", RedactURL("mq:5672"))
}
