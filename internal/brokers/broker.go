// Package brokers defines the event bus boundary. A configured broker feeds
// events into the engine, receives run outcomes and backs the broker.publish
// module. Implementations live in the subpackages.
package brokers

import (
	"context"
	"time"

	"automation-engine/internal/common/utils"
)

// HeaderSuppressTriggers marks a message produced by a module run. Event
// sources drop such messages so a run can never re-trigger automations.
const HeaderSuppressTriggers = "x-suppress-triggers"

// Message is one broker message, inbound or outbound.
type Message struct {
	ID        string
	Topic     string
	Key       string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
}

// NewMessage returns a message with a fresh ID stamped at now.
func NewMessage(topic string, body []byte, now time.Time) *Message {
	return &Message{
		ID:        utils.GenerateID(),
		Topic:     topic,
		Headers:   map[string]string{},
		Body:      body,
		Timestamp: now,
	}
}

// Suppressed reports whether the message carries the suppress header.
func (m *Message) Suppressed() bool {
	return m.Headers[HeaderSuppressTriggers] == "true"
}

// Handler processes one inbound message. A nil return acknowledges it; an
// error asks the broker to redeliver where the transport supports it.
type Handler func(ctx context.Context, msg *Message) error

// Broker is implemented by every transport.
type Broker interface {
	Type() string
	Publish(ctx context.Context, msg *Message) error
	// Subscribe starts consuming topic in the background until ctx ends.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Health(ctx context.Context) error
	Close() error
}
