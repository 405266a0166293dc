package events

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"automation-engine/internal/brokers"
	"automation-engine/internal/common/logging"
)

// Envelope is the message body an event bus producer publishes.
type Envelope struct {
	EventType string      `json:"event_type"`
	Context   interface{} `json:"context"`
}

// BrokerSource feeds events from a broker topic into the queue. Messages
// carrying the suppress header are acknowledged and dropped.
type BrokerSource struct {
	broker  brokers.Broker
	topic   string
	service *Service
	logger  logging.Logger
}

func NewBrokerSource(b brokers.Broker, topic string, svc *Service, logger logging.Logger) *BrokerSource {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &BrokerSource{
		broker:  b,
		topic:   topic,
		service: svc,
		logger: logger.WithFields(
			logging.String("component", "event_source"),
			logging.String("broker", b.Type()),
			logging.String("topic", topic)),
	}
}

// Start subscribes until ctx is cancelled.
func (s *BrokerSource) Start(ctx context.Context) error {
	return s.broker.Subscribe(ctx, s.topic, s.Handle)
}

// Handle is the broker handler. A returned error asks the broker to
// redeliver, so only a full queue produces one.
func (s *BrokerSource) Handle(ctx context.Context, msg *brokers.Message) error {
	if msg.Suppressed() {
		s.logger.Debug("Ignored suppressed message", logging.String("message_id", msg.ID))
		return nil
	}

	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		s.logger.Warn("Dropped undecodable event message",
			logging.String("message_id", msg.ID),
			logging.Err(err))
		return nil
	}
	if env.EventType == "" {
		s.logger.Warn("Dropped event message without event_type", logging.String("message_id", msg.ID))
		return nil
	}

	err := s.service.Enqueue(ctx, env.EventType, env.Context)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, ErrQueueFull):
		s.logger.Warn("Event queue full, message will be redelivered", logging.String("message_id", msg.ID))
		return err
	default:
		s.logger.Warn("Dropped event message",
			logging.String("message_id", msg.ID),
			logging.Err(err))
		return nil
	}
}
