// Package kafka implements the event bus on Apache Kafka through
// librdkafka. Publishing waits for the delivery report; consumers commit an
// offset only after the handler accepted the message.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/brokers/base"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const headerKey = "key"

type Broker struct {
	*base.BaseBroker
	config   Config
	producer *kafka.Producer

	mu   sync.Mutex
	subs []subscription
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBroker(cfg Config, logger logging.Logger) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid kafka config: %v", err))
	}

	producer, err := kafka.NewProducer(cfg.configMap(false))
	if err != nil {
		return nil, errors.ConnectionError("failed to create Kafka producer", err)
	}

	b := &Broker{
		BaseBroker: base.NewBaseBroker("kafka", strings.Join(cfg.Brokers, ","), logger),
		config:     cfg,
		producer:   producer,
	}
	go b.drainEvents()
	return b, nil
}

// drainEvents logs producer events not tied to a delivery channel.
func (b *Broker) drainEvents() {
	for e := range b.producer.Events() {
		if kerr, ok := e.(kafka.Error); ok {
			b.Logger().Warn("Kafka producer error", logging.String("error", kerr.Error()))
		}
	}
}

func (b *Broker) Publish(ctx context.Context, msg *brokers.Message) error {
	if msg.Topic == "" {
		return errors.ValidationError("message topic is required")
	}

	topic := msg.Topic
	km := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          msg.Body,
		Timestamp:      msg.Timestamp,
		Headers:        toKafkaHeaders(msg),
	}
	if msg.Key != "" {
		km.Key = []byte(msg.Key)
	}

	delivery := make(chan kafka.Event, 1)
	if err := b.producer.Produce(km, delivery); err != nil {
		return errors.ConnectionError("failed to produce Kafka message", err)
	}

	select {
	case <-ctx.Done():
		return errors.TimeoutError("kafka delivery report")
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return errors.InternalError(fmt.Sprintf("unexpected Kafka event %T", e), nil)
		}
		if m.TopicPartition.Error != nil {
			return errors.ConnectionError("Kafka delivery failed", m.TopicPartition.Error)
		}
		b.Logger().Debug("Message delivered to Kafka",
			logging.String("topic", topic),
			logging.Int("partition", int(m.TopicPartition.Partition)),
			logging.String("offset", m.TopicPartition.Offset.String()))
		return nil
	}
}

func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.Handler) error {
	consumer, err := kafka.NewConsumer(b.config.configMap(true))
	if err != nil {
		return errors.ConnectionError("failed to create Kafka consumer", err)
	}
	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		consumer.Close()
		return errors.ConnectionError("failed to subscribe to topic "+topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := subscription{cancel: cancel, done: make(chan struct{})}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		defer close(sub.done)
		defer consumer.Close()
		b.consume(subCtx, consumer, topic, handler)
	}()

	b.Logger().Info("Subscribed to Kafka topic",
		logging.String("topic", topic),
		logging.String("group_id", b.config.GroupID))
	return nil
}

func (b *Broker) consume(ctx context.Context, consumer *kafka.Consumer, topic string, handler brokers.Handler) {
	for ctx.Err() == nil {
		ev := consumer.Poll(100)
		switch e := ev.(type) {
		case nil:
		case *kafka.Message:
			msg := fromKafkaMessage(e)
			if !base.Handle(ctx, b.BaseBroker, handler, msg,
				logging.Int("partition", int(e.TopicPartition.Partition)),
				logging.String("offset", e.TopicPartition.Offset.String())) {
				// Rewind so the message is read again.
				if err := consumer.Seek(e.TopicPartition, 0); err != nil {
					b.Logger().Error("Failed to rewind Kafka partition", err, logging.String("topic", topic))
				}
				continue
			}
			if _, err := consumer.CommitMessage(e); err != nil {
				b.Logger().Error("Failed to commit Kafka offset", err, logging.String("topic", topic))
			}
		case kafka.Error:
			b.Logger().Warn("Kafka consumer error",
				logging.String("topic", topic),
				logging.String("error", e.Error()))
		}
	}
	b.Logger().Info("Kafka subscription cancelled", logging.String("topic", topic))
}

func toKafkaHeaders(msg *brokers.Message) []kafka.Header {
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if msg.ID != "" {
		headers = append(headers, kafka.Header{Key: base.AttrMessageID, Value: []byte(msg.ID)})
	}
	return headers
}

func fromKafkaMessage(m *kafka.Message) *brokers.Message {
	msg := &brokers.Message{
		Headers:   make(map[string]string, len(m.Headers)),
		Body:      m.Value,
		Key:       string(m.Key),
		Timestamp: m.Timestamp,
	}
	if m.TopicPartition.Topic != nil {
		msg.Topic = *m.TopicPartition.Topic
	}
	for _, h := range m.Headers {
		switch h.Key {
		case base.AttrMessageID:
			msg.ID = string(h.Value)
		case headerKey:
			if msg.Key == "" {
				msg.Key = string(h.Value)
			}
		default:
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("%s-%d-%d", msg.Topic, m.TopicPartition.Partition, m.TopicPartition.Offset)
	}
	return msg
}

func (b *Broker) Health(ctx context.Context) error {
	timeout := b.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	metadata, err := b.producer.GetMetadata(nil, false, int(timeout.Milliseconds()))
	if err != nil {
		return errors.ConnectionError("failed to get Kafka metadata", err)
	}
	if len(metadata.Brokers) == 0 {
		return errors.ConnectionError("no Kafka brokers available", nil)
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}

	if remaining := b.producer.Flush(int(b.config.Timeout.Milliseconds())); remaining > 0 {
		b.Logger().Warn("Kafka producer closed with undelivered messages", logging.Int("remaining", remaining))
	}
	b.producer.Close()
	return nil
}
