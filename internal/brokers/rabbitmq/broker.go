// Package rabbitmq implements the event bus on AMQP 0.9.1. Topics map to
// durable queues, optionally bound to a topic exchange.
package rabbitmq

import (
	"context"
	"fmt"

	"automation-engine/internal/brokers"
	"automation-engine/internal/brokers/base"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"

	"github.com/streadway/amqp"
)

type Broker struct {
	*base.BaseBroker
	pool   Pool
	config Config
}

func NewBroker(cfg Config, logger logging.Logger) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid rabbitmq config: %v", err))
	}
	pool, err := NewConnectionPool(cfg.URL, cfg.PoolSize)
	if err != nil {
		return nil, errors.ConnectionError("failed to create RabbitMQ connection pool", err)
	}
	return NewBrokerWithPool(cfg, pool, logger)
}

// NewBrokerWithPool builds a broker over an existing pool.
func NewBrokerWithPool(cfg Config, pool Pool, logger logging.Logger) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid rabbitmq config: %v", err))
	}
	return &Broker{
		BaseBroker: base.NewBaseBroker("rabbitmq", base.RedactURL(cfg.URL), logger),
		pool:       pool,
		config:     cfg,
	}, nil
}

func (b *Broker) client() (Channel, error) {
	if b.pool == nil {
		return nil, errors.ConnectionError("RabbitMQ broker is closed", nil)
	}
	client, err := b.pool.NewClient()
	if err != nil {
		return nil, errors.ConnectionError("failed to get RabbitMQ client", err)
	}
	return client, nil
}

// declare makes sure topic has a durable queue and, with an exchange
// configured, that the queue is bound under the topic as routing key.
func (b *Broker) declare(client Channel, topic string) error {
	if _, err := client.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return errors.ConnectionError("failed to declare queue "+topic, err)
	}
	if b.config.Exchange == "" {
		return nil
	}
	if err := client.ExchangeDeclare(b.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		return errors.ConnectionError("failed to declare exchange "+b.config.Exchange, err)
	}
	if err := client.QueueBind(topic, topic, b.config.Exchange, false, nil); err != nil {
		return errors.ConnectionError("failed to bind queue "+topic, err)
	}
	return nil
}

func (b *Broker) Publish(ctx context.Context, msg *brokers.Message) error {
	if msg.Topic == "" {
		return errors.ValidationError("message topic is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := b.client()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := b.declare(client, msg.Topic); err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	if msg.Key != "" {
		headers["key"] = msg.Key
	}

	err = client.Publish(b.config.Exchange, msg.Topic, false, false, amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Body:         msg.Body,
	})
	if err != nil {
		return errors.ConnectionError("failed to publish to RabbitMQ", err)
	}
	return nil
}

// Subscribe consumes topic with manual acknowledgement. Handler failures are
// requeued.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.Handler) error {
	client, err := b.client()
	if err != nil {
		return err
	}
	if err := b.declare(client, topic); err != nil {
		client.Close()
		return err
	}
	if err := client.Qos(b.config.Prefetch, 0, false); err != nil {
		client.Close()
		return errors.ConnectionError("failed to set prefetch", err)
	}
	deliveries, err := client.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		client.Close()
		return errors.ConnectionError("failed to start consuming from queue "+topic, err)
	}

	go func() {
		defer client.Close()
		for {
			select {
			case <-ctx.Done():
				b.Logger().Info("RabbitMQ subscription cancelled", logging.String("topic", topic))
				return
			case d, ok := <-deliveries:
				if !ok {
					b.Logger().Warn("RabbitMQ delivery channel closed", logging.String("topic", topic))
					return
				}
				msg := convertDelivery(topic, d)
				if base.Handle(ctx, b.BaseBroker, handler, msg, logging.String("routing_key", d.RoutingKey)) {
					d.Ack(false)
				} else {
					d.Nack(false, true)
				}
			}
		}
	}()

	b.Logger().Info("Subscribed to RabbitMQ queue", logging.String("topic", topic))
	return nil
}

func convertDelivery(topic string, d amqp.Delivery) *brokers.Message {
	headers := base.StringHeaders(map[string]interface{}(d.Headers))
	key := headers["key"]
	delete(headers, "key")
	return &brokers.Message{
		ID:        d.MessageId,
		Topic:     topic,
		Key:       key,
		Headers:   headers,
		Body:      d.Body,
		Timestamp: d.Timestamp,
	}
}

func (b *Broker) Health(ctx context.Context) error {
	client, err := b.client()
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = client.QueueDeclare("", false, true, true, false, nil)
	return err
}

func (b *Broker) Close() error {
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	return nil
}
