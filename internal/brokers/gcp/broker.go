// Package gcp implements the event bus on Google Cloud Pub/Sub.
package gcp

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/brokers/base"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type Broker struct {
	*base.BaseBroker
	client *pubsub.Client
	config Config

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewBroker connects to Pub/Sub. Extra client options are appended after the
// credentials file option.
func NewBroker(ctx context.Context, cfg Config, logger logging.Logger, opts ...option.ClientOption) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid gcp config: %v", err))
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to create Pub/Sub client", err)
	}

	return &Broker{
		BaseBroker: base.NewBaseBroker("gcp", "pubsub://projects/"+cfg.ProjectID, logger),
		client:     client,
		config:     cfg,
		topics:     make(map[string]*pubsub.Topic),
	}, nil
}

func (b *Broker) topic(ctx context.Context, id string) (*pubsub.Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[id]; ok {
		return t, nil
	}

	t := b.client.Topic(id)
	exists, err := t.Exists(ctx)
	if err != nil {
		return nil, errors.ConnectionError("failed to check topic existence", err)
	}
	if !exists {
		if !b.config.CreateMissing {
			return nil, errors.ConfigError(fmt.Sprintf("topic %s does not exist", id))
		}
		if t, err = b.client.CreateTopic(ctx, id); err != nil {
			return nil, errors.ConnectionError("failed to create topic "+id, err)
		}
		b.Logger().Info("Created Pub/Sub topic", logging.String("topic", id))
	}

	t.PublishSettings.CountThreshold = 10
	t.PublishSettings.DelayThreshold = 50 * time.Millisecond
	b.topics[id] = t
	return t, nil
}

func (b *Broker) Publish(ctx context.Context, msg *brokers.Message) error {
	if msg.Topic == "" {
		return errors.ValidationError("message topic is required")
	}
	t, err := b.topic(ctx, msg.Topic)
	if err != nil {
		return err
	}

	result := t.Publish(ctx, &pubsub.Message{
		Data:       msg.Body,
		Attributes: base.EncodeAttributes(msg),
	})
	id, err := result.Get(ctx)
	if err != nil {
		return errors.ConnectionError("failed to publish to Pub/Sub", err)
	}

	b.Logger().Debug("Message published to Pub/Sub",
		logging.String("topic", msg.Topic),
		logging.String("pubsub_message_id", id))
	return nil
}

// Subscribe receives from the topic's subscription, creating it when
// allowed. Handler failures are nacked for redelivery.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.Handler) error {
	t, err := b.topic(ctx, topic)
	if err != nil {
		return err
	}

	subID := b.config.subscriptionFor(topic)
	sub := b.client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return errors.ConnectionError("failed to check subscription existence", err)
	}
	if !exists {
		if !b.config.CreateMissing {
			return errors.ConfigError(fmt.Sprintf("subscription %s does not exist", subID))
		}
		sub, err = b.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:       t,
			AckDeadline: b.config.AckDeadline,
		})
		if err != nil {
			return errors.ConnectionError("failed to create subscription "+subID, err)
		}
		b.Logger().Info("Created Pub/Sub subscription",
			logging.String("subscription", subID),
			logging.String("topic", topic))
	}
	sub.ReceiveSettings.MaxOutstandingMessages = b.config.MaxOutstandingMessages

	go func() {
		err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
			msg := base.DecodeAttributes(m.Attributes, m.Data)
			if msg.ID == "" {
				msg.ID = m.ID
			}
			msg.Topic = topic
			if msg.Timestamp.IsZero() {
				msg.Timestamp = m.PublishTime
			}
			if base.Handle(ctx, b.BaseBroker, handler, msg, logging.String("pubsub_message_id", m.ID)) {
				m.Ack()
			} else {
				m.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			b.Logger().Error("Pub/Sub subscription stopped", err, logging.String("subscription", subID))
		}
	}()

	b.Logger().Info("Subscribed to Pub/Sub",
		logging.String("subscription", subID),
		logging.String("topic", topic))
	return nil
}

// Health lists one topic to prove the client can reach the project.
func (b *Broker) Health(ctx context.Context) error {
	it := b.client.Topics(ctx)
	if _, err := it.Next(); err != nil && !stderrors.Is(err, iterator.Done) {
		return errors.ConnectionError("Pub/Sub unreachable", err)
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	for _, t := range b.topics {
		t.Stop()
	}
	b.topics = map[string]*pubsub.Topic{}
	b.mu.Unlock()
	return b.client.Close()
}
