// Package redis implements the event bus on Redis Streams with consumer
// groups. A message is acknowledged only after its handler succeeds; failed
// messages stay pending in the group.
package redis

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/brokers/base"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"

	"github.com/go-redis/redis/v8"
)

const (
	fieldBody      = "body"
	fieldMessageID = "message_id"
	fieldKey       = "key"
	fieldTimestamp = "timestamp"
	fieldHeader    = "header_"
)

// Broker implements brokers.Broker over a shared go-redis client. Close does
// not close the client.
type Broker struct {
	*base.BaseBroker
	client *redis.Client
	config Config
}

func NewBroker(client *redis.Client, cfg Config, logger logging.Logger) (*Broker, error) {
	if client == nil {
		return nil, errors.ConfigError("redis client is required for the redis broker")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid redis broker config: %v", err))
	}
	return &Broker{
		BaseBroker: base.NewBaseBroker("redis", client.Options().Addr, logger),
		client:     client,
		config:     cfg,
	}, nil
}

// Publish appends msg to the stream named by its topic.
func (b *Broker) Publish(ctx context.Context, msg *brokers.Message) error {
	if msg.Topic == "" {
		return errors.ValidationError("message topic is required")
	}

	fields := map[string]interface{}{
		fieldBody:      string(msg.Body),
		fieldMessageID: msg.ID,
		fieldTimestamp: msg.Timestamp.UnixNano(),
	}
	if msg.Key != "" {
		fields[fieldKey] = msg.Key
	}
	for k, v := range msg.Headers {
		fields[fieldHeader+k] = v
	}

	args := &redis.XAddArgs{
		Stream: msg.Topic,
		ID:     "*",
		Values: fields,
	}
	if b.config.StreamMaxLen > 0 {
		args.MaxLen = b.config.StreamMaxLen
		args.Approx = true
	}

	id, err := b.client.XAdd(ctx, args).Result()
	if err != nil {
		return errors.ConnectionError("failed to publish message to Redis stream", err)
	}

	b.Logger().Debug("Message published to Redis stream",
		logging.String("stream", msg.Topic),
		logging.String("id", id),
	)
	return nil
}

// Subscribe creates the consumer group when missing and reads new entries
// with XREADGROUP until ctx ends.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.Handler) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, b.config.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.ConnectionError("failed to create consumer group", err)
	}

	go b.consume(ctx, topic, handler)

	b.Logger().Info("Subscribed to Redis stream",
		logging.String("stream", topic),
		logging.String("consumer_group", b.config.ConsumerGroup))
	return nil
}

func (b *Broker) consume(ctx context.Context, topic string, handler brokers.Handler) {
	for {
		if ctx.Err() != nil {
			b.Logger().Info("Redis subscription cancelled", logging.String("stream", topic))
			return
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.config.ConsumerGroup,
			Consumer: b.config.ConsumerName,
			Streams:  []string{topic, ">"},
			Count:    b.config.BatchSize,
			Block:    b.config.Block,
		}).Result()
		if err != nil {
			if stderrors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			b.Logger().Error("Redis consumer error", err, logging.String("stream", topic))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				msg := decodeEntry(stream.Stream, entry)
				if !base.Handle(ctx, b.BaseBroker, handler, msg, logging.String("entry_id", entry.ID)) {
					continue
				}
				if err := b.client.XAck(ctx, stream.Stream, b.config.ConsumerGroup, entry.ID).Err(); err != nil {
					b.Logger().Error("Failed to acknowledge Redis message", err,
						logging.String("stream", stream.Stream),
						logging.String("entry_id", entry.ID))
				}
			}
		}
	}
}

func decodeEntry(stream string, entry redis.XMessage) *brokers.Message {
	msg := &brokers.Message{
		ID:      entry.ID,
		Topic:   stream,
		Headers: make(map[string]string),
	}
	for field, value := range entry.Values {
		s := fmt.Sprintf("%v", value)
		switch {
		case field == fieldBody:
			msg.Body = []byte(s)
		case field == fieldMessageID:
			if s != "" {
				msg.ID = s
			}
		case field == fieldKey:
			msg.Key = s
		case field == fieldTimestamp:
			if ns, err := strconv.ParseInt(s, 10, 64); err == nil && ns > 0 {
				msg.Timestamp = time.Unix(0, ns)
			}
		case strings.HasPrefix(field, fieldHeader):
			msg.Headers[strings.TrimPrefix(field, fieldHeader)] = s
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

func (b *Broker) Health(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	return nil
}
