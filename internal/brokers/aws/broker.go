// Package aws implements the event bus on Amazon SQS and SNS. Topics are
// logical: they travel as a message attribute, and a subscriber only
// handles messages for its own topic.
package aws

import (
	"context"
	"fmt"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/brokers/base"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the part of the SQS client the broker uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, opts ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, opts ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SNSAPI is the part of the SNS client the broker uses.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
	GetTopicAttributes(ctx context.Context, in *sns.GetTopicAttributesInput, opts ...func(*sns.Options)) (*sns.GetTopicAttributesOutput, error)
}

type Broker struct {
	*base.BaseBroker
	config Config
	sqs    SQSAPI
	sns    SNSAPI
}

// NewBroker loads AWS credentials (static keys when configured, the default
// chain otherwise) and builds the service clients.
func NewBroker(ctx context.Context, cfg Config, logger logging.Logger) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid aws config: %v", err))
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to load AWS config", err)
	}

	return NewBrokerWithClients(cfg, sqs.NewFromConfig(awsCfg), sns.NewFromConfig(awsCfg), logger)
}

// NewBrokerWithClients builds a broker over existing clients.
func NewBrokerWithClients(cfg Config, sqsClient SQSAPI, snsClient SNSAPI, logger logging.Logger) (*Broker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid aws config: %v", err))
	}
	return &Broker{
		BaseBroker: base.NewBaseBroker("aws", cfg.endpoint(), logger),
		config:     cfg,
		sqs:        sqsClient,
		sns:        snsClient,
	}, nil
}

func (b *Broker) Publish(ctx context.Context, msg *brokers.Message) error {
	if msg.Topic == "" {
		return errors.ValidationError("message topic is required")
	}
	attrs := base.EncodeAttributes(msg)

	if b.config.TopicARN != "" {
		snsAttrs := make(map[string]snstypes.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			snsAttrs[k] = snstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
		}
		out, err := b.sns.Publish(ctx, &sns.PublishInput{
			TopicArn:          aws.String(b.config.TopicARN),
			Message:           aws.String(string(msg.Body)),
			MessageAttributes: snsAttrs,
		})
		if err != nil {
			return errors.ConnectionError("failed to publish to SNS", err)
		}
		b.Logger().Debug("Message published to SNS", logging.String("sns_message_id", aws.ToString(out.MessageId)))
		return nil
	}

	sqsAttrs := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		sqsAttrs[k] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(v)}
	}
	out, err := b.sqs.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(b.config.QueueURL),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: sqsAttrs,
	})
	if err != nil {
		return errors.ConnectionError("failed to send message to SQS", err)
	}
	b.Logger().Debug("Message sent to SQS", logging.String("sqs_message_id", aws.ToString(out.MessageId)))
	return nil
}

// Subscribe long-polls the queue. Handled messages are deleted; failed ones
// are made visible again immediately. The queue belongs to one subscriber:
// messages tagged with another topic are deleted unhandled.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.Handler) error {
	if b.config.QueueURL == "" {
		return errors.ConfigError("an SQS queue URL is required to subscribe")
	}
	go b.poll(ctx, topic, handler)
	b.Logger().Info("Subscribed to SQS queue", logging.String("topic", topic))
	return nil
}

func (b *Broker) poll(ctx context.Context, topic string, handler brokers.Handler) {
	for ctx.Err() == nil {
		out, err := b.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(b.config.QueueURL),
			MaxNumberOfMessages:   b.config.MaxMessages,
			WaitTimeSeconds:       b.config.WaitTimeSeconds,
			VisibilityTimeout:     b.config.VisibilityTimeout,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			b.Logger().Error("SQS receive failed", err, logging.String("topic", topic))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, m := range out.Messages {
			b.handle(ctx, topic, handler, m)
		}
	}
	b.Logger().Info("SQS subscription cancelled", logging.String("topic", topic))
}

func (b *Broker) handle(ctx context.Context, topic string, handler brokers.Handler, m types.Message) {
	attrs := make(map[string]string, len(m.MessageAttributes))
	for k, v := range m.MessageAttributes {
		attrs[k] = aws.ToString(v.StringValue)
	}
	msg := base.DecodeAttributes(attrs, []byte(aws.ToString(m.Body)))
	if msg.ID == "" {
		msg.ID = aws.ToString(m.MessageId)
	}
	if msg.Topic != "" && msg.Topic != topic {
		b.Logger().Debug("Dropping SQS message for another topic",
			logging.String("message_topic", msg.Topic),
			logging.String("topic", topic))
		b.delete(ctx, m, msg.ID)
		return
	}
	msg.Topic = topic

	if !base.Handle(ctx, b.BaseBroker, handler, msg, logging.String("sqs_message_id", aws.ToString(m.MessageId))) {
		b.release(ctx, m)
		return
	}
	b.delete(ctx, m, msg.ID)
}

func (b *Broker) delete(ctx context.Context, m types.Message, id string) {
	if _, err := b.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.config.QueueURL),
		ReceiptHandle: m.ReceiptHandle,
	}); err != nil {
		b.Logger().Error("Failed to delete SQS message", err, logging.String("message_id", id))
	}
}

func (b *Broker) release(ctx context.Context, m types.Message) {
	if _, err := b.sqs.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(b.config.QueueURL),
		ReceiptHandle:     m.ReceiptHandle,
		VisibilityTimeout: 0,
	}); err != nil {
		b.Logger().Warn("Failed to release SQS message", logging.Err(err))
	}
}

func (b *Broker) Health(ctx context.Context) error {
	if b.config.QueueURL != "" {
		_, err := b.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
			QueueUrl:       aws.String(b.config.QueueURL),
			AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
		})
		if err != nil {
			return errors.ConnectionError("SQS queue unreachable", err)
		}
	}
	if b.config.TopicARN != "" {
		if _, err := b.sns.GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{TopicArn: aws.String(b.config.TopicARN)}); err != nil {
			return errors.ConnectionError("SNS topic unreachable", err)
		}
	}
	return nil
}

func (b *Broker) Close() error {
	return nil
}
