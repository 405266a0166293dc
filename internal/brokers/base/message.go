package base

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/common/logging"
)

// Attribute names used by transports without native headers.
const (
	AttrMessageID = "MessageID"
	AttrTopic     = "Topic"
	AttrKey       = "Key"
	AttrTimestamp = "Timestamp"
	HeaderPrefix  = "Header_"
)

// Handle runs handler for msg and reports whether it should be acknowledged.
// Handler errors and panics are logged and mean redelivery.
func Handle(ctx context.Context, b *BaseBroker, handler brokers.Handler, msg *brokers.Message, extra ...logging.Field) (ack bool) {
	fields := append([]logging.Field{
		logging.String("topic", msg.Topic),
		logging.String("message_id", msg.ID),
	}, extra...)

	defer func() {
		if r := recover(); r != nil {
			b.Logger().Error(fmt.Sprintf("Panic handling %s message", b.Type()), fmt.Errorf("%v", r), fields...)
			ack = false
		}
	}()

	if err := handler(ctx, msg); err != nil {
		b.Logger().Error(fmt.Sprintf("Error handling %s message", b.Type()), err, fields...)
		return false
	}
	return true
}

// StringHeaders flattens the header representations the transports use.
func StringHeaders(headers interface{}) map[string]string {
	result := make(map[string]string)

	switch h := headers.(type) {
	case map[string]string:
		for k, v := range h {
			result[k] = v
		}
	case map[string]interface{}:
		for k, v := range h {
			result[k] = fmt.Sprintf("%v", v)
		}
	case map[interface{}]interface{}:
		for k, v := range h {
			result[fmt.Sprintf("%v", k)] = fmt.Sprintf("%v", v)
		}
	}

	return result
}

// EncodeAttributes flattens msg metadata and headers into string attributes.
func EncodeAttributes(msg *brokers.Message) map[string]string {
	attrs := make(map[string]string, len(msg.Headers)+4)
	if msg.ID != "" {
		attrs[AttrMessageID] = msg.ID
	}
	if msg.Topic != "" {
		attrs[AttrTopic] = msg.Topic
	}
	if msg.Key != "" {
		attrs[AttrKey] = msg.Key
	}
	if !msg.Timestamp.IsZero() {
		attrs[AttrTimestamp] = strconv.FormatInt(msg.Timestamp.UnixNano(), 10)
	}
	for k, v := range msg.Headers {
		attrs[HeaderPrefix+k] = v
	}
	return attrs
}

// DecodeAttributes rebuilds a message from attributes written by
// EncodeAttributes. Attributes it does not recognise become headers.
func DecodeAttributes(attrs map[string]string, body []byte) *brokers.Message {
	msg := &brokers.Message{
		Headers: make(map[string]string),
		Body:    body,
	}
	for k, v := range attrs {
		switch {
		case k == AttrMessageID:
			msg.ID = v
		case k == AttrTopic:
			msg.Topic = v
		case k == AttrKey:
			msg.Key = v
		case k == AttrTimestamp:
			if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
				msg.Timestamp = time.Unix(0, ns)
			}
		case strings.HasPrefix(k, HeaderPrefix):
			msg.Headers[strings.TrimPrefix(k, HeaderPrefix)] = v
		default:
			msg.Headers[k] = v
		}
	}
	return msg
}

// RedactURL drops credentials from a connection URL for logging.
func RedactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
