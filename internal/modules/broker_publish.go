package modules

import (
	"context"
	"encoding/json"

	"automation-engine/internal/brokers"
	"automation-engine/internal/common/clock"
	"automation-engine/internal/dispatch"
)

type brokerPublishPayload struct {
	Topic   string            `json:"topic" validate:"required"`
	Key     string            `json:"key,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body"`
}

// NewBrokerPublish returns the broker.publish module. Messages published
// from a dispatch carry the suppress header so event sources drop them.
func NewBrokerPublish(b brokers.Broker) dispatch.Module {
	clk := clock.New()
	return dispatch.ModuleFunc(func(ctx context.Context, payload interface{}, opts dispatch.InvokeOptions) (dispatch.Result, error) {
		var req brokerPublishPayload
		if err := decode(payload, &req); err != nil {
			return dispatch.Failed(err.Error(), false), nil
		}

		body := []byte(req.Body)
		if len(body) == 0 {
			body = []byte("null")
		}
		msg := brokers.NewMessage(req.Topic, body, clk.Now())
		msg.Key = req.Key
		for k, v := range req.Headers {
			msg.Headers[k] = v
		}
		if opts.SuppressRecursiveTriggers || dispatch.TriggersSuppressed(ctx) {
			msg.Headers[brokers.HeaderSuppressTriggers] = "true"
		}
		msg.Headers["x-run-id"] = opts.RunID

		if err := b.Publish(ctx, msg); err != nil {
			return dispatch.Result{}, err
		}
		return dispatch.Succeeded(map[string]interface{}{
			"message_id": msg.ID,
			"topic":      msg.Topic,
			"broker":     b.Type(),
		}), nil
	})
}
