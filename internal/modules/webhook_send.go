package modules

import (
	"context"
	"encoding/json"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/webhook"
)

type webhookSendPayload struct {
	TargetURL      string            `json:"target_url" validate:"required,http_url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
	EventType      string            `json:"event_type,omitempty"`
	MaxAttempts    int               `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=100"`
	BackoffSeconds int               `json:"backoff_seconds,omitempty" validate:"omitempty,min=1"`
}

// NewWebhookSend returns the webhook.send module. It only enqueues; the
// webhook worker performs the delivery.
func NewWebhookSend(svc *webhook.Service) dispatch.Module {
	return dispatch.ModuleFunc(func(ctx context.Context, payload interface{}, opts dispatch.InvokeOptions) (dispatch.Result, error) {
		var req webhookSendPayload
		if err := decode(payload, &req); err != nil {
			return dispatch.Failed(err.Error(), false), nil
		}

		eventType := req.EventType
		if eventType == "" {
			eventType = opts.EventType
		}

		e, err := svc.Enqueue(ctx, webhook.OutboundRequest{
			TargetURL:      req.TargetURL,
			Headers:        req.Headers,
			Payload:        req.Payload,
			EventType:      eventType,
			Source:         source(opts),
			MaxAttempts:    req.MaxAttempts,
			BackoffSeconds: req.BackoffSeconds,
		})
		if err != nil {
			if errors.IsType(err, errors.ErrTypeValidation) {
				return dispatch.Failed(err.Error(), false), nil
			}
			return dispatch.Result{}, err
		}
		return dispatch.Succeeded(map[string]interface{}{"webhook_event_id": e.ID}), nil
	})
}

func source(opts dispatch.InvokeOptions) string {
	switch {
	case opts.AutomationID != "":
		return "automation:" + opts.AutomationID
	case opts.TaskID != "":
		return "task:" + opts.TaskID
	default:
		return "dispatch"
	}
}
