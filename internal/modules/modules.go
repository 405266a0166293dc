// Package modules holds the built-in dispatch modules: webhook.send,
// broker.publish, log and noop.
package modules

import (
	"encoding/json"
	"fmt"
	"time"

	"automation-engine/internal/brokers"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/common/validation"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/webhook"
)

const (
	WebhookSendID   = "webhook.send"
	BrokerPublishID = "broker.publish"
	LogID           = "log"
	NoopID          = "noop"
)

// Deps are the services the built-ins call. A nil Webhooks or Broker skips
// registration of the module that needs it.
type Deps struct {
	Webhooks *webhook.Service
	Broker   brokers.Broker
	Logger   logging.Logger
	// PublishTimeout bounds broker.publish. Zero keeps the dispatcher default.
	PublishTimeout time.Duration
}

// RegisterBuiltins registers every built-in module whose dependencies are set.
func RegisterBuiltins(reg *dispatch.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = logging.GetGlobalLogger()
	}

	if err := reg.Register(LogID, NewLog(deps.Logger)); err != nil {
		return err
	}
	if err := reg.Register(NoopID, Noop()); err != nil {
		return err
	}
	if deps.Webhooks != nil {
		if err := reg.Register(WebhookSendID, NewWebhookSend(deps.Webhooks)); err != nil {
			return err
		}
	}
	if deps.Broker != nil {
		if err := reg.Register(BrokerPublishID, NewBrokerPublish(deps.Broker), dispatch.WithTimeout(deps.PublishTimeout)); err != nil {
			return err
		}
	}
	return nil
}

// decode converts a rendered payload into a typed, validated request.
func decode(payload interface{}, into interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.ValidationError(fmt.Sprintf("payload is not serialisable: %v", err))
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return errors.ValidationError(fmt.Sprintf("payload has the wrong shape: %v", err))
	}
	return validation.ValidateStruct(into)
}
