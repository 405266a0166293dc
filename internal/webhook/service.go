// Package webhook records inbound callbacks and delivers outbound webhook
// events with bounded, backed-off retries and a gapless attempt history.
package webhook

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"

	"automation-engine/internal/common/clock"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/common/utils"
	"automation-engine/internal/storage"
)

// OutboundRequest asks for one webhook delivery.
type OutboundRequest struct {
	TargetURL      string            `json:"target_url" validate:"required,http_url"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        json.RawMessage   `json:"payload"`
	EventType      string            `json:"event_type,omitempty"`
	Source         string            `json:"source,omitempty"`
	MaxAttempts    int               `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=100"`
	BackoffSeconds int               `json:"backoff_seconds,omitempty" validate:"omitempty,min=1"`
}

// ServiceOptions sets defaults for enqueued events.
type ServiceOptions struct {
	MaxAttempts    int
	BackoffSeconds int
	Clock          clock.Clock
	Logger         logging.Logger
}

// Service writes webhook rows. Delivery itself happens in Worker.
type Service struct {
	store          storage.WebhookStore
	maxAttempts    int
	backoffSeconds int
	clock          clock.Clock
	logger         logging.Logger
}

func NewService(store storage.WebhookStore, opts ServiceOptions) *Service {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffSeconds <= 0 {
		opts.BackoffSeconds = 300
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	return &Service{
		store:          store,
		maxAttempts:    opts.MaxAttempts,
		backoffSeconds: opts.BackoffSeconds,
		clock:          opts.Clock,
		logger:         opts.Logger.WithFields(logging.String("component", "webhook_service")),
	}
}

// ValidateTarget accepts absolute http and https URLs with a host.
func ValidateTarget(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return errors.ValidationError(fmt.Sprintf("invalid target_url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.ValidationError("target_url must use http or https")
	}
	if u.Host == "" {
		return errors.ValidationError("target_url must include a host")
	}
	return nil
}

// Enqueue stores a pending outgoing event due immediately.
func (s *Service) Enqueue(ctx context.Context, req OutboundRequest) (*storage.WebhookEvent, error) {
	if err := ValidateTarget(req.TargetURL); err != nil {
		return nil, err
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return nil, errors.ValidationError("payload must be valid JSON")
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = s.maxAttempts
	}
	if req.BackoffSeconds <= 0 {
		req.BackoffSeconds = s.backoffSeconds
	}

	now := s.clock.Now()
	e := &storage.WebhookEvent{
		ID:             utils.GenerateID(),
		Direction:      storage.DirectionOutgoing,
		Source:         req.Source,
		EventType:      req.EventType,
		TargetURL:      strings.TrimSpace(req.TargetURL),
		Headers:        req.Headers,
		Payload:        payload,
		Status:         storage.WebhookPending,
		MaxAttempts:    req.MaxAttempts,
		BackoffSeconds: req.BackoffSeconds,
		NextAttemptAt:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateWebhookEvent(ctx, e); err != nil {
		return nil, errors.InfrastructureError("store webhook event", err)
	}

	s.logger.Debug("Webhook enqueued",
		logging.String("webhook_id", e.ID),
		logging.String("event_type", e.EventType),
		logging.Int("max_attempts", e.MaxAttempts))
	return e, nil
}

// RecordIncoming stores an accepted inbound callback for audit.
func (s *Service) RecordIncoming(ctx context.Context, source, eventType, path string, headers map[string]string, payload json.RawMessage) (*storage.WebhookEvent, error) {
	now := s.clock.Now()
	e := &storage.WebhookEvent{
		ID:          utils.GenerateID(),
		Direction:   storage.DirectionIncoming,
		Source:      source,
		EventType:   eventType,
		TargetURL:   path,
		Headers:     headers,
		Payload:     payload,
		Status:      storage.WebhookDelivered,
		CreatedAt:   now,
		UpdatedAt:   now,
		DeliveredAt: &now,
	}
	if err := s.store.CreateWebhookEvent(ctx, e); err != nil {
		return nil, errors.InfrastructureError("store inbound webhook", err)
	}
	return e, nil
}

// Requeue gives a failed outgoing event extraAttempts more attempts.
func (s *Service) Requeue(ctx context.Context, id string, extraAttempts int) (*storage.WebhookEvent, error) {
	if extraAttempts <= 0 {
		extraAttempts = 1
	}
	err := s.store.RequeueWebhook(ctx, id, extraAttempts, s.clock.Now())
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		return nil, errors.NotFoundError("webhook event " + id)
	case stderrors.Is(err, storage.ErrInvalidState):
		return nil, errors.ConflictError("only failed outgoing webhook events can be requeued")
	case err != nil:
		return nil, errors.InfrastructureError("requeue webhook event", err)
	}

	s.logger.Info("Webhook requeued",
		logging.String("webhook_id", id),
		logging.Int("extra_attempts", extraAttempts))
	e, err := s.store.GetWebhookEvent(ctx, id)
	if err != nil {
		return nil, errors.InfrastructureError("load webhook event", err)
	}
	return e, nil
}
