// Package ingest accepts inbound third-party callbacks on
// POST /webhooks/inbound/{source}, records them for audit and queues them
// as events.
package ingest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"automation-engine/internal/common/cache"
	"automation-engine/internal/common/clock"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/common/redact"
	"automation-engine/internal/events"
	"automation-engine/internal/ratelimit"
	"automation-engine/internal/signature"
	"automation-engine/internal/storage"

	"github.com/gorilla/mux"
)

const (
	HeaderEventType      = "X-Event-Type"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderDeliveryID     = "X-Delivery-ID"

	defaultMaxBody   = 1 << 20
	defaultDedupeTTL = 24 * time.Hour
	signatureMaxAge  = 5 * time.Minute
)

// Recorder stores the audit row. *webhook.Service implements it.
type Recorder interface {
	RecordIncoming(ctx context.Context, source, eventType, path string, headers map[string]string, payload json.RawMessage) (*storage.WebhookEvent, error)
}

// Queue accepts events for async evaluation. *events.Service implements it.
type Queue interface {
	Enqueue(ctx context.Context, eventType string, eventCtx interface{}) error
}

type Options struct {
	Secret       string
	MaxBodyBytes int64
	// Limiter is keyed by client address. Nil disables limiting.
	Limiter ratelimit.Limiter
	// Dedupe drops callbacks whose Idempotency-Key or X-Delivery-ID was
	// already accepted for the same source within DedupeTTL. Nil disables it.
	Dedupe    cache.Cache
	DedupeTTL time.Duration
	Location  *time.Location
	Clock     clock.Clock
	Logger    logging.Logger
}

type Handler struct {
	recorder Recorder
	queue    Queue
	opts     Options
	logger   logging.Logger
}

func NewHandler(recorder Recorder, queue Queue, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = defaultDedupeTTL
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	return &Handler{
		recorder: recorder,
		queue:    queue,
		opts:     opts,
		logger:   opts.Logger.WithFields(logging.String("component", "ingest")),
	}
}

// Register mounts the endpoint on r.
func (h *Handler) Register(r *mux.Router) {
	r.Handle("/webhooks/inbound/{source}", h).Methods(http.MethodPost)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]
	logger := h.logger.WithFields(logging.String("source", source))

	if h.opts.Limiter != nil {
		decision, err := h.opts.Limiter.Allow(r.Context(), ratelimit.IPBasedKey(r))
		if err != nil {
			logger.Warn("Rate limit check failed, allowing request", logging.Err(err))
		} else if !decision.Allowed {
			writeStatus(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	if r.ContentLength > h.opts.MaxBodyBytes {
		writeStatus(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.opts.MaxBodyBytes+1))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if int64(len(body)) > h.opts.MaxBodyBytes {
		writeStatus(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if !h.authenticate(r, body) {
		logger.Warn("Inbound webhook rejected", logging.String("remote_addr", r.RemoteAddr))
		writeStatus(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		writeStatus(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}
	doc = NormalizeTimestamps(doc, h.opts.Location)

	eventType := eventTypeOf(r, doc, source)
	payload, err := json.Marshal(doc)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "body must be valid JSON")
		return
	}

	dedupeKey, fresh := h.claimDelivery(r, source, logger)
	if !fresh {
		logger.Info("Duplicate inbound webhook dropped", logging.String("delivery_key", dedupeKey))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "duplicate"})
		return
	}

	rec, err := h.recorder.RecordIncoming(r.Context(), source, eventType, r.URL.Path, headersOf(r), payload)
	if err != nil {
		h.releaseDelivery(r, dedupeKey)
		logger.Error("Failed to record inbound webhook", err)
		writeStatus(w, http.StatusInternalServerError, "failed to record webhook")
		return
	}

	if err := h.queue.Enqueue(r.Context(), eventType, doc); err != nil {
		h.releaseDelivery(r, dedupeKey)
		if stderrors.Is(err, events.ErrQueueFull) {
			logger.Warn("Event queue full", logging.String("webhook_id", rec.ID))
			w.Header().Set("Retry-After", "5")
			writeStatus(w, http.StatusServiceUnavailable, "event queue full")
			return
		}
		logger.Error("Failed to queue inbound event", err, logging.String("webhook_id", rec.ID))
		writeStatus(w, http.StatusInternalServerError, "failed to queue event")
		return
	}

	logger.Debug("Inbound webhook accepted",
		logging.String("webhook_id", rec.ID),
		logging.String("event_type", eventType))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "accepted",
		"id":         rec.ID,
		"event_type": eventType,
	})
}

// authenticate accepts the shared secret as a bearer token or ?token=, or a
// valid X-Webhook-Signature over the body.
func (h *Handler) authenticate(r *http.Request, body []byte) bool {
	if h.opts.Secret == "" {
		return false
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return signature.SecretMatches(h.opts.Secret, strings.TrimPrefix(auth, "Bearer "))
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return signature.SecretMatches(h.opts.Secret, token)
	}
	if sig := r.Header.Get(signature.HeaderSignature); sig != "" {
		err := signature.Verify(h.opts.Secret, body, r.Header.Get(signature.HeaderTimestamp), sig, h.opts.Clock.Now(), signatureMaxAge)
		return err == nil
	}
	return false
}

// claimDelivery reserves the delivery key of r. It reports false only for a
// key already seen; requests without a key, and cache failures, pass.
func (h *Handler) claimDelivery(r *http.Request, source string, logger logging.Logger) (string, bool) {
	if h.opts.Dedupe == nil {
		return "", true
	}
	id := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if id == "" {
		id = strings.TrimSpace(r.Header.Get(HeaderDeliveryID))
	}
	if id == "" {
		return "", true
	}

	key := source + ":" + id
	added, err := h.opts.Dedupe.Add(r.Context(), key, h.opts.DedupeTTL)
	if err != nil {
		logger.Warn("Delivery de-duplication failed, accepting request", logging.Err(err))
		return "", true
	}
	return key, added
}

// releaseDelivery forgets a reserved key so the sender's retry is accepted.
func (h *Handler) releaseDelivery(r *http.Request, key string) {
	if key == "" {
		return
	}
	if err := h.opts.Dedupe.Delete(r.Context(), key); err != nil {
		h.logger.Warn("Failed to release delivery key", logging.String("delivery_key", key), logging.Err(err))
	}
}

func eventTypeOf(r *http.Request, doc interface{}, source string) string {
	if et := strings.TrimSpace(r.Header.Get(HeaderEventType)); et != "" {
		return et
	}
	if obj, ok := doc.(map[string]interface{}); ok {
		if et, ok := obj["event_type"].(string); ok && strings.TrimSpace(et) != "" {
			return strings.TrimSpace(et)
		}
	}
	return "webhook." + source
}

func headersOf(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}
	return redact.Headers(headers)
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
