// Package handlers serves the admin API: automation and task authoring,
// filter validation, synchronous event submission and webhook inspection.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"time"

	"automation-engine/internal/catalog"
	"automation-engine/internal/common/errors"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/events"
	"automation-engine/internal/storage"
	"automation-engine/internal/webhook"

	"github.com/gorilla/mux"
)

const maxRequestBody = 1 << 20

// Store is the read side the admin API lists from.
type Store interface {
	GetAutomation(ctx context.Context, id string) (*storage.Automation, error)
	ListAutomations(ctx context.Context, filter storage.AutomationFilter) ([]*storage.Automation, error)
	ListAutomationRuns(ctx context.Context, automationID string, page storage.Page) ([]*storage.AutomationRun, error)
	GetTask(ctx context.Context, id string) (*storage.ScheduledTask, error)
	ListTasks(ctx context.Context, page storage.Page) ([]*storage.ScheduledTask, error)
	ListTaskRuns(ctx context.Context, taskID string, page storage.Page) ([]*storage.ScheduledTaskRun, error)
	GetWebhookEvent(ctx context.Context, id string) (*storage.WebhookEvent, error)
	ListWebhookEvents(ctx context.Context, filter storage.WebhookFilter) ([]*storage.WebhookEvent, error)
	ListWebhookAttempts(ctx context.Context, eventID string) ([]*storage.WebhookAttempt, error)
}

// EventSubmitter evaluates an event synchronously.
type EventSubmitter interface {
	Submit(ctx context.Context, eventType string, eventCtx interface{}) ([]events.Outcome, error)
}

// ModuleLister names the registered action modules.
type ModuleLister interface {
	IDs() []string
}

// HealthCheck is one named dependency check for GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Catalog  *catalog.Service
	Store    Store
	Webhooks *webhook.Service
	Events   EventSubmitter
	Modules  ModuleLister
	Health   []HealthCheck
	Version  string
	Logger   logging.Logger
}

type Handlers struct {
	Deps
	logger logging.Logger
}

func New(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		Deps:   deps,
		logger: deps.Logger.WithFields(logging.String("component", "admin_api")),
	}
}

// RegisterAPI mounts the /api routes on r. Authentication is applied by the
// caller.
func (h *Handlers) RegisterAPI(r *mux.Router) {
	r.HandleFunc("/automations", h.ListAutomations).Methods(http.MethodGet)
	r.HandleFunc("/automations", h.CreateAutomation).Methods(http.MethodPost)
	r.HandleFunc("/automations/{id}", h.GetAutomation).Methods(http.MethodGet)
	r.HandleFunc("/automations/{id}", h.UpdateAutomation).Methods(http.MethodPut)
	r.HandleFunc("/automations/{id}/activate", h.ActivateAutomation).Methods(http.MethodPost)
	r.HandleFunc("/automations/{id}/deactivate", h.DeactivateAutomation).Methods(http.MethodPost)
	r.HandleFunc("/automations/{id}/run", h.RunAutomation).Methods(http.MethodPost)
	r.HandleFunc("/automations/{id}/runs", h.ListAutomationRuns).Methods(http.MethodGet)

	r.HandleFunc("/filters/validate", h.ValidateFilter).Methods(http.MethodPost)
	r.HandleFunc("/events", h.SubmitEvent).Methods(http.MethodPost)
	r.HandleFunc("/modules", h.ListModules).Methods(http.MethodGet)

	r.HandleFunc("/tasks", h.ListTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks", h.CreateTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}", h.GetTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", h.UpdateTask).Methods(http.MethodPut)
	r.HandleFunc("/tasks/{id}/activate", h.ActivateTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/deactivate", h.DeactivateTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/runs", h.ListTaskRuns).Methods(http.MethodGet)

	r.HandleFunc("/webhooks", h.ListWebhooks).Methods(http.MethodGet)
	r.HandleFunc("/webhooks", h.EnqueueWebhook).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/{id}", h.GetWebhook).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{id}/attempts", h.ListWebhookAttempts).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/{id}/requeue", h.RequeueWebhook).Methods(http.MethodPost)
}

// Health reports each dependency check. Any failure yields 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.Deps.Health))
	for _, c := range h.Deps.Health {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":  overall,
		"version": h.Version,
		"checks":  checks,
	})
}

func (h *Handlers) ListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"modules": h.Modules.IDs()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Internal details
// stay in the log.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.InternalError("unexpected error", err)
	}

	status := http.StatusInternalServerError
	switch appErr.Type {
	case errors.ErrTypeValidation, errors.ErrTypeMalformedFilter:
		status = http.StatusBadRequest
	case errors.ErrTypeAuth:
		status = http.StatusUnauthorized
	case errors.ErrTypeNotFound:
		status = http.StatusNotFound
	case errors.ErrTypeConflict:
		status = http.StatusConflict
	case errors.ErrTypeRateLimit:
		status = http.StatusTooManyRequests
	case errors.ErrTypeConfig:
		status = http.StatusNotImplemented
	}

	message := appErr.Message
	if status >= 500 && status != http.StatusNotImplemented {
		h.logger.Error("Admin request failed", err,
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path))
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message, "type": string(appErr.Type)})
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return errors.ValidationError("failed to read request body")
	}
	if len(body) > maxRequestBody {
		return errors.ValidationError("request body too large")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.ValidationError("invalid JSON: " + err.Error())
	}
	return nil
}

func storeError(err error, resource string) error {
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFoundError(resource)
	}
	return errors.InfrastructureError("read "+resource, err)
}
