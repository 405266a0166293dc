package handlers

import (
	"net/http"

	"automation-engine/internal/common/pagination"
	"automation-engine/internal/common/redact"
	"automation-engine/internal/common/validation"
	"automation-engine/internal/storage"
	"automation-engine/internal/webhook"

	"github.com/gorilla/mux"
)

// ListWebhooks supports ?direction= and ?status= plus page/per_page.
func (h *Handlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	params := pagination.ParseParams(r)
	q := r.URL.Query()
	list, err := h.Store.ListWebhookEvents(r.Context(), storage.WebhookFilter{
		Direction: storage.Direction(q.Get("direction")),
		Status:    storage.WebhookStatus(q.Get("status")),
		Page:      storage.Page{Limit: params.Limit, Offset: params.Offset},
	})
	if err != nil {
		h.writeError(w, r, storeError(err, "webhooks"))
		return
	}
	for _, e := range list {
		e.Headers = redact.Headers(e.Headers)
	}
	writeJSON(w, http.StatusOK, pagination.NewResponse(list, params))
}

func (h *Handlers) GetWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	e, err := h.Store.GetWebhookEvent(r.Context(), id)
	if err != nil {
		h.writeError(w, r, storeError(err, "webhook event "+id))
		return
	}
	e.Headers = redact.Headers(e.Headers)
	writeJSON(w, http.StatusOK, e)
}

func (h *Handlers) EnqueueWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhook.OutboundRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := validation.ValidateStruct(req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Source == "" {
		req.Source = "admin"
	}
	e, err := h.Webhooks.Enqueue(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e.Headers = redact.Headers(e.Headers)
	writeJSON(w, http.StatusAccepted, e)
}

func (h *Handlers) ListWebhookAttempts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.Store.GetWebhookEvent(r.Context(), id); err != nil {
		h.writeError(w, r, storeError(err, "webhook event "+id))
		return
	}
	attempts, err := h.Store.ListWebhookAttempts(r.Context(), id)
	if err != nil {
		h.writeError(w, r, storeError(err, "webhook attempts"))
		return
	}
	if attempts == nil {
		attempts = []*storage.WebhookAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts})
}

// RequeueWebhook grants a failed outgoing event more attempts. The body may
// carry {"extra_attempts": n}; the default is one.
func (h *Handlers) RequeueWebhook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExtraAttempts int `json:"extra_attempts" validate:"min=0,max=100"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := validation.ValidateStruct(body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	e, err := h.Webhooks.Requeue(r.Context(), mux.Vars(r)["id"], body.ExtraAttempts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	e.Headers = redact.Headers(e.Headers)
	writeJSON(w, http.StatusOK, e)
}
