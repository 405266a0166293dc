package handlers

import (
	"encoding/json"
	"net/http"

	"automation-engine/internal/catalog"
	"automation-engine/internal/common/pagination"
	"automation-engine/internal/filter"
	"automation-engine/internal/storage"

	"github.com/gorilla/mux"
)

// automationResponse carries authoring warnings alongside the stored row.
type automationResponse struct {
	*storage.Automation
	Warnings []filter.Warning `json:"warnings,omitempty"`
}

// ListAutomations supports ?kind= and ?status= plus page/per_page.
func (h *Handlers) ListAutomations(w http.ResponseWriter, r *http.Request) {
	params := pagination.ParseParams(r)
	q := r.URL.Query()
	list, err := h.Store.ListAutomations(r.Context(), storage.AutomationFilter{
		Kind:   storage.AutomationKind(q.Get("kind")),
		Status: storage.AutomationStatus(q.Get("status")),
		Page:   storage.Page{Limit: params.Limit, Offset: params.Offset},
	})
	if err != nil {
		h.writeError(w, r, storeError(err, "automations"))
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewResponse(list, params))
}

func (h *Handlers) GetAutomation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := h.Store.GetAutomation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, storeError(err, "automation "+id))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handlers) CreateAutomation(w http.ResponseWriter, r *http.Request) {
	var in catalog.AutomationInput
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, warnings, err := h.Catalog.CreateAutomation(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, automationResponse{Automation: a, Warnings: warnings})
}

func (h *Handlers) UpdateAutomation(w http.ResponseWriter, r *http.Request) {
	var in catalog.AutomationInput
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, warnings, err := h.Catalog.UpdateAutomation(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, automationResponse{Automation: a, Warnings: warnings})
}

func (h *Handlers) ActivateAutomation(w http.ResponseWriter, r *http.Request) {
	h.setAutomationActive(w, r, true)
}

func (h *Handlers) DeactivateAutomation(w http.ResponseWriter, r *http.Request) {
	h.setAutomationActive(w, r, false)
}

func (h *Handlers) setAutomationActive(w http.ResponseWriter, r *http.Request, active bool) {
	a, err := h.Catalog.SetAutomationActive(r.Context(), mux.Vars(r)["id"], active)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RunAutomation dispatches once now. An optional body is used as the event
// context.
func (h *Handlers) RunAutomation(w http.ResponseWriter, r *http.Request) {
	var eventCtx interface{}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &eventCtx); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	res, err := h.Catalog.RunAutomation(r.Context(), mux.Vars(r)["id"], eventCtx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runView(res))
}

func (h *Handlers) ListAutomationRuns(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.Store.GetAutomation(r.Context(), id); err != nil {
		h.writeError(w, r, storeError(err, "automation "+id))
		return
	}
	params := pagination.ParseParams(r)
	runs, err := h.Store.ListAutomationRuns(r.Context(), id, storage.Page{Limit: params.Limit, Offset: params.Offset})
	if err != nil {
		h.writeError(w, r, storeError(err, "automation runs"))
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewResponse(runs, params))
}

// ValidateFilter reports authoring warnings for a filter document without
// storing anything.
func (h *Handlers) ValidateFilter(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filter  json.RawMessage `json:"filter"`
		Context interface{}     `json:"context,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	f := filter.CompileJSON(body.Filter)
	resp := map[string]interface{}{
		"valid":    len(f.Warnings) == 0,
		"warnings": f.Warnings,
	}
	if body.Context != nil {
		resp["matches"] = f.Matches(body.Context)
	}
	if f.Warnings == nil {
		resp["warnings"] = []filter.Warning{}
	}
	writeJSON(w, http.StatusOK, resp)
}
