package handlers

import (
	"net/http"

	"automation-engine/internal/catalog"
	"automation-engine/internal/common/pagination"
	"automation-engine/internal/storage"

	"github.com/gorilla/mux"
)

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	params := pagination.ParseParams(r)
	tasks, err := h.Store.ListTasks(r.Context(), storage.Page{Limit: params.Limit, Offset: params.Offset})
	if err != nil {
		h.writeError(w, r, storeError(err, "tasks"))
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewResponse(tasks, params))
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := h.Store.GetTask(r.Context(), id)
	if err != nil {
		h.writeError(w, r, storeError(err, "task "+id))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var in catalog.TaskInput
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.Catalog.CreateTask(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var in catalog.TaskInput
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.Catalog.UpdateTask(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) ActivateTask(w http.ResponseWriter, r *http.Request) {
	h.setTaskActive(w, r, true)
}

func (h *Handlers) DeactivateTask(w http.ResponseWriter, r *http.Request) {
	h.setTaskActive(w, r, false)
}

func (h *Handlers) setTaskActive(w http.ResponseWriter, r *http.Request, active bool) {
	t, err := h.Catalog.SetTaskActive(r.Context(), mux.Vars(r)["id"], active)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) ListTaskRuns(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.Store.GetTask(r.Context(), id); err != nil {
		h.writeError(w, r, storeError(err, "task "+id))
		return
	}
	params := pagination.ParseParams(r)
	runs, err := h.Store.ListTaskRuns(r.Context(), id, storage.Page{Limit: params.Limit, Offset: params.Offset})
	if err != nil {
		h.writeError(w, r, storeError(err, "task runs"))
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewResponse(runs, params))
}
