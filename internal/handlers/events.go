package handlers

import (
	"net/http"
	"strings"
	"time"

	"automation-engine/internal/common/errors"
	"automation-engine/internal/dispatch"
	"automation-engine/internal/filter"
)

type runResponse struct {
	RunID      string      `json:"run_id"`
	Status     string      `json:"status"`
	Skipped    bool        `json:"skipped,omitempty"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	DurationMs int64       `json:"duration_ms"`
}

func runView(res dispatch.RunResult) runResponse {
	return runResponse{
		RunID:      res.RunID,
		Status:     string(res.Status),
		Skipped:    res.Skipped,
		Output:     res.Output,
		Error:      res.Error,
		StartedAt:  res.StartedAt,
		DurationMs: res.Duration.Milliseconds(),
	}
}

type outcomeResponse struct {
	AutomationID   string           `json:"automation_id"`
	AutomationName string           `json:"automation_name"`
	Matched        bool             `json:"matched"`
	Warnings       []filter.Warning `json:"warnings,omitempty"`
	Run            *runResponse     `json:"run,omitempty"`
}

// SubmitEvent evaluates {"event_type", "context"} against every active
// event automation and waits for the resulting dispatches.
func (h *Handlers) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventType string      `json:"event_type"`
		Context   interface{} `json:"context"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.EventType) == "" {
		h.writeError(w, r, errors.ValidationError("event_type is required"))
		return
	}

	outcomes, err := h.Events.Submit(r.Context(), body.EventType, body.Context)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]outcomeResponse, 0, len(outcomes))
	for _, o := range outcomes {
		out := outcomeResponse{
			AutomationID:   o.AutomationID,
			AutomationName: o.AutomationName,
			Matched:        o.Matched,
			Warnings:       o.Warnings,
		}
		if o.Run != nil {
			v := runView(*o.Run)
			out.Run = &v
		}
		resp = append(resp, out)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_type": body.EventType,
		"outcomes":   resp,
	})
}
