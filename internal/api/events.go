package api

import (
	"encoding/json"
	"net/http"
)

// EventRequest is the body of POST /api/v1/events.
type EventRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// handleInjectEvent hands an external event to event-triggered plans and
// reports how many tasks it enqueued.
func (s *Server) handleInjectEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "type is required")
		return
	}

	var enqueued int
	if s.orch != nil {
		enqueued = s.orch.InjectEvent(req.Type, req.Data)
	} else {
		enqueued = len(s.sched.HandleEvent(req.Type, req.Data))
	}

	s.logger.Info("event injected via API", "event_type", req.Type, "enqueued", enqueued)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"type":     req.Type,
		"enqueued": enqueued,
	})
}
