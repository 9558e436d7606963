package api

import (
	"encoding/json"
	"net/http"

	"github.com/terminail/autodroid-sub001/internal/bus"
)

// BroadcastRequest is the body of POST /api/v1/devices/broadcast.
type BroadcastRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// handleBroadcast publishes one command to every device agent at once.
// Delivery is at-most-once and no responses are collected.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeUnavailable(w, "command bus not configured")
		return
	}

	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "action is required")
		return
	}

	cmd := bus.NewCommand(req.Action, req.Params)
	if err := bus.Broadcast(r.Context(), s.bus, cmd); err != nil {
		s.logger.Error("broadcast failed", "action", req.Action, "error", err)
		writeInternalError(w, "failed to publish broadcast")
		return
	}

	s.logger.Info("command broadcast via API", "action", req.Action, "command_id", cmd.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":     cmd.ID,
		"action": cmd.Action,
	})
}
