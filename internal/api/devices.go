package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terminail/autodroid-sub001/internal/device"
)

// handleListDevices returns every device in the registry table, with
// optional query filters.
//
// Query parameters:
//   - model: case-insensitive model match
//   - tag: required tag (repeatable)
//   - online: "true" or "false"
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.ListDevices()
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	q := r.URL.Query()
	sel := device.Selector{Model: q.Get("model"), Tags: q["tag"]}
	online := q.Get("online")

	filtered := make([]device.Device, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		if !sel.Matches(d) {
			continue
		}
		if online != "" && (online == "true") != d.Online {
			continue
		}
		filtered = append(filtered, *d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": filtered, "count": len(filtered)})
}

// handleAvailableDevices returns devices that could be reserved right now.
func (s *Server) handleAvailableDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := s.registry.GetAvailableDevices()
	if err != nil {
		writeInternalError(w, "failed to list available devices")
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleDeviceStats returns registry counters.
func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.registry.Stats()
	if err != nil {
		writeInternalError(w, "failed to read device stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleGetDevice returns a single device by id.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, err := s.registry.GetDevice(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
