package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terminail/autodroid-sub001/internal/results"
	"github.com/terminail/autodroid-sub001/internal/script"
)

const timeFormat = time.RFC3339

// handleRecentResults returns the newest results, optionally for one device.
//
// Query parameters:
//   - device_id: only results from this device
//   - limit: maximum rows (default 20, max 200)
func (s *Server) handleRecentResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeUnavailable(w, "result store not configured")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	list, err := s.results.Recent(r.Context(), r.URL.Query().Get("device_id"), limit)
	if err != nil {
		s.logger.Error("listing results failed", "error", err)
		writeInternalError(w, "failed to list results")
		return
	}
	if list == nil {
		list = []script.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": list, "count": len(list)})
}

// handleGetResult returns the result of one task.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeUnavailable(w, "result store not configured")
		return
	}
	res, err := s.results.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, results.ErrNotFound) {
			writeNotFound(w, "result not found")
			return
		}
		s.logger.Error("reading result failed", "error", err)
		writeInternalError(w, "failed to get result")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleResultSummary returns result counts by status.
func (s *Server) handleResultSummary(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeUnavailable(w, "result store not configured")
		return
	}
	counts, err := s.results.StatusCounts(r.Context())
	if err != nil {
		s.logger.Error("counting results failed", "error", err)
		writeInternalError(w, "failed to count results")
		return
	}
	total := 0
	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"by_status": byStatus, "total": total})
}
