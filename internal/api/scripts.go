package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terminail/autodroid-sub001/internal/script"
)

// handleListScripts returns every script the engine can load.
func (s *Server) handleListScripts(w http.ResponseWriter, _ *http.Request) {
	infos := s.engine.ListScripts()
	if infos == nil {
		infos = []script.Info{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"scripts": infos, "count": len(infos)})
}

// handleGetScript returns metadata and load status for one script.
func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	info, err := s.engine.ScriptInfo(chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, script.ErrNotFound) {
			writeNotFound(w, "script not found")
			return
		}
		writeInternalError(w, "failed to read script")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleReloadScript drops the cached module so the next run, and this
// response, reflect the current source (e.g. an edited workflow file).
func (s *Server) handleReloadScript(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.engine.Invalidate(name)
	info, err := s.engine.ScriptInfo(name)
	if err != nil {
		if errors.Is(err, script.ErrNotFound) {
			writeNotFound(w, "script not found")
			return
		}
		writeInternalError(w, "failed to reload script")
		return
	}
	s.logger.Info("script reloaded via API", "script", name, "valid", info.Valid)
	writeJSON(w, http.StatusOK, info)
}
