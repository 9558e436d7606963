package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terminail/autodroid-sub001/internal/scheduler"
)

// handleListPlans returns the active test plans in id order.
func (s *Server) handleListPlans(w http.ResponseWriter, _ *http.Request) {
	plans := s.sched.ListPlans()
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans, "count": len(plans)})
}

// handleGetPlan returns one plan and whether it has a queued or running task.
func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.sched.GetPlan(id)
	if err != nil {
		writeNotFound(w, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":        p,
		"outstanding": s.sched.IsOutstanding(id),
	})
}

// handleAddPlan adds a plan from a JSON body. Plans added here live until
// the next plan file reload.
func (s *Server) handleAddPlan(w http.ResponseWriter, r *http.Request) {
	var p scheduler.TestPlan
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.sched.AddPlan(p); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrDuplicatePlan):
			writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
		case errors.Is(err, scheduler.ErrInvalidPlan):
			writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
		default:
			writeInternalError(w, "failed to add plan")
		}
		return
	}

	s.logger.Info("plan added via API", "plan_id", p.ID, "workscript", p.Workscript)
	writeJSON(w, http.StatusCreated, p)
}

// handleRemovePlan removes a plan and drops its queued task.
func (s *Server) handleRemovePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sched.RemovePlan(id); err != nil {
		if errors.Is(err, scheduler.ErrPlanNotFound) {
			writeNotFound(w, "plan not found")
			return
		}
		writeInternalError(w, "failed to remove plan")
		return
	}
	s.logger.Info("plan removed via API", "plan_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// queuedTask is the API view of a pending task.
type queuedTask struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	Workscript string `json:"workscript"`
	Priority   int    `json:"priority"`
	Trigger    string `json:"trigger"`
	EnqueuedAt string `json:"enqueued_at"`
}

// handleQueue returns the pending tasks in pop order plus queue counters.
func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	pending := s.sched.PendingTasks()
	tasks := make([]queuedTask, 0, len(pending))
	for _, t := range pending {
		tasks = append(tasks, queuedTask{
			ID:         t.ID,
			PlanID:     t.Plan.ID,
			Workscript: t.Plan.Workscript,
			Priority:   t.Plan.Priority,
			Trigger:    t.Trigger,
			EnqueuedAt: t.EnqueuedAt.UTC().Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"stats": s.sched.Stats(),
	})
}
