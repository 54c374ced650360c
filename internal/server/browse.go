package server

import (
	"net/http"

	"github.com/claudescope/claudescope/internal/db"
)

func (s *Server) handleListHistory(
	w http.ResponseWriter, r *http.Request,
) {
	page, ok := parseIntParam(w, r, "page")
	if !ok {
		return
	}
	out, err := s.db.ListHistory(r.Context(), page)
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTasks(
	w http.ResponseWriter, r *http.Request,
) {
	q := r.URL.Query()
	tasks, err := s.db.ListTasks(r.Context(), db.TaskFilter{
		Status:          q.Get("status"),
		SourceSessionID: q.Get("session"),
	})
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleListPlans(
	w http.ResponseWriter, r *http.Request,
) {
	plans, err := s.db.ListPlans(r.Context())
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
}

func (s *Server) handleGetPlan(
	w http.ResponseWriter, r *http.Request,
) {
	slug := r.PathValue("slug")
	plan, err := s.db.GetPlan(r.Context(), slug)
	if err != nil {
		writeDBError(w, err, "plan not found")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleReport(
	w http.ResponseWriter, r *http.Request,
) {
	report, err := s.db.BuildReport(r.Context())
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
