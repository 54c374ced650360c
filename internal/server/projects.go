package server

import (
	"net/http"
)

func (s *Server) handleListProjects(
	w http.ResponseWriter, r *http.Request,
) {
	projects, err := s.db.ListProjects(r.Context())
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

func (s *Server) handleGetProject(
	w http.ResponseWriter, r *http.Request,
) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}
	project, err := s.db.GetProject(r.Context(), id)
	if err != nil {
		writeDBError(w, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleProjectSessions(
	w http.ResponseWriter, r *http.Request,
) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}
	if _, err := s.db.GetProject(r.Context(), id); err != nil {
		writeDBError(w, err, "project not found")
		return
	}
	sessions, err := s.db.ListProjectSessions(r.Context(), id)
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
