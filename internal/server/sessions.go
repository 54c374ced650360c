package server

import (
	"net/http"
	"strings"

	"github.com/claudescope/claudescope/internal/db"
)

func (s *Server) handleListSessions(
	w http.ResponseWriter, r *http.Request,
) {
	page, ok := parseIntParam(w, r, "page")
	if !ok {
		return
	}
	out, err := s.db.ListSessions(r.Context(), page)
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(
	w http.ResponseWriter, r *http.Request,
) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}
	session, err := s.db.GetSession(r.Context(), id)
	if err != nil {
		writeDBError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionMessages(
	w http.ResponseWriter, r *http.Request,
) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}
	// 404 on unknown session rather than an empty list.
	if _, err := s.db.GetSession(r.Context(), id); err != nil {
		writeDBError(w, err, "session not found")
		return
	}
	messages, err := s.db.GetSessionMessages(r.Context(), id)
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleSessionSearch(
	w http.ResponseWriter, r *http.Request,
) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}
	if _, err := s.db.GetSession(r.Context(), id); err != nil {
		writeDBError(w, err, "session not found")
		return
	}

	pageNum, ok := parseIntParam(w, r, "page")
	if !ok {
		return
	}
	page, err := s.db.SearchSession(r.Context(), id, db.SearchFilter{
		Query:   strings.TrimSpace(r.URL.Query().Get("q")),
		Page:    pageNum,
		ShowAll: boolParam(r, "all"),
	})
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSessionSubagents(
	w http.ResponseWriter, r *http.Request,
) {
	id, ok := parsePathID(w, r)
	if !ok {
		return
	}
	session, err := s.db.GetSession(r.Context(), id)
	if err != nil {
		writeDBError(w, err, "session not found")
		return
	}
	subagents, err := s.db.ListSubagentSessions(r.Context(), session.SessionID)
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subagents": subagents})
}
