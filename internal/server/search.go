package server

import (
	"net/http"
	"strings"

	"github.com/claudescope/claudescope/internal/db"
)

type recentResponse struct {
	Query   string            `json:"query"`
	Results []db.SearchResult `json:"results"`
	Total   int               `json:"total"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	// An empty (or all-punctuation) query falls back to the most
	// recent messages, so the search page is never blank.
	if db.SanitizeQuery(query) == "" {
		results, err := s.db.RecentMessages(r.Context(), db.SearchPageSize)
		if err != nil {
			writeDBError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, recentResponse{
			Query:   query,
			Results: results,
			Total:   len(results),
		})
		return
	}

	pageNum, ok := parseIntParam(w, r, "page")
	if !ok {
		return
	}

	order := db.OrderRecency
	if r.URL.Query().Get("order") == string(db.OrderRelevance) {
		order = db.OrderRelevance
	}

	page, err := s.db.Search(r.Context(), db.SearchFilter{
		Query:   query,
		Page:    pageNum,
		ShowAll: boolParam(r, "all"),
		Order:   order,
	})
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type timestampsResponse struct {
	Query      string  `json:"query"`
	Timestamps []int64 `json:"timestamps"`
}

// handleMatchTimestamps returns the unix timestamp of every match,
// unpaginated. The frontend bins these into an activity histogram.
func (s *Server) handleMatchTimestamps(
	w http.ResponseWriter, r *http.Request,
) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	ts, err := s.db.MatchTimestamps(r.Context(), query)
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, timestampsResponse{
		Query:      query,
		Timestamps: ts,
	})
}

type timeRangeResponse struct {
	Min *int64 `json:"min"`
	Max *int64 `json:"max"`
}

func (s *Server) handleSearchTimeRange(
	w http.ResponseWriter, r *http.Request,
) {
	minTs, maxTs, err := s.db.SearchTimeRange(r.Context())
	if err != nil {
		writeDBError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, timeRangeResponse{Min: minTs, Max: maxTs})
}
