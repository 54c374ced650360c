package server

import (
	"encoding/json"
	"net/http"

	"github.com/claudescope/claudescope/internal/timeutil"
)

type syncStatusResponse struct {
	LastSyncAt *string         `json:"last_sync_at"`
	Stale      bool            `json:"stale"`
	LastStats  json.RawMessage `json:"last_stats,omitempty"`
}

// handleTriggerSync runs a blocking full rebuild and returns its
// stats. Concurrent requests serialize inside the syncer.
func (s *Server) handleTriggerSync(
	w http.ResponseWriter, _ *http.Request,
) {
	stats, err := s.syncer.Sync()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSyncStatus(
	w http.ResponseWriter, _ *http.Request,
) {
	resp := syncStatusResponse{
		Stale: s.syncer.IsStale(s.cfg.MaxSyncAge),
	}
	if last, ok := s.syncer.LastSyncAt(); ok {
		v := timeutil.Format(last)
		resp.LastSyncAt = &v
	}
	if raw, ok, err := s.db.GetMeta("lastSyncStats"); err == nil && ok &&
		json.Valid([]byte(raw)) {
		resp.LastStats = json.RawMessage(raw)
	}
	writeJSON(w, http.StatusOK, resp)
}
