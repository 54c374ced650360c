package server

import (
	"net/http"
	"strconv"
)

// parseIntParam reads an optional non-negative integer query
// parameter. A missing parameter yields 0. On a malformed value it
// writes a 400 and returns ok=false.
func parseIntParam(
	w http.ResponseWriter, r *http.Request, name string,
) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}

// parsePathID reads a numeric {id} path segment, writing a 400 on
// garbage.
func parsePathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// boolParam reports whether an optional boolean query parameter is
// set truthy ("1" or "true").
func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "1" || v == "true"
}
