package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/claudescope/claudescope/internal/config"
	"github.com/claudescope/claudescope/internal/db"
	"github.com/claudescope/claudescope/internal/etl"
)

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newTestServer stands up a server over a tiny fixture tree. The
// store starts unsynced so staleness behavior is observable.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	claudeDir := t.TempDir()
	writeFixture(t, filepath.Join(claudeDir, "history.jsonl"),
		`{"display":"run the linter","project":"/tmp/app","timestamp":"2025-03-01T09:00:00Z"}`)
	writeFixture(t,
		filepath.Join(claudeDir, "projects", "-tmp-app", "sess-1.jsonl"),
		`{"type":"user","sessionId":"sess-1","uuid":"u1","timestamp":"2025-03-01T10:00:00Z","message":{"content":"fix the tokenizer"}}`+"\n"+
			`{"type":"assistant","sessionId":"sess-1","uuid":"a1","timestamp":"2025-03-01T10:00:05Z","message":{"id":"m1","model":"claude-x","content":[{"type":"text","text":"on it"}]}}`)
	writeFixture(t, filepath.Join(claudeDir, "plans", "cleanup.md"),
		"# Cleanup\n\ndelete dead code\n")

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.Config{
		Host:         "127.0.0.1",
		ClaudeDir:    claudeDir,
		MaxSyncAge:   time.Hour,
		WriteTimeout: 5 * time.Second,
	}
	syncer := etl.NewSyncer(database, claudeDir)
	srv := New(cfg, database, syncer,
		WithVersion(VersionInfo{Version: "test"}))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, body
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) {
	t.Helper()
	status, body := get(t, ts, path)
	if status != http.StatusOK {
		t.Fatalf("GET %s: status %d: %s", path, status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decoding %s: %v", path, err)
	}
}

func doSync(t *testing.T, ts *httptest.Server) etl.SyncStats {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/v1/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status %d", resp.StatusCode)
	}
	var stats etl.SyncStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	return stats
}

func TestVersionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	var v VersionInfo
	getJSON(t, ts, "/api/v1/version", &v)
	if v.Version != "test" {
		t.Errorf("version = %q", v.Version)
	}
}

func TestSyncAndStatus(t *testing.T) {
	ts := newTestServer(t)

	var before struct {
		LastSyncAt *string `json:"last_sync_at"`
		Stale      bool    `json:"stale"`
	}
	getJSON(t, ts, "/api/v1/sync/status", &before)
	if !before.Stale || before.LastSyncAt != nil {
		t.Errorf("fresh store reported as synced: %+v", before)
	}

	stats := doSync(t, ts)
	if stats.Projects != 1 || stats.Sessions != 1 || stats.Messages != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}

	var after struct {
		LastSyncAt *string         `json:"last_sync_at"`
		Stale      bool            `json:"stale"`
		LastStats  json.RawMessage `json:"last_stats"`
	}
	getJSON(t, ts, "/api/v1/sync/status", &after)
	if after.Stale || after.LastSyncAt == nil || after.LastStats == nil {
		t.Errorf("post-sync status %+v", after)
	}
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	doSync(t, ts)

	var page db.SearchPage
	getJSON(t, ts, "/api/v1/search?q=tokenizer", &page)
	if page.Total != 1 {
		t.Errorf("total = %d, want 1", page.Total)
	}

	// No query falls back to recent messages.
	var recent struct {
		Results []db.SearchResult `json:"results"`
	}
	getJSON(t, ts, "/api/v1/search", &recent)
	if len(recent.Results) != 2 {
		t.Errorf("recent fallback returned %d results", len(recent.Results))
	}

	status, _ := get(t, ts, "/api/v1/search?q=x&page=notanumber")
	if status != http.StatusBadRequest {
		t.Errorf("bad page param: status %d", status)
	}
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t)
	doSync(t, ts)

	var page db.SessionListPage
	getJSON(t, ts, "/api/v1/sessions", &page)
	if len(page.Sessions) != 1 {
		t.Fatalf("got %d sessions", len(page.Sessions))
	}
	id := page.Sessions[0].ID

	var detail db.SessionDetail
	getJSON(t, ts, "/api/v1/sessions/"+itoa(id), &detail)
	if detail.SessionID != "sess-1" {
		t.Errorf("session id %q", detail.SessionID)
	}

	var msgs struct {
		Messages []db.Message `json:"messages"`
	}
	getJSON(t, ts, "/api/v1/sessions/"+itoa(id)+"/messages", &msgs)
	if len(msgs.Messages) != 2 {
		t.Errorf("got %d messages", len(msgs.Messages))
	}

	if status, _ := get(t, ts, "/api/v1/sessions/99999"); status != http.StatusNotFound {
		t.Errorf("missing session: status %d", status)
	}
	if status, _ := get(t, ts, "/api/v1/sessions/abc"); status != http.StatusBadRequest {
		t.Errorf("garbage id: status %d", status)
	}
}

func TestProjectAndBrowseEndpoints(t *testing.T) {
	ts := newTestServer(t)
	doSync(t, ts)

	var projects struct {
		Projects []db.ProjectSummary `json:"projects"`
	}
	getJSON(t, ts, "/api/v1/projects", &projects)
	if len(projects.Projects) != 1 || projects.Projects[0].Path != "/tmp/app" {
		t.Fatalf("projects = %+v", projects.Projects)
	}
	pid := projects.Projects[0].ID

	var sessions struct {
		Sessions []db.SessionSummary `json:"sessions"`
	}
	getJSON(t, ts, "/api/v1/projects/"+itoa(pid)+"/sessions", &sessions)
	if len(sessions.Sessions) != 1 {
		t.Errorf("project sessions = %+v", sessions.Sessions)
	}

	var history db.HistoryPage
	getJSON(t, ts, "/api/v1/history", &history)
	if history.Total != 1 {
		t.Errorf("history total = %d", history.Total)
	}

	var plans struct {
		Plans []db.Plan `json:"plans"`
	}
	getJSON(t, ts, "/api/v1/plans", &plans)
	if len(plans.Plans) != 1 {
		t.Fatalf("plans = %+v", plans.Plans)
	}

	var plan db.Plan
	getJSON(t, ts, "/api/v1/plans/cleanup", &plan)
	if plan.Content == "" {
		t.Error("plan content missing")
	}
	if status, _ := get(t, ts, "/api/v1/plans/nope"); status != http.StatusNotFound {
		t.Errorf("missing plan: status %d", status)
	}

	var report db.Report
	getJSON(t, ts, "/api/v1/reports", &report)
	if report.Summary.TotalSessions != 1 {
		t.Errorf("report sessions = %d", report.Summary.TotalSessions)
	}
}

func TestMethodRouting(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/search", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST search: status %d", resp.StatusCode)
	}

	status, _ := get(t, ts, "/api/v1/sync")
	if status != http.StatusMethodNotAllowed {
		t.Errorf("GET sync: status %d", status)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
