package etl

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/claudescope/claudescope/internal/db"
	"github.com/claudescope/claudescope/internal/timeutil"
)

// DefaultMaxSyncAge is how old the last sync may be before the
// store is considered stale.
const DefaultMaxSyncAge = time.Hour

const historyChunkSize = 100

// encodedPathChars mirrors how the CLI encodes a project path into
// a directory name under projects/: every character outside
// [a-zA-Z0-9_-] becomes a dash.
var encodedPathChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

var planTitleRE = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// SyncStats counts the rows loaded by one rebuild.
type SyncStats struct {
	Projects      int   `json:"projects"`
	Sessions      int   `json:"sessions"`
	Messages      int   `json:"messages"`
	ToolUses      int   `json:"toolUses"`
	GlobalHistory int   `json:"globalHistory"`
	Tasks         int   `json:"tasks"`
	Plans         int   `json:"plans"`
	DurationMs    int64 `json:"durationMs"`
}

// Syncer rebuilds the derived store from the claude data directory.
// A rebuild wipes every derived table and reloads from scratch
// inside one transaction, so readers see either the old snapshot or
// the new one, never a mix.
type Syncer struct {
	db        *db.DB
	claudeDir string
	mu        sync.Mutex
}

// NewSyncer returns a syncer over claudeDir (normally ~/.claude).
func NewSyncer(database *db.DB, claudeDir string) *Syncer {
	return &Syncer{db: database, claudeDir: claudeDir}
}

// Sync performs a full rebuild and records the outcome in the meta
// table. Concurrent calls serialize; each caller gets the stats of
// its own rebuild.
func (s *Syncer) Sync() (SyncStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	now := timeutil.Format(start)
	var stats SyncStats

	// History is read before the transaction opens: it also yields
	// the encoded-dirname to real-path map used to name projects.
	historyEntries, pathMap := s.readHistory()

	err := s.db.Update(func(tx *sql.Tx) error {
		if err := db.WipeDerivedTx(tx); err != nil {
			return err
		}
		if err := s.loadProjects(tx, pathMap, now, &stats); err != nil {
			return err
		}
		for i := 0; i < len(historyEntries); i += historyChunkSize {
			end := min(i+historyChunkSize, len(historyEntries))
			if err := db.InsertHistoryBatchTx(tx, historyEntries[i:end], now); err != nil {
				return err
			}
		}
		stats.GlobalHistory = len(historyEntries)
		if err := s.loadTasks(tx, now, &stats); err != nil {
			return err
		}
		return s.loadPlans(tx, now, &stats)
	})
	if err != nil {
		return SyncStats{}, fmt.Errorf("sync rebuild: %w", err)
	}

	stats.DurationMs = time.Since(start).Milliseconds()

	if err := s.db.SetMeta("lastSyncAt", timeutil.Format(time.Now())); err != nil {
		return stats, err
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return stats, fmt.Errorf("encoding sync stats: %w", err)
	}
	if err := s.db.SetMeta("lastSyncStats", string(statsJSON)); err != nil {
		return stats, err
	}
	return stats, nil
}

// SyncIfStale rebuilds only when the last sync is older than
// maxAge (DefaultMaxSyncAge when maxAge <= 0). The bool reports
// whether a rebuild ran.
func (s *Syncer) SyncIfStale(maxAge time.Duration) (SyncStats, bool, error) {
	if !s.IsStale(maxAge) {
		return SyncStats{}, false, nil
	}
	stats, err := s.Sync()
	return stats, err == nil, err
}

// LastSyncAt reports when the store was last rebuilt.
func (s *Syncer) LastSyncAt() (time.Time, bool) {
	value, ok, err := s.db.GetMeta("lastSyncAt")
	if err != nil || !ok {
		return time.Time{}, false
	}
	t := timeutil.Parse(value)
	if t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

// IsStale reports whether the store has never been synced or the
// last sync is older than maxAge.
func (s *Syncer) IsStale(maxAge time.Duration) bool {
	if maxAge <= 0 {
		maxAge = DefaultMaxSyncAge
	}
	last, ok := s.LastSyncAt()
	if !ok {
		return true
	}
	return time.Since(last) > maxAge
}

// readHistory parses history.jsonl into insertable entries plus the
// encoded-path map. Missing file and malformed lines are skipped.
func (s *Syncer) readHistory() ([]db.NewHistoryEntry, map[string]string) {
	pathMap := make(map[string]string)

	f, err := os.Open(filepath.Join(s.claudeDir, "history.jsonl"))
	if err != nil {
		return nil, pathMap
	}
	defer f.Close()

	var entries []db.NewHistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialScanBufSize), maxScanTokenSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !gjson.Valid(line) {
			continue
		}
		r := gjson.Parse(line)

		if project := r.Get("project").Str; project != "" {
			encoded := encodedPathChars.ReplaceAllString(project, "-")
			if _, seen := pathMap[encoded]; !seen {
				pathMap[encoded] = project
			}
		}

		display := r.Get("display").Str
		ts := historyTimestamp(r.Get("timestamp"))
		if display == "" || ts.IsZero() {
			continue
		}

		var pasted *string
		if p := r.Get("pastedContents"); p.Exists() && p.Type != gjson.Null {
			pasted = &p.Raw
		}

		entries = append(entries, db.NewHistoryEntry{
			Display:        display,
			ProjectPath:    strPtr(r.Get("project").Str),
			SessionID:      strPtr(r.Get("sessionId").Str),
			PastedContents: pasted,
			Timestamp:      timeutil.Format(ts),
		})
	}
	return entries, pathMap
}

// historyTimestamp accepts both epoch-millisecond numbers and
// RFC3339 strings; older CLI versions wrote the former.
func historyTimestamp(v gjson.Result) time.Time {
	if v.Type == gjson.Number {
		ms := v.Int()
		if ms <= 0 {
			return time.Time{}
		}
		return time.UnixMilli(ms)
	}
	return timeutil.Parse(v.Str)
}

func (s *Syncer) loadProjects(
	tx *sql.Tx, pathMap map[string]string, now string, stats *SyncStats,
) error {
	projectsDir := filepath.Join(s.claudeDir, "projects")
	dirs, err := os.ReadDir(projectsDir)
	if err != nil {
		return nil
	}

	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dirName := d.Name()
		projectPath, ok := pathMap[dirName]
		if !ok {
			// Lossy fallback: reverse the dash encoding, turning
			// every dash back into a path separator.
			projectPath = strings.ReplaceAll(dirName, "-", "/")
		}

		projectID, err := db.InsertProjectTx(tx, db.NewProject{
			Path: projectPath,
			Name: filepath.Base(projectPath),
		}, now)
		if err != nil {
			return err
		}
		stats.Projects++

		if err := s.loadProjectSessions(
			tx, filepath.Join(projectsDir, dirName), projectID, now, stats,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) loadProjectSessions(
	tx *sql.Tx, dirPath string, projectID int64, now string, stats *SyncStats,
) error {
	files, err := os.ReadDir(dirPath)
	if err != nil {
		return nil
	}
	for _, f := range files {
		if !strings.HasSuffix(f.Name(), ".jsonl") {
			continue
		}
		sessionUUID := strings.TrimSuffix(f.Name(), ".jsonl")
		if err := loadSessionFile(tx, sessionSource{
			path:      filepath.Join(dirPath, f.Name()),
			projectID: projectID,
		}, now, stats); err != nil {
			return err
		}

		// Sub-agent transcripts live beside the producer session at
		// <dir>/<session-uuid>/subagents/agent-<id>.jsonl.
		subDir := filepath.Join(dirPath, sessionUUID, "subagents")
		subFiles, err := os.ReadDir(subDir)
		if err != nil {
			continue
		}
		for _, sf := range subFiles {
			if !strings.HasSuffix(sf.Name(), ".jsonl") {
				continue
			}
			agentID := strings.TrimSuffix(
				strings.TrimPrefix(sf.Name(), "agent-"), ".jsonl")
			if err := loadSessionFile(tx, sessionSource{
				path:            filepath.Join(subDir, sf.Name()),
				projectID:       projectID,
				isSubagent:      true,
				parentSessionID: sessionUUID,
				agentID:         agentID,
			}, now, stats); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Syncer) loadTasks(tx *sql.Tx, now string, stats *SyncStats) error {
	tasksDir := filepath.Join(s.claudeDir, "tasks")
	sessionDirs, err := os.ReadDir(tasksDir)
	if err != nil {
		return nil
	}
	for _, sd := range sessionDirs {
		if !sd.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(tasksDir, sd.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(tasksDir, sd.Name(), f.Name()))
			if err != nil || !gjson.ValidBytes(data) {
				continue
			}
			t := gjson.ParseBytes(data)
			id := t.Get("id")
			subject := t.Get("subject").Str
			status := t.Get("status").Str
			if !id.Exists() || subject == "" || status == "" {
				continue
			}
			if err := db.InsertTaskTx(tx, db.NewTask{
				TaskNumber:      id.String(),
				SourceSessionID: sd.Name(),
				Subject:         subject,
				Description:     strPtr(t.Get("description").Str),
				ActiveForm:      strPtr(t.Get("activeForm").Str),
				Status:          status,
				Blocks:          jsonArrayOrEmpty(t.Get("blocks")),
				BlockedBy:       jsonArrayOrEmpty(t.Get("blockedBy")),
			}, now); err != nil {
				return err
			}
			stats.Tasks++
		}
	}
	return nil
}

func jsonArrayOrEmpty(v gjson.Result) string {
	if v.IsArray() {
		return v.Raw
	}
	return "[]"
}

func (s *Syncer) loadPlans(tx *sql.Tx, now string, stats *SyncStats) error {
	plansDir := filepath.Join(s.claudeDir, "plans")
	files, err := os.ReadDir(plansDir)
	if err != nil {
		return nil
	}
	for _, f := range files {
		if !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(plansDir, f.Name()))
		if err != nil {
			continue
		}
		slug := strings.TrimSuffix(f.Name(), ".md")
		content := string(data)
		title := slug
		if m := planTitleRE.FindStringSubmatch(content); m != nil {
			title = m[1]
		}
		if err := db.InsertPlanTx(tx, db.NewPlan{
			Slug:    slug,
			Title:   title,
			Content: content,
		}, now); err != nil {
			return err
		}
		stats.Plans++
	}
	return nil
}
