package etl

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudescope/claudescope/internal/db"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestSyncer(t *testing.T, claudeDir string) (*Syncer, *db.DB) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewSyncer(database, claudeDir), database
}

// fixtureTree builds a realistic ~/.claude layout: one project
// known from history (so the real path wins), one that falls back
// to dash reversal, a sub-agent transcript, tasks, and plans.
// Malformed lines and a duplicate uuid are sprinkled in to
// exercise the tolerant paths.
func fixtureTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "history.jsonl"), strings.Join([]string{
		`{"display":"fix the parser","project":"/home/u/web app","sessionId":"sess-1","timestamp":"2025-03-01T09:59:00Z"}`,
		`this line is not json`,
		`{"display":"older prompt","timestamp":1740700000000}`,
	}, "\n"))

	projDir := filepath.Join(dir, "projects", "-home-u-web-app")
	writeFile(t, filepath.Join(projDir, "sess-1.jsonl"), strings.Join([]string{
		`{"type":"summary","summary":"Fixing the parser"}`,
		`{"type":"user","sessionId":"sess-1","slug":"web-app","version":"1.0.30","cwd":"/home/u/web app","gitBranch":"main","uuid":"u1","timestamp":"2025-03-01T10:00:00Z","message":{"role":"user","content":"please fix the tokenizer bug"}}`,
		`{"type":"assistant","sessionId":"sess-1","uuid":"a1","timestamp":"2025-03-01T10:00:05Z","message":{"id":"msg_1","model":"claude-x","content":[{"type":"text","text":"Looking at the tokenizer"}],"usage":{"input_tokens":10,"output_tokens":5}}}`,
		`{"type":"assistant","sessionId":"sess-1","uuid":"a1b","timestamp":"2025-03-01T10:00:06Z","message":{"id":"msg_1","content":[{"type":"tool_use","id":"tu1","name":"Bash","input":{"command":"go test ./..."}}]}}`,
		`{"type":"user","sessionId":"sess-1","uuid":"u2","timestamp":"2025-03-01T10:00:10Z","message":{"content":[{"type":"tool_result","tool_use_id":"tu1","content":"ok: all tests passed"}]}}`,
		`{{{ broken line`,
		`{"type":"user","sessionId":"sess-1","uuid":"u1","timestamp":"2025-03-01T10:00:11Z","message":{"content":"duplicate uuid, must not double-insert"}}`,
	}, "\n"))

	writeFile(t,
		filepath.Join(projDir, "sess-1", "subagents", "agent-ab12.jsonl"),
		`{"type":"user","sessionId":"sub-1","uuid":"su1","timestamp":"2025-03-01T10:01:00Z","message":{"content":"explore the repo layout"}}`,
	)

	// No history entry mentions this project, so its path comes
	// from reversing the dash encoding.
	writeFile(t,
		filepath.Join(dir, "projects", "-tmp-cli", "sess-2.jsonl"),
		`{"type":"user","sessionId":"sess-2","uuid":"x1","timestamp":"2025-03-02T08:00:00Z","message":{"content":"init the cli"}}`,
	)

	writeFile(t, filepath.Join(dir, "tasks", "sess-1", "1.json"),
		`{"id":1,"subject":"Fix tokenizer","description":"corner case in quoting","activeForm":"Fixing tokenizer","status":"completed","blocks":[],"blockedBy":[]}`)
	writeFile(t, filepath.Join(dir, "tasks", "sess-1", "bad.json"),
		`{"subject":"missing id and status"}`)

	writeFile(t, filepath.Join(dir, "plans", "refactor-parser.md"),
		"# Parser refactor\n\nSplit the lexer from the grammar.\n")
	writeFile(t, filepath.Join(dir, "plans", "untitled.md"),
		"no heading in this one\n")

	return dir
}

func TestSync_FullRebuild(t *testing.T) {
	syncer, _ := newTestSyncer(t, fixtureTree(t))

	stats, err := syncer.Sync()
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Projects)
	assert.Equal(t, 3, stats.Sessions)
	// sess-1: u1 + coalesced msg_1 + u2 (duplicate u1 skipped),
	// plus one message each in sub-1 and sess-2.
	assert.Equal(t, 5, stats.Messages)
	assert.Equal(t, 1, stats.ToolUses)
	assert.Equal(t, 2, stats.GlobalHistory)
	assert.Equal(t, 1, stats.Tasks)
	assert.Equal(t, 2, stats.Plans)
}

func TestSync_ProjectPathResolution(t *testing.T) {
	syncer, database := newTestSyncer(t, fixtureTree(t))
	_, err := syncer.Sync()
	require.NoError(t, err)

	projects, err := database.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 2)

	paths := make(map[string]string)
	for _, p := range projects {
		paths[p.Path] = p.Name
	}
	assert.Equal(t, "web app", paths["/home/u/web app"], "history path wins")
	assert.Equal(t, "cli", paths["/tmp/cli"], "dash reversal fallback")
}

func TestSync_MessageCoalescingAndToolLinkage(t *testing.T) {
	syncer, database := newTestSyncer(t, fixtureTree(t))
	_, err := syncer.Sync()
	require.NoError(t, err)
	ctx := context.Background()

	sess := findSession(t, database, "sess-1")
	msgs, err := database.GetSessionMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "please fix the tokenizer bug", *msgs[0].Content)

	// Both chunks of msg_1 collapse into one assistant row carrying
	// the first chunk's metadata and the union of its blocks.
	assistant := msgs[1]
	assert.Equal(t, "assistant", assistant.Role)
	assert.Equal(t, "a1", assistant.UUID)
	assert.Equal(t, "claude-x", *assistant.Model)
	assert.Equal(t, "Looking at the tokenizer", *assistant.Content)
	assert.Equal(t, int64(10), *assistant.InputTokens)
	require.Len(t, assistant.ToolUses, 1)

	tu := assistant.ToolUses[0]
	assert.Equal(t, "tu1", tu.ToolUseID)
	assert.Equal(t, "Bash", tu.ToolName)
	assert.Equal(t, "go test ./...", *tu.InputText)
	require.NotNil(t, tu.Result, "result from a later user record is linked back")
	assert.Equal(t, "ok: all tests passed", *tu.Result)
}

func TestSync_SessionMetadata(t *testing.T) {
	syncer, database := newTestSyncer(t, fixtureTree(t))
	_, err := syncer.Sync()
	require.NoError(t, err)

	sess := findSession(t, database, "sess-1")
	detail, err := database.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, "Fixing the parser", *detail.Summary)
	assert.Equal(t, "web-app", *detail.Slug)
	assert.Equal(t, "1.0.30", *detail.Version)
	assert.Equal(t, "main", *detail.GitBranch)
	assert.Equal(t, "2025-03-01T10:00:00Z", *detail.StartedAt)
	assert.Equal(t, "2025-03-01T10:00:11Z", *detail.EndedAt)
	assert.False(t, detail.IsSubagent)
}

func TestSync_Subagents(t *testing.T) {
	syncer, database := newTestSyncer(t, fixtureTree(t))
	_, err := syncer.Sync()
	require.NoError(t, err)
	ctx := context.Background()

	// Sub-agent sessions never show up in the top-level listing.
	page, err := database.ListSessions(ctx, 1)
	require.NoError(t, err)
	for _, s := range page.Sessions {
		assert.NotEqual(t, "sub-1", s.SessionID)
	}

	subs, err := database.ListSubagentSessions(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].SessionID)
}

func TestSync_TasksAndPlans(t *testing.T) {
	syncer, database := newTestSyncer(t, fixtureTree(t))
	_, err := syncer.Sync()
	require.NoError(t, err)
	ctx := context.Background()

	tasks, err := database.ListTasks(ctx, db.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "1", tasks[0].TaskNumber)
	assert.Equal(t, "sess-1", tasks[0].SourceSessionID)
	assert.Equal(t, "Fix tokenizer", tasks[0].Subject)
	assert.Equal(t, "completed", tasks[0].Status)

	plans, err := database.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "refactor-parser", plans[0].Slug)
	assert.Equal(t, "Parser refactor", *plans[0].Title)
	assert.Equal(t, "untitled", *plans[1].Title, "slug stands in for a missing heading")

	plan, err := database.GetPlan(ctx, "refactor-parser")
	require.NoError(t, err)
	assert.Contains(t, plan.Content, "Split the lexer")
}

func TestSync_Idempotent(t *testing.T) {
	syncer, database := newTestSyncer(t, fixtureTree(t))

	first, err := syncer.Sync()
	require.NoError(t, err)
	second, err := syncer.Sync()
	require.NoError(t, err)

	first.DurationMs, second.DurationMs = 0, 0
	assert.Equal(t, first, second)

	page, err := database.ListSessions(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total, "rebuild replaces rather than accumulates")
}

func TestSync_EndToEndSearch(t *testing.T) {
	syncer, database := newTestSyncer(t, fixtureTree(t))
	_, err := syncer.Sync()
	require.NoError(t, err)
	ctx := context.Background()

	page, err := database.Search(ctx, db.SearchFilter{Query: "tokenizer"})
	require.NoError(t, err)
	require.NotEmpty(t, page.Results)

	sources := make(map[string]bool)
	for _, r := range page.Results {
		sources[r.Source] = true
	}
	assert.True(t, sources["message"])

	page, err = database.Search(ctx, db.SearchFilter{Query: "parser"})
	require.NoError(t, err)
	sources = make(map[string]bool)
	for _, r := range page.Results {
		sources[r.Source] = true
	}
	assert.True(t, sources["history"], "history entries are searchable")
}

func TestSync_Staleness(t *testing.T) {
	syncer, _ := newTestSyncer(t, fixtureTree(t))

	assert.True(t, syncer.IsStale(time.Hour), "never-synced store is stale")
	_, ok := syncer.LastSyncAt()
	assert.False(t, ok)

	_, err := syncer.Sync()
	require.NoError(t, err)

	assert.False(t, syncer.IsStale(time.Hour))
	assert.False(t, syncer.IsStale(0), "zero falls back to the default age")
	last, ok := syncer.LastSyncAt()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), last, time.Minute)

	time.Sleep(5 * time.Millisecond)
	assert.True(t, syncer.IsStale(time.Millisecond))
}

func TestSync_EmptyDataDir(t *testing.T) {
	syncer, _ := newTestSyncer(t, t.TempDir())
	stats, err := syncer.Sync()
	require.NoError(t, err)
	stats.DurationMs = 0
	assert.Equal(t, SyncStats{}, stats)
}

func TestSync_SessionFileWithoutSessionID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t,
		filepath.Join(dir, "projects", "-tmp-x", "orphan.jsonl"),
		`{"type":"user","uuid":"u1","message":{"content":"no session id anywhere"}}`,
	)
	syncer, _ := newTestSyncer(t, dir)

	stats, err := syncer.Sync()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Projects)
	assert.Equal(t, 0, stats.Sessions)
	assert.Equal(t, 0, stats.Messages)
}

func findSession(t *testing.T, database *db.DB, sessionID string) db.SessionSummary {
	t.Helper()
	page, err := database.ListSessions(context.Background(), 1)
	require.NoError(t, err)
	for _, s := range page.Sessions {
		if s.SessionID == sessionID {
			return s
		}
	}
	t.Fatalf("session %s not found", sessionID)
	return db.SessionSummary{}
}
