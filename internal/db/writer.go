package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// The sync rebuild is a full wipe-and-reload: these helpers run
// inside the single transaction passed to DB.Update and are the
// only write path for derived rows. FTS triggers fire on every
// statement here, so the shadow indexes never drift.

// WipeDerivedTx deletes all derived rows in child-to-parent order.
func WipeDerivedTx(tx *sql.Tx) error {
	for _, table := range []string{
		"tool_uses", "messages", "sessions", "projects",
		"global_history", "tasks", "plans",
	} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("wiping %s: %w", table, err)
		}
	}
	return nil
}

// NewProject holds a project row to insert.
type NewProject struct {
	Path string
	Name string
}

// InsertProjectTx inserts a project and returns its id.
func InsertProjectTx(tx *sql.Tx, p NewProject, createdAt string) (int64, error) {
	res, err := tx.Exec(
		"INSERT INTO projects (path, name, created_at) VALUES (?, ?, ?)",
		p.Path, p.Name, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting project %q: %w", p.Path, err)
	}
	return res.LastInsertId()
}

// NewSession holds a session row to insert.
type NewSession struct {
	SessionID       string
	ProjectID       int64
	Slug            *string
	Summary         *string
	GitBranch       *string
	Cwd             *string
	Version         *string
	IsSubagent      bool
	AgentID         *string
	ParentSessionID *string
	StartedAt       *string
	EndedAt         *string
}

// InsertSessionTx inserts a session and returns its id.
func InsertSessionTx(tx *sql.Tx, s NewSession, createdAt string) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO sessions
			(session_id, project_id, slug, summary, git_branch, cwd,
			 version, is_subagent, agent_id, parent_session_id,
			 started_at, ended_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.ProjectID, s.Slug, s.Summary, s.GitBranch,
		s.Cwd, s.Version, s.IsSubagent, s.AgentID, s.ParentSessionID,
		s.StartedAt, s.EndedAt, createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting session %q: %w", s.SessionID, err)
	}
	return res.LastInsertId()
}

// NewMessage holds a message row to insert.
type NewMessage struct {
	SessionID           int64
	UUID                string
	ParentUUID          *string
	Role                string
	Content             *string
	RawContent          *string
	Model               *string
	StopReason          *string
	InputTokens         *int64
	OutputTokens        *int64
	CacheCreationTokens *int64
	CacheReadTokens     *int64
	UserType            *string
	IsSidechain         bool
	Cwd                 *string
	GitBranch           *string
	Timestamp           *string
}

// InsertMessageTx inserts a message with skip-on-conflict semantics
// keyed by uuid. Returns (id, true) when a row was inserted and
// (0, false) when the uuid already existed.
func InsertMessageTx(tx *sql.Tx, m NewMessage, createdAt string) (int64, bool, error) {
	res, err := tx.Exec(`
		INSERT INTO messages
			(session_id, uuid, parent_uuid, role, content, raw_content,
			 model, stop_reason, input_tokens, output_tokens,
			 cache_creation_tokens, cache_read_tokens, user_type,
			 is_sidechain, cwd, git_branch, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO NOTHING`,
		m.SessionID, m.UUID, m.ParentUUID, m.Role, m.Content,
		m.RawContent, m.Model, m.StopReason, m.InputTokens,
		m.OutputTokens, m.CacheCreationTokens, m.CacheReadTokens,
		m.UserType, m.IsSidechain, m.Cwd, m.GitBranch, m.Timestamp,
		createdAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("inserting message %q: %w", m.UUID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("rows affected for message %q: %w", m.UUID, err)
	}
	if n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("last insert id for message %q: %w", m.UUID, err)
	}
	return id, true, nil
}

// NewToolUse holds a tool use row to insert.
type NewToolUse struct {
	MessageID int64
	ToolUseID string
	ToolName  string
	Input     string
	InputText string
	Result    *string
}

// InsertToolUseTx inserts a tool use row.
func InsertToolUseTx(tx *sql.Tx, t NewToolUse, createdAt string) error {
	_, err := tx.Exec(`
		INSERT INTO tool_uses
			(message_id, tool_use_id, tool_name, input, input_text,
			 result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.MessageID, t.ToolUseID, t.ToolName, t.Input, t.InputText,
		t.Result, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting tool use %q: %w", t.ToolUseID, err)
	}
	return nil
}

// NewHistoryEntry holds a global history row to insert.
type NewHistoryEntry struct {
	Display        string
	ProjectPath    *string
	SessionID      *string
	PastedContents *string
	Timestamp      string
}

// InsertHistoryBatchTx inserts history entries with a single
// multi-row statement. Callers chunk the input to bound the
// per-statement payload.
func InsertHistoryBatchTx(tx *sql.Tx, entries []NewHistoryEntry, createdAt string) error {
	if len(entries) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO global_history
		(display, project_path, session_id, pasted_contents,
		 timestamp, created_at) VALUES `)
	args := make([]any, 0, len(entries)*6)
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?)")
		args = append(args,
			e.Display, e.ProjectPath, e.SessionID,
			e.PastedContents, e.Timestamp, createdAt,
		)
	}
	if _, err := tx.Exec(sb.String(), args...); err != nil {
		return fmt.Errorf("inserting history batch: %w", err)
	}
	return nil
}

// NewTask holds a task row to insert.
type NewTask struct {
	TaskNumber      string
	SourceSessionID string
	Subject         string
	Description     *string
	ActiveForm      *string
	Status          string
	Blocks          string
	BlockedBy       string
}

// InsertTaskTx inserts a task row.
func InsertTaskTx(tx *sql.Tx, t NewTask, createdAt string) error {
	_, err := tx.Exec(`
		INSERT INTO tasks
			(task_number, source_session_id, subject, description,
			 active_form, status, blocks, blocked_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskNumber, t.SourceSessionID, t.Subject, t.Description,
		t.ActiveForm, t.Status, t.Blocks, t.BlockedBy, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", t.TaskNumber, err)
	}
	return nil
}

// NewPlan holds a plan row to insert.
type NewPlan struct {
	Slug    string
	Title   string
	Content string
}

// InsertPlanTx inserts a plan row.
func InsertPlanTx(tx *sql.Tx, p NewPlan, createdAt string) error {
	_, err := tx.Exec(`
		INSERT INTO plans (slug, title, content, created_at)
		VALUES (?, ?, ?, ?)`,
		p.Slug, p.Title, p.Content, createdAt,
	)
	if err != nil {
		return fmt.Errorf("inserting plan %q: %w", p.Slug, err)
	}
	return nil
}
