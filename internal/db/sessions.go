package db

import (
	"context"
	"database/sql"
	"fmt"
)

// SessionPageSize is the page size for session listings.
const SessionPageSize = 50

// summaryFallbackSQL substitutes the first 200 characters of the
// first user message when a session has no recorded summary.
const summaryFallbackSQL = `COALESCE(s.summary, (
	SELECT substr(m.content, 1, 200) FROM messages m
	WHERE m.session_id = s.id
		AND m.role = 'user' AND m.content IS NOT NULL
	ORDER BY m.timestamp ASC LIMIT 1
))`

const messageCountSQL = `(
	SELECT count(*) FROM messages m WHERE m.session_id = s.id
)`

// SessionSummary is one session row shaped for listings.
type SessionSummary struct {
	ID           int64   `json:"id"`
	SessionID    string  `json:"session_id"`
	Project      *string `json:"project,omitempty"`
	Summary      *string `json:"summary"`
	MessageCount int     `json:"message_count"`
	StartedAt    *string `json:"started_at"`
	EndedAt      *string `json:"ended_at"`
	Cwd          *string `json:"cwd,omitempty"`
	GitBranch    *string `json:"git_branch"`
}

// SessionListPage holds one page of top-level sessions.
type SessionListPage struct {
	Sessions   []SessionSummary `json:"sessions"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// ListSessions returns a page of top-level sessions ordered by
// start time descending.
func (db *DB) ListSessions(ctx context.Context, page int) (SessionListPage, error) {
	if page < 1 {
		page = 1
	}

	var total int
	err := db.reader.QueryRowContext(ctx,
		"SELECT count(*) FROM sessions WHERE is_subagent = 0",
	).Scan(&total)
	if err != nil {
		return SessionListPage{}, fmt.Errorf("counting sessions: %w", err)
	}

	rows, err := db.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT s.id, s.session_id, p.name, %s, %s,
			s.started_at, s.ended_at, s.cwd, s.git_branch
		FROM sessions s
		JOIN projects p ON p.id = s.project_id
		WHERE s.is_subagent = 0
		ORDER BY s.started_at DESC
		LIMIT ? OFFSET ?`,
		summaryFallbackSQL, messageCountSQL),
		SessionPageSize, (page-1)*SessionPageSize,
	)
	if err != nil {
		return SessionListPage{}, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(
			&s.ID, &s.SessionID, &s.Project, &s.Summary,
			&s.MessageCount, &s.StartedAt, &s.EndedAt,
			&s.Cwd, &s.GitBranch,
		); err != nil {
			return SessionListPage{}, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return SessionListPage{}, err
	}

	return SessionListPage{
		Sessions:   sessions,
		Total:      total,
		Page:       page,
		PageSize:   SessionPageSize,
		TotalPages: (total + SessionPageSize - 1) / SessionPageSize,
	}, nil
}

// ListProjectSessions returns all top-level sessions for one
// project, newest first.
func (db *DB) ListProjectSessions(
	ctx context.Context, projectID int64,
) ([]SessionSummary, error) {
	rows, err := db.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT s.id, s.session_id, %s, %s,
			s.started_at, s.ended_at, s.git_branch
		FROM sessions s
		WHERE s.project_id = ? AND s.is_subagent = 0
		ORDER BY s.started_at DESC`,
		summaryFallbackSQL, messageCountSQL),
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying project sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(
			&s.ID, &s.SessionID, &s.Summary, &s.MessageCount,
			&s.StartedAt, &s.EndedAt, &s.GitBranch,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionDetail is one session with full metadata.
type SessionDetail struct {
	ID              int64   `json:"id"`
	SessionID       string  `json:"session_id"`
	Project         string  `json:"project"`
	ProjectID       int64   `json:"project_id"`
	Summary         *string `json:"summary"`
	Slug            *string `json:"slug"`
	Version         *string `json:"version"`
	IsSubagent      bool    `json:"is_subagent"`
	AgentID         *string `json:"agent_id,omitempty"`
	ParentSessionID *string `json:"parent_session_id,omitempty"`
	StartedAt       *string `json:"started_at"`
	EndedAt         *string `json:"ended_at"`
	Cwd             *string `json:"cwd"`
	GitBranch       *string `json:"git_branch"`
}

// GetSession returns one session by synthetic id, or ErrNotFound.
func (db *DB) GetSession(ctx context.Context, id int64) (SessionDetail, error) {
	var s SessionDetail
	err := db.reader.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT s.id, s.session_id, p.name, p.id, %s, s.slug,
			s.version, s.is_subagent, s.agent_id,
			s.parent_session_id, s.started_at, s.ended_at,
			s.cwd, s.git_branch
		FROM sessions s
		JOIN projects p ON p.id = s.project_id
		WHERE s.id = ?`, summaryFallbackSQL),
		id,
	).Scan(
		&s.ID, &s.SessionID, &s.Project, &s.ProjectID, &s.Summary,
		&s.Slug, &s.Version, &s.IsSubagent, &s.AgentID,
		&s.ParentSessionID, &s.StartedAt, &s.EndedAt,
		&s.Cwd, &s.GitBranch,
	)
	if err == sql.ErrNoRows {
		return SessionDetail{}, ErrNotFound
	}
	if err != nil {
		return SessionDetail{}, fmt.Errorf("querying session %d: %w", id, err)
	}
	return s, nil
}

// ListSubagentSessions returns the sub-agent sessions spawned by
// the given parent session id (the producer's id, not the
// synthetic one — the back-reference is a weak lookup).
func (db *DB) ListSubagentSessions(
	ctx context.Context, parentSessionID string,
) ([]SessionSummary, error) {
	rows, err := db.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT s.id, s.session_id, %s, %s,
			s.started_at, s.ended_at, s.git_branch
		FROM sessions s
		WHERE s.parent_session_id = ? AND s.is_subagent = 1
		ORDER BY s.started_at ASC`,
		summaryFallbackSQL, messageCountSQL),
		parentSessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying subagent sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(
			&s.ID, &s.SessionID, &s.Summary, &s.MessageCount,
			&s.StartedAt, &s.EndedAt, &s.GitBranch,
		); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
