package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Project is one project row.
type Project struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// ProjectSummary extends Project with listing aggregates. Session
// counts exclude sub-agent sessions; message counts include them.
type ProjectSummary struct {
	Project
	SessionCount int     `json:"session_count"`
	MessageCount int     `json:"message_count"`
	FirstSession *string `json:"first_session"`
	LastSession  *string `json:"last_session"`
}

// ListProjects returns all projects ordered by most recent
// top-level session.
func (db *DB) ListProjects(ctx context.Context) ([]ProjectSummary, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT p.id, p.name, p.path,
			(SELECT count(*) FROM sessions s
			 WHERE s.project_id = p.id AND s.is_subagent = 0),
			(SELECT count(*) FROM messages m
			 JOIN sessions s ON s.id = m.session_id
			 WHERE s.project_id = p.id),
			(SELECT MIN(s.started_at) FROM sessions s
			 WHERE s.project_id = p.id AND s.is_subagent = 0),
			(SELECT MAX(s.started_at) FROM sessions s
			 WHERE s.project_id = p.id AND s.is_subagent = 0)
		FROM projects p
		ORDER BY 7 DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var out []ProjectSummary
	for rows.Next() {
		var p ProjectSummary
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Path, &p.SessionCount,
			&p.MessageCount, &p.FirstSession, &p.LastSession,
		); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProject returns one project by id, or ErrNotFound.
func (db *DB) GetProject(ctx context.Context, id int64) (Project, error) {
	var p Project
	err := db.reader.QueryRowContext(ctx,
		"SELECT id, name, path FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Path)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, fmt.Errorf("querying project %d: %w", id, err)
	}
	return p, nil
}
