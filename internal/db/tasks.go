package db

import (
	"context"
	"fmt"
)

// Task is one tracked work item.
type Task struct {
	ID              int64   `json:"id"`
	TaskNumber      string  `json:"task_number"`
	SourceSessionID string  `json:"source_session_id"`
	Subject         string  `json:"subject"`
	Description     *string `json:"description"`
	ActiveForm      *string `json:"active_form"`
	Status          string  `json:"status"`
	Blocks          *string `json:"blocks"`
	BlockedBy       *string `json:"blocked_by"`
}

// TaskFilter narrows ListTasks. Zero values match everything.
type TaskFilter struct {
	Status          string
	SourceSessionID string
}

// ListTasks returns tasks matching the filter, grouped by source
// session and numbered within it.
func (db *DB) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	query := `
		SELECT id, task_number, source_session_id, subject,
			description, active_form, status, blocks, blocked_by
		FROM tasks`
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.SourceSessionID != "" {
		clauses = append(clauses, "source_session_id = ?")
		args = append(args, f.SourceSessionID)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY source_session_id, CAST(task_number AS INTEGER)"

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.ID, &t.TaskNumber, &t.SourceSessionID, &t.Subject,
			&t.Description, &t.ActiveForm, &t.Status,
			&t.Blocks, &t.BlockedBy,
		); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
