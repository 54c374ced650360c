package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Plan is one plan document.
type Plan struct {
	ID      int64   `json:"id"`
	Slug    string  `json:"slug"`
	Title   *string `json:"title"`
	Content string  `json:"content,omitempty"`
}

// ListPlans returns all plans ordered by slug, without content.
func (db *DB) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := db.reader.QueryContext(ctx,
		"SELECT id, slug, title FROM plans ORDER BY slug",
	)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Slug, &p.Title); err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// GetPlan returns one plan with content by slug, or ErrNotFound.
func (db *DB) GetPlan(ctx context.Context, slug string) (Plan, error) {
	var p Plan
	err := db.reader.QueryRowContext(ctx,
		"SELECT id, slug, title, content FROM plans WHERE slug = ?",
		slug,
	).Scan(&p.ID, &p.Slug, &p.Title, &p.Content)
	if err == sql.ErrNoRows {
		return Plan{}, ErrNotFound
	}
	if err != nil {
		return Plan{}, fmt.Errorf("querying plan %q: %w", slug, err)
	}
	return p, nil
}
