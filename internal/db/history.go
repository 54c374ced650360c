package db

import (
	"context"
	"fmt"
)

// HistoryPageSize is the page size for history listings.
const HistoryPageSize = 100

// HistoryEntry is one global prompt history row.
type HistoryEntry struct {
	ID             int64   `json:"id"`
	Display        string  `json:"display"`
	ProjectPath    *string `json:"project_path"`
	SessionID      *string `json:"session_id"`
	PastedContents *string `json:"pasted_contents,omitempty"`
	Timestamp      string  `json:"timestamp"`
}

// HistoryPage holds one page of history entries.
type HistoryPage struct {
	Entries    []HistoryEntry `json:"entries"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

// ListHistory returns a page of history entries, newest first.
func (db *DB) ListHistory(ctx context.Context, page int) (HistoryPage, error) {
	if page < 1 {
		page = 1
	}

	var total int
	err := db.reader.QueryRowContext(ctx,
		"SELECT count(*) FROM global_history",
	).Scan(&total)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("counting history: %w", err)
	}

	rows, err := db.reader.QueryContext(ctx, `
		SELECT id, display, project_path, session_id,
			pasted_contents, timestamp
		FROM global_history
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`,
		HistoryPageSize, (page-1)*HistoryPageSize,
	)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.Display, &e.ProjectPath, &e.SessionID,
			&e.PastedContents, &e.Timestamp,
		); err != nil {
			return HistoryPage{}, fmt.Errorf("scanning history entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return HistoryPage{}, err
	}

	return HistoryPage{
		Entries:    entries,
		Total:      total,
		Page:       page,
		PageSize:   HistoryPageSize,
		TotalPages: (total + HistoryPageSize - 1) / HistoryPageSize,
	}, nil
}
