package db

import (
	"context"
	"fmt"
	"strings"
)

// SearchPageSize is the fixed page size for search results.
const SearchPageSize = 50

// SearchOrder selects result ordering.
type SearchOrder string

const (
	// OrderRecency orders matches by timestamp descending.
	OrderRecency SearchOrder = "time"
	// OrderRelevance orders matches by FTS5 rank (best first).
	OrderRelevance SearchOrder = "rank"
)

// SearchFilter specifies search parameters. Query is raw user
// input; sanitization happens inside Search.
type SearchFilter struct {
	Query   string
	Page    int // 1-based
	ShowAll bool
	Order   SearchOrder
}

// SearchResult is one match from the cross-entity union. Source is
// "message", "tool_use", or "history".
type SearchResult struct {
	Source         string  `json:"source"`
	ID             int64   `json:"id"`
	Content        *string `json:"content"`
	Role           *string `json:"role"`
	Project        *string `json:"project"`
	SessionSummary *string `json:"session_summary"`
	Timestamp      *string `json:"timestamp"`
	ToolName       *string `json:"tool_name"`
	Rank           float64 `json:"rank"`
}

// SearchPage holds paginated search results.
type SearchPage struct {
	Query      string         `json:"query"`
	Results    []SearchResult `json:"results"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
	ShowAll    bool           `json:"show_all"`
}

// ftsSpecials are characters with meaning in the FTS5 query
// grammar. Stripping them prevents malformed-query errors and
// operator injection.
const ftsSpecials = `'"():^~*`

// SanitizeQuery turns free text into an FTS5 query string: strip
// grammar characters, split on whitespace, quote each token with a
// prefix wildcard, join with implicit AND. Returns "" when nothing
// searchable remains.
func SanitizeQuery(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(ftsSpecials, r) {
			return -1
		}
		return r
	}, raw)

	tokens := strings.Fields(cleaned)
	for i, t := range tokens {
		tokens[i] = `"` + t + `"*`
	}
	return strings.Join(tokens, " ")
}

// searchUnionSQL is the ranked union over the three searchable
// entities that participate in global search. Tasks and plans are
// browsable but not part of this union.
const searchUnionSQL = `
	SELECT
		'message' AS source, m.id, m.content, m.role,
		p.name AS project, s.summary AS session_summary,
		m.timestamp, NULL AS tool_name, fts.rank
	FROM messages_fts fts
	JOIN messages m ON m.id = fts.rowid
	JOIN sessions s ON s.id = m.session_id
	JOIN projects p ON p.id = s.project_id
	WHERE messages_fts MATCH ?

	UNION ALL

	SELECT
		'tool_use' AS source, t.id, t.input_text AS content,
		NULL AS role, p.name AS project, s.summary AS session_summary,
		m.timestamp, t.tool_name, fts.rank
	FROM tool_uses_fts fts
	JOIN tool_uses t ON t.id = fts.rowid
	JOIN messages m ON m.id = t.message_id
	JOIN sessions s ON s.id = m.session_id
	JOIN projects p ON p.id = s.project_id
	WHERE tool_uses_fts MATCH ?

	UNION ALL

	SELECT
		'history' AS source, g.id, g.display AS content,
		'user' AS role, g.project_path AS project,
		NULL AS session_summary, g.timestamp, NULL AS tool_name,
		fts.rank
	FROM global_history_fts fts
	JOIN global_history g ON g.id = fts.rowid
	WHERE global_history_fts MATCH ?`

// Search runs a sanitized free-text query across messages, tool
// uses, and history. A query that sanitizes to nothing returns an
// empty page without touching the indexes.
func (db *DB) Search(ctx context.Context, f SearchFilter) (SearchPage, error) {
	page := SearchPage{
		Query:    f.Query,
		Page:     1,
		PageSize: SearchPageSize,
	}

	ftsQuery := SanitizeQuery(f.Query)
	if ftsQuery == "" {
		return page, nil
	}

	var total int
	err := db.reader.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM messages_fts WHERE messages_fts MATCH ?) +
			(SELECT count(*) FROM tool_uses_fts WHERE tool_uses_fts MATCH ?) +
			(SELECT count(*) FROM global_history_fts WHERE global_history_fts MATCH ?)`,
		ftsQuery, ftsQuery, ftsQuery,
	).Scan(&total)
	if err != nil {
		return SearchPage{}, fmt.Errorf("counting matches: %w", err)
	}

	pageNum := f.Page
	if pageNum < 1 {
		pageNum = 1
	}
	limit := SearchPageSize
	offset := (pageNum - 1) * SearchPageSize
	totalPages := (total + SearchPageSize - 1) / SearchPageSize
	if f.ShowAll {
		limit = total
		offset = 0
		pageNum = 1
		totalPages = 1
	}

	order := "timestamp DESC"
	if f.Order == OrderRelevance {
		order = "rank"
	}

	query := fmt.Sprintf(
		"SELECT * FROM (%s) ORDER BY %s LIMIT ? OFFSET ?",
		searchUnionSQL, order,
	)
	rows, err := db.reader.QueryContext(
		ctx, query, ftsQuery, ftsQuery, ftsQuery, limit, offset,
	)
	if err != nil {
		return SearchPage{}, fmt.Errorf("searching: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Source, &r.ID, &r.Content, &r.Role, &r.Project,
			&r.SessionSummary, &r.Timestamp, &r.ToolName, &r.Rank,
		); err != nil {
			return SearchPage{}, fmt.Errorf("scanning result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return SearchPage{}, err
	}

	page.Results = results
	page.Total = total
	page.Page = pageNum
	page.TotalPages = totalPages
	page.ShowAll = f.ShowAll
	return page, nil
}

// SearchSession runs the same union restricted to one session,
// without the history leg (history entries have no session rows).
func (db *DB) SearchSession(
	ctx context.Context, sessionDBID int64, f SearchFilter,
) (SearchPage, error) {
	page := SearchPage{
		Query:    f.Query,
		Page:     1,
		PageSize: SearchPageSize,
	}

	ftsQuery := SanitizeQuery(f.Query)
	if ftsQuery == "" {
		return page, nil
	}

	var total int
	err := db.reader.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM messages_fts fts
			 JOIN messages m ON m.id = fts.rowid
			 WHERE messages_fts MATCH ? AND m.session_id = ?) +
			(SELECT count(*) FROM tool_uses_fts fts
			 JOIN tool_uses t ON t.id = fts.rowid
			 JOIN messages m ON m.id = t.message_id
			 WHERE tool_uses_fts MATCH ? AND m.session_id = ?)`,
		ftsQuery, sessionDBID, ftsQuery, sessionDBID,
	).Scan(&total)
	if err != nil {
		return SearchPage{}, fmt.Errorf("counting session matches: %w", err)
	}

	pageNum := f.Page
	if pageNum < 1 {
		pageNum = 1
	}
	limit := SearchPageSize
	offset := (pageNum - 1) * SearchPageSize
	totalPages := (total + SearchPageSize - 1) / SearchPageSize
	if f.ShowAll {
		limit = total
		offset = 0
		pageNum = 1
		totalPages = 1
	}

	rows, err := db.reader.QueryContext(ctx, `
		SELECT * FROM (
			SELECT
				'message' AS source, m.id, m.content, m.role,
				m.timestamp, NULL AS tool_name, fts.rank
			FROM messages_fts fts
			JOIN messages m ON m.id = fts.rowid
			WHERE messages_fts MATCH ? AND m.session_id = ?

			UNION ALL

			SELECT
				'tool_use' AS source, t.id, t.input_text AS content,
				NULL AS role, m.timestamp, t.tool_name, fts.rank
			FROM tool_uses_fts fts
			JOIN tool_uses t ON t.id = fts.rowid
			JOIN messages m ON m.id = t.message_id
			WHERE tool_uses_fts MATCH ? AND m.session_id = ?
		)
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`,
		ftsQuery, sessionDBID, ftsQuery, sessionDBID, limit, offset,
	)
	if err != nil {
		return SearchPage{}, fmt.Errorf("searching session: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Source, &r.ID, &r.Content, &r.Role,
			&r.Timestamp, &r.ToolName, &r.Rank,
		); err != nil {
			return SearchPage{}, fmt.Errorf("scanning result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return SearchPage{}, err
	}

	page.Results = results
	page.Total = total
	page.Page = pageNum
	page.TotalPages = totalPages
	page.ShowAll = f.ShowAll
	return page, nil
}

// MatchTimestamps returns the unix timestamps of every match
// across the three indexes, unpaginated. Feeds the activity
// histogram.
func (db *DB) MatchTimestamps(ctx context.Context, query string) ([]int64, error) {
	ftsQuery := SanitizeQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := db.reader.QueryContext(ctx, `
		SELECT CAST(strftime('%s', ts) AS INTEGER) FROM (
			SELECT m.timestamp AS ts
			FROM messages_fts fts
			JOIN messages m ON m.id = fts.rowid
			WHERE messages_fts MATCH ? AND m.timestamp IS NOT NULL

			UNION ALL

			SELECT m.timestamp AS ts
			FROM tool_uses_fts fts
			JOIN tool_uses t ON t.id = fts.rowid
			JOIN messages m ON m.id = t.message_id
			WHERE tool_uses_fts MATCH ? AND m.timestamp IS NOT NULL

			UNION ALL

			SELECT g.timestamp AS ts
			FROM global_history_fts fts
			JOIN global_history g ON g.id = fts.rowid
			WHERE global_history_fts MATCH ? AND g.timestamp IS NOT NULL
		)`,
		ftsQuery, ftsQuery, ftsQuery,
	)
	if err != nil {
		return nil, fmt.Errorf("querying match timestamps: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scanning timestamp: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// RecentMessages is the no-query fallback for the search page:
// the latest timestamped messages with project/session context.
func (db *DB) RecentMessages(ctx context.Context, limit int) ([]SearchResult, error) {
	if limit <= 0 || limit > SearchPageSize {
		limit = SearchPageSize
	}
	rows, err := db.reader.QueryContext(ctx, `
		SELECT 'message', m.id, m.content, m.role, p.name,
			s.summary, m.timestamp
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		JOIN projects p ON p.id = s.project_id
		WHERE m.timestamp IS NOT NULL
		ORDER BY m.timestamp DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Source, &r.ID, &r.Content, &r.Role, &r.Project,
			&r.SessionSummary, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scanning recent message: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SearchTimeRange returns the overall min/max unix timestamp across
// messages and history, or nils when both tables are empty.
func (db *DB) SearchTimeRange(ctx context.Context) (minTs, maxTs *int64, err error) {
	row := db.reader.QueryRowContext(ctx, `
		SELECT
			MIN(CAST(strftime('%s', ts) AS INTEGER)),
			MAX(CAST(strftime('%s', ts) AS INTEGER))
		FROM (
			SELECT timestamp AS ts FROM messages WHERE timestamp IS NOT NULL
			UNION ALL
			SELECT timestamp AS ts FROM global_history WHERE timestamp IS NOT NULL
		)`)
	if err := row.Scan(&minTs, &maxTs); err != nil {
		return nil, nil, fmt.Errorf("querying time range: %w", err)
	}
	return minTs, maxTs, nil
}
