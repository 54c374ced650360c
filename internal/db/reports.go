package db

import (
	"context"
	"fmt"
)

// ReportSummary holds the headline counters for the report view.
type ReportSummary struct {
	TotalSessions     int   `json:"total_sessions"`
	PromptsSent       int   `json:"prompts_sent"`
	ResponsesReceived int   `json:"responses_received"`
	TotalToolUses     int   `json:"total_tool_uses"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	TotalProjects     int   `json:"total_projects"`
}

// DailyTokens holds per-day token totals for assistant turns.
type DailyTokens struct {
	Day                 string `json:"day"`
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens"`
}

// NameCount pairs a grouping key with a row count.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DayCount pairs a day with a row count.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// ProjectTokens holds per-project token totals.
type ProjectTokens struct {
	Name         string `json:"name"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Report aggregates usage statistics across the whole store.
type Report struct {
	Summary        ReportSummary   `json:"summary"`
	DailyTokens    []DailyTokens   `json:"daily_tokens"`
	ToolUsage      []NameCount     `json:"tool_usage"`
	DailySessions  []DayCount      `json:"daily_sessions"`
	DailyPrompts   []DayCount      `json:"daily_prompts"`
	DailyResponses []DayCount      `json:"daily_responses"`
	ModelUsage     []NameCount     `json:"model_usage"`
	HourlyActivity []NameCount     `json:"hourly_activity"`
	TopProjects    []ProjectTokens `json:"top_projects"`
}

// BuildReport runs the report aggregates. Sub-agent sessions are
// excluded from session counts but their messages count toward
// token and activity totals.
func (db *DB) BuildReport(ctx context.Context) (Report, error) {
	var r Report

	err := db.reader.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM sessions WHERE is_subagent = 0),
			(SELECT count(*) FROM messages
			 WHERE role = 'user' AND content IS NOT NULL
				AND length(content) > 0),
			(SELECT count(*) FROM messages WHERE role = 'assistant'),
			(SELECT count(*) FROM tool_uses),
			(SELECT COALESCE(SUM(input_tokens), 0) FROM messages
			 WHERE role = 'assistant'),
			(SELECT COALESCE(SUM(output_tokens), 0) FROM messages
			 WHERE role = 'assistant'),
			(SELECT count(DISTINCT project_id) FROM sessions)`,
	).Scan(
		&r.Summary.TotalSessions, &r.Summary.PromptsSent,
		&r.Summary.ResponsesReceived, &r.Summary.TotalToolUses,
		&r.Summary.TotalInputTokens, &r.Summary.TotalOutputTokens,
		&r.Summary.TotalProjects,
	)
	if err != nil {
		return Report{}, fmt.Errorf("querying report summary: %w", err)
	}

	if r.DailyTokens, err = db.dailyTokens(ctx); err != nil {
		return Report{}, err
	}
	if r.ToolUsage, err = db.nameCounts(ctx, `
		SELECT tool_name, count(*) FROM tool_uses
		GROUP BY tool_name ORDER BY count(*) DESC`); err != nil {
		return Report{}, fmt.Errorf("querying tool usage: %w", err)
	}
	if r.DailySessions, err = db.dayCounts(ctx, `
		SELECT date(started_at), count(*) FROM sessions
		WHERE is_subagent = 0 AND started_at IS NOT NULL
		GROUP BY 1 ORDER BY 1`); err != nil {
		return Report{}, fmt.Errorf("querying daily sessions: %w", err)
	}
	if r.DailyPrompts, err = db.dayCounts(ctx, `
		SELECT date(timestamp), count(*) FROM messages
		WHERE role = 'user' AND timestamp IS NOT NULL
			AND content IS NOT NULL AND length(content) > 0
		GROUP BY 1 ORDER BY 1`); err != nil {
		return Report{}, fmt.Errorf("querying daily prompts: %w", err)
	}
	if r.DailyResponses, err = db.dayCounts(ctx, `
		SELECT date(timestamp), count(*) FROM messages
		WHERE role = 'assistant' AND timestamp IS NOT NULL
		GROUP BY 1 ORDER BY 1`); err != nil {
		return Report{}, fmt.Errorf("querying daily responses: %w", err)
	}
	if r.ModelUsage, err = db.nameCounts(ctx, `
		SELECT model, count(*) FROM messages
		WHERE role = 'assistant' AND model IS NOT NULL
		GROUP BY model ORDER BY count(*) DESC`); err != nil {
		return Report{}, fmt.Errorf("querying model usage: %w", err)
	}
	if r.HourlyActivity, err = db.nameCounts(ctx, `
		SELECT strftime('%H', timestamp), count(*) FROM messages
		WHERE timestamp IS NOT NULL
		GROUP BY 1 ORDER BY 1`); err != nil {
		return Report{}, fmt.Errorf("querying hourly activity: %w", err)
	}
	if r.TopProjects, err = db.topProjects(ctx); err != nil {
		return Report{}, err
	}
	return r, nil
}

func (db *DB) dailyTokens(ctx context.Context) ([]DailyTokens, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT date(timestamp),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(cache_creation_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0)
		FROM messages
		WHERE role = 'assistant' AND timestamp IS NOT NULL
		GROUP BY 1 ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("querying daily tokens: %w", err)
	}
	defer rows.Close()

	var out []DailyTokens
	for rows.Next() {
		var d DailyTokens
		if err := rows.Scan(
			&d.Day, &d.InputTokens, &d.OutputTokens,
			&d.CacheCreationTokens, &d.CacheReadTokens,
		); err != nil {
			return nil, fmt.Errorf("scanning daily tokens: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (db *DB) topProjects(ctx context.Context) ([]ProjectTokens, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT p.name,
			COALESCE(SUM(m.input_tokens), 0),
			COALESCE(SUM(m.output_tokens), 0)
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		JOIN projects p ON p.id = s.project_id
		WHERE m.role = 'assistant'
		GROUP BY p.id
		ORDER BY COALESCE(SUM(m.input_tokens), 0) +
			COALESCE(SUM(m.output_tokens), 0) DESC
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("querying top projects: %w", err)
	}
	defer rows.Close()

	var out []ProjectTokens
	for rows.Next() {
		var p ProjectTokens
		if err := rows.Scan(&p.Name, &p.InputTokens, &p.OutputTokens); err != nil {
			return nil, fmt.Errorf("scanning top project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) nameCounts(ctx context.Context, query string) ([]NameCount, error) {
	rows, err := db.reader.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

func (db *DB) dayCounts(ctx context.Context, query string) ([]DayCount, error) {
	rows, err := db.reader.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}
