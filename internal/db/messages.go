package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Keep query parameter counts conservative so large sessions do
// not exceed SQLite variable limits when hydrating tool uses.
const attachToolUseBatchSize = 500

// Message is one logical turn with its tool uses attached.
type Message struct {
	ID                  int64     `json:"id"`
	SessionID           int64     `json:"session_id"`
	UUID                string    `json:"uuid"`
	ParentUUID          *string   `json:"parent_uuid"`
	Role                string    `json:"role"`
	Content             *string   `json:"content"`
	Model               *string   `json:"model,omitempty"`
	StopReason          *string   `json:"stop_reason,omitempty"`
	InputTokens         *int64    `json:"input_tokens,omitempty"`
	OutputTokens        *int64    `json:"output_tokens,omitempty"`
	CacheCreationTokens *int64    `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     *int64    `json:"cache_read_tokens,omitempty"`
	UserType            *string   `json:"user_type,omitempty"`
	IsSidechain         bool      `json:"is_sidechain"`
	Cwd                 *string   `json:"cwd,omitempty"`
	GitBranch           *string   `json:"git_branch,omitempty"`
	Timestamp           *string   `json:"timestamp"`
	ToolUses            []ToolUse `json:"tool_uses,omitempty"`
}

// ToolUse is one tool invocation with its result.
type ToolUse struct {
	ID        int64   `json:"id"`
	MessageID int64   `json:"-"`
	ToolUseID string  `json:"tool_use_id"`
	ToolName  string  `json:"tool_name"`
	Input     *string `json:"input"`
	InputText *string `json:"input_text"`
	Result    *string `json:"result"`
}

// GetSessionMessages returns all messages of a session in
// chronological order with tool uses attached.
func (db *DB) GetSessionMessages(
	ctx context.Context, sessionDBID int64,
) ([]Message, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT id, session_id, uuid, parent_uuid, role, content,
			model, stop_reason, input_tokens, output_tokens,
			cache_creation_tokens, cache_read_tokens, user_type,
			is_sidechain, cwd, git_branch, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY timestamp ASC, id ASC`, sessionDBID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.SessionID, &m.UUID, &m.ParentUUID, &m.Role,
			&m.Content, &m.Model, &m.StopReason, &m.InputTokens,
			&m.OutputTokens, &m.CacheCreationTokens,
			&m.CacheReadTokens, &m.UserType, &m.IsSidechain,
			&m.Cwd, &m.GitBranch, &m.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := db.attachToolUses(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessage returns one message by id, or ErrNotFound.
func (db *DB) GetMessage(ctx context.Context, id int64) (Message, error) {
	var m Message
	err := db.reader.QueryRowContext(ctx, `
		SELECT id, session_id, uuid, parent_uuid, role, content,
			model, stop_reason, input_tokens, output_tokens,
			cache_creation_tokens, cache_read_tokens, user_type,
			is_sidechain, cwd, git_branch, timestamp
		FROM messages WHERE id = ?`, id,
	).Scan(
		&m.ID, &m.SessionID, &m.UUID, &m.ParentUUID, &m.Role,
		&m.Content, &m.Model, &m.StopReason, &m.InputTokens,
		&m.OutputTokens, &m.CacheCreationTokens,
		&m.CacheReadTokens, &m.UserType, &m.IsSidechain,
		&m.Cwd, &m.GitBranch, &m.Timestamp,
	)
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("querying message %d: %w", id, err)
	}
	msgs := []Message{m}
	if err := db.attachToolUses(ctx, msgs); err != nil {
		return Message{}, err
	}
	return msgs[0], nil
}

// attachToolUses loads tool_uses rows for the given messages and
// attaches them in insertion order.
func (db *DB) attachToolUses(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	idToIdx := make(map[int64]int, len(msgs))
	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		idToIdx[m.ID] = i
	}

	for i := 0; i < len(ids); i += attachToolUseBatchSize {
		end := min(i+attachToolUseBatchSize, len(ids))
		if err := db.attachToolUsesBatch(
			ctx, msgs, idToIdx, ids[i:end],
		); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) attachToolUsesBatch(
	ctx context.Context,
	msgs []Message,
	idToIdx map[int64]int,
	batch []int64,
) error {
	args := make([]any, len(batch))
	placeholders := make([]string, len(batch))
	for i, id := range batch {
		args[i] = id
		placeholders[i] = "?"
	}

	query := fmt.Sprintf(`
		SELECT id, message_id, tool_use_id, tool_name, input,
			input_text, result
		FROM tool_uses
		WHERE message_id IN (%s)
		ORDER BY id`,
		strings.Join(placeholders, ","))

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying tool_uses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tu ToolUse
		if err := rows.Scan(
			&tu.ID, &tu.MessageID, &tu.ToolUseID, &tu.ToolName,
			&tu.Input, &tu.InputText, &tu.Result,
		); err != nil {
			return fmt.Errorf("scanning tool_use: %w", err)
		}
		if idx, ok := idToIdx[tu.MessageID]; ok {
			msgs[idx].ToolUses = append(msgs[idx].ToolUses, tu)
		}
	}
	return rows.Err()
}
