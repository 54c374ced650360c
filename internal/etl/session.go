package etl

import (
	"bufio"
	"database/sql"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/claudescope/claudescope/internal/db"
	"github.com/claudescope/claudescope/internal/timeutil"
)

const (
	initialScanBufSize = 64 * 1024        // 64KB
	maxScanTokenSize   = 20 * 1024 * 1024 // 20MB
)

// sessionSource identifies one session file to reconstruct.
type sessionSource struct {
	path            string
	projectID       int64
	isSubagent      bool
	parentSessionID string // producer session id, "" for top-level
	agentID         string // "" for top-level
}

// loadSessionFile reconstructs one session file and inserts its
// rows inside the sync transaction. Unreadable files and files
// with no discoverable session id are skipped without error; only
// insert failures propagate (and roll back the whole sync).
func loadSessionFile(
	tx *sql.Tx, src sessionSource, now string, stats *SyncStats,
) error {
	f, err := os.Open(src.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var (
		userRecords []Record
		groups      = make(map[string][]Record)
		groupOrder  []string
		summary     string
		hasSummary  bool
		sessionID   string
		slug        string
		version     string
		cwd         string
		gitBranch   string
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialScanBufSize), maxScanTokenSize)

	for scanner.Scan() {
		rec, ok := ParseRecord(scanner.Text())
		if !ok {
			continue
		}

		if rec.Type == kindSummary {
			summary = rec.Summary
			hasSummary = true
			continue
		}

		// Session-identifying fields come from the first record
		// that carries a session id; later records never override.
		if sessionID == "" && rec.SessionID != "" {
			sessionID = rec.SessionID
			slug = rec.Slug
			version = rec.Version
			cwd = rec.Cwd
			gitBranch = rec.GitBranch
		}

		switch rec.Type {
		case kindUser:
			userRecords = append(userRecords, rec)
		case kindAssistant:
			if rec.MessageID == "" {
				continue
			}
			if _, seen := groups[rec.MessageID]; !seen {
				groupOrder = append(groupOrder, rec.MessageID)
			}
			groups[rec.MessageID] = append(groups[rec.MessageID], rec)
		}
	}
	// A scanner error means the tail of the file was unreadable;
	// what was decoded so far still counts.

	if sessionID == "" {
		return nil
	}

	// Tool results can arrive after the tool_use they answer, so
	// the whole file's user records are indexed before any row is
	// emitted.
	toolResults := collectToolResults(userRecords)

	startedAt, endedAt := sessionBounds(userRecords, groups, groupOrder)

	sessionDBID, err := db.InsertSessionTx(tx, db.NewSession{
		SessionID:       sessionID,
		ProjectID:       src.projectID,
		Slug:            strPtr(slug),
		Summary:         summaryPtr(summary, hasSummary),
		GitBranch:       strPtr(gitBranch),
		Cwd:             strPtr(cwd),
		Version:         strPtr(version),
		IsSubagent:      src.isSubagent,
		AgentID:         strPtr(src.agentID),
		ParentSessionID: strPtr(src.parentSessionID),
		StartedAt:       startedAt,
		EndedAt:         endedAt,
	}, now)
	if err != nil {
		return err
	}
	stats.Sessions++

	for _, rec := range userRecords {
		if !rec.Content.Exists() || rec.UUID == "" {
			continue
		}
		text := extractText(rec.Content)
		var raw *string
		if rec.Content.Type != gjson.String {
			raw = &rec.Content.Raw
		}

		_, inserted, err := db.InsertMessageTx(tx, db.NewMessage{
			SessionID:   sessionDBID,
			UUID:        rec.UUID,
			ParentUUID:  strPtr(rec.ParentUUID),
			Role:        "user",
			Content:     &text,
			RawContent:  raw,
			UserType:    strPtr(rec.UserType),
			IsSidechain: rec.IsSidechain,
			Cwd:         strPtr(rec.Cwd),
			GitBranch:   strPtr(rec.GitBranch),
			Timestamp:   tsPtr(rec.Timestamp),
		}, now)
		if err != nil {
			return err
		}
		if inserted {
			stats.Messages++
		}
	}

	for _, msgID := range groupOrder {
		recs := groups[msgID]
		first := recs[0]
		if first.UUID == "" {
			continue
		}

		// Coalesce: blocks across all records sharing the message
		// id, in arrival order.
		var blocks []gjson.Result
		for _, rec := range recs {
			if rec.Content.IsArray() {
				blocks = append(blocks, rec.Content.Array()...)
			}
		}

		text := blocksText(blocks)
		raw := rawBlocksJSON(blocks)

		msgDBID, inserted, err := db.InsertMessageTx(tx, db.NewMessage{
			SessionID:           sessionDBID,
			UUID:                first.UUID,
			ParentUUID:          strPtr(first.ParentUUID),
			Role:                "assistant",
			Content:             &text,
			RawContent:          &raw,
			Model:               strPtr(first.Model),
			StopReason:          strPtr(first.StopReason),
			InputTokens:         first.InputTokens,
			OutputTokens:        first.OutputTokens,
			CacheCreationTokens: first.CacheCreationTokens,
			CacheReadTokens:     first.CacheReadTokens,
			UserType:            strPtr(first.UserType),
			IsSidechain:         first.IsSidechain,
			Cwd:                 strPtr(first.Cwd),
			GitBranch:           strPtr(first.GitBranch),
			Timestamp:           tsPtr(first.Timestamp),
		}, now)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		stats.Messages++

		for _, block := range blocks {
			if block.Get("type").Str != "tool_use" {
				continue
			}
			id := block.Get("id").Str
			name := block.Get("name").Str
			if id == "" || name == "" {
				continue
			}
			input := block.Get("input")
			inputJSON := "{}"
			if input.Exists() {
				inputJSON = input.Raw
			}
			if err := db.InsertToolUseTx(tx, db.NewToolUse{
				MessageID: msgDBID,
				ToolUseID: id,
				ToolName:  name,
				Input:     inputJSON,
				InputText: FlattenToolInput(name, input),
				Result:    toolResults[id],
			}, now); err != nil {
				return err
			}
			stats.ToolUses++
		}
	}

	return nil
}

// collectToolResults indexes tool_result blocks from user records
// by tool_use_id. String content is kept verbatim; structured
// content is stored as its JSON serialization.
func collectToolResults(userRecords []Record) map[string]*string {
	out := make(map[string]*string)
	for _, rec := range userRecords {
		if !rec.Content.IsArray() {
			continue
		}
		rec.Content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").Str != "tool_result" {
				return true
			}
			id := block.Get("tool_use_id").Str
			if id == "" {
				return true
			}
			content := block.Get("content")
			if !content.Exists() {
				return true
			}
			var v string
			if content.Type == gjson.String {
				v = content.Str
			} else {
				v = content.Raw
			}
			out[id] = &v
			return true
		})
	}
	return out
}

// sessionBounds computes min/max over user record timestamps and
// each assistant group's first-record timestamp. Sessions with no
// timestamped records get nil bounds.
func sessionBounds(
	userRecords []Record,
	groups map[string][]Record,
	groupOrder []string,
) (startedAt, endedAt *string) {
	var minT, maxT time.Time
	observe := func(ts string) {
		t := timeutil.Parse(ts)
		if t.IsZero() {
			return
		}
		if minT.IsZero() || t.Before(minT) {
			minT = t
		}
		if maxT.IsZero() || t.After(maxT) {
			maxT = t
		}
	}
	for _, rec := range userRecords {
		observe(rec.Timestamp)
	}
	for _, msgID := range groupOrder {
		observe(groups[msgID][0].Timestamp)
	}
	if minT.IsZero() {
		return nil, nil
	}
	s, e := timeutil.Format(minT), timeutil.Format(maxT)
	return &s, &e
}

// rawBlocksJSON serializes concatenated blocks back to one JSON
// array, preserving each block verbatim.
func rawBlocksJSON(blocks []gjson.Result) string {
	raws := make([]string, len(blocks))
	for i, b := range blocks {
		raws[i] = b.Raw
	}
	return "[" + strings.Join(raws, ",") + "]"
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func summaryPtr(s string, has bool) *string {
	if !has {
		return nil
	}
	return &s
}

func tsPtr(raw string) *string {
	t := timeutil.Parse(raw)
	if t.IsZero() {
		return nil
	}
	s := timeutil.Format(t)
	return &s
}
