// Package etl rebuilds the store from the Claude Code data
// directory: it parses JSONL session logs, reconstructs sessions
// and coalesced messages, and reloads every derived table inside
// one transaction per sync.
package etl

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Record kinds that appear in session files. Anything else is
// ignored by the reconstructor.
const (
	kindUser      = "user"
	kindAssistant = "assistant"
	kindSummary   = "summary"
)

// Record is one decoded session file line. Content holds the raw
// message.content value (string or block array); usage counters
// are nil when the producer omitted them.
type Record struct {
	Type        string
	SessionID   string
	Slug        string
	Version     string
	Cwd         string
	GitBranch   string
	UUID        string
	ParentUUID  string
	UserType    string
	IsSidechain bool
	Timestamp   string
	Summary     string

	MessageID  string
	Model      string
	StopReason string
	Content    gjson.Result

	InputTokens         *int64
	OutputTokens        *int64
	CacheCreationTokens *int64
	CacheReadTokens     *int64
}

// ParseRecord decodes one line. Returns ok=false for blank or
// malformed lines; a single bad line never aborts its file.
func ParseRecord(line string) (Record, bool) {
	if strings.TrimSpace(line) == "" {
		return Record{}, false
	}
	if !gjson.Valid(line) {
		return Record{}, false
	}

	root := gjson.Parse(line)
	r := Record{
		Type:        root.Get("type").Str,
		SessionID:   root.Get("sessionId").Str,
		Slug:        root.Get("slug").Str,
		Version:     root.Get("version").Str,
		Cwd:         root.Get("cwd").Str,
		GitBranch:   root.Get("gitBranch").Str,
		UUID:        root.Get("uuid").Str,
		ParentUUID:  root.Get("parentUuid").Str,
		UserType:    root.Get("userType").Str,
		IsSidechain: root.Get("isSidechain").Bool(),
		Timestamp:   root.Get("timestamp").Str,
		Summary:     root.Get("summary").Str,

		MessageID:  root.Get("message.id").Str,
		Model:      root.Get("message.model").Str,
		StopReason: root.Get("message.stop_reason").Str,
		Content:    root.Get("message.content"),

		InputTokens:         intField(root, "message.usage.input_tokens"),
		OutputTokens:        intField(root, "message.usage.output_tokens"),
		CacheCreationTokens: intField(root, "message.usage.cache_creation_input_tokens"),
		CacheReadTokens:     intField(root, "message.usage.cache_read_input_tokens"),
	}
	return r, true
}

func intField(root gjson.Result, path string) *int64 {
	v := root.Get(path)
	if !v.Exists() {
		return nil
	}
	n := v.Int()
	return &n
}

// extractText joins the text blocks of a content value with blank
// lines. String content is returned verbatim; anything else yields
// the empty string.
func extractText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.Str
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	content.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").Str == "text" {
			parts = append(parts, block.Get("text").Str)
		}
		return true
	})
	return strings.Join(parts, "\n\n")
}

// blocksText joins the text blocks from an already-concatenated
// block slice (the assistant coalescing path).
func blocksText(blocks []gjson.Result) string {
	var parts []string
	for _, block := range blocks {
		if block.Get("type").Str == "text" {
			parts = append(parts, block.Get("text").Str)
		}
	}
	return strings.Join(parts, "\n\n")
}
