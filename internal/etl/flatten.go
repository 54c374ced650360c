package etl

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Tool input projections for search indexing: each known tool maps
// to the input field(s) a person would search for. New tool names
// fall through to joinStringFields.
var toolInputFlatteners = map[string]func(input gjson.Result) string{
	"Bash":  func(in gjson.Result) string { return in.Get("command").Str },
	"Read":  filePathField,
	"Write": filePathField,
	"Edit":  filePathField,
	"Grep":  patternAndPath,
	"Glob":  patternAndPath,
	"WebSearch": func(in gjson.Result) string {
		return in.Get("query").Str
	},
	"WebFetch": func(in gjson.Result) string {
		return in.Get("url").Str
	},
	"Task": func(in gjson.Result) string {
		if p := in.Get("prompt").Str; p != "" {
			return p
		}
		return in.Get("description").Str
	},
}

func filePathField(in gjson.Result) string {
	return in.Get("file_path").Str
}

func patternAndPath(in gjson.Result) string {
	return strings.TrimSpace(
		in.Get("pattern").Str + " " + in.Get("path").Str,
	)
}

// FlattenToolInput projects a tool's structured input onto the
// single string stored in the search index.
func FlattenToolInput(toolName string, input gjson.Result) string {
	if f, ok := toolInputFlatteners[toolName]; ok {
		return f(input)
	}
	return joinStringFields(input)
}

// joinStringFields concatenates all string-valued input fields in
// document order.
func joinStringFields(input gjson.Result) string {
	var parts []string
	input.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			parts = append(parts, v.Str)
		}
		return true
	})
	return strings.Join(parts, " ")
}
