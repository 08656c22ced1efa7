package synth

import (
	"encoding/json"
	"strings"

	"github.com/jackzampolin/grader/internal/prompts/answer"
	"github.com/jackzampolin/grader/internal/providers"
)

// ParseAnswers turns a backend reply into exactly n answers.
//
// A reply shaped like a JSON array (optionally inside a code fence) is
// parsed as the answer list; non-string items are kept as their JSON text.
// Anything else is free text and becomes a one-element list. The list is
// padded with "" or truncated to n.
func ParseAnswers(content string, n int) []string {
	content = strings.TrimSpace(content)

	var list []string
	switch {
	case content == "":
	case looksLikeArray(content):
		if items, ok := parseArray(content); ok {
			list = items
		} else {
			list = []string{content}
		}
	default:
		list = []string{unquote(content)}
	}
	return fit(list, n)
}

func looksLikeArray(content string) bool {
	return strings.HasPrefix(content, "[") || strings.HasPrefix(content, "```")
}

func parseArray(content string) ([]string, bool) {
	raw, err := providers.ParseJSON(content)
	if err != nil || len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}

	var list []string
	if providers.ValidateJSON(answer.Schema, raw) == nil {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, false
		}
	} else {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, false
		}
		list = make([]string, len(items))
		for i, item := range items {
			var s string
			switch {
			case json.Unmarshal(item, &s) == nil:
				list[i] = s
			case string(item) == "null":
				list[i] = ""
			default:
				list[i] = string(item)
			}
		}
	}

	for i := range list {
		list[i] = strings.TrimSpace(list[i])
	}
	return list, true
}

func fit(list []string, n int) []string {
	out := make([]string, n)
	copy(out, list)
	return out
}

// unquote trims whitespace and one pair of matching surrounding quotes.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
