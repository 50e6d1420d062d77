package llm

import (
	"encoding/json"
	"strings"
)

// CleanJSON strips Markdown fences and surrounding prose from a model reply,
// keeping the outermost JSON object or array.
func CleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if json.Valid([]byte(s)) {
		return s
	}

	// Handle ```json ... ``` or ``` ... ``` wrappers. The closing fence is
	// only looked for when an opening one was stripped, since string values
	// may contain fences of their own.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	open := strings.IndexAny(s, "{[")
	if open == -1 {
		return s
	}
	closer := "}"
	if s[open] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > open {
		return strings.TrimSpace(s[open : end+1])
	}
	return s
}

func jsonString(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
