// Package json pulls JSON objects out of free-form text: model replies
// that wrap their answer in prose or code fences, and backend error
// strings that embed a JSON error body.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Object returns the first well-formed JSON object in text. Markdown
// code fences around the object are ignored, and braces inside JSON
// strings do not confuse the scan.
func Object(text string) (string, bool) {
	text = stripCodeFence(text)
	for start := strings.IndexByte(text, '{'); start != -1; {
		if end, ok := matchBrace(text, start); ok {
			candidate := text[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}
	return "", false
}

// Decode extracts the first JSON object in text and unmarshals it into T.
func Decode[T any](text string) (T, error) {
	var out T
	obj, ok := Object(text)
	if !ok {
		return out, fmt.Errorf("no JSON object in %q", preview(text))
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return out, nil
}

// matchBrace returns the index of the '}' closing the '{' at start.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// stripCodeFence removes a surrounding ```json ... ``` or ``` ... ``` block.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl != -1 && !strings.Contains(trimmed[:nl], "{") {
		trimmed = trimmed[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(trimmed), "```"))
}

func preview(s string) string {
	const max = 100
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
