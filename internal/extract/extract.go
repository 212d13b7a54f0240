// Package extract recovers a single JSON object from free-text model output
// that may be wrapped in markdown fences or surrounded by prose.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencePattern matches the first fenced block whose body starts with '{',
// non-greedy up to the first closing fence.
var fencePattern = regexp.MustCompile("```(?:json)?\\s*(\\{[\\s\\S]*?\\})\\s*```")

// Object returns the raw bytes of the first JSON object found in text.
// It makes exactly one attempt, starting at the first '{'; ok is false when
// that candidate is unbalanced or does not parse as an object.
func Object(text string) (raw json.RawMessage, ok bool) {
	text = strings.TrimSpace(text)

	if strings.Contains(text, "```") {
		if m := fencePattern.FindStringSubmatch(text); m != nil {
			text = m[1]
		}
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}
	end := closingBrace(text, start)
	if end < 0 {
		return nil, false
	}

	candidate := text[start : end+1]
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

// closingBrace returns the index of the '}' that balances the '{' at start,
// or -1. Braces inside JSON string literals are ignored and backslash escapes
// inside strings are honored.
func closingBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false

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
				return i
			}
		}
	}
	return -1
}

// ErrorMarker reports the reason of an explicit {"error": ...} response.
// A marker counts only when the value is truthy: not null, false, 0, "" or
// an empty array or object.
func ErrorMarker(raw json.RawMessage) (reason string, ok bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", false
	}
	val, present := fields["error"]
	if !present {
		return "", false
	}

	var decoded any
	if err := json.Unmarshal(val, &decoded); err != nil {
		return "", false
	}
	switch v := decoded.(type) {
	case nil:
		return "", false
	case bool:
		if !v {
			return "", false
		}
		return "true", true
	case float64:
		if v == 0 {
			return "", false
		}
		return string(val), true
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case []any:
		if len(v) == 0 {
			return "", false
		}
	case map[string]any:
		if len(v) == 0 {
			return "", false
		}
	}
	return string(val), true
}
