package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var (
	fencedBlock     = regexp.MustCompile("(?s)```(?:json|JSON)?[ \\t]*\\r?\\n?(.*?)```")
	errEmptyPayload = errors.New("model output contained no structured payload")
)

// extractPayload returns the first fenced code block, or the whole text when
// there is none.
func extractPayload(raw string) string {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}

// relaxJSON drops // line comments and trailing commas that sit outside
// string literals. Models add both often enough to matter.
func relaxJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var quote byte
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch {
		case c == '"' || c == '\'':
			quote = c
			b.WriteByte(c)
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case c == ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// parseModelJSON decodes the object a model was asked to emit. The permissive
// pass goes through YAML flow decoding, which accepts single quotes and
// True/False literals; strict JSON is the fallback for what YAML rejects,
// such as tab indentation.
func parseModelJSON(raw string) (map[string]any, error) {
	payload := strings.TrimSpace(relaxJSON(extractPayload(raw)))
	if payload == "" {
		return nil, errEmptyPayload
	}
	var out map[string]any
	yamlErr := yaml.Unmarshal([]byte(payload), &out)
	if yamlErr == nil && out != nil {
		return out, nil
	}
	out = nil
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		if yamlErr == nil {
			yamlErr = errEmptyPayload
		}
		return nil, fmt.Errorf("decode model output: %w", errors.Join(yamlErr, err))
	}
	return out, nil
}

// stringList accepts a list of strings, a list of {"query": ...} objects, or
// a single string. Blank entries are dropped.
func stringList(v any) ([]string, bool) {
	switch val := v.(type) {
	case nil:
		return nil, true
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}, true
		}
		return nil, true
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			var s string
			switch it := item.(type) {
			case string:
				s = it
			case map[string]any:
				s, _ = it["query"].(string)
			case nil:
			default:
				s = fmt.Sprint(it)
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func boolValue(v any) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	default:
		return fmt.Sprint(val)
	}
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
