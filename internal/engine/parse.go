package engine

import (
	"encoding/json"
	"strings"

	"archon/internal/domain"
)

// ParseManifest extracts a builder output manifest from raw model
// text. It never fails: fenced JSON first, then a balanced-brace scan
// of the raw text, then an empty manifest carrying taskID.
func ParseManifest(taskID, raw string) domain.Manifest {
	if m, ok := manifestFromFences(raw); ok {
		return normalizeManifest(taskID, m)
	}
	if m, ok := manifestFromRawScan(raw); ok {
		return normalizeManifest(taskID, m)
	}
	return domain.Manifest{
		TaskID: taskID,
		Notes:  []string{"manifest parsing fell back to empty manifest"},
	}
}

func normalizeManifest(taskID string, m domain.Manifest) domain.Manifest {
	if strings.TrimSpace(m.TaskID) == "" {
		m.TaskID = taskID
	}
	return m
}

// manifestFromFences tries every ```json fenced block in order.
func manifestFromFences(raw string) (domain.Manifest, bool) {
	rest := raw
	for {
		start := strings.Index(rest, "```json")
		if start < 0 {
			return domain.Manifest{}, false
		}
		rest = rest[start+len("```json"):]
		end := strings.Index(rest, "```")
		if end < 0 {
			return domain.Manifest{}, false
		}
		block := strings.TrimSpace(rest[:end])
		rest = rest[end+3:]
		if m, ok := unmarshalManifest(block); ok {
			return m, true
		}
	}
}

// manifestFromRawScan anchors on a manifest keyword, walks back to the
// nearest opening brace, and forward to its balanced close.
func manifestFromRawScan(raw string) (domain.Manifest, bool) {
	anchor := strings.Index(raw, `"task_id"`)
	if anchor < 0 {
		anchor = strings.Index(raw, `"artifacts"`)
	}
	if anchor < 0 {
		return domain.Manifest{}, false
	}
	start := strings.LastIndex(raw[:anchor], "{")
	if start < 0 {
		return domain.Manifest{}, false
	}
	span, ok := balancedObject(raw[start:])
	if !ok {
		return domain.Manifest{}, false
	}
	return unmarshalManifest(span)
}

// balancedObject returns the prefix of s spanning one brace-balanced
// JSON object, ignoring braces inside string literals.
func balancedObject(s string) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
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
				return s[:i+1], true
			}
		}
	}
	return "", false
}

func unmarshalManifest(s string) (domain.Manifest, bool) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &keys); err != nil {
		return domain.Manifest{}, false
	}
	if _, hasID := keys["task_id"]; !hasID {
		if _, hasArtifacts := keys["artifacts"]; !hasArtifacts {
			return domain.Manifest{}, false
		}
	}
	var m domain.Manifest
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return domain.Manifest{}, false
	}
	return m, true
}
