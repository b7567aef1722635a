// Package extract recovers structured dialogue records from raw model
// output. The endpoint may wrap the array in a code fence or a JSON object
// (json_object response mode cannot emit a bare array), and may stop
// generation mid-array at the output-token ceiling, so extraction is
// best-effort: everything parseable before the first point of failure is
// kept.
package extract

import (
	"encoding/json"
	"strings"

	"github.com/clarigen/clarigen/pkg/models"
)

// Records parses raw response text into candidate records. The truncated
// flag is false only when the whole text parsed strictly as one array;
// every recovery path reports truncated=true even when it salvages records.
func Records(text string) ([]models.Record, bool) {
	cleaned := stripCodeFence(text)

	// Strict whole-array parse.
	var records []models.Record
	if err := json.Unmarshal([]byte(cleaned), &records); err == nil {
		return records, false
	}

	// json_object mode wraps the array in an object with a single array
	// field, e.g. {"data": [...]}.
	if inner, ok := unwrapArrayField(cleaned); ok {
		if err := json.Unmarshal([]byte(inner), &records); err == nil {
			return records, false
		}
		cleaned = inner
	}

	// Longest-valid-prefix recovery: collect each balanced top-level object
	// inside the array up to the first one that fails to parse.
	return recoverPrefix(cleaned), true
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// unwrapArrayField returns the first top-level array value found inside a
// JSON object wrapper, as raw text.
func unwrapArrayField(text string) (string, bool) {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "{") {
		return "", false
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &wrapper); err != nil {
		// The wrapper itself may be truncated; fall back to scanning for
		// the first array delimiter.
		if idx := strings.Index(s, "["); idx >= 0 {
			return s[idx:], true
		}
		return "", false
	}
	for _, raw := range wrapper {
		if v := strings.TrimSpace(string(raw)); strings.HasPrefix(v, "[") {
			return v, true
		}
	}
	return "", false
}

// recoverPrefix scans for balanced top-level objects after the first array
// delimiter and parses each in isolation, stopping at the first failure.
// The brace scan is string- and escape-aware so payload text containing
// braces does not break the boundaries. Objects without a "system" key are
// skipped as non-record fragments.
func recoverPrefix(text string) []models.Record {
	start := strings.Index(text, "[")
	if start < 0 {
		return nil
	}
	body := text[start+1:]

	var (
		records  []models.Record
		depth    int
		objStart = -1
		inString bool
		escaped  bool
	)

	for i, r := range body {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					objStart = i
				}
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 && objStart >= 0 {
					candidate := body[objStart : i+1]
					var rec models.Record
					if err := json.Unmarshal([]byte(candidate), &rec); err != nil {
						return records
					}
					if !strings.Contains(candidate, `"system"`) {
						objStart = -1
						continue
					}
					records = append(records, rec)
					objStart = -1
				}
			}
		case ']':
			if !inString && depth == 0 {
				return records
			}
		}
	}
	return records
}
