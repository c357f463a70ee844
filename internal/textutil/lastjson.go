// Package textutil holds small pure-function text utilities for
// post-processing agent-style output.
package textutil

import (
	"encoding/json"
	"strings"
)

const actionMarker = "Action:"

// GetLastJSON scans input for one or more "Action:" markers, each optionally
// followed by a triple-backtick-fenced or bare JSON value, and returns the
// last value that parses successfully. A marker followed by a bare (unfenced)
// value ends the scan whether or not that value parses, so later markers are
// not examined. It returns nil if no marker is present or none of the
// examined candidates parse.
func GetLastJSON(input string) any {
	var last any
	pos := 0

	for {
		idx := strings.Index(input[pos:], actionMarker)
		if idx < 0 {
			break
		}
		jsonStart := pos + idx + len(actionMarker)

		// Skip whitespace (including newlines) after "Action:".
		for jsonStart < len(input) && isSpace(input[jsonStart]) {
			jsonStart++
		}
		remaining := input[jsonStart:]

		switch {
		case strings.HasPrefix(remaining, "```"):
			codeStart := jsonStart + 3
			end := strings.Index(input[codeStart:], "```")
			if end < 0 {
				// No closing fence; nothing further to scan.
				return last
			}
			candidate := strings.TrimSpace(input[codeStart : codeStart+end])
			if v, ok := tryParse(candidate); ok {
				last = v
			}
			pos = codeStart + end + 3

		case strings.HasPrefix(remaining, "{") || strings.HasPrefix(remaining, "["):
			if v, ok := tryParse(remaining); ok {
				last = v
			}
			// A standalone (non-fenced) JSON value ends the scan, matching
			// the original's "found valid JSON, no need to continue".
			return last

		default:
			pos = jsonStart
		}
	}

	return last
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// tryParse requires the whole of s (aside from surrounding whitespace) to be
// one JSON value, matching serde_json::from_str's strict whole-string parse.
func tryParse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
