package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	jsonOutputPattern   = regexp.MustCompile(`(?s)<json_output>(.*?)</json_output>`)
	jsonFallbackPattern = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
)

// ParseModelJSON extracts the structured payload from a model response.
// The primary path reads the content of the <json_output> tags the prompts
// demand; when the model ignores the contract, a fallback scans for the
// outermost JSON object or array. Failures are reported as an error map
// (see IsErrorResult) rather than a Go error, because a malformed response
// is chunk-level data to persist, not a transport failure.
func ParseModelJSON(text string) any {
	if m := jsonOutputPattern.FindStringSubmatch(text); m != nil {
		payload := strings.TrimSpace(m[1])
		var v any
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return map[string]any{
				"error":       fmt.Sprintf("invalid JSON in <json_output>: %v", err),
				"raw_content": payload,
			}
		}
		return v
	}

	if m := jsonFallbackPattern.FindString(text); m != "" {
		dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(m)))
		var v any
		if err := dec.Decode(&v); err != nil {
			return map[string]any{
				"error":        fmt.Sprintf("fallback failed to parse JSON: %v", err),
				"raw_response": text,
			}
		}
		return v
	}

	return map[string]any{"error": "no JSON found in response"}
}

// IsErrorResult reports whether a parsed value is an error map produced by
// ParseModelJSON (or by an enrichment stage).
func IsErrorResult(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, hasErr := m["error"]
	return hasErr
}
