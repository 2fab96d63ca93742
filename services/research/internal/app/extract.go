package app

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// ExtractJSON pulls the JSON object out of a model reply. Markdown fences are
// stripped first, then the span from the first '{' to the last '}' is taken.
// When the result is not valid JSON the trimmed reply is returned unchanged
// and ok is false.
func ExtractJSON(reply string) (string, bool) {
	raw := strings.TrimSpace(reply)
	candidate := raw
	if m := fencedJSON.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
	}
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start >= 0 && end > start {
		candidate = candidate[start : end+1]
	}
	if !json.Valid([]byte(candidate)) {
		return raw, false
	}
	return candidate, true
}
