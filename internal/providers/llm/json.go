package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON means the model reply contained no JSON object.
var ErrNoJSON = errors.New("no json object in model output")

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// DecodeObject extracts the outermost JSON object from a model reply and
// decodes it into T. Code fences and trailing commas are tolerated.
func DecodeObject[T any](raw string) (T, error) {
	var zero T
	fragment := extractObject(raw)
	if fragment == "" {
		return zero, ErrNoJSON
	}
	var out T
	err := json.Unmarshal([]byte(fragment), &out)
	if err == nil {
		return out, nil
	}
	repaired := trailingComma.ReplaceAllString(fragment, "$1")
	if repaired != fragment {
		var retry T
		if json.Unmarshal([]byte(repaired), &retry) == nil {
			return retry, nil
		}
	}
	return zero, err
}

func extractObject(raw string) string {
	text := trimCodeFence(strings.TrimSpace(raw))
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// NormalizeKeywords trims, drops blanks and removes case-insensitive duplicates.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower := strings.ToLower(kw)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		result = append(result, kw)
	}
	return result
}

// Coalesce returns the first non-blank value.
func Coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
