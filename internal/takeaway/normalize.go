package takeaway

import (
	"encoding/json"
	"strings"
)

// Canonical line markers for the two takeaway categories.
const (
	PositiveMarker = "✓ "
	NegativeMarker = "⚠️ "
)

// Summary is the two-category output of a generation. A non-nil field is
// never empty or whitespace-only; each of its lines starts with the
// category marker.
type Summary struct {
	Positive *string
	Negative *string
}

// Empty reports whether both categories are absent.
func (s Summary) Empty() bool {
	return s.Positive == nil && s.Negative == nil
}

type rawSummary struct {
	Positive *string `json:"positive"`
	Negative *string `json:"negative"`
}

// Normalize parses the provider's raw text into a Summary and rewrites
// each category into canonical bullet form. Unparseable output degrades
// silently to an empty Summary; generation succeeded, the formatting just
// drifted.
func Normalize(raw string) Summary {
	obj, ok := extractObject(raw)
	if !ok {
		return Summary{}
	}

	var parsed rawSummary
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return Summary{}
	}

	return Summary{
		Positive: normalizeField(parsed.Positive, PositiveMarker),
		Negative: normalizeField(parsed.Negative, NegativeMarker),
	}
}

// extractObject returns the substring between the first '{' and the last
// '}'. Providers wrap JSON in prose and code fences often enough that
// strict parsing of the whole response is a losing game; this leniency is
// deliberately isolated here so stricter parsing can replace it later.
func extractObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return raw[start : end+1], true
}

// normalizeField rewrites one category into marker-prefixed lines. Already
// normalized input passes through unchanged, so applying it twice never
// doubles markers.
func normalizeField(field *string, marker string) *string {
	if field == nil {
		return nil
	}

	text := strings.ReplaceAll(*field, `\n`, "\n")
	text = strings.TrimSpace(text)
	text = strings.Trim(text, `"`)

	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = stripMarkers(line)
		if line == "" {
			continue
		}
		out = append(out, marker+line)
	}

	result := strings.Join(out, "\n")
	if strings.TrimSpace(result) == "" {
		return nil
	}
	return &result
}

// stripMarkers removes any pre-existing category markers from the front of
// a line, guarding against the provider echoing prefixes back.
func stripMarkers(line string) string {
	for {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "✓"):
			line = strings.TrimPrefix(line, "✓")
		case strings.HasPrefix(line, "⚠️"):
			line = strings.TrimPrefix(line, "⚠️")
		case strings.HasPrefix(line, "⚠"):
			line = strings.TrimPrefix(line, "⚠")
		default:
			return line
		}
	}
}
