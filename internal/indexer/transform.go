package indexer

import (
	"encoding/json"
	"strings"
	"time"

	"mediapipeline/internal/sor"
)

// timestampColumns are the system-of-record columns reformatted to the
// search store's timestamp convention (spec §4.6: "YYYY-MM-DDTHH:MM:SS.ffffff",
// UTC, no trailing Z).
var timestampColumns = map[string]bool{
	"created_at":       true,
	"updated_at":       true,
	"last_modified_at": true,
	"processed_at":     true,
}

const searchTimestampLayout = "2006-01-02T15:04:05.000000"

// transformRow converts one system-of-record row into a search-store
// document: snake_case keys become camelCase, timestamp columns are
// reformatted, embedding columns are normalized to JSON number arrays, and
// bbox is coerced to an integer array.
func transformRow(row sor.Row) map[string]any {
	doc := make(map[string]any, len(row))
	for column, value := range row {
		key := camelCase(column)

		switch {
		case timestampColumns[column]:
			doc[key] = formatTimestamp(value)
		case strings.Contains(column, "embedding"):
			doc[key] = normalizeEmbedding(value)
		case column == "bbox":
			doc[key] = normalizeBBox(value)
		default:
			doc[key] = value
		}
	}
	return doc
}

func camelCase(snake string) string {
	parts := strings.Split(snake, "_")
	if len(parts) == 1 {
		return snake
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func formatTimestamp(value any) any {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(searchTimestampLayout)
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC().Format(searchTimestampLayout)
		}
		return v
	default:
		return value
	}
}

// normalizeEmbedding parses a JSON-string-encoded embedding column into a
// float array; a value already decoded as an array by the driver passes
// through unchanged.
func normalizeEmbedding(value any) any {
	switch v := value.(type) {
	case string:
		var floats []float64
		if err := json.Unmarshal([]byte(v), &floats); err == nil {
			return floats
		}
		return v
	default:
		return value
	}
}

// normalizeBBox coerces each numeric element of the bbox column to an int,
// decoding a JSON-encoded string first when the driver returned one. The
// length of the resulting array is not checked.
func normalizeBBox(value any) any {
	var raw []any
	switch v := value.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &raw); err != nil {
			return value
		}
	case []any:
		raw = v
	default:
		return value
	}

	out := make([]int, 0, len(raw))
	for _, el := range raw {
		switch n := el.(type) {
		case float64:
			out = append(out, int(n))
		case int:
			out = append(out, n)
		case json.Number:
			i, err := n.Int64()
			if err == nil {
				out = append(out, int(i))
			}
		}
	}
	return out
}
