package reddit

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"
)

// DecodeDocument parses a raw API response into a generic tree of objects,
// arrays and scalars. Callers walk the tree with the typed accessors below;
// every field read is explicit about absence.
func DecodeDocument(raw []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func asObject(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok
}

func asArray(v any) ([]any, bool) {
	arr, ok := v.([]any)
	return arr, ok
}

// stringField returns the string value at key, or "" when the field is
// absent, null, or not a string.
func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// textField is stringField plus the normalization applied to human-readable
// text: HTML entities unescaped and surrounding whitespace trimmed.
func textField(obj map[string]any, key string) string {
	return strings.TrimSpace(html.UnescapeString(stringField(obj, key)))
}

// numberField reports the numeric value at key and whether one was present.
func numberField(obj map[string]any, key string) (float64, bool) {
	f, ok := obj[key].(float64)
	return f, ok
}

// timeField interprets a unix-seconds field. Absent, null, or zero yields
// nil, never a default time.
func timeField(obj map[string]any, key string) *time.Time {
	f, ok := numberField(obj, key)
	if !ok || f == 0 {
		return nil
	}
	t := time.Unix(int64(f), 0).UTC()
	return &t
}
