package breachvip

import (
	"encoding/json"
	"strings"
	"time"
)

// Normalize maps raw API entries into ResultItems tagged with subject and
// fetchedAt. It never fails: entries that are not objects, sources that are
// not strings and categories that are not string arrays degrade to empty
// values. Keys are matched case-insensitively and a lone "category" string is
// accepted in place of "categories".
func Normalize(raw RawResponse, subject string, fetchedAt time.Time) []ResultItem {
	fetchedAt = fetchedAt.UTC()
	items := make([]ResultItem, 0, len(raw.Results))
	for _, entry := range raw.Results {
		fields := decodeObject(entry)
		items = append(items, ResultItem{
			Source:     extractSource(fields),
			Categories: extractCategories(fields),
			Subject:    subject,
			FetchedAt:  fetchedAt,
		})
	}
	return items
}

func decodeObject(entry json.RawMessage) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil {
		return nil
	}
	return fields
}

// lookupKey prefers an exact key match and falls back to a case-insensitive
// one.
func lookupKey(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if value, ok := fields[key]; ok {
		return value, true
	}
	for name, value := range fields {
		if strings.EqualFold(name, key) {
			return value, true
		}
	}
	return nil, false
}

func extractSource(fields map[string]json.RawMessage) string {
	value, ok := lookupKey(fields, "source")
	if !ok {
		return ""
	}
	var source string
	if err := json.Unmarshal(value, &source); err != nil {
		return ""
	}
	return source
}

func extractCategories(fields map[string]json.RawMessage) []string {
	if value, ok := lookupKey(fields, "categories"); ok {
		if categories, ok := decodeCategories(value); ok {
			return categories
		}
	}
	if value, ok := lookupKey(fields, "category"); ok {
		if categories, ok := decodeCategories(value); ok {
			return categories
		}
	}
	return []string{}
}

// decodeCategories accepts an array of strings or a single string. Non-string
// array members and nulls are dropped.
func decodeCategories(value json.RawMessage) ([]string, bool) {
	var single string
	if err := json.Unmarshal(value, &single); err == nil {
		if single == "" {
			return []string{}, true
		}
		return []string{single}, true
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(value, &entries); err != nil || entries == nil {
		return nil, false
	}
	categories := make([]string, 0, len(entries))
	for _, entry := range entries {
		if isJSONNull(entry) {
			continue
		}
		var name string
		if err := json.Unmarshal(entry, &name); err == nil {
			categories = append(categories, name)
		}
	}
	return categories, true
}
