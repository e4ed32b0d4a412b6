package githubsync

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is one entity object pulled out of a webhook payload.
type Record struct {
	Type RecordType
	Data map[string]any
}

type RecordType string

const (
	RecordIssue       RecordType = "issue"
	RecordPullRequest RecordType = "pull_request"
	RecordDiscussion  RecordType = "discussion"
	RecordProject     RecordType = "project"
	RecordProjectCard RecordType = "project_card"
)

// collect returns the object under singular followed by the objects in the
// plural list. Non-object list entries are dropped.
func collect(payload map[string]any, typ RecordType, singular, plural string) []Record {
	var out []Record
	if item, ok := payload[singular].(map[string]any); ok {
		out = append(out, Record{Type: typ, Data: item})
	}
	if items, ok := payload[plural].([]any); ok {
		for _, raw := range items {
			if item, ok := raw.(map[string]any); ok {
				out = append(out, Record{Type: typ, Data: item})
			}
		}
	}
	return out
}

// externalID resolves node_id, then id, then number. Empty strings and zero
// values fall through to the next candidate.
func externalID(obj map[string]any) (string, bool) {
	for _, key := range []string{"node_id", "id", "number"} {
		if value := obj[key]; truthy(value) {
			if id := scalarString(value); id != "" {
				return id, true
			}
		}
	}
	return "", false
}

func repositoryName(payload map[string]any) string {
	return nestedString(payload, "repository", "full_name")
}

func stringField(obj map[string]any, key string) string {
	return scalarString(obj[key])
}

func nestedString(obj map[string]any, key, field string) string {
	nested, ok := obj[key].(map[string]any)
	if !ok {
		return ""
	}
	return stringField(nested, field)
}

// names reads field from each object in the list at key; plain string entries
// are taken as is.
func names(obj map[string]any, key, field string) []string {
	items, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			if name, ok := v[field].(string); ok && name != "" {
				out = append(out, name)
			}
		case string:
			if v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func numberField(obj map[string]any, key string) (float64, bool) {
	switch v := obj[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// logNumber renders a numeric field for log output, as an integer when it has
// no fractional part.
func logNumber(obj map[string]any, key string) (any, bool) {
	f, ok := numberField(obj, key)
	if !ok {
		return nil, false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), true
	}
	return f, true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func choose(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
