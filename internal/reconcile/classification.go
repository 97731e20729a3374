package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/sift/internal/apperr"
	"github.com/starford/sift/internal/models"
)

// ParseClassification decodes a classifier reply of the form
// {"<id>": {"category": "...", "sentiment": "..."}}. Only a payload that is
// not a JSON object at all is rejected; entries with a non-canonical integer
// key or a non-object value are dropped, and entries with missing fields are kept so
// the engine can treat them as unclassified.
func ParseClassification(data []byte) (map[int]models.Classification, error) {
	data = bytes.TrimSpace(data)
	var top map[string]json.RawMessage
	if len(data) == 0 || data[0] != '{' {
		return nil, apperr.ErrInvalidClassification
	}
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidClassification, err)
	}

	out := make(map[int]models.Classification, len(top))
	for key, raw := range top {
		// Only canonical decimal keys count, so "5" and " 05" cannot both
		// claim record 5 in map order.
		id, err := strconv.Atoi(key)
		if err != nil || strconv.Itoa(id) != key {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			continue
		}
		out[id] = models.Classification{
			Category:  stringField(fields, "category"),
			Sentiment: stringField(fields, "sentiment"),
		}
	}
	return out, nil
}

// stringField reads key as a string; any other JSON type counts as missing.
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// ExtractJSONObject returns the outermost {...} span of s. Model replies
// often wrap the object in prose or code fences.
func ExtractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
