package model

import (
	"fmt"
	"strings"

	"papervault/internal/apperr"
)

// AllowedKeys are the only item fields accepted from clients.
var AllowedKeys = []string{"id", "key", "value", "kv_type", "kv_format", "kv_inherited"}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// SanitizeItem keeps allowed keys only; bools pass through, everything else
// is stringified and HTML-escaped.
func SanitizeItem(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(AllowedKeys))
	for _, key := range AllowedKeys {
		value, ok := in[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case bool:
			out[key] = v
		case nil:
			out[key] = ""
		case string:
			out[key] = htmlEscaper.Replace(v)
		default:
			out[key] = htmlEscaper.Replace(fmt.Sprint(v))
		}
	}
	return out
}

// Sanitize expects a decoded JSON list of objects.
func Sanitize(input interface{}) ([]map[string]interface{}, error) {
	list, ok := input.([]interface{})
	if !ok {
		return nil, apperr.Invalid("expects list type as input")
	}
	out := make([]map[string]interface{}, 0, len(list))
	for i, raw := range list {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return nil, apperr.Invalid("item %d is not an object", i)
		}
		out = append(out, SanitizeItem(item))
	}
	return out, nil
}

// ToItems converts sanitized maps into items; kv_type defaults to text.
func ToItems(sanitized []map[string]interface{}) ([]Item, error) {
	items := make([]Item, 0, len(sanitized))
	seen := make(map[string]bool, len(sanitized))
	for _, m := range sanitized {
		item := Item{KVType: TypeText}
		item.ID, _ = m["id"].(string)
		item.Key, _ = m["key"].(string)
		item.Value, _ = m["value"].(string)
		if t, _ := m["kv_type"].(string); t != "" {
			item.KVType = t
		}
		item.KVFormat, _ = m["kv_format"].(string)
		item.KVInherited, _ = m["kv_inherited"].(bool)

		if item.Key == "" {
			return nil, apperr.Invalid("key cannot be empty")
		}
		if !ValidType(item.KVType) {
			return nil, apperr.Invalid("unknown kv_type %q", item.KVType)
		}
		if seen[item.Key] {
			return nil, apperr.Invalid("duplicate key %q", item.Key)
		}
		seen[item.Key] = true
		items = append(items, item)
	}
	return items, nil
}
