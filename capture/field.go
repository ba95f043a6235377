// Package capture holds the vocabulary shared by the stores and the analyzer:
// trackable fields and their payload keys, discovery methods, product
// categories, the capture event shape and the per-field equivalence rules
// used to decide whether a machine extraction matched what the user kept.
package capture

import (
	"sort"
	"strings"
)

// Field is a product attribute the engine learns selectors for.
type Field string

const (
	FieldName      Field = "name"
	FieldPrice     Field = "price"
	FieldThumbnail Field = "thumbnail"
)

// Fields lists every trackable field in a stable order.
var Fields = []Field{FieldName, FieldPrice, FieldThumbnail}

// Valid reports whether f is one of Fields.
func (f Field) Valid() bool {
	switch f {
	case FieldName, FieldPrice, FieldThumbnail:
		return true
	}
	return false
}

func (f Field) String() string { return string(f) }

// payloadKey maps one payload or context key onto an engine field.
// minor marks values expressed in minor currency units (cents).
type payloadKey struct {
	key   string
	field Field
	minor bool
}

// keyTable is the single source of truth for key vocabulary. Order matters
// for payload lookups: the first present key of a field wins.
var keyTable = []payloadKey{
	{key: "name", field: FieldName},
	{key: "unit_price_cents", field: FieldPrice, minor: true},
	{key: "unit_price", field: FieldPrice},
	{key: "price", field: FieldPrice},
	{key: "thumbnail_url", field: FieldThumbnail},
	{key: "thumbnail", field: FieldThumbnail},
}

// ParseField resolves an engine field name or a payload key. ok is false for
// keys outside the table; callers skip those.
func ParseField(key string) (Field, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, pk := range keyTable {
		if pk.key == k {
			return pk.field, true
		}
	}
	return "", false
}

// SortedKeys returns the keys of m in lexical order so that passes over
// client-supplied maps are deterministic.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Method is the provenance tier of a selector.
type Method string

const (
	MethodHeuristic  Method = "heuristic"
	MethodDiscovered Method = "discovered"
	MethodManual     Method = "manual"
)

// ParseMethod accepts the three tiers; anything else (including "") falls
// back to heuristic.
func ParseMethod(s string) Method {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case MethodDiscovered:
		return MethodDiscovered
	case MethodManual:
		return MethodManual
	default:
		return MethodHeuristic
	}
}
