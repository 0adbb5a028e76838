package db

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Patch is a partial update of a document. Keys may be dotted paths
// ("records.2.photo_url"); nested objects are merged, not replaced.
type Patch struct {
	Set   map[string]any
	Unset []string
	// ServerTime lists top-level fields set to the store's clock.
	ServerTime []string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.Set) == 0 && len(p.Unset) == 0 && len(p.ServerTime) == 0
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// mergeObject builds the nested object passed to MERGE. Unset paths map to
// NONE, which removes the field.
func (p Patch) mergeObject() (map[string]any, error) {
	out := map[string]any{}
	// Parents before children, so "records.2.photo_url" lands inside a
	// "records.2" object set by the same patch.
	paths := slices.Collect(maps.Keys(p.Set))
	slices.SortFunc(paths, func(a, b string) int {
		if d := strings.Count(a, ".") - strings.Count(b, "."); d != 0 {
			return d
		}
		return strings.Compare(a, b)
	})
	for _, path := range paths {
		if err := putPath(out, path, coerceTimes(lastSegment(path), p.Set[path])); err != nil {
			return nil, err
		}
	}
	for _, path := range p.Unset {
		if err := putPath(out, path, surrealmodels.None); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// serverTimeClause renders "a = time::now(), b = time::now()".
func (p Patch) serverTimeClause() (string, error) {
	parts := make([]string, 0, len(p.ServerTime))
	for _, f := range p.ServerTime {
		if !fieldPattern.MatchString(f) {
			return "", fmt.Errorf("invalid server time field %q", f)
		}
		parts = append(parts, f+" = time::now()")
	}
	return strings.Join(parts, ", "), nil
}

func putPath(dst map[string]any, path string, v any) error {
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return fmt.Errorf("invalid field path %q", path)
		}
	}
	cur := dst
	for _, s := range segs[:len(segs)-1] {
		next, ok := cur[s].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[s] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
	return nil
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}

// coerceTimes turns RFC 3339 strings under "*_at" keys back into time.Time.
// Values that went through the JSON queue lose their type; the store keeps
// them as datetimes.
func coerceTimes(key string, v any) any {
	switch val := v.(type) {
	case string:
		if strings.HasSuffix(key, "_at") {
			if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
				return t
			}
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = coerceTimes(k, inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = coerceTimes(key, inner)
		}
		return out
	default:
		return v
	}
}

// coerceDocument applies coerceTimes to every field of a document.
func coerceDocument(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		out[k] = coerceTimes(k, v)
	}
	return out
}
