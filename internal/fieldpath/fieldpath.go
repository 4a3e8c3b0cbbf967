// Package fieldpath reads and writes values inside decoded JSON-like records
// (map[string]any / []any trees) using dotted paths such as "a.b.0.c" or
// "a.b[0].c".
package fieldpath

import (
	"strconv"
	"strings"
	"time"
)

// Split turns "a.b[0].c" into ["a", "b", "0", "c"]. Empty segments are
// dropped.
func Split(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	raw := strings.Split(path, ".")
	out := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Get resolves path against v. An empty path returns v itself.
func Get(v any, path string) (any, bool) {
	cur := v
	for _, seg := range Split(path) {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// First returns the value of the first path that resolves to a non-empty
// value.
func First(v any, paths ...string) (any, bool) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if got, ok := Get(v, p); ok && !IsEmpty(got) {
			return got, true
		}
	}
	return nil, false
}

// Set writes val at path inside m, creating intermediate maps. Numeric
// segments are treated as map keys when writing.
func Set(m map[string]any, path string, val any) {
	segs := Split(path)
	if len(segs) == 0 {
		return
	}
	cur := m
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = val
}

// Delete removes the value at path from m. Missing paths are ignored.
func Delete(m map[string]any, path string) {
	segs := Split(path)
	if len(segs) == 0 {
		return
	}
	cur := m
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, segs[len(segs)-1])
}

// IsEmpty reports whether v is nil, an empty string or an empty container.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// String renders scalars as text. Containers render as "".
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case interface{ String() string }:
		return t.String()
	}
	return ""
}

// Number converts numeric values and numeric strings to float64.
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case interface{ Float64() (float64, error) }:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

// Clone deep-copies a map/slice tree so transforms never mutate fetched
// data shared with other callers.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = Clone(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = Clone(vv)
		}
		return out
	}
	return v
}
