// Package params fills {{query.name}} placeholders in source and transform
// configuration from the query parameters of the incoming request.
package params

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*query\.([A-Za-z0-9_.\-]+)\s*\}\}`)

// Has reports whether s contains at least one placeholder.
func Has(s string) bool {
	return placeholderRe.MatchString(s)
}

// Expand replaces every placeholder in s with the first value of the named
// query parameter. Unknown parameters expand to "".
func Expand(s string, q url.Values) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return expandWith(s, q, func(v string) string { return v })
}

// ExpandURL expands a URL template. Values are path-escaped before the
// first '?' and query-escaped after it, so a value cannot add path
// segments, dot segments or query parameters of its own.
func ExpandURL(tmpl string, q url.Values) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	path, query, hasQuery := strings.Cut(tmpl, "?")
	out := expandWith(path, q, escapePathValue)
	if hasQuery {
		out += "?" + expandWith(query, q, url.QueryEscape)
	}
	return out
}

func escapePathValue(v string) string {
	if v == "." || v == ".." {
		return strings.ReplaceAll(v, ".", "%2E")
	}
	return url.PathEscape(v)
}

func expandWith(s string, q url.Values, esc func(string) string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		if len(sub) < 2 {
			return ""
		}
		return esc(q.Get(sub[1]))
	})
}

// ExpandMap returns a copy of m with every value expanded.
func ExpandMap(m map[string]string, q url.Values) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Expand(v, q)
	}
	return out
}

// SecretParams are query parameter names treated as credentials wherever a
// request query is stored, logged or forwarded.
var SecretParams = []string{"api_key", "apikey", "token", "access_token", "password", "secret", "client_secret"}

// WithoutSecrets returns a copy of q without SecretParams and the extra
// names. Names match case-insensitively.
func WithoutSecrets(q url.Values, extra ...string) url.Values {
	if len(q) == 0 {
		return q
	}
	drop := make(map[string]struct{}, len(SecretParams)+len(extra))
	for _, n := range append(append([]string(nil), SecretParams...), extra...) {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			drop[n] = struct{}{}
		}
	}
	out := make(url.Values, len(q))
	for k, vs := range q {
		if _, ok := drop[strings.ToLower(k)]; ok {
			continue
		}
		out[k] = vs
	}
	return out
}

// Canonical encodes q with sorted keys and sorted values per key. Empty
// input yields "".
func Canonical(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	c := make(url.Values, len(q))
	for k, vs := range q {
		cp := append([]string(nil), vs...)
		sort.Strings(cp)
		c[k] = cp
	}
	// url.Values.Encode sorts by key.
	return c.Encode()
}

