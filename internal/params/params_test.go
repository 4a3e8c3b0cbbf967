package params

import (
	"net/url"
	"testing"
)

func TestExpand(t *testing.T) {
	q := url.Values{"city": {"Athens", "Rome"}, "page.size": {"10"}}

	cases := map[string]string{
		"https://x/api?c={{query.city}}":     "https://x/api?c=Athens",
		"{{ query.page.size }}/{{query.nope}}": "10/",
		"no placeholders":                    "no placeholders",
		"{{other.city}}":                     "{{other.city}}",
	}
	for in, want := range cases {
		if got := Expand(in, q); got != want {
			t.Fatalf("Expand(%q) = %q; want %q", in, got, want)
		}
	}
	if !Has("a {{query.x}}") || Has("a {{x}}") {
		t.Fatalf("Has mismatch")
	}
}

func TestExpandMap(t *testing.T) {
	if ExpandMap(nil, nil) != nil {
		t.Fatalf("expected nil for empty map")
	}
	got := ExpandMap(map[string]string{"k": "v-{{query.id}}"}, url.Values{"id": {"7"}})
	if got["k"] != "v-7" {
		t.Fatalf("ExpandMap = %v", got)
	}
}

func TestCanonical(t *testing.T) {
	if Canonical(nil) != "" {
		t.Fatalf("empty query should canonicalize to empty string")
	}
	a := url.Values{"b": {"2", "1"}, "a": {"x y"}}
	b := url.Values{"a": {"x y"}, "b": {"1", "2"}}
	if Canonical(a) != Canonical(b) {
		t.Fatalf("Canonical not order-independent: %q vs %q", Canonical(a), Canonical(b))
	}
	if got := Canonical(a); got != "a=x+y&b=1&b=2" {
		t.Fatalf("Canonical = %q", got)
	}
}

func TestWithoutSecrets(t *testing.T) {
	q := url.Values{"API_KEY": {"a"}, "Token": {"b"}, "key": {"c"}, "page": {"1"}}
	got := WithoutSecrets(q, "KEY")
	if got.Encode() != "page=1" {
		t.Fatalf("WithoutSecrets = %q", got.Encode())
	}
	if len(q) != 4 {
		t.Fatalf("input mutated: %v", q)
	}
	if WithoutSecrets(nil) != nil {
		t.Fatalf("nil input should stay nil")
	}
}

func TestExpandURL_EscapesValues(t *testing.T) {
	q := url.Values{
		"id":  {"../admin/secrets?drop=1"},
		"dot": {".."},
		"tag": {"a&b=c"},
		"sp":  {"x y"},
	}
	cases := []struct{ tmpl, want string }{
		{"https://h/items/{{query.id}}", "https://h/items/..%2Fadmin%2Fsecrets%3Fdrop=1"},
		{"https://h/items/{{query.dot}}/x", "https://h/items/%2E%2E/x"},
		{"https://h/items?tag={{query.tag}}&s={{query.sp}}", "https://h/items?tag=a%26b%3Dc&s=x+y"},
		{"https://h/{{query.sp}}?q={{query.sp}}", "https://h/x%20y?q=x+y"},
		{"https://h/static", "https://h/static"},
	}
	for _, c := range cases {
		if got := ExpandURL(c.tmpl, q); got != c.want {
			t.Fatalf("ExpandURL(%q) = %q, want %q", c.tmpl, got, c.want)
		}
	}
}
