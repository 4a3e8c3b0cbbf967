package format

import (
	"bytes"
	"sort"
	"strings"
	"unicode"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/fieldpath"
)

type xmlWriter struct {
	b        bytes.Buffer
	opts     domain.XMLOptions
	attrPfx  string
	textKey  string
	cdataSet map[string]struct{}
}

// XML renders the source data as an XML document. Maps become child
// elements in sorted key order, slices become repeated elements, keys
// carrying the attribute prefix become attributes and the text key becomes
// element text.
func XML(opts domain.XMLOptions, data []SourceData) ([]byte, error) {
	w := &xmlWriter{
		opts:     opts,
		attrPfx:  opts.AttributePrefix,
		textKey:  opts.TextKey,
		cdataSet: make(map[string]struct{}, len(opts.CDATAFields)),
	}
	if w.attrPfx == "" {
		w.attrPfx = "@"
	}
	if w.textKey == "" {
		w.textKey = "#text"
	}
	for _, f := range opts.CDATAFields {
		w.cdataSet[f] = struct{}{}
	}

	root := sanitizeName(orDefault(opts.RootElement, "data"))
	item := sanitizeName(orDefault(opts.ItemElement, "item"))

	if !opts.OmitDeclaration {
		w.b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
		w.newline()
	}
	w.b.WriteString("<" + root + namespaceAttrs(opts.Namespaces) + ">")

	nested := false
	switch opts.CombineMode {
	case domain.CombineMerged:
		for _, sd := range data {
			for _, rec := range sd.Items {
				w.element(item, rec, 1)
				nested = true
			}
		}
	case domain.CombineArray:
		for _, sd := range data {
			w.open("source", [][2]string{{"id", sd.ID}, {"name", sd.Name}}, 1)
			for _, rec := range sd.Items {
				w.element(item, rec, 2)
			}
			w.close("source", 1, len(sd.Items) > 0)
			nested = true
		}
	default:
		for _, sd := range data {
			name := sanitizeName(sourceLabel(sd))
			w.open(name, nil, 1)
			for _, rec := range sd.Items {
				w.element(item, rec, 2)
			}
			w.close(name, 1, len(sd.Items) > 0)
			nested = true
		}
	}

	w.close(root, 0, nested)
	if w.opts.Indent {
		w.b.WriteByte('\n')
	}
	return w.b.Bytes(), nil
}

func (w *xmlWriter) newline() {
	if w.opts.Indent {
		w.b.WriteByte('\n')
	}
}

func (w *xmlWriter) indent(depth int) {
	if !w.opts.Indent {
		return
	}
	w.b.WriteByte('\n')
	for i := 0; i < depth; i++ {
		w.b.WriteString("  ")
	}
}

func (w *xmlWriter) open(name string, attrs [][2]string, depth int) {
	w.indent(depth)
	w.b.WriteString("<" + name)
	for _, a := range attrs {
		w.b.WriteString(" " + a[0] + `="` + escapeXML(a[1]) + `"`)
	}
	w.b.WriteString(">")
}

// close writes the end tag. nested reports whether child elements were
// written, in which case the tag goes on its own line.
func (w *xmlWriter) close(name string, depth int, nested bool) {
	if nested {
		w.indent(depth)
	}
	w.b.WriteString("</" + name + ">")
}

func (w *xmlWriter) element(name string, v any, depth int) {
	switch t := v.(type) {
	case nil:
		w.indent(depth)
		w.b.WriteString("<" + name + "/>")
	case map[string]any:
		w.mapElement(name, t, depth)
	case []any:
		for _, e := range t {
			w.element(name, e, depth)
		}
	default:
		w.open(name, nil, depth)
		w.text(name, fieldpath.String(t))
		w.b.WriteString("</" + name + ">")
	}
}

func (w *xmlWriter) mapElement(name string, m map[string]any, depth int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		attrs    [][2]string
		children []string
		text     any
		hasText  bool
	)
	for _, k := range keys {
		switch {
		case k == w.textKey:
			text, hasText = m[k], true
		case strings.HasPrefix(k, w.attrPfx) && len(k) > len(w.attrPfx):
			attrs = append(attrs, [2]string{sanitizeName(k[len(w.attrPfx):]), fieldpath.String(m[k])})
		default:
			children = append(children, k)
		}
	}

	if !hasText && len(children) == 0 {
		w.indent(depth)
		w.b.WriteString("<" + name)
		for _, a := range attrs {
			w.b.WriteString(" " + a[0] + `="` + escapeXML(a[1]) + `"`)
		}
		w.b.WriteString("/>")
		return
	}

	w.open(name, attrs, depth)
	if hasText {
		w.text(name, fieldpath.String(text))
	}
	for _, k := range children {
		w.element(sanitizeName(k), m[k], depth+1)
	}
	w.close(name, depth, len(children) > 0)
}

func (w *xmlWriter) text(name, s string) {
	if _, ok := w.cdataSet[name]; ok {
		w.b.WriteString(cdata(s))
		return
	}
	w.b.WriteString(escapeXML(s))
}

// namespaceAttrs renders xmlns declarations in prefix order. The empty
// prefix declares the default namespace.
func namespaceAttrs(ns map[string]string) string {
	if len(ns) == 0 {
		return ""
	}
	prefixes := make([]string, 0, len(ns))
	for p := range ns {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	var b strings.Builder
	for _, p := range prefixes {
		if p == "" {
			b.WriteString(` xmlns="` + escapeXML(ns[p]) + `"`)
			continue
		}
		b.WriteString(` xmlns:` + sanitizeName(p) + `="` + escapeXML(ns[p]) + `"`)
	}
	return b.String()
}

// sanitizeName makes s a valid XML element name. Invalid characters become
// underscores and names that cannot start an element get a leading
// underscore.
func sanitizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case unicode.IsLetter(r) || r == '_':
			b.WriteRune(r)
		case i > 0 && (unicode.IsDigit(r) || r == '-' || r == '.' || r == ':'):
			b.WriteRune(r)
		case i == 0 && (unicode.IsDigit(r) || r == '-' || r == '.'):
			b.WriteRune('_')
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
