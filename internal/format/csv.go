package format

import (
	"bytes"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/fieldpath"
)

// CSV renders every record of every source as one row. Columns default to
// the sorted union of top-level keys.
func CSV(opts domain.CSVOptions, data []SourceData) ([]byte, error) {
	delim := csvDelimiter(opts.Delimiter)
	eol := "\n"
	if opts.CRLF {
		eol = "\r\n"
	}

	columns := opts.Columns
	if len(columns) == 0 {
		columns = unionKeys(data)
	}
	// Nothing to address: no header, and every row would be empty.
	if len(columns) == 0 && !opts.IncludeSource {
		return []byte{}, nil
	}
	headers := columns
	if len(opts.Headers) == len(columns) && len(columns) > 0 {
		headers = opts.Headers
	}

	var b bytes.Buffer
	row := make([]string, 0, len(columns)+1)
	writeRow := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				b.WriteRune(delim)
			}
			b.WriteString(csvField(c, delim, opts.QuoteAll))
		}
		b.WriteString(eol)
	}

	if !opts.OmitHeader {
		if opts.IncludeSource {
			row = append(row, "source")
		}
		row = append(row, headers...)
		writeRow(row)
	}

	for _, sd := range data {
		for _, rec := range sd.Items {
			row = row[:0]
			if opts.IncludeSource {
				row = append(row, sourceLabel(sd))
			}
			rec = asRecord(rec)
			for _, col := range columns {
				v, _ := fieldpath.Get(rec, col)
				cell, err := csvValue(v)
				if err != nil {
					return nil, err
				}
				row = append(row, cell)
			}
			writeRow(row)
		}
	}
	return b.Bytes(), nil
}

// asRecord wraps scalar records so they can be addressed as column "value".
func asRecord(rec any) any {
	if _, ok := rec.(map[string]any); ok {
		return rec
	}
	return map[string]any{"value": rec}
}

func unionKeys(data []SourceData) []string {
	seen := map[string]struct{}{}
	for _, sd := range data {
		for _, rec := range sd.Items {
			m, ok := asRecord(rec).(map[string]any)
			if !ok {
				continue
			}
			for k := range m {
				seen[k] = struct{}{}
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func csvValue(v any) (string, error) {
	switch v.(type) {
	case map[string]any, []any:
		b, err := sonic.ConfigStd.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return fieldpath.String(v), nil
}

// csvDelimiter accepts a single character or the escapes `\t` and "tab".
func csvDelimiter(s string) rune {
	switch s {
	case "":
		return ','
	case `\t`, "tab":
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return ','
	}
	return r
}

// csvField quotes s when it contains the delimiter, a quote, a line break,
// or leading or trailing whitespace. Embedded quotes are doubled.
func csvField(s string, delim rune, quoteAll bool) string {
	need := quoteAll ||
		strings.ContainsRune(s, delim) ||
		strings.ContainsAny(s, "\"\r\n") ||
		(s != "" && (s != strings.TrimSpace(s)))
	if !need {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
