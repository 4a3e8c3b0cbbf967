// Package format serializes the transformed records of an endpoint's data
// sources into the endpoint's output format (JSON, RSS, XML or CSV).
//
// Generators are pure: the same endpoint, source data and clock produce the
// same bytes, which is what makes responses cacheable.
package format

import (
	"errors"
	"strings"
	"time"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

// Content types returned with each format.
const (
	ContentTypeJSON = "application/json; charset=utf-8"
	ContentTypeRSS  = "application/rss+xml; charset=utf-8"
	ContentTypeXML  = "application/xml; charset=utf-8"
	ContentTypeCSV  = "text/csv; charset=utf-8"
)

// ErrUnsupportedFormat is returned by Render for an unknown output format.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// SourceData is one data source's identity and its transformed records.
type SourceData struct {
	ID    string
	Name  string
	Type  string
	Items []any
}

// Output is a rendered response body.
type Output struct {
	Body        []byte
	ContentType string
}

// Supported reports whether f names a known output format.
func Supported(f string) bool {
	switch strings.ToLower(f) {
	case domain.FormatJSON, domain.FormatRSS, domain.FormatXML, domain.FormatCSV:
		return true
	}
	return false
}

// Render dispatches to the generator for ep.OutputFormat.
func Render(ep *domain.Endpoint, data []SourceData, now time.Time) (*Output, error) {
	var (
		body []byte
		ct   string
		err  error
	)
	switch strings.ToLower(ep.OutputFormat) {
	case domain.FormatJSON, "":
		body, err = JSON(ep, data, now)
		ct = ContentTypeJSON
	case domain.FormatRSS:
		body, err = RSS(ep, data, now)
		ct = ContentTypeRSS
	case domain.FormatXML:
		body, err = XML(ep.SchemaConfig.XML, data)
		ct = ContentTypeXML
	case domain.FormatCSV:
		body, err = CSV(ep.SchemaConfig.CSV, data)
		ct = ContentTypeCSV
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	return &Output{Body: body, ContentType: ct}, nil
}

// ContentType returns the content type for f, or "" if f is unknown.
func ContentType(f string) string {
	switch strings.ToLower(f) {
	case domain.FormatJSON:
		return ContentTypeJSON
	case domain.FormatRSS:
		return ContentTypeRSS
	case domain.FormatXML:
		return ContentTypeXML
	case domain.FormatCSV:
		return ContentTypeCSV
	}
	return ""
}

// sourceLabel is the display name of a source, falling back to its ID.
func sourceLabel(sd SourceData) string {
	if sd.Name != "" {
		return sd.Name
	}
	return sd.ID
}

// Text escaping shared by the XML and RSS writers. Characters that are not
// legal in XML 1.0 are dropped.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(stripInvalidXML(s))
}

func stripInvalidXML(s string) string {
	clean := true
	for _, r := range s {
		if !validXMLRune(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	return strings.Map(func(r rune) rune {
		if validXMLRune(r) {
			return r
		}
		return -1
	}, s)
}

func validXMLRune(r rune) bool {
	return r == '\t' || r == '\n' || r == '\r' ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

func cdata(s string) string {
	return "<![CDATA[" + strings.ReplaceAll(stripInvalidXML(s), "]]>", "]]]]><![CDATA[>") + "]]>"
}
