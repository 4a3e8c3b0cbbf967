package format

import (
	"bytes"
	"strconv"
	"time"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/fieldpath"
	"github.com/tbourn/go-api-endpoints/internal/sysutil"
	"github.com/tbourn/go-api-endpoints/internal/transform"
)

// Candidate record paths tried, in order, for each RSS item field when the
// endpoint does not map it explicitly.
var rssCandidates = map[string][]string{
	"title":       {"title", "name", "headline"},
	"link":        {"link", "url"},
	"description": {"description", "summary", "content", "body"},
	"pubDate":     {"pubDate", "published_at", "date", "created_at"},
	"guid":        {"guid", "id"},
	"author":      {"author"},
	"category":    {"category"},
}

type rssItem struct {
	title, link, description, pubDate, guid, author string
	categories                                      []string
}

// RSS renders an RSS 2.0 feed. Sources are capped individually, merged
// sequentially or round-robin, then capped as a whole.
func RSS(ep *domain.Endpoint, data []SourceData, now time.Time) ([]byte, error) {
	opts := ep.SchemaConfig.RSS

	perSource := make([][]rssItem, 0, len(data))
	for _, sd := range data {
		mapping := mergeMapping(opts.FieldMapping, opts.SourceMappings, sd)
		items := make([]rssItem, 0, len(sd.Items))
		for _, rec := range sd.Items {
			if _, ok := rec.(map[string]any); !ok {
				continue
			}
			items = append(items, buildItem(rec, mapping))
			if opts.MaxItemsPerSource > 0 && len(items) >= opts.MaxItemsPerSource {
				break
			}
		}
		perSource = append(perSource, items)
	}

	var merged []rssItem
	if opts.MergeStrategy == domain.MergeInterleaved {
		merged = interleave(perSource)
	} else {
		for _, items := range perSource {
			merged = append(merged, items...)
		}
	}
	if opts.MaxItems > 0 && len(merged) > opts.MaxItems {
		merged = merged[:opts.MaxItems]
	}

	ch := opts.Channel
	title := sysutil.FirstNonEmpty(ch.Title, ep.Name, ep.Slug)
	desc := sysutil.FirstNonEmpty(ch.Description, ep.Description, title)

	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">` + "\n")
	b.WriteString("  <channel>\n")
	writeTag(&b, 2, "title", title)
	writeTag(&b, 2, "link", ch.Link)
	writeTag(&b, 2, "description", desc)
	if ch.Language != "" {
		writeTag(&b, 2, "language", ch.Language)
	}
	if ch.TTL > 0 {
		writeTag(&b, 2, "ttl", strconv.Itoa(ch.TTL))
	}
	writeTag(&b, 2, "lastBuildDate", now.UTC().Format(time.RFC1123Z))

	for _, it := range merged {
		b.WriteString("    <item>\n")
		writeOptional(&b, "title", it.title)
		writeOptional(&b, "link", it.link)
		writeOptional(&b, "description", it.description)
		writeOptional(&b, "pubDate", it.pubDate)
		if it.guid != "" {
			perma := "false"
			if it.guid == it.link {
				perma = "true"
			}
			b.WriteString(`      <guid isPermaLink="` + perma + `">` + escapeXML(it.guid) + "</guid>\n")
		}
		writeOptional(&b, "author", it.author)
		for _, c := range it.categories {
			writeOptional(&b, "category", c)
		}
		b.WriteString("    </item>\n")
	}

	b.WriteString("  </channel>\n")
	b.WriteString("</rss>\n")
	return b.Bytes(), nil
}

// interleave takes one item per source per round until all are exhausted.
func interleave(lists [][]rssItem) []rssItem {
	var out []rssItem
	for round := 0; ; round++ {
		added := false
		for _, l := range lists {
			if round < len(l) {
				out = append(out, l[round])
				added = true
			}
		}
		if !added {
			return out
		}
	}
}

// mergeMapping layers a per-source override (keyed by source ID or name)
// over the endpoint-wide mapping.
func mergeMapping(base domain.RSSFieldMapping, overrides map[string]domain.RSSFieldMapping, sd SourceData) domain.RSSFieldMapping {
	o, ok := overrides[sd.ID]
	if !ok {
		o, ok = overrides[sd.Name]
	}
	if !ok {
		return base
	}
	return domain.RSSFieldMapping{
		Title:       sysutil.FirstNonEmpty(o.Title, base.Title),
		Link:        sysutil.FirstNonEmpty(o.Link, base.Link),
		Description: sysutil.FirstNonEmpty(o.Description, base.Description),
		PubDate:     sysutil.FirstNonEmpty(o.PubDate, base.PubDate),
		GUID:        sysutil.FirstNonEmpty(o.GUID, base.GUID),
		Author:      sysutil.FirstNonEmpty(o.Author, base.Author),
		Category:    sysutil.FirstNonEmpty(o.Category, base.Category),
	}
}

func buildItem(rec any, m domain.RSSFieldMapping) rssItem {
	it := rssItem{
		title:       lookup(rec, m.Title, "title"),
		link:        lookup(rec, m.Link, "link"),
		description: lookup(rec, m.Description, "description"),
		pubDate:     rssDate(lookupRaw(rec, m.PubDate, "pubDate")),
		guid:        lookup(rec, m.GUID, "guid"),
		author:      lookup(rec, m.Author, "author"),
	}
	if it.guid == "" {
		it.guid = it.link
	}
	switch c := lookupRaw(rec, m.Category, "category").(type) {
	case []any:
		for _, v := range c {
			if s := fieldpath.String(v); s != "" {
				it.categories = append(it.categories, s)
			}
		}
	default:
		if s := fieldpath.String(c); s != "" {
			it.categories = []string{s}
		}
	}
	return it
}

func lookupRaw(rec any, mapped, field string) any {
	paths := append([]string{mapped}, rssCandidates[field]...)
	v, _ := fieldpath.First(rec, paths...)
	return v
}

func lookup(rec any, mapped, field string) string {
	return fieldpath.String(lookupRaw(rec, mapped, field))
}

// rssDate renders parseable dates as RFC1123Z and passes anything else
// through as text.
func rssDate(v any) string {
	if v == nil {
		return ""
	}
	if t, ok := transform.ParseTime(v); ok {
		return t.UTC().Format(time.RFC1123Z)
	}
	return fieldpath.String(v)
}

func writeTag(b *bytes.Buffer, depth int, name, text string) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
	b.WriteString("<" + name + ">" + escapeXML(text) + "</" + name + ">\n")
}

func writeOptional(b *bytes.Buffer, name, text string) {
	if text == "" {
		return
	}
	writeTag(b, 3, name, text)
}
