package format

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

// JSON renders the source data as a JSON document. Records of every source
// are concatenated into one array (merged), keyed by source name
// (separate), or listed per source (array). The result sits under RootKey
// unless RootKey is "-" and no metadata is requested.
func JSON(ep *domain.Endpoint, data []SourceData, now time.Time) ([]byte, error) {
	opts := ep.SchemaConfig.JSON

	var payload any
	total := 0
	switch opts.CombineMode {
	case domain.CombineSeparate:
		bySource := make(map[string]any, len(data))
		for _, sd := range data {
			bySource[sourceLabel(sd)] = nonNil(sd.Items)
			total += len(sd.Items)
		}
		payload = bySource
	case domain.CombineArray:
		list := make([]any, 0, len(data))
		for _, sd := range data {
			list = append(list, map[string]any{
				"source": map[string]any{"id": sd.ID, "name": sd.Name, "type": sd.Type},
				"items":  nonNil(sd.Items),
			})
			total += len(sd.Items)
		}
		payload = list
	default:
		merged := make([]any, 0)
		for _, sd := range data {
			merged = append(merged, sd.Items...)
		}
		total = len(merged)
		payload = merged
	}

	rootKey := opts.RootKey
	if rootKey == "" || (rootKey == "-" && opts.IncludeMetadata) {
		rootKey = "data"
	}

	var doc any = payload
	if rootKey != "-" {
		env := map[string]any{rootKey: payload}
		if opts.IncludeMetadata {
			names := make([]string, 0, len(data))
			for _, sd := range data {
				names = append(names, sourceLabel(sd))
			}
			env["meta"] = map[string]any{
				"endpoint":     ep.Slug,
				"format":       domain.FormatJSON,
				"count":        total,
				"sources":      names,
				"generated_at": now.UTC().Format(time.RFC3339),
			}
		}
		doc = env
	}

	if opts.Pretty {
		return sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	}
	return sonic.ConfigStd.Marshal(doc)
}

func nonNil(items []any) []any {
	if items == nil {
		return []any{}
	}
	return items
}
