// Package transform applies an endpoint's ordered pipeline of record
// transformations (filter, map, rename, pick, omit, sort, limit, format,
// default) to the records fetched from one data source.
//
// Records are decoded JSON values (map[string]any). The pipeline never
// mutates its input: records are deep-copied before the first step runs.
package transform

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/fieldpath"
	"github.com/tbourn/go-api-endpoints/internal/params"
)

// Step types.
const (
	StepFilter  = "filter"
	StepMap     = "map"
	StepRename  = "rename"
	StepPick    = "pick"
	StepOmit    = "omit"
	StepSort    = "sort"
	StepLimit   = "limit"
	StepFormat  = "format"
	StepDefault = "default"
)

// Filter operators.
const (
	OpEq        = "eq"
	OpNe        = "ne"
	OpGt        = "gt"
	OpGte       = "gte"
	OpLt        = "lt"
	OpLte       = "lte"
	OpContains  = "contains"
	OpIn        = "in"
	OpExists    = "exists"
	OpNotExists = "not_exists"
)

var (
	// ErrUnknownStep is returned by Validate for an unrecognised step type.
	ErrUnknownStep = errors.New("unknown transform step")
	// ErrInvalidStep is returned by Validate when a step is missing required
	// settings.
	ErrInvalidStep = errors.New("invalid transform step")
)

// Validate checks every step of cfg. It is called when an endpoint is
// created or updated so bad pipelines never reach request time.
func Validate(cfg domain.TransformConfig) error {
	for i, st := range cfg.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, st.Type, err)
		}
	}
	return nil
}

func validateStep(st domain.TransformStep) error {
	switch st.Type {
	case StepFilter:
		if strings.TrimSpace(st.Field) == "" {
			return fmt.Errorf("%w: field is required", ErrInvalidStep)
		}
		switch st.Operator {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpIn, OpExists, OpNotExists:
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidStep, st.Operator)
		}
	case StepMap, StepRename:
		if len(st.Mappings) == 0 {
			return fmt.Errorf("%w: mappings are required", ErrInvalidStep)
		}
	case StepPick, StepOmit:
		if len(st.Fields) == 0 {
			return fmt.Errorf("%w: fields are required", ErrInvalidStep)
		}
	case StepSort:
		if strings.TrimSpace(st.Field) == "" {
			return fmt.Errorf("%w: field is required", ErrInvalidStep)
		}
		if o := strings.ToLower(st.Order); o != "" && o != "asc" && o != "desc" {
			return fmt.Errorf("%w: order must be asc or desc", ErrInvalidStep)
		}
	case StepLimit:
		if st.Count < 0 || st.Offset < 0 {
			return fmt.Errorf("%w: count and offset must be >= 0", ErrInvalidStep)
		}
	case StepFormat:
		if strings.TrimSpace(st.Field) == "" {
			return fmt.Errorf("%w: field is required", ErrInvalidStep)
		}
		switch st.Format {
		case "upper", "lower", "title", "trim", "date":
		default:
			return fmt.Errorf("%w: unknown format %q", ErrInvalidStep, st.Format)
		}
	case StepDefault:
		if strings.TrimSpace(st.Field) == "" {
			return fmt.Errorf("%w: field is required", ErrInvalidStep)
		}
	default:
		return ErrUnknownStep
	}
	return nil
}

// Apply runs cfg over records and returns the result. q supplies values for
// {{query.name}} placeholders. Unknown step types are skipped and logged at
// warn level on the context logger.
func Apply(ctx context.Context, cfg domain.TransformConfig, records []any, q url.Values) []any {
	if len(cfg.Steps) == 0 {
		return records
	}
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = fieldpath.Clone(r)
	}
	for _, st := range cfg.Steps {
		switch st.Type {
		case StepFilter:
			out = filter(out, st, q)
		case StepMap:
			out = mapRecords(out, st)
		case StepRename:
			out = eachMap(out, func(m map[string]any) {
				for from, to := range st.Mappings {
					if v, ok := fieldpath.Get(m, from); ok {
						fieldpath.Delete(m, from)
						fieldpath.Set(m, to, v)
					}
				}
			})
		case StepPick:
			out = eachRecord(out, func(m map[string]any) map[string]any {
				picked := make(map[string]any, len(st.Fields))
				for _, f := range st.Fields {
					if v, ok := fieldpath.Get(m, f); ok {
						fieldpath.Set(picked, f, v)
					}
				}
				return picked
			})
		case StepOmit:
			out = eachMap(out, func(m map[string]any) {
				for _, f := range st.Fields {
					fieldpath.Delete(m, f)
				}
			})
		case StepSort:
			sortRecords(out, st.Field, strings.EqualFold(st.Order, "desc"))
		case StepLimit:
			out = limit(out, st.Offset, st.Count)
		case StepFormat:
			out = eachMap(out, func(m map[string]any) { formatField(m, st) })
		case StepDefault:
			val := st.Value
			if s, ok := val.(string); ok {
				val = params.Expand(s, q)
			}
			out = eachMap(out, func(m map[string]any) {
				if v, ok := fieldpath.Get(m, st.Field); !ok || fieldpath.IsEmpty(v) {
					fieldpath.Set(m, st.Field, val)
				}
			})
		default:
			zerolog.Ctx(ctx).Warn().Str("step", st.Type).Msg("skipping unknown transform step")
		}
	}
	return out
}

func eachMap(records []any, fn func(map[string]any)) []any {
	for _, r := range records {
		if m, ok := r.(map[string]any); ok {
			fn(m)
		}
	}
	return records
}

func eachRecord(records []any, fn func(map[string]any) map[string]any) []any {
	for i, r := range records {
		if m, ok := r.(map[string]any); ok {
			records[i] = fn(m)
		}
	}
	return records
}

func mapRecords(records []any, st domain.TransformStep) []any {
	return eachRecord(records, func(m map[string]any) map[string]any {
		// Read every source before writing any target so swapped mappings
		// (a<-b, b<-a) see the original values.
		vals := make(map[string]any, len(st.Mappings))
		for to, from := range st.Mappings {
			if v, ok := fieldpath.Get(m, from); ok {
				vals[to] = fieldpath.Clone(v)
			}
		}
		next := m
		if !st.Keep {
			next = make(map[string]any, len(vals))
		}
		for to, v := range vals {
			fieldpath.Set(next, to, v)
		}
		return next
	})
}

// filter keeps records matching the step. A placeholder value that expands
// to nothing disables the step, so optional query params act as optional
// filters.
func filter(records []any, st domain.TransformStep, q url.Values) []any {
	want := st.Value
	switch v := want.(type) {
	case string:
		if params.Has(v) {
			v = params.Expand(v, q)
			if strings.TrimSpace(v) == "" {
				return records
			}
		}
		want = v
	case []any:
		list := make([]any, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				e = params.Expand(s, q)
			}
			list = append(list, e)
		}
		want = list
	}

	kept := records[:0]
	for _, r := range records {
		got, ok := fieldpath.Get(r, st.Field)
		if match(st.Operator, got, ok && got != nil, want) {
			kept = append(kept, r)
		}
	}
	return kept
}

func match(op string, got any, present bool, want any) bool {
	switch op {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	case OpNe:
		return !present || !equal(got, want)
	}
	if !present {
		return false
	}
	switch op {
	case OpEq:
		return equal(got, want)
	case OpGt:
		return compare(got, want) > 0
	case OpGte:
		return compare(got, want) >= 0
	case OpLt:
		return compare(got, want) < 0
	case OpLte:
		return compare(got, want) <= 0
	case OpContains:
		if list, ok := got.([]any); ok {
			for _, e := range list {
				if equal(e, want) {
					return true
				}
			}
			return false
		}
		return strings.Contains(
			strings.ToLower(fieldpath.String(got)),
			strings.ToLower(fieldpath.String(want)),
		)
	case OpIn:
		for _, w := range candidates(want) {
			if equal(got, w) {
				return true
			}
		}
	}
	return false
}

// candidates turns an "in" value into a list. Strings are split on commas.
func candidates(want any) []any {
	switch v := want.(type) {
	case []any:
		return v
	case string:
		parts := strings.Split(v, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}
	return []any{want}
}

func equal(a, b any) bool {
	if fa, ok := fieldpath.Number(a); ok {
		if fb, ok := fieldpath.Number(b); ok {
			return fa == fb
		}
	}
	return fieldpath.String(a) == fieldpath.String(b)
}

func limit(records []any, offset, count int) []any {
	if offset > 0 {
		if offset >= len(records) {
			return records[:0]
		}
		records = records[offset:]
	}
	if count > 0 && count < len(records) {
		records = records[:count]
	}
	return records
}

func formatField(m map[string]any, st domain.TransformStep) {
	v, ok := fieldpath.Get(m, st.Field)
	if !ok || v == nil {
		return
	}
	switch st.Format {
	case "upper":
		fieldpath.Set(m, st.Field, cases.Upper(language.Und).String(fieldpath.String(v)))
	case "lower":
		fieldpath.Set(m, st.Field, cases.Lower(language.Und).String(fieldpath.String(v)))
	case "title":
		fieldpath.Set(m, st.Field, cases.Title(language.Und).String(fieldpath.String(v)))
	case "trim":
		fieldpath.Set(m, st.Field, strings.TrimSpace(fieldpath.String(v)))
	case "date":
		layout := st.Layout
		if layout == "" {
			layout = time.RFC3339
		}
		if t, ok := ParseTime(v); ok {
			fieldpath.Set(m, st.Field, t.Format(layout))
		}
	}
}

// sortRecords sorts in place. Numbers compare numerically when both sides
// are numeric, everything else as strings. Missing values always sort last.
func sortRecords(records []any, field string, desc bool) {
	sort.SliceStable(records, func(i, j int) bool {
		a, aok := fieldpath.Get(records[i], field)
		b, bok := fieldpath.Get(records[j], field)
		aok = aok && a != nil
		bok = bok && b != nil
		if !aok || !bok {
			return aok && !bok
		}
		c := compare(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compare(a, b any) int {
	if fa, ok := fieldpath.Number(a); ok {
		if fb, ok := fieldpath.Number(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fieldpath.String(a), fieldpath.String(b))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts time.Time values, the common textual layouts and unix
// seconds.
func ParseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, l := range timeLayouts {
			if ts, err := time.Parse(l, s); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
			return time.Unix(n, 0).UTC(), true
		}
		return time.Time{}, false
	}
	if f, ok := fieldpath.Number(v); ok && f > 0 {
		return time.Unix(int64(f), 0).UTC(), true
	}
	return time.Time{}, false
}
