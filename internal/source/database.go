package source

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/params"
)

const maxDatabaseRows = 1000

var (
	identRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	namedParamRe = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)`)
	writeSQLRe   = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|truncate|attach|detach|pragma|grant|revoke)\b`)
)

// DatabaseFetcher reads rows from a table or a read-only SELECT.
type DatabaseFetcher struct {
	DB *gorm.DB
}

// Fetch implements Fetcher.
func (f *DatabaseFetcher) Fetch(ctx context.Context, ds *domain.DataSource, q url.Values) (any, error) {
	cfg := ds.Config
	if strings.TrimSpace(cfg.SQL) != "" {
		return f.query(ctx, cfg, q)
	}
	if err := ValidateDatabaseConfig(cfg); err != nil {
		return nil, err
	}

	tx := f.DB.WithContext(ctx).Table(cfg.Table)
	if len(cfg.Columns) > 0 {
		tx = tx.Select(cfg.Columns)
	}
	for col, raw := range cfg.Where {
		val := params.Expand(raw, q)
		// An optional placeholder with no value drops the condition.
		if params.Has(raw) && val == "" {
			continue
		}
		tx = tx.Where(clause.Eq{Column: clause.Column{Name: col}, Value: val})
	}
	for _, ob := range orderBy(cfg.OrderBy) {
		tx = tx.Order(ob)
	}
	tx = tx.Limit(rowLimit(cfg.Limit))

	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("database source %s: %w", ds.Name, err)
	}
	return records(rows), nil
}

func (f *DatabaseFetcher) query(ctx context.Context, cfg domain.SourceConfig, q url.Values) (any, error) {
	if err := ValidateDatabaseConfig(cfg); err != nil {
		return nil, err
	}
	named := map[string]any{}
	for _, m := range namedParamRe.FindAllStringSubmatch(cfg.SQL, -1) {
		named[m[1]] = q.Get(m[1])
	}
	var rows []map[string]any
	tx := f.DB.WithContext(ctx)
	if len(named) > 0 {
		tx = tx.Raw(cfg.SQL, named)
	} else {
		tx = tx.Raw(cfg.SQL)
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("database query: %w", err)
	}
	if len(rows) > rowLimit(cfg.Limit) {
		rows = rows[:rowLimit(cfg.Limit)]
	}
	return records(rows), nil
}

// ValidateDatabaseConfig checks identifiers and, for raw SQL, that the
// statement is a single read-only SELECT.
func ValidateDatabaseConfig(cfg domain.SourceConfig) error {
	if sql := strings.TrimSpace(cfg.SQL); sql != "" {
		lower := strings.ToLower(sql)
		if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
			return fmt.Errorf("%w: sql must be a SELECT", ErrInvalidConfig)
		}
		if strings.Contains(strings.TrimRight(sql, "; \n\t"), ";") {
			return fmt.Errorf("%w: sql must be a single statement", ErrInvalidConfig)
		}
		if writeSQLRe.MatchString(sql) {
			return fmt.Errorf("%w: sql must be read-only", ErrInvalidConfig)
		}
		return nil
	}
	if !identRe.MatchString(cfg.Table) {
		return fmt.Errorf("%w: bad table name %q", ErrInvalidConfig, cfg.Table)
	}
	for _, c := range cfg.Columns {
		if !identRe.MatchString(c) {
			return fmt.Errorf("%w: bad column name %q", ErrInvalidConfig, c)
		}
	}
	for c := range cfg.Where {
		if !identRe.MatchString(c) {
			return fmt.Errorf("%w: bad where column %q", ErrInvalidConfig, c)
		}
	}
	for _, part := range strings.Split(cfg.OrderBy, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if !identRe.MatchString(fields[0]) || len(fields) > 2 ||
			(len(fields) == 2 && !strings.EqualFold(fields[1], "asc") && !strings.EqualFold(fields[1], "desc")) {
			return fmt.Errorf("%w: bad order_by %q", ErrInvalidConfig, part)
		}
	}
	return nil
}

func orderBy(s string) []clause.OrderByColumn {
	var out []clause.OrderByColumn
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		out = append(out, clause.OrderByColumn{
			Column: clause.Column{Name: fields[0]},
			Desc:   len(fields) == 2 && strings.EqualFold(fields[1], "desc"),
		})
	}
	return out
}

func rowLimit(n int) int {
	if n <= 0 || n > maxDatabaseRows {
		return maxDatabaseRows
	}
	return n
}

// records converts driver rows to plain records. Byte slices become strings.
func records(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		for k, v := range r {
			if b, ok := v.([]byte); ok {
				r[k] = string(b)
			}
		}
		out[i] = r
	}
	return out
}
