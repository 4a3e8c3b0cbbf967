package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-api-endpoints/internal/domain"
	"github.com/tbourn/go-api-endpoints/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AnalyticsService reads the access log of an endpoint.
type AnalyticsService struct {
	DB *gorm.DB
}

// Stats aggregates the access log of endpoint id. A zero since covers all
// time.
func (s *AnalyticsService) Stats(ctx context.Context, id string, since time.Time) (repo.EndpointStats, error) {
	tr := otel.Tracer("services/AnalyticsService")
	ctx, span := tr.Start(ctx, "Stats", trace.WithAttributes(attribute.String("endpoint.id", id)))
	defer span.End()

	if err := s.exists(ctx, id); err != nil {
		return repo.EndpointStats{}, err
	}
	return repo.AccessStats(ctx, s.DB, id, since)
}

// LogsPage returns access-log rows of endpoint id, newest first.
func (s *AnalyticsService) LogsPage(ctx context.Context, id string, p, size int) ([]domain.AccessLog, int64, error) {
	tr := otel.Tracer("services/AnalyticsService")
	ctx, span := tr.Start(ctx, "LogsPage",
		trace.WithAttributes(
			attribute.String("endpoint.id", id),
			attribute.Int("page", p),
			attribute.Int("page_size", size),
		),
	)
	defer span.End()

	if err := s.exists(ctx, id); err != nil {
		return nil, 0, err
	}
	offset, limit := page(p, size)
	total, err := repo.CountAccessLogs(ctx, s.DB, id)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.AccessLog{}, 0, nil
	}
	items, err := repo.ListAccessLogsPage(ctx, s.DB, id, offset, limit)
	return items, total, err
}

func (s *AnalyticsService) exists(ctx context.Context, id string) error {
	if _, err := repo.GetEndpoint(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrEndpointNotFound
		}
		return err
	}
	return nil
}
