// Package query implements the Query Service (C8): read-only aggregated
// catalog views, with an optional short-TTL Ristretto read-through cache in
// front of the statistics query (§4.8 — list/detail queries bypass the
// cache since they're parameterized per call).
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/CodeForge/internal/domain/dispatch"
	"github.com/Strob0t/CodeForge/internal/domain/endpoint"
	"github.com/Strob0t/CodeForge/internal/domain/model"
	"github.com/Strob0t/CodeForge/internal/port/cache"
	"github.com/Strob0t/CodeForge/internal/port/catalog"
)

// statsCacheKey is the single cache slot for the statistics aggregation;
// there is only ever one global Stats view, so a constant key is enough.
const statsCacheKey = "query:stats"

// statsCacheTTL is deliberately short: statistics are read-mostly but must
// not go stale for long after a scan run commits new endpoints.
const statsCacheTTL = 5 * time.Second

// Service serves the Query Service's read-only views.
type Service struct {
	store catalog.Store
	cache cache.Cache // optional; nil disables caching
}

// New creates a Query Service. c may be nil to disable caching.
func New(store catalog.Store, c cache.Cache) *Service {
	return &Service{store: store, cache: c}
}

// ListEndpoints lists endpoints filtered by api_type, capability,
// auth_required, and active_only.
func (s *Service) ListEndpoints(ctx context.Context, filter endpoint.ListFilter) ([]endpoint.Endpoint, error) {
	return s.store.ListEndpoints(ctx, filter)
}

// ListModels lists models filtered by name/size/quantization, sorted by
// name, params, quant, or hosting count.
func (s *Service) ListModels(ctx context.Context, filter catalog.ModelListFilter) ([]model.Model, error) {
	return s.store.ListModels(ctx, filter)
}

// EndpointDetail returns the joined endpoint + verified status + models +
// latest benchmark + recent history projection.
func (s *Service) EndpointDetail(ctx context.Context, id int64, historyLimit int) (*catalog.EndpointDetail, error) {
	return s.store.EndpointDetail(ctx, id, historyLimit)
}

// ChatHistory is a thin pass-through kept for completeness; the Dispatch
// Service is the only writer, but front-ends read history through Query.
func (s *Service) ChatHistory(ctx context.Context, id int64, limit int) ([]dispatch.ChatHistoryEntry, error) {
	detail, err := s.store.EndpointDetail(ctx, id, limit)
	if err != nil {
		return nil, err
	}
	return detail.RecentHistory, nil
}

// Stats returns the aggregate statistics view, read-through cached for
// statsCacheTTL when a cache is configured.
func (s *Service) Stats(ctx context.Context) (*catalog.Stats, error) {
	if s.cache == nil {
		return s.store.Stats(ctx)
	}

	if cached, ok, err := s.cache.Get(ctx, statsCacheKey); err == nil && ok {
		var stats catalog.Stats
		if err := json.Unmarshal(cached, &stats); err == nil {
			return &stats, nil
		}
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(stats); err == nil {
		_ = s.cache.Set(ctx, statsCacheKey, data, statsCacheTTL)
	}
	return stats, nil
}

// Health returns the database health view: table row-counts, index-scan
// counts, and database size. Never cached — it is meant to reflect live state.
func (s *Service) Health(ctx context.Context) (*catalog.HealthReport, error) {
	report, err := s.store.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("query database health: %w", err)
	}
	return report, nil
}
