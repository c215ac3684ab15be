package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"filmly/catalog/internal/domain"
	"filmly/catalog/internal/metrics"
	"filmly/catalog/internal/telemetry"
)

// Search answers query from the index, falling back to the provider when the index
// fails or returns fewer hits than the low-hits threshold. It runs a single pass with
// no retries. Callers only see ErrInvalidArgument or ErrSearchUnavailable.
func (s *Service) Search(ctx context.Context, query string, page int) (domain.SearchResponse, error) {
	started := s.now()
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.SearchResponse{}, fmt.Errorf("%w: query is required", domain.ErrInvalidArgument)
	}
	if len(query) > maxQueryLength {
		return domain.SearchResponse{}, fmt.Errorf("%w: query exceeds %d bytes", domain.ErrInvalidArgument, maxQueryLength)
	}
	if page < 1 {
		page = 1
	}

	ctx, cancel := s.withRequestTimeout(ctx)
	defer cancel()

	ctx, span := telemetry.Tracer().Start(ctx, "search.Search")
	defer span.End()
	span.SetAttributes(attribute.String("search.query", query), attribute.Int("search.page", page))

	hits, indexErr := s.queryIndex(ctx, query)

	reason := domain.FallbackReasonNone
	switch {
	case indexErr != nil:
		reason = domain.FallbackReasonIndexError
		s.logger.Warn("search: index query failed, falling back to provider",
			slog.String("query", query),
			slog.String("error", indexErr.Error()),
		)
	case len(hits) < s.lowHitsThreshold:
		reason = domain.FallbackReasonLowHits
		s.logger.Info("search: too few index hits, falling back to provider",
			slog.String("query", query),
			slog.Int("hits", len(hits)),
			slog.Int("threshold", s.lowHitsThreshold),
		)
	}

	response := domain.SearchResponse{Query: query, Page: page}
	if reason == domain.FallbackReasonNone {
		response.Hits = hits
		response.Source = domain.SearchSourceIndex
	} else {
		fallback, err := s.fallback(ctx, query)
		if err != nil {
			metrics.SearchFailuresTotal.Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "search unavailable")
			s.logger.Error("search: provider fallback failed",
				slog.String("query", query),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
			return domain.SearchResponse{}, fmt.Errorf("%w: %s: %v", domain.ErrSearchUnavailable, describeCause(indexErr), err)
		}
		response.Hits = fallback.hits
		response.TotalResults = fallback.total
		response.Source = domain.SearchSourceProviderFallback
		response.Reason = reason
	}

	response.Count = len(response.Hits)
	response.ElapsedMS = s.now().Sub(started).Milliseconds()
	metrics.SearchesTotal.WithLabelValues(string(response.Source), string(response.Reason)).Inc()
	span.SetAttributes(
		attribute.String("search.source", string(response.Source)),
		attribute.String("search.reason", string(response.Reason)),
		attribute.Int("search.hits", response.Count),
	)
	return response, nil
}

func (s *Service) queryIndex(ctx context.Context, query string) ([]domain.SearchHit, error) {
	ctx, cancel := s.indexContext(ctx)
	defer cancel()

	started := time.Now()
	hits, err := s.index.Query(ctx, s.boosts.Clauses(query), s.resultLimit)
	elapsed := time.Since(started)
	metrics.IndexQueryDuration.Observe(elapsed.Seconds())
	s.recordSourceResult(diagnosticsSourceIndex, err, elapsed)
	if err != nil {
		return nil, err
	}
	if len(hits) > s.resultLimit {
		hits = hits[:s.resultLimit]
	}
	return hits, nil
}

type fallbackResult struct {
	hits  []domain.SearchHit
	total int
}

// fallback always asks the provider for its first page; the caller's page only
// applies to the index path.
func (s *Service) fallback(ctx context.Context, query string) (fallbackResult, error) {
	started := time.Now()
	page, err := s.provider.SearchByKeyword(ctx, query, 1)
	s.recordSourceResult(diagnosticsSourceProvider, err, time.Since(started))
	if err != nil {
		return fallbackResult{}, err
	}

	candidates := page.Results
	if len(candidates) > s.resultLimit {
		candidates = candidates[:s.resultLimit]
	}
	records := s.enricher.EnrichAll(ctx, candidates)

	hits := make([]domain.SearchHit, 0, len(records))
	for _, record := range records {
		hits = append(hits, domain.SearchHit{
			ID:     domain.IndexKey(record),
			Record: record,
		})
	}
	return fallbackResult{hits: hits, total: page.TotalResults}, nil
}

func describeCause(indexErr error) string {
	if indexErr != nil {
		return "index failed (" + indexErr.Error() + ") and provider fallback failed"
	}
	return "index returned too few hits and provider fallback failed"
}
