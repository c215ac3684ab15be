package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"filmly/catalog/internal/domain"
)

// LookupTitle resolves an exact title through the cache, then the provider. A record
// fetched from the provider is stored in the cache before it is returned.
func (s *Service) LookupTitle(ctx context.Context, title string) (domain.LookupResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.LookupResult{}, fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	}
	ctx, cancel := s.withRequestTimeout(ctx)
	defer cancel()

	cached, err := s.cache.GetByTitle(ctx, title)
	s.recordSourceResult(diagnosticsSourceDocuments, err, 0)
	switch {
	case err == nil:
		// Cache hits may predate the index; rewrite them so it heals itself.
		s.indexDetached(cached)
		return domain.LookupResult{Source: domain.LookupSourceCache, Movie: cached}, nil
	case !errors.Is(err, domain.ErrNotFound):
		s.logger.Warn("lookup: cache read failed, asking provider",
			slog.String("title", title),
			slog.String("error", err.Error()),
		)
	}

	started := time.Now()
	record, err := s.provider.LookupByTitle(ctx, title)
	s.recordSourceResult(diagnosticsSourceProvider, err, time.Since(started))
	if err != nil {
		return domain.LookupResult{}, err
	}
	return s.storeFetched(ctx, record)
}

// LookupID resolves an external id. Only full cached records are served directly; a
// partial cached record is served when the provider is unavailable.
func (s *Service) LookupID(ctx context.Context, externalID string) (domain.LookupResult, error) {
	id := domain.NormalizeExternalID(externalID)
	if !domain.ValidExternalID(id) {
		return domain.LookupResult{}, fmt.Errorf("%w: malformed id %q", domain.ErrInvalidArgument, externalID)
	}
	ctx, cancel := s.withRequestTimeout(ctx)
	defer cancel()

	cached, cacheErr := s.cache.GetByID(ctx, id)
	s.recordSourceResult(diagnosticsSourceDocuments, cacheErr, 0)
	if cacheErr == nil && cached.IsFull() {
		return domain.LookupResult{Source: domain.LookupSourceCache, Movie: cached}, nil
	}
	if cacheErr != nil && !errors.Is(cacheErr, domain.ErrNotFound) {
		s.logger.Warn("lookup: cache read failed, asking provider",
			slog.String("id", id),
			slog.String("error", cacheErr.Error()),
		)
	}

	started := time.Now()
	record, err := s.provider.LookupByID(ctx, id)
	s.recordSourceResult(diagnosticsSourceProvider, err, time.Since(started))
	if err != nil {
		if cacheErr == nil && errors.Is(err, domain.ErrProviderUnavailable) {
			s.logger.Info("lookup: provider unavailable, serving partial cached record",
				slog.String("id", id),
			)
			return domain.LookupResult{Source: domain.LookupSourceCache, Movie: cached}, nil
		}
		return domain.LookupResult{}, err
	}
	if record.ExternalID == "" {
		record.ExternalID = id
	}
	return s.storeFetched(ctx, record)
}

// storeFetched writes a provider record durably, then schedules the index write.
func (s *Service) storeFetched(ctx context.Context, record domain.MovieRecord) (domain.LookupResult, error) {
	writeCtx, cancel := s.detachedContext(ctx)
	defer cancel()
	err := s.cache.Upsert(writeCtx, record)
	s.recordSourceResult(diagnosticsSourceDocuments, err, 0)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
		}
		return domain.LookupResult{}, err
	}
	s.indexDetached(record)
	return domain.LookupResult{Source: domain.LookupSourceProvider, Movie: record}, nil
}
