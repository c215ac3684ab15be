package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"filmly/catalog/internal/domain"
)

// Reindex streams every cached record into the index. It rebuilds a lost or
// freshly created index from the cache.
func (s *Service) Reindex(ctx context.Context) (domain.ReindexResult, error) {
	scanner, ok := s.cache.(RecordScanner)
	if !ok {
		return domain.ReindexResult{}, fmt.Errorf("%w: cache cannot enumerate records", domain.ErrCacheUnavailable)
	}

	var result domain.ReindexResult
	err := scanner.Each(ctx, func(record domain.MovieRecord) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		writeCtx, cancel := context.WithTimeout(ctx, s.detachedTimeout)
		err := s.index.Upsert(writeCtx, record)
		cancel()
		if err != nil {
			result.Failed++
			s.logger.Warn("reindex: write failed",
				slog.String("id", domain.IndexKey(record)),
				slog.String("error", err.Error()),
			)
			return nil
		}
		result.Indexed++
		return nil
	})
	s.logger.Info("reindex finished",
		slog.Int("indexed", result.Indexed),
		slog.Int("failed", result.Failed),
	)
	return result, err
}

// Seed fetches ids from the provider and stores them in the cache and the index.
// Transient provider failures are retried with backoff; this is the only retrying
// code path.
func (s *Service) Seed(ctx context.Context, ids []string) (domain.SeedResult, error) {
	result := domain.SeedResult{Requested: len(ids)}

	seen := make(map[string]struct{}, len(ids))
	valid := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := domain.NormalizeExternalID(raw)
		if !domain.ValidExternalID(id) {
			result.Invalid = append(result.Invalid, raw)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		valid = append(valid, id)
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.seedConcurrency)
	for _, id := range valid {
		g.Go(func() error {
			err := s.seedOne(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, id)
				s.logger.Warn("seed: record not stored",
					slog.String("id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			result.Stored++
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(result.Failed)
	s.logger.Info("seed finished",
		slog.Int("requested", result.Requested),
		slog.Int("stored", result.Stored),
		slog.Int("failed", len(result.Failed)),
		slog.Int("invalid", len(result.Invalid)),
	)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Service) seedOne(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var record domain.MovieRecord
	err := RetryWithBackoff(ctx, s.retry, func(attempt int) error {
		if attempt > 1 {
			s.logger.Debug("seed: retrying provider lookup", slog.String("id", id), slog.Int("attempt", attempt))
		}
		var lookupErr error
		record, lookupErr = s.provider.LookupByID(ctx, id)
		return lookupErr
	})
	if err != nil {
		return err
	}
	if record.ExternalID == "" {
		record.ExternalID = id
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.detachedTimeout)
	defer cancel()
	if err := s.cache.Upsert(writeCtx, record); err != nil {
		return err
	}
	if err := s.index.Upsert(writeCtx, record); err != nil {
		// The cache holds the record; Reindex can repair the index later.
		s.logger.Warn("seed: index write failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
