package search

import (
	"context"
	"log/slog"

	"filmly/catalog/internal/domain"
	"filmly/catalog/internal/metrics"
)

// indexDetached writes record into the index in the background. Failures are logged
// and counted, never returned.
func (s *Service) indexDetached(record domain.MovieRecord) {
	s.detachedMu.Lock()
	if s.closed {
		s.detachedMu.Unlock()
		metrics.IndexWritesTotal.WithLabelValues("dropped").Inc()
		return
	}
	s.detachedWG.Add(1)
	s.detachedMu.Unlock()

	go func() {
		defer s.detachedWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.detachedTimeout)
		defer cancel()

		if err := s.index.Upsert(ctx, record); err != nil {
			metrics.IndexWritesTotal.WithLabelValues("error").Inc()
			s.logger.Warn("index write-back failed",
				slog.String("id", domain.IndexKey(record)),
				slog.String("error", err.Error()),
			)
			return
		}
		metrics.IndexWritesTotal.WithLabelValues("ok").Inc()
	}()
}

// Close stops scheduling background index writes and waits for pending ones
// until ctx is done.
func (s *Service) Close(ctx context.Context) error {
	s.detachedMu.Lock()
	s.closed = true
	s.detachedMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.detachedWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
