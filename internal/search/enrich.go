package search

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"filmly/catalog/internal/domain"
	"filmly/catalog/internal/metrics"
	"filmly/catalog/internal/telemetry"
)

// Outcome tells where EnsureFull got its record from.
type Outcome string

const (
	OutcomeCache    Outcome = "cache"
	OutcomeProvider Outcome = "provider"
	OutcomeDegraded Outcome = "degraded"
)

// Enricher upgrades partial records to full ones through the cache and the provider.
type Enricher struct {
	cache        DocumentCache
	provider     MetadataProvider
	logger       *slog.Logger
	concurrency  int
	writeTimeout time.Duration
	indexLater   func(domain.MovieRecord)
	observe      func(source string, err error, latency time.Duration)
}

// EnsureFull returns the full record for partial. It never fails: when neither the
// cache nor the provider can supply a full record the partial one comes back with
// OutcomeDegraded.
func (e *Enricher) EnsureFull(ctx context.Context, partial domain.MovieRecord) (domain.MovieRecord, Outcome) {
	record, outcome := e.ensureFull(ctx, partial)
	metrics.EnrichmentsTotal.WithLabelValues(string(outcome)).Inc()
	return record, outcome
}

func (e *Enricher) ensureFull(ctx context.Context, partial domain.MovieRecord) (domain.MovieRecord, Outcome) {
	id := domain.NormalizeExternalID(partial.ExternalID)
	if !domain.ValidExternalID(id) {
		return partial, OutcomeDegraded
	}

	cached, err := e.cache.GetByID(ctx, id)
	switch {
	case err == nil && cached.IsFull():
		return cached, OutcomeCache
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		e.logger.Warn("enrich: cache read failed, treating as miss",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}

	started := time.Now()
	full, err := e.provider.LookupByID(ctx, id)
	e.observe(diagnosticsSourceProvider, err, time.Since(started))
	if err != nil {
		e.logger.Debug("enrich: provider lookup failed, keeping partial record",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return partial, OutcomeDegraded
	}
	if full.ExternalID == "" {
		full.ExternalID = id
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.writeTimeout)
	err = e.cache.Upsert(writeCtx, full)
	cancel()
	if err != nil {
		e.logger.Warn("enrich: cache write failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}
	e.indexLater(full)
	return full, OutcomeProvider
}

// EnrichAll runs EnsureFull over partials with bounded concurrency and returns the
// records in input order. Once ctx is done, candidates still in flight are no longer
// awaited and keep their partial record.
func (e *Enricher) EnrichAll(ctx context.Context, partials []domain.MovieRecord) []domain.MovieRecord {
	out := make([]domain.MovieRecord, len(partials))
	copy(out, partials)
	if len(partials) == 0 {
		return out
	}

	ctx, span := telemetry.Tracer().Start(ctx, "search.enrich",
		trace.WithAttributes(
			attribute.Int("enrich.candidates", len(partials)),
			attribute.Int("enrich.concurrency", e.concurrency),
		),
	)
	defer span.End()

	type enriched struct {
		index  int
		record domain.MovieRecord
	}
	// Buffered so abandoned workers never block on send.
	results := make(chan enriched, len(partials))
	sem := semaphore.NewWeighted(int64(max(e.concurrency, 1)))

	launched := 0
	for i, partial := range partials {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		launched++
		go func(index int, candidate domain.MovieRecord) {
			defer sem.Release(1)
			record, _ := e.EnsureFull(ctx, candidate)
			results <- enriched{index: index, record: record}
		}(i, partial)
	}

	for received := 0; received < launched; received++ {
		select {
		case r := <-results:
			out[r.index] = r.record
		case <-ctx.Done():
			span.SetAttributes(attribute.Int("enrich.abandoned", launched-received))
			return out
		}
	}
	return out
}
