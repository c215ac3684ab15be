package search

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"filmly/catalog/internal/domain"
)

const (
	defaultTimeout             = 15 * time.Second
	defaultDetachedTimeout     = 10 * time.Second
	defaultIndexTimeout        = 5 * time.Second
	defaultResultLimit         = 10
	defaultLowHitsThreshold    = 3
	defaultEnrichConcurrency   = 4
	defaultSeedConcurrency     = 2
	maxQueryLength             = 500
	diagnosticsSourceIndex     = "index"
	diagnosticsSourceProvider  = "provider"
	diagnosticsSourceDocuments = "cache"
)

// Index is the full-text search index. Upsert carries no read-after-write guarantee.
type Index interface {
	EnsureSchema(ctx context.Context) error
	Query(ctx context.Context, clauses []domain.WeightedClause, limit int) ([]domain.SearchHit, error)
	Upsert(ctx context.Context, record domain.MovieRecord) error
}

// DocumentCache is the durable store of fetched records, keyed by external id.
type DocumentCache interface {
	GetByID(ctx context.Context, externalID string) (domain.MovieRecord, error)
	GetByTitle(ctx context.Context, title string) (domain.MovieRecord, error)
	Upsert(ctx context.Context, record domain.MovieRecord) error
}

// RecordScanner is implemented by caches that can stream every stored record.
type RecordScanner interface {
	Each(ctx context.Context, fn func(domain.MovieRecord) error) error
}

// MetadataProvider is the external title database and the last fallback.
type MetadataProvider interface {
	LookupByTitle(ctx context.Context, title string) (domain.MovieRecord, error)
	LookupByID(ctx context.Context, externalID string) (domain.MovieRecord, error)
	SearchByKeyword(ctx context.Context, query string, page int) (domain.KeywordPage, error)
}

type Service struct {
	index    Index
	cache    DocumentCache
	provider MetadataProvider
	enricher *Enricher
	logger   *slog.Logger
	now      func() time.Time

	timeout          time.Duration
	detachedTimeout  time.Duration
	indexTimeout     time.Duration
	resultLimit      int
	lowHitsThreshold int
	boosts           domain.FieldBoosts
	concurrency      int
	seedConcurrency  int
	retry            RetryConfig

	detachedMu sync.Mutex
	detachedWG sync.WaitGroup
	closed     bool

	healthMu sync.Mutex
	health   map[string]*sourceHealth
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTimeout bounds a request that arrives without a deadline.
func WithTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithIndexTimeout caps the index query. The cap never exceeds a third of the time
// left on the request, so the provider fallback keeps the rest.
func WithIndexTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.indexTimeout = timeout
		}
	}
}

func WithDetachedWriteTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.detachedTimeout = timeout
		}
	}
}

func WithResultLimit(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.resultLimit = limit
		}
	}
}

func WithLowHitsThreshold(threshold int) ServiceOption {
	return func(s *Service) {
		if threshold >= 0 {
			s.lowHitsThreshold = threshold
		}
	}
}

// WithBoosts replaces the ranking weights. Weights that break the field ordering are ignored.
func WithBoosts(boosts domain.FieldBoosts) ServiceOption {
	return func(s *Service) {
		if boosts.Valid() {
			s.boosts = boosts
		}
	}
}

func WithEnrichConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithSeedConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.seedConcurrency = n
		}
	}
}

func WithRetryConfig(cfg RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retry = cfg
	}
}

func NewService(index Index, cache DocumentCache, provider MetadataProvider, opts ...ServiceOption) *Service {
	svc := &Service{
		index:            index,
		cache:            cache,
		provider:         provider,
		logger:           slog.Default(),
		now:              time.Now,
		timeout:          defaultTimeout,
		detachedTimeout:  defaultDetachedTimeout,
		indexTimeout:     defaultIndexTimeout,
		resultLimit:      defaultResultLimit,
		lowHitsThreshold: defaultLowHitsThreshold,
		boosts:           domain.DefaultFieldBoosts(),
		concurrency:      defaultEnrichConcurrency,
		seedConcurrency:  defaultSeedConcurrency,
		retry:            DefaultRetryConfig(),
		health:           make(map[string]*sourceHealth),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.enricher = &Enricher{
		cache:        cache,
		provider:     provider,
		logger:       svc.logger,
		concurrency:  svc.concurrency,
		writeTimeout: svc.detachedTimeout,
		indexLater:   svc.indexDetached,
		observe:      svc.recordSourceResult,
	}
	return svc
}

// Enricher returns the enrichment stage shared by search and maintenance.
func (s *Service) Enricher() *Enricher {
	return s.enricher
}

// EnsureIndex creates the index schema if absent.
func (s *Service) EnsureIndex(ctx context.Context) error {
	return s.index.EnsureSchema(ctx)
}

// withRequestTimeout applies the service timeout when ctx carries no deadline.
func (s *Service) withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) indexContext(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := s.indexTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if share := time.Until(deadline) / 3; share < budget {
			budget = share
		}
	}
	return context.WithTimeout(ctx, budget)
}

// detachedContext survives caller cancellation but is still bounded.
func (s *Service) detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.detachedTimeout)
}
