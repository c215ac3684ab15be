package search

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"filmly/catalog/internal/domain"
)

type fakeIndex struct {
	mu       sync.Mutex
	hits     []domain.SearchHit
	err      error
	upsertFn func(domain.MovieRecord) error
	queries  int
	clauses  []domain.WeightedClause
	limit    int
	upserted map[string]domain.MovieRecord
}

func (f *fakeIndex) EnsureSchema(context.Context) error { return nil }

func (f *fakeIndex) Query(_ context.Context, clauses []domain.WeightedClause, limit int) ([]domain.SearchHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	f.clauses = clauses
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.SearchHit(nil), f.hits...), nil
}

func (f *fakeIndex) Upsert(_ context.Context, record domain.MovieRecord) error {
	if f.upsertFn != nil {
		if err := f.upsertFn(record); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserted == nil {
		f.upserted = make(map[string]domain.MovieRecord)
	}
	f.upserted[domain.IndexKey(record)] = record
	return nil
}

func (f *fakeIndex) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (f *fakeIndex) indexed(key string) (domain.MovieRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.upserted[key]
	return record, ok
}

// fakeCache applies the same partial-never-clobbers-full guard as the Mongo repository.
type fakeCache struct {
	mu        sync.Mutex
	records   map[string]domain.MovieRecord
	getErr    error
	upsertErr error
	gets      int
	upserts   int
}

func newFakeCache(records ...domain.MovieRecord) *fakeCache {
	c := &fakeCache{records: make(map[string]domain.MovieRecord)}
	for _, record := range records {
		c.records[record.ExternalID] = record
	}
	return c
}

func (c *fakeCache) GetByID(_ context.Context, id string) (domain.MovieRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return domain.MovieRecord{}, c.getErr
	}
	record, ok := c.records[id]
	if !ok {
		return domain.MovieRecord{}, domain.ErrNotFound
	}
	return record, nil
}

func (c *fakeCache) GetByTitle(_ context.Context, title string) (domain.MovieRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return domain.MovieRecord{}, c.getErr
	}
	for _, record := range c.records {
		if strings.EqualFold(record.Title, title) {
			return record, nil
		}
	}
	return domain.MovieRecord{}, domain.ErrNotFound
}

func (c *fakeCache) Upsert(_ context.Context, record domain.MovieRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts++
	if c.upsertErr != nil {
		return c.upsertErr
	}
	if !domain.ValidExternalID(record.ExternalID) {
		return domain.ErrInvalidArgument
	}
	if existing, ok := c.records[record.ExternalID]; ok && existing.IsFull() && !record.IsFull() {
		return nil
	}
	c.records[record.ExternalID] = record
	return nil
}

func (c *fakeCache) Each(ctx context.Context, fn func(domain.MovieRecord) error) error {
	c.mu.Lock()
	records := make([]domain.MovieRecord, 0, len(c.records))
	for _, record := range c.records {
		records = append(records, record)
	}
	c.mu.Unlock()
	for _, record := range records {
		if err := fn(record); err != nil {
			return err
		}
	}
	return nil
}

func (c *fakeCache) stored(id string) (domain.MovieRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[id]
	return record, ok
}

func (c *fakeCache) upsertCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upserts
}

// fakeProvider counts calls and tracks how many lookups run at once.
type fakeProvider struct {
	mu        sync.Mutex
	byID      map[string]domain.MovieRecord
	byTitle   map[string]domain.MovieRecord
	keyword   []domain.MovieRecord
	total     int
	searchErr error
	lookupErr error
	delay     time.Duration

	lookupCalls atomic.Int32
	titleCalls  atomic.Int32
	searchCalls atomic.Int32
	searchPages []int
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (p *fakeProvider) LookupByTitle(_ context.Context, title string) (domain.MovieRecord, error) {
	p.titleCalls.Add(1)
	if p.lookupErr != nil {
		return domain.MovieRecord{}, p.lookupErr
	}
	record, ok := p.byTitle[strings.ToLower(title)]
	if !ok {
		return domain.MovieRecord{}, domain.ErrNotFound
	}
	return record, nil
}

func (p *fakeProvider) LookupByID(ctx context.Context, id string) (domain.MovieRecord, error) {
	p.lookupCalls.Add(1)
	current := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.maxInFlight.Load()
		if current <= seen || p.maxInFlight.CompareAndSwap(seen, current) {
			break
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return domain.MovieRecord{}, ctx.Err()
		}
	}
	if p.lookupErr != nil {
		return domain.MovieRecord{}, p.lookupErr
	}
	record, ok := p.byID[id]
	if !ok {
		return domain.MovieRecord{}, domain.ErrNotFound
	}
	return record, nil
}

func (p *fakeProvider) SearchByKeyword(_ context.Context, _ string, page int) (domain.KeywordPage, error) {
	p.searchCalls.Add(1)
	p.mu.Lock()
	p.searchPages = append(p.searchPages, page)
	p.mu.Unlock()
	if p.searchErr != nil {
		return domain.KeywordPage{}, p.searchErr
	}
	total := p.total
	if total == 0 {
		total = len(p.keyword)
	}
	return domain.KeywordPage{TotalResults: total, Results: append([]domain.MovieRecord(nil), p.keyword...)}, nil
}

func newTestService(idx Index, cache DocumentCache, provider MetadataProvider, opts ...ServiceOption) *Service {
	base := []ServiceOption{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetryConfig(fastRetryConfig(3)),
	}
	return NewService(idx, cache, provider, append(base, opts...)...)
}

// waitDetached blocks until background index writes scheduled so far have finished.
func waitDetached(t *testing.T, svc *Service) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		svc.detachedWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background index writes did not finish")
	}
}

func fullMovie(id, title, director string) domain.MovieRecord {
	return domain.MovieRecord{
		ExternalID: id,
		Title:      title,
		Year:       "2014",
		Type:       domain.MediaTypeMovie,
		Director:   director,
		Plot:       "A team travels through a wormhole.",
		Genre:      "Adventure, Drama, Sci-Fi",
		Cast:       "Matthew McConaughey, Anne Hathaway",
	}
}

func partialMovie(id, title string) domain.MovieRecord {
	return domain.MovieRecord{ExternalID: id, Title: title, Year: "2001", Type: domain.MediaTypeMovie}
}

func indexHit(record domain.MovieRecord, score float64) domain.SearchHit {
	return domain.SearchHit{ID: domain.IndexKey(record), Score: &score, Record: record}
}
