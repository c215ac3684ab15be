package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"filmly/catalog/internal/domain"
)

func TestReindexCopiesCacheIntoIndex(t *testing.T) {
	cache := newFakeCache(
		fullMovie("tt0000001", "One", "A"),
		fullMovie("tt0000002", "Two", "B"),
		partialMovie("tt0000003", "Three"),
	)
	idx := &fakeIndex{upsertFn: func(record domain.MovieRecord) error {
		if record.ExternalID == "tt0000002" {
			return fmt.Errorf("%w: mapper_parsing_exception", domain.ErrIndexUnavailable)
		}
		return nil
	}}
	svc := newTestService(idx, cache, &fakeProvider{})

	result, err := svc.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if result.Indexed != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, id := range []string{"tt0000001", "tt0000003"} {
		if _, ok := idx.indexed(id); !ok {
			t.Fatalf("%s not indexed", id)
		}
	}
}

func TestReindexNeedsScannableCache(t *testing.T) {
	svc := newTestService(&fakeIndex{}, struct{ DocumentCache }{newFakeCache()}, &fakeProvider{})
	if _, err := svc.Reindex(context.Background()); !errors.Is(err, domain.ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
}

func TestSeedStoresValidIDs(t *testing.T) {
	cache := newFakeCache()
	idx := &fakeIndex{}
	provider := &fakeProvider{byID: map[string]domain.MovieRecord{
		"tt0000001": fullMovie("tt0000001", "One", "A"),
		"tt0000002": fullMovie("tt0000002", "Two", "B"),
	}}
	svc := newTestService(idx, cache, provider)

	result, err := svc.Seed(context.Background(), []string{"tt0000001", " TT0000001 ", "bogus", "tt0000002", "tt0000003"})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if result.Requested != 5 || result.Stored != 2 {
		t.Fatalf("unexpected counts %+v", result)
	}
	if len(result.Invalid) != 1 || result.Invalid[0] != "bogus" {
		t.Fatalf("unexpected invalid ids %v", result.Invalid)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "tt0000003" {
		t.Fatalf("unexpected failed ids %v", result.Failed)
	}
	// Not found is final: no retries.
	if got := provider.lookupCalls.Load(); got != 3 {
		t.Fatalf("expected 3 lookups, got %d", got)
	}
	for _, id := range []string{"tt0000001", "tt0000002"} {
		if _, ok := cache.stored(id); !ok {
			t.Fatalf("%s not cached", id)
		}
		if _, ok := idx.indexed(id); !ok {
			t.Fatalf("%s not indexed", id)
		}
	}
}

type flakyProvider struct {
	*fakeProvider
	failures atomic.Int32
}

func (p *flakyProvider) LookupByID(ctx context.Context, id string) (domain.MovieRecord, error) {
	if p.failures.Add(-1) >= 0 {
		return domain.MovieRecord{}, fmt.Errorf("%w: omdb HTTP 503", domain.ErrProviderUnavailable)
	}
	return p.fakeProvider.LookupByID(ctx, id)
}

func TestSeedRetriesTransientProviderErrors(t *testing.T) {
	provider := &flakyProvider{fakeProvider: &fakeProvider{byID: map[string]domain.MovieRecord{
		"tt0000001": fullMovie("tt0000001", "One", "A"),
	}}}
	provider.failures.Store(2)
	cache := newFakeCache()
	svc := newTestService(&fakeIndex{}, cache, provider)

	result, err := svc.Seed(context.Background(), []string{"tt0000001"})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if result.Stored != 1 || len(result.Failed) != 0 {
		t.Fatalf("expected the id to be stored after retries, got %+v", result)
	}
	if _, ok := cache.stored("tt0000001"); !ok {
		t.Fatal("record not cached")
	}
}
