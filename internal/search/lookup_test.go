package search

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"filmly/catalog/internal/domain"
)

func TestLookupTitleServesCacheAndHealsIndex(t *testing.T) {
	cached := fullMovie("tt0816692", "Interstellar", "Christopher Nolan")
	idx := &fakeIndex{}
	provider := &fakeProvider{}
	svc := newTestService(idx, newFakeCache(cached), provider)

	result, err := svc.LookupTitle(context.Background(), "interstellar")
	if err != nil {
		t.Fatalf("LookupTitle: %v", err)
	}
	if result.Source != domain.LookupSourceCache || result.Movie.ExternalID != "tt0816692" {
		t.Fatalf("unexpected result %+v", result)
	}
	if provider.titleCalls.Load() != 0 {
		t.Fatal("provider must not be called on a cache hit")
	}
	waitDetached(t, svc)
	if _, ok := idx.indexed("tt0816692"); !ok {
		t.Fatal("cache hit was not written back to the index")
	}
}

func TestLookupTitleStoresBeforeReturning(t *testing.T) {
	cache := newFakeCache()
	provider := &fakeProvider{byTitle: map[string]domain.MovieRecord{
		"arrival": fullMovie("tt2543164", "Arrival", "Denis Villeneuve"),
	}}
	svc := newTestService(&fakeIndex{}, cache, provider)

	result, err := svc.LookupTitle(context.Background(), " Arrival ")
	if err != nil {
		t.Fatalf("LookupTitle: %v", err)
	}
	if result.Source != domain.LookupSourceProvider {
		t.Fatalf("expected provider source, got %q", result.Source)
	}
	if _, ok := cache.stored("tt2543164"); !ok {
		t.Fatal("record returned before it was cached")
	}
	waitDetached(t, svc)
}

func TestLookupTitleErrors(t *testing.T) {
	svc := newTestService(&fakeIndex{}, newFakeCache(), &fakeProvider{})
	if _, err := svc.LookupTitle(context.Background(), " "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.LookupTitle(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	cache := newFakeCache()
	cache.upsertErr = errors.New("not primary")
	provider := &fakeProvider{byTitle: map[string]domain.MovieRecord{
		"arrival": fullMovie("tt2543164", "Arrival", "Denis Villeneuve"),
	}}
	svc = newTestService(&fakeIndex{}, cache, provider)
	if _, err := svc.LookupTitle(context.Background(), "arrival"); !errors.Is(err, domain.ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
}

func TestLookupIDServesFullCachedRecord(t *testing.T) {
	provider := &fakeProvider{}
	svc := newTestService(&fakeIndex{}, newFakeCache(fullMovie("tt0816692", "Interstellar", "Christopher Nolan")), provider)

	result, err := svc.LookupID(context.Background(), "TT0816692")
	if err != nil {
		t.Fatalf("LookupID: %v", err)
	}
	if result.Source != domain.LookupSourceCache {
		t.Fatalf("expected cache source, got %q", result.Source)
	}
	if provider.lookupCalls.Load() != 0 {
		t.Fatal("provider must not be called for a full cached record")
	}
}

func TestLookupIDUpgradesPartialCachedRecord(t *testing.T) {
	cache := newFakeCache(partialMovie("tt0816692", "Interstellar"))
	provider := &fakeProvider{byID: map[string]domain.MovieRecord{
		"tt0816692": fullMovie("tt0816692", "Interstellar", "Christopher Nolan"),
	}}
	svc := newTestService(&fakeIndex{}, cache, provider)

	result, err := svc.LookupID(context.Background(), "tt0816692")
	if err != nil {
		t.Fatalf("LookupID: %v", err)
	}
	if result.Source != domain.LookupSourceProvider || !result.Movie.IsFull() {
		t.Fatalf("expected full provider record, got %+v", result)
	}
	stored, _ := cache.stored("tt0816692")
	if !stored.IsFull() {
		t.Fatal("full record was not cached")
	}
	waitDetached(t, svc)
}

func TestLookupIDFallsBackToPartialWhenProviderDown(t *testing.T) {
	partial := partialMovie("tt0816692", "Interstellar")
	provider := &fakeProvider{lookupErr: fmt.Errorf("%w: omdb HTTP 502", domain.ErrProviderUnavailable)}
	svc := newTestService(&fakeIndex{}, newFakeCache(partial), provider)

	result, err := svc.LookupID(context.Background(), "tt0816692")
	if err != nil {
		t.Fatalf("LookupID: %v", err)
	}
	if result.Source != domain.LookupSourceCache || result.Movie.Title != "Interstellar" {
		t.Fatalf("expected the partial cached record, got %+v", result)
	}

	svc = newTestService(&fakeIndex{}, newFakeCache(), provider)
	if _, err := svc.LookupID(context.Background(), "tt0816692"); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestLookupIDRejectsMalformedIDs(t *testing.T) {
	provider := &fakeProvider{}
	svc := newTestService(&fakeIndex{}, newFakeCache(), provider)
	for _, id := range []string{"", "0816692", "tt", "tt08x6692"} {
		if _, err := svc.LookupID(context.Background(), id); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("%q: expected ErrInvalidArgument, got %v", id, err)
		}
	}
	if provider.lookupCalls.Load() != 0 {
		t.Fatal("provider must not be called for malformed ids")
	}
}
