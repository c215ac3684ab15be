package app

import (
	"testing"
	"time"

	"filmly/catalog/internal/domain"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()
	if cfg.HTTPAddr != ":5000" {
		t.Fatalf("unexpected addr %q", cfg.HTTPAddr)
	}
	if cfg.MongoCollection != "movies_cache" || cfg.ElasticIndex != "movies" {
		t.Fatalf("unexpected store names %q/%q", cfg.MongoCollection, cfg.ElasticIndex)
	}
	if len(cfg.ElasticURLs) != 1 || cfg.ElasticURLs[0] != "http://elasticsearch:9200" {
		t.Fatalf("unexpected elastic urls %v", cfg.ElasticURLs)
	}
	if cfg.ResultLimit != 10 || cfg.LowHitsThreshold != 3 || cfg.EnrichConcurrency != 4 {
		t.Fatalf("unexpected search policy %+v", cfg)
	}
	if cfg.RequestTimeout != 15*time.Second || cfg.IndexTimeout != 5*time.Second || cfg.DetachedTimeout != 10*time.Second {
		t.Fatalf("unexpected timeouts %v/%v/%v", cfg.RequestTimeout, cfg.IndexTimeout, cfg.DetachedTimeout)
	}
	if cfg.Boosts != domain.DefaultFieldBoosts() || cfg.BoostsRejected {
		t.Fatalf("unexpected boosts %+v", cfg.Boosts)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("ELASTIC_URL", "http://es1:9200, http://es2:9200,")
	t.Setenv("SEARCH_LOW_HITS_THRESHOLD", "5")
	t.Setenv("OMDB_RATE_LIMIT_RPS", "0.5")
	t.Setenv("SEARCH_BOOST_DIRECTOR", "8")
	t.Setenv("SEARCH_ENRICH_CONCURRENCY", "-2")
	t.Setenv("SEARCH_INDEX_TIMEOUT_MS", "750")

	cfg := LoadConfig()
	if cfg.HTTPAddr != ":8080" || cfg.LowHitsThreshold != 5 || cfg.OMDbRateLimit != 0.5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.ElasticURLs) != 2 || cfg.ElasticURLs[1] != "http://es2:9200" {
		t.Fatalf("unexpected elastic urls %v", cfg.ElasticURLs)
	}
	if cfg.Boosts.Director != 8 || cfg.BoostsRejected {
		t.Fatalf("expected director boost 8, got %+v", cfg.Boosts)
	}
	if cfg.IndexTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected index timeout %v", cfg.IndexTimeout)
	}
	if cfg.EnrichConcurrency != 4 {
		t.Fatalf("negative concurrency must fall back, got %d", cfg.EnrichConcurrency)
	}
}

func TestLoadConfigRejectsMisorderedBoosts(t *testing.T) {
	t.Setenv("SEARCH_BOOST_PLOT", "2")

	cfg := LoadConfig()
	if !cfg.BoostsRejected {
		t.Fatal("expected plot outranking title to be rejected")
	}
	if cfg.Boosts != domain.DefaultFieldBoosts() {
		t.Fatalf("expected default boosts, got %+v", cfg.Boosts)
	}
}
