package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"filmly/catalog/internal/domain"
)

type Config struct {
	HTTPAddr          string
	HTTPRateLimit     float64
	HTTPRateBurst     int
	AdminTimeout      time.Duration
	LogLevel          string
	LogFormat         string
	MongoURI          string
	MongoDatabase     string
	MongoCollection   string
	ElasticURLs       []string
	ElasticIndex      string
	OMDbAPIKey        string
	OMDbBaseURL       string
	OMDbRateLimit     float64
	OMDbRateBurst     int
	OMDbCacheTTL      time.Duration
	RedisURL          string
	RequestTimeout    time.Duration
	IndexTimeout      time.Duration
	DetachedTimeout   time.Duration
	ResultLimit       int
	LowHitsThreshold  int
	EnrichConcurrency int
	SeedConcurrency   int
	Boosts            domain.FieldBoosts
	// BoostsRejected is set when configured boosts broke the field ordering and the
	// defaults were used instead.
	BoostsRejected  bool
	OTLPEndpoint    string
	TraceSampleRate float64
}

func LoadConfig() Config {
	boosts, rejected := loadBoosts()
	return Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":5000"),
		HTTPRateLimit:     getEnvFloat("HTTP_RATE_LIMIT_RPS", 50),
		HTTPRateBurst:     getEnvInt("HTTP_RATE_LIMIT_BURST", 100),
		AdminTimeout:      time.Duration(getEnvInt("ADMIN_TIMEOUT_MINUTES", 10)) * time.Minute,
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		MongoURI:          getEnv("MONGO_URI", "mongodb://mongo:27017/filmly"),
		MongoDatabase:     getEnv("MONGO_DATABASE", "filmly"),
		MongoCollection:   getEnv("MONGO_COLLECTION", "movies_cache"),
		ElasticURLs:       parseCSV(getEnv("ELASTIC_URL", "http://elasticsearch:9200")),
		ElasticIndex:      getEnv("ELASTIC_INDEX", "movies"),
		OMDbAPIKey:        strings.TrimSpace(os.Getenv("OMDB_API_KEY")),
		OMDbBaseURL:       getEnv("OMDB_BASE_URL", "http://www.omdbapi.com/"),
		OMDbRateLimit:     getEnvFloat("OMDB_RATE_LIMIT_RPS", 5),
		OMDbRateBurst:     getEnvInt("OMDB_RATE_LIMIT_BURST", 5),
		OMDbCacheTTL:      time.Duration(getEnvInt("OMDB_CACHE_TTL_HOURS", 24)) * time.Hour,
		RedisURL:          getEnv("REDIS_URL", ""),
		RequestTimeout:    time.Duration(getEnvInt("SEARCH_TIMEOUT_SECONDS", 15)) * time.Second,
		IndexTimeout:      time.Duration(getEnvInt("SEARCH_INDEX_TIMEOUT_MS", 5000)) * time.Millisecond,
		DetachedTimeout:   time.Duration(getEnvInt("DETACHED_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
		ResultLimit:       getEnvInt("SEARCH_RESULT_LIMIT", 10),
		LowHitsThreshold:  getEnvInt("SEARCH_LOW_HITS_THRESHOLD", 3),
		EnrichConcurrency: getEnvInt("SEARCH_ENRICH_CONCURRENCY", 4),
		SeedConcurrency:   getEnvInt("SEED_CONCURRENCY", 2),
		Boosts:            boosts,
		BoostsRejected:    rejected,
		OTLPEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRate:   getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

func loadBoosts() (domain.FieldBoosts, bool) {
	defaults := domain.DefaultFieldBoosts()
	boosts := domain.FieldBoosts{
		Title:    getEnvFloat("SEARCH_BOOST_TITLE", defaults.Title),
		Director: getEnvFloat("SEARCH_BOOST_DIRECTOR", defaults.Director),
		Cast:     getEnvFloat("SEARCH_BOOST_CAST", defaults.Cast),
		Plot:     getEnvFloat("SEARCH_BOOST_PLOT", defaults.Plot),
		Genre:    getEnvFloat("SEARCH_BOOST_GENRE", defaults.Genre),
	}
	if !boosts.Valid() {
		return defaults, true
	}
	return boosts, false
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}
