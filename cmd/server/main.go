package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "filmly/catalog/internal/api/http"
	"filmly/catalog/internal/app"
	"filmly/catalog/internal/index/elastic"
	"filmly/catalog/internal/metrics"
	"filmly/catalog/internal/providers/omdb"
	mongorepo "filmly/catalog/internal/repository/mongo"
	"filmly/catalog/internal/search"
	"filmly/catalog/internal/telemetry"
)

const serviceName = "catalog"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("mongoDatabase", cfg.MongoDatabase),
		slog.String("mongoCollection", cfg.MongoCollection),
		slog.Any("elasticURLs", cfg.ElasticURLs),
		slog.String("elasticIndex", cfg.ElasticIndex),
		slog.Bool("hasOMDbKey", cfg.OMDbAPIKey != ""),
		slog.Bool("hasRedis", strings.TrimSpace(cfg.RedisURL) != ""),
		slog.Duration("requestTimeout", cfg.RequestTimeout),
		slog.Int("lowHitsThreshold", cfg.LowHitsThreshold),
		slog.Int("enrichConcurrency", cfg.EnrichConcurrency),
	)
	if cfg.BoostsRejected {
		logger.Warn("configured field boosts break the ranking order, using defaults",
			slog.Any("boosts", cfg.Boosts),
		)
	}
	if cfg.OMDbAPIKey == "" {
		logger.Warn("OMDB_API_KEY not configured, provider fallback will fail")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			logger.Warn("mongo disconnect failed", slog.String("error", err.Error()))
		}
	}()
	movies := mongorepo.NewMovieRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)
	if err := movies.Ping(ctx); err != nil {
		logger.Warn("mongo not reachable at startup", slog.String("error", err.Error()))
	}
	if err := movies.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	esClient, err := elastic.NewClient(elastic.Config{
		Addresses: cfg.ElasticURLs,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
	if err != nil {
		logger.Error("elasticsearch client init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	index := elastic.NewIndex(esClient, cfg.ElasticIndex)

	redisClient := buildRedisClient(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	provider := omdb.NewClient(omdb.Config{
		APIKey:    cfg.OMDbAPIKey,
		BaseURL:   cfg.OMDbBaseURL,
		Client:    &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Redis:     redisClient,
		CacheTTL:  cfg.OMDbCacheTTL,
		RateLimit: cfg.OMDbRateLimit,
		RateBurst: cfg.OMDbRateBurst,
	})

	catalog := search.NewService(index, movies, provider,
		search.WithLogger(logger),
		search.WithTimeout(cfg.RequestTimeout),
		search.WithIndexTimeout(cfg.IndexTimeout),
		search.WithDetachedWriteTimeout(cfg.DetachedTimeout),
		search.WithResultLimit(cfg.ResultLimit),
		search.WithLowHitsThreshold(cfg.LowHitsThreshold),
		search.WithBoosts(cfg.Boosts),
		search.WithEnrichConcurrency(cfg.EnrichConcurrency),
		search.WithSeedConcurrency(cfg.SeedConcurrency),
	)
	if err := catalog.EnsureIndex(ctx); err != nil {
		logger.Warn("search index schema not ensured, searches will fall back to the provider",
			slog.String("index", index.Name()),
			slog.String("error", err.Error()),
		)
	}

	handler := apihttp.NewServer(catalog,
		apihttp.WithLogger(logger),
		apihttp.WithHealthCheck("mongo", movies),
		apihttp.WithHealthCheck("elasticsearch", index),
		apihttp.WithRateLimit(cfg.HTTPRateLimit, cfg.HTTPRateBurst),
		apihttp.WithAdminTimeout(cfg.AdminTimeout),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Admin reindex runs synchronously and can outlast a short write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("catalog service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Duration("timeout", cfg.RequestTimeout),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	if err := catalog.Close(shutdownCtx); err != nil {
		logger.Warn("pending index writes abandoned", slog.String("error", err.Error()))
	}
	logger.Info("catalog service stopped")
}

// buildRedisClient returns nil when Redis is not configured or unreachable; the OMDb
// client then runs without its response cache.
func buildRedisClient(ctx context.Context, cfg app.Config, logger *slog.Logger) *redis.Client {
	redisURL := strings.TrimSpace(cfg.RedisURL)
	if redisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis url, provider cache disabled", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, provider cache disabled", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
