package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"filmly/catalog/internal/domain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type CatalogService interface {
	Search(ctx context.Context, query string, page int) (domain.SearchResponse, error)
	LookupTitle(ctx context.Context, title string) (domain.LookupResult, error)
	LookupID(ctx context.Context, externalID string) (domain.LookupResult, error)
	Reindex(ctx context.Context) (domain.ReindexResult, error)
	Seed(ctx context.Context, ids []string) (domain.SeedResult, error)
	Diagnostics() []domain.SourceDiagnostics
}

// Pinger is a backing store reported by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthCheck struct {
	name   string
	pinger Pinger
}

type Server struct {
	catalog        CatalogService
	checks         []healthCheck
	logger         *slog.Logger
	validatePoster posterURLValidator
	adminTimeout   time.Duration
	rateLimit      float64
	rateBurst      int
}

const (
	maxQueryLength = 500
	maxSeedIDs     = 500
	healthTimeout  = 3 * time.Second
)

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthCheck adds a named dependency to the /health report.
func WithHealthCheck(name string, pinger Pinger) ServerOption {
	return func(s *Server) {
		if pinger != nil && strings.TrimSpace(name) != "" {
			s.checks = append(s.checks, healthCheck{name: strings.TrimSpace(name), pinger: pinger})
		}
	}
}

// WithRateLimit sets the global request budget; health and metrics are exempt.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateLimit = rps
			s.rateBurst = burst
		}
	}
}

// WithAdminTimeout bounds reindex and seed jobs.
func WithAdminTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		if timeout > 0 {
			s.adminTimeout = timeout
		}
	}
}

func NewServer(catalog CatalogService, options ...ServerOption) *Server {
	server := &Server{
		catalog:        catalog,
		logger:         slog.Default(),
		validatePoster: validateProxyURL,
		adminTimeout:   10 * time.Minute,
		rateLimit:      50,
		rateBurst:      100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search-es", s.handleSearch)
	mux.HandleFunc("/search", s.handleLookupTitle)
	mux.HandleFunc("/search/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/detail", s.handleLookupID)
	mux.HandleFunc("/poster", s.handlePoster)
	mux.HandleFunc("/admin/reindex", s.handleReindex)
	mux.HandleFunc("/admin/seed", s.handleSeed)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "catalog",
		otelhttp.WithFilter(func(r *http.Request) bool { return !isOpsPath(r.URL.Path) }),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateLimit, s.rateBurst, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	results := make([]string, len(s.checks))
	var wg sync.WaitGroup
	for i, check := range s.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = "ok"
			if err := check.pinger.Ping(ctx); err != nil {
				results[i] = "fail"
				s.logger.Warn("health check failed",
					slog.String("dependency", check.name),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	wg.Wait()

	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	status := http.StatusOK
	for i, check := range s.checks {
		payload[check.name] = results[i]
		if results[i] != "ok" {
			payload["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, payload)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	page, err := parsePositiveInt(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid page")
		return
	}

	response, err := s.catalog.Search(r.Context(), query, page)
	if err != nil {
		s.logger.Warn("search request failed",
			slog.String("query", truncate(query, 80)),
			slog.String("error", err.Error()),
		)
		s.writeServiceError(w, err)
		return
	}

	s.logger.Info("search completed",
		slog.String("query", truncate(query, 80)),
		slog.String("source", string(response.Source)),
		slog.String("reason", string(response.Reason)),
		slog.Int("hits", response.Count),
		slog.Int64("elapsedMs", response.ElapsedMS),
	)
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleLookupTitle(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if title == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	if len(title) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "title too long (max 500 characters)")
		return
	}

	result, err := s.catalog.LookupTitle(r.Context(), title)
	if err != nil {
		s.logger.Warn("title lookup failed",
			slog.String("title", truncate(title, 80)),
			slog.String("error", err.Error()),
		)
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleLookupID(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("imdbID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "imdbID is required")
		return
	}

	result, err := s.catalog.LookupID(r.Context(), id)
	if err != nil {
		s.logger.Warn("id lookup failed",
			slog.String("id", truncate(id, 40)),
			slog.String("error", err.Error()),
		)
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.catalog.Diagnostics(),
	})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.adminTimeout)
	defer cancel()

	result, err := s.catalog.Reindex(ctx)
	if err != nil {
		s.logger.Error("reindex failed",
			slog.Int("indexed", result.Indexed),
			slog.Int("failed", result.Failed),
			slog.String("error", err.Error()),
		)
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type seedRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodPost) {
		return
	}
	var body seedRequest
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(body.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ids are required")
		return
	}
	if len(body.IDs) > maxSeedIDs {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("too many ids (max %d)", maxSeedIDs))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.adminTimeout)
	defer cancel()

	result, err := s.catalog.Seed(ctx, body.IDs)
	if err != nil {
		s.logger.Error("seed failed", slog.String("error", err.Error()))
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// allow enforces the method and the catalog dependency for a route.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if s.catalog == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "catalog service is not configured")
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "movie not found")
	case errors.Is(err, domain.ErrSearchUnavailable),
		errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrCacheUnavailable),
		errors.Is(err, domain.ErrIndexUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "catalog is temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
