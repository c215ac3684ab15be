package omdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"filmly/catalog/internal/domain"
	"filmly/catalog/internal/metrics"
)

const (
	defaultBaseURL = "http://www.omdbapi.com/"
	redisCacheKey  = "catalog:omdb:"
	notAvailable   = "N/A"
)

const (
	opLookupTitle = "lookup_title"
	opLookupID    = "lookup_id"
	opSearch      = "search"
)

type Client struct {
	apiKey   string
	baseURL  string
	http     *http.Client
	redis    *redis.Client
	cacheTTL time.Duration
	limiter  *rate.Limiter
}

type Config struct {
	APIKey   string
	BaseURL  string
	Client   *http.Client
	Redis    *redis.Client
	CacheTTL time.Duration
	// RateLimit is requests per second; zero disables client-side limiting.
	RateLimit float64
	RateBurst int
}

type ratingPayload struct {
	Source string `json:"Source"`
	Value  string `json:"Value"`
}

type titlePayload struct {
	Title        string          `json:"Title"`
	Year         string          `json:"Year"`
	Rated        string          `json:"Rated"`
	Released     string          `json:"Released"`
	Runtime      string          `json:"Runtime"`
	Genre        string          `json:"Genre"`
	Director     string          `json:"Director"`
	Writer       string          `json:"Writer"`
	Actors       string          `json:"Actors"`
	Plot         string          `json:"Plot"`
	Language     string          `json:"Language"`
	Country      string          `json:"Country"`
	Awards       string          `json:"Awards"`
	Poster       string          `json:"Poster"`
	Ratings      []ratingPayload `json:"Ratings"`
	Metascore    string          `json:"Metascore"`
	IMDbRating   string          `json:"imdbRating"`
	IMDbVotes    string          `json:"imdbVotes"`
	IMDbID       string          `json:"imdbID"`
	Type         string          `json:"Type"`
	TotalSeasons string          `json:"totalSeasons"`
	BoxOffice    string          `json:"BoxOffice"`
	Production   string          `json:"Production"`
	Website      string          `json:"Website"`
	Response     string          `json:"Response"`
	Error        string          `json:"Error"`
}

type searchItemPayload struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	IMDbID string `json:"imdbID"`
	Type   string `json:"Type"`
	Poster string `json:"Poster"`
}

type searchPayload struct {
	Search       []searchItemPayload `json:"Search"`
	TotalResults string              `json:"totalResults"`
	Response     string              `json:"Response"`
	Error        string              `json:"Error"`
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Client{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		baseURL:  baseURL,
		http:     httpClient,
		redis:    cfg.Redis,
		cacheTTL: cacheTTL,
		limiter:  limiter,
	}
}

func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// LookupByTitle fetches the full record whose title matches exactly.
func (c *Client) LookupByTitle(ctx context.Context, title string) (domain.MovieRecord, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.MovieRecord{}, fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	}
	return c.lookup(ctx, opLookupTitle, url.Values{"t": {title}, "plot": {"full"}}, strings.ToLower(title))
}

// LookupByID fetches the full record for an external id such as "tt0816692".
func (c *Client) LookupByID(ctx context.Context, externalID string) (domain.MovieRecord, error) {
	id := domain.NormalizeExternalID(externalID)
	if !domain.ValidExternalID(id) {
		return domain.MovieRecord{}, fmt.Errorf("%w: malformed external id %q", domain.ErrInvalidArgument, externalID)
	}
	return c.lookup(ctx, opLookupID, url.Values{"i": {id}, "plot": {"full"}}, id)
}

// SearchByKeyword runs a broad keyword search. A "no match" answer is an empty page,
// not an error.
func (c *Client) SearchByKeyword(ctx context.Context, query string, page int) (domain.KeywordPage, error) {
	return c.SearchByKeywordAndType(ctx, query, page, "")
}

// SearchByKeywordAndType narrows the keyword search to one media type. An empty
// type searches every kind.
func (c *Client) SearchByKeywordAndType(ctx context.Context, query string, page int, mediaType domain.MediaType) (domain.KeywordPage, error) {
	if mediaType != "" && domain.NormalizeMediaType(string(mediaType)) == "" {
		return domain.KeywordPage{}, fmt.Errorf("%w: unknown media type %q", domain.ErrInvalidArgument, mediaType)
	}
	mediaType = domain.NormalizeMediaType(string(mediaType))
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.KeywordPage{}, fmt.Errorf("%w: query is required", domain.ErrInvalidArgument)
	}
	if page < 1 {
		page = 1
	}

	cacheKey := fmt.Sprintf("%s:%s:%s:%d", opSearch, mediaType, strings.ToLower(query), page)
	var cached domain.KeywordPage
	if c.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	var payload searchPayload
	params := url.Values{"s": {query}, "page": {strconv.Itoa(page)}}
	if mediaType != "" {
		params.Set("type", string(mediaType))
	}
	if err := c.get(ctx, opSearch, params, &payload); err != nil {
		return domain.KeywordPage{}, err
	}
	if !strings.EqualFold(payload.Response, "True") {
		if err := classifyError(payload.Error); !errors.Is(err, domain.ErrNotFound) {
			return domain.KeywordPage{}, err
		}
		return domain.KeywordPage{Results: []domain.MovieRecord{}}, nil
	}

	result := domain.KeywordPage{
		TotalResults: parseCount(payload.TotalResults),
		Results:      make([]domain.MovieRecord, 0, len(payload.Search)),
	}
	for _, item := range payload.Search {
		result.Results = append(result.Results, domain.MovieRecord{
			ExternalID: domain.NormalizeExternalID(clean(item.IMDbID)),
			Title:      clean(item.Title),
			Year:       clean(item.Year),
			Type:       domain.NormalizeMediaType(clean(item.Type)),
			Poster:     clean(item.Poster),
		})
	}
	c.cacheSet(ctx, cacheKey, result)
	return result, nil
}

func (c *Client) lookup(ctx context.Context, op string, params url.Values, key string) (domain.MovieRecord, error) {
	cacheKey := op + ":" + key
	var cached domain.MovieRecord
	if c.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	var payload titlePayload
	if err := c.get(ctx, op, params, &payload); err != nil {
		return domain.MovieRecord{}, err
	}
	if !strings.EqualFold(payload.Response, "True") {
		return domain.MovieRecord{}, classifyError(payload.Error)
	}
	record := payload.toRecord()
	c.cacheSet(ctx, cacheKey, record)
	return record, nil
}

func (c *Client) get(ctx context.Context, op string, params url.Values, dest any) error {
	if !c.Enabled() {
		return fmt.Errorf("%w: api key not configured", domain.ErrProviderUnavailable)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.ProviderRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
			return fmt.Errorf("%w: rate limit wait: %v", domain.ErrProviderUnavailable, err)
		}
	}

	params.Set("apikey", c.apiKey)
	reqURL := c.baseURL
	if strings.Contains(reqURL, "?") {
		reqURL += "&" + params.Encode()
	} else {
		reqURL += "?" + params.Encode()
	}

	startedAt := time.Now()
	status := "error"
	defer func() {
		metrics.ProviderRequestsTotal.WithLabelValues(op, status).Inc()
		metrics.ProviderRequestDuration.WithLabelValues(op).Observe(time.Since(startedAt).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: omdb HTTP %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: decode omdb response: %v", domain.ErrProviderUnavailable, err)
	}
	status = "ok"
	return nil
}

func (c *Client) cacheGet(ctx context.Context, key string, dest any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, redisCacheKey+key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (c *Client) cacheSet(ctx context.Context, key string, value any) {
	if c.redis == nil {
		return
	}
	if data, err := json.Marshal(value); err == nil {
		_ = c.redis.Set(ctx, redisCacheKey+key, data, c.cacheTTL).Err()
	}
}

func (p titlePayload) toRecord() domain.MovieRecord {
	record := domain.MovieRecord{
		ExternalID:   domain.NormalizeExternalID(clean(p.IMDbID)),
		Title:        clean(p.Title),
		Year:         clean(p.Year),
		Type:         domain.NormalizeMediaType(clean(p.Type)),
		Poster:       clean(p.Poster),
		Plot:         clean(p.Plot),
		Genre:        clean(p.Genre),
		Director:     clean(p.Director),
		Cast:         clean(p.Actors),
		Writer:       clean(p.Writer),
		Rated:        clean(p.Rated),
		Released:     clean(p.Released),
		Runtime:      clean(p.Runtime),
		Language:     clean(p.Language),
		Country:      clean(p.Country),
		Awards:       clean(p.Awards),
		Metascore:    clean(p.Metascore),
		IMDbRating:   clean(p.IMDbRating),
		IMDbVotes:    clean(p.IMDbVotes),
		BoxOffice:    clean(p.BoxOffice),
		Production:   clean(p.Production),
		Website:      clean(p.Website),
		TotalSeasons: clean(p.TotalSeasons),
	}
	for _, rating := range p.Ratings {
		source, value := clean(rating.Source), clean(rating.Value)
		if source == "" || value == "" {
			continue
		}
		record.Ratings = append(record.Ratings, domain.Rating{Source: source, Value: value})
	}
	return record
}

// clean maps the provider's "N/A" sentinel to an absent value.
func clean(value string) string {
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, notAvailable) {
		return ""
	}
	return value
}

// classifyError separates "no match" answers from service-side failures such as an
// invalid key or an exhausted request quota.
func classifyError(message string) error {
	lower := strings.ToLower(strings.TrimSpace(message))
	switch {
	case strings.Contains(lower, "not found"), strings.Contains(lower, "too many results"):
		return fmt.Errorf("%w: %s", domain.ErrNotFound, message)
	case lower == "":
		return fmt.Errorf("%w: negative response without error", domain.ErrProviderUnavailable)
	default:
		return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, message)
	}
}

func parseCount(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
