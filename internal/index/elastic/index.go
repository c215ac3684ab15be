package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"filmly/catalog/internal/domain"
)

const defaultIndexName = "movies"

// Index is the full-text view of cached movie records. It is derived data: losing it
// is repaired by re-indexing from the document cache.
type Index struct {
	client *elasticsearch.Client
	name   string
}

type Config struct {
	Addresses []string
	Index     string
	Transport http.RoundTripper
}

func NewClient(cfg Config) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Transport: cfg.Transport,
	})
}

func NewIndex(client *elasticsearch.Client, name string) *Index {
	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultIndexName
	}
	return &Index{client: client, name: name}
}

func (i *Index) Name() string {
	return i.name
}

// Unknown fields stay in _source but are not indexed.
var indexMapping = map[string]any{
	"mappings": map[string]any{
		"dynamic": false,
		"properties": map[string]any{
			domain.FieldTitle:      map[string]string{"type": "text"},
			domain.FieldYear:       map[string]string{"type": "keyword"},
			domain.FieldGenre:      map[string]string{"type": "text"},
			domain.FieldDirector:   map[string]string{"type": "text"},
			domain.FieldCast:       map[string]string{"type": "text"},
			domain.FieldPlot:       map[string]string{"type": "text"},
			domain.FieldExternalID: map[string]string{"type": "keyword"},
			"type":                 map[string]string{"type": "keyword"},
			"poster":               map[string]any{"type": "keyword", "index": false},
		},
	},
}

// EnsureSchema creates the index with its mapping when it does not exist yet.
func (i *Index) EnsureSchema(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{i.name}}.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("%w: index exists check: HTTP %d", domain.ErrIndexUnavailable, res.StatusCode)
	}

	body, err := json.Marshal(indexMapping)
	if err != nil {
		return err
	}
	res, err = esapi.IndicesCreateRequest{Index: i.name, Body: bytes.NewReader(body)}.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		message := readError(res)
		// Another instance created it first.
		if strings.Contains(message, "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("%w: create index: %s", domain.ErrIndexUnavailable, message)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string             `json:"_id"`
			Score  *float64           `json:"_score"`
			Source domain.MovieRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query runs a bool/should query with one boosted match clause per weighted field and
// returns hits in ranked order.
func (i *Index) Query(ctx context.Context, clauses []domain.WeightedClause, limit int) ([]domain.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	should := make([]any, 0, len(clauses))
	for _, clause := range clauses {
		if strings.TrimSpace(clause.Query) == "" || clause.Field == "" {
			continue
		}
		should = append(should, map[string]any{
			"match": map[string]any{
				clause.Field: map[string]any{
					"query": clause.Query,
					"boost": clause.Boost,
				},
			},
		})
	}
	if len(should) == 0 {
		return nil, fmt.Errorf("%w: no query clauses", domain.ErrInvalidArgument)
	}

	body, err := json.Marshal(map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{
				"should":               should,
				"minimum_should_match": 1,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	res, err := esapi.SearchRequest{Index: []string{i.name}, Body: bytes.NewReader(body)}.Do(ctx, i.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: search: %s", domain.ErrIndexUnavailable, readError(res))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", domain.ErrIndexUnavailable, err)
	}
	hits := make([]domain.SearchHit, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		hits = append(hits, domain.SearchHit{
			ID:     hit.ID,
			Score:  hit.Score,
			Record: hit.Source,
		})
	}
	return hits, nil
}

// Upsert replaces the indexed document for the record without forcing a refresh.
func (i *Index) Upsert(ctx context.Context, record domain.MovieRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	res, err := esapi.IndexRequest{
		Index:      i.name,
		DocumentID: domain.IndexKey(record),
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: index document: %s", domain.ErrIndexUnavailable, readError(res))
	}
	return nil
}

func (i *Index) Ping(ctx context.Context) error {
	res, err := esapi.PingRequest{}.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	drain(res)
	if res.IsError() {
		return fmt.Errorf("%w: ping: HTTP %d", domain.ErrIndexUnavailable, res.StatusCode)
	}
	return nil
}

func readError(res *esapi.Response) string {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	return fmt.Sprintf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64*1024))
	_ = res.Body.Close()
}
