package domain

type SearchSource string

const (
	SearchSourceIndex            SearchSource = "index"
	SearchSourceProviderFallback SearchSource = "provider-fallback"
)

type FallbackReason string

const (
	FallbackReasonNone       FallbackReason = ""
	FallbackReasonLowHits    FallbackReason = "low-hits"
	FallbackReasonIndexError FallbackReason = "index-error"
)

// SearchHit is a single ranked result. Score is nil when the source has no
// comparable relevance score.
type SearchHit struct {
	ID     string      `json:"id"`
	Score  *float64    `json:"score"`
	Record MovieRecord `json:"movie"`
}

type SearchResponse struct {
	Query        string         `json:"q"`
	Page         int            `json:"page"`
	Count        int            `json:"count"`
	Hits         []SearchHit    `json:"hits"`
	Source       SearchSource   `json:"source"`
	Reason       FallbackReason `json:"reason,omitempty"`
	TotalResults int            `json:"totalResults,omitempty"`
	ElapsedMS    int64          `json:"elapsedMs"`
}

// KeywordPage is one page of provider keyword search results. Results are partial.
type KeywordPage struct {
	TotalResults int           `json:"totalResults"`
	Results      []MovieRecord `json:"results"`
}

// Field names shared by the index mapping and weighted clauses.
const (
	FieldTitle      = "title"
	FieldYear       = "year"
	FieldGenre      = "genre"
	FieldDirector   = "director"
	FieldCast       = "cast"
	FieldPlot       = "plot"
	FieldExternalID = "externalID"
)

type WeightedClause struct {
	Field string
	Query string
	Boost float64
}

// FieldBoosts is the ranking policy for the index query.
type FieldBoosts struct {
	Title    float64 `json:"title"`
	Director float64 `json:"director"`
	Cast     float64 `json:"cast"`
	Plot     float64 `json:"plot"`
	Genre    float64 `json:"genre"`
}

func DefaultFieldBoosts() FieldBoosts {
	return FieldBoosts{
		Title:    1,
		Director: 5,
		Cast:     5,
		Plot:     0.3,
		Genre:    0.3,
	}
}

// Valid reports whether director and cast outrank title, and title outranks plot
// and genre, with all weights positive.
func (b FieldBoosts) Valid() bool {
	if b.Title <= 0 || b.Director <= 0 || b.Cast <= 0 || b.Plot <= 0 || b.Genre <= 0 {
		return false
	}
	return b.Director > b.Title && b.Cast > b.Title && b.Title > b.Plot && b.Title > b.Genre
}

// Clauses expands the boosts into one clause per field for query.
func (b FieldBoosts) Clauses(query string) []WeightedClause {
	return []WeightedClause{
		{Field: FieldTitle, Query: query, Boost: b.Title},
		{Field: FieldDirector, Query: query, Boost: b.Director},
		{Field: FieldCast, Query: query, Boost: b.Cast},
		{Field: FieldPlot, Query: query, Boost: b.Plot},
		{Field: FieldGenre, Query: query, Boost: b.Genre},
	}
}

type LookupSource string

const (
	LookupSourceCache    LookupSource = "cache"
	LookupSourceProvider LookupSource = "provider"
)

type LookupResult struct {
	Source LookupSource `json:"source"`
	Movie  MovieRecord  `json:"movie"`
}

type ReindexResult struct {
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

type SeedResult struct {
	Requested int      `json:"requested"`
	Stored    int      `json:"stored"`
	Failed    []string `json:"failed,omitempty"`
	Invalid   []string `json:"invalid,omitempty"`
}

// SourceDiagnostics is the observed health of one upstream source.
type SourceDiagnostics struct {
	Name                string `json:"name"`
	TotalRequests       int64  `json:"totalRequests"`
	TotalFailures       int64  `json:"totalFailures"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
	LastError           string `json:"lastError,omitempty"`
	LastLatencyMS       int64  `json:"lastLatencyMs"`
	LastTimeout         bool   `json:"lastTimeout"`
	LastSuccessAt       *int64 `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *int64 `json:"lastFailureAt,omitempty"`
}
