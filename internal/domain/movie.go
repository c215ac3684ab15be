package domain

import (
	"regexp"
	"strings"
)

type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeSeries  MediaType = "series"
	MediaTypeEpisode MediaType = "episode"
)

// NormalizeMediaType returns the empty type for anything that is not a known kind.
func NormalizeMediaType(raw string) MediaType {
	switch MediaType(strings.ToLower(strings.TrimSpace(raw))) {
	case MediaTypeMovie:
		return MediaTypeMovie
	case MediaTypeSeries:
		return MediaTypeSeries
	case MediaTypeEpisode:
		return MediaTypeEpisode
	default:
		return ""
	}
}

type Rating struct {
	Source string `json:"source" bson:"source"`
	Value  string `json:"value" bson:"value"`
}

// MovieRecord is the canonical title record. Every descriptive field is optional and
// an empty value means the field is absent.
type MovieRecord struct {
	ExternalID   string    `json:"externalID"`
	Title        string    `json:"title"`
	Year         string    `json:"year,omitempty"`
	Type         MediaType `json:"type,omitempty"`
	Poster       string    `json:"poster,omitempty"`
	Plot         string    `json:"plot,omitempty"`
	Genre        string    `json:"genre,omitempty"`
	Director     string    `json:"director,omitempty"`
	Cast         string    `json:"cast,omitempty"`
	Writer       string    `json:"writer,omitempty"`
	Rated        string    `json:"rated,omitempty"`
	Released     string    `json:"released,omitempty"`
	Runtime      string    `json:"runtime,omitempty"`
	Language     string    `json:"language,omitempty"`
	Country      string    `json:"country,omitempty"`
	Awards       string    `json:"awards,omitempty"`
	Metascore    string    `json:"metascore,omitempty"`
	IMDbRating   string    `json:"imdbRating,omitempty"`
	IMDbVotes    string    `json:"imdbVotes,omitempty"`
	BoxOffice    string    `json:"boxOffice,omitempty"`
	Production   string    `json:"production,omitempty"`
	Website      string    `json:"website,omitempty"`
	TotalSeasons string    `json:"totalSeasons,omitempty"`
	Ratings      []Rating  `json:"ratings,omitempty"`
}

// IsFull reports whether the record carries detail fields. Partial records come from
// keyword search and lack a director.
func (m MovieRecord) IsFull() bool {
	return strings.TrimSpace(m.Director) != ""
}

var externalIDPattern = regexp.MustCompile(`^[a-z]{2}[0-9]+$`)

// ValidExternalID reports whether id looks like "tt0816692".
func ValidExternalID(id string) bool {
	return externalIDPattern.MatchString(id)
}

// NormalizeExternalID trims and lowercases an identifier without validating it.
func NormalizeExternalID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// IndexKey is the search index document id: the external id, or "<title>-<year>"
// when the record has no identity.
func IndexKey(m MovieRecord) string {
	if id := strings.TrimSpace(m.ExternalID); id != "" {
		return id
	}
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = "unknown"
	}
	year := strings.TrimSpace(m.Year)
	if year == "" {
		year = "unknown"
	}
	return title + "-" + year
}
