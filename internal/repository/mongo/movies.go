package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"filmly/catalog/internal/domain"
	"filmly/catalog/internal/metrics"
)

// MovieRepository is the durable document cache of movie records, keyed by external id.
type MovieRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

type ratingDoc struct {
	Source string `bson:"source"`
	Value  string `bson:"value"`
}

type movieDoc struct {
	ID           string      `bson:"_id"`
	TitleKey     string      `bson:"titleKey"`
	Full         bool        `bson:"full"`
	Title        string      `bson:"title"`
	Year         string      `bson:"year,omitempty"`
	Type         string      `bson:"type,omitempty"`
	Poster       string      `bson:"poster,omitempty"`
	Plot         string      `bson:"plot,omitempty"`
	Genre        string      `bson:"genre,omitempty"`
	Director     string      `bson:"director,omitempty"`
	Cast         string      `bson:"cast,omitempty"`
	Writer       string      `bson:"writer,omitempty"`
	Rated        string      `bson:"rated,omitempty"`
	Released     string      `bson:"released,omitempty"`
	Runtime      string      `bson:"runtime,omitempty"`
	Language     string      `bson:"language,omitempty"`
	Country      string      `bson:"country,omitempty"`
	Awards       string      `bson:"awards,omitempty"`
	Metascore    string      `bson:"metascore,omitempty"`
	IMDbRating   string      `bson:"imdbRating,omitempty"`
	IMDbVotes    string      `bson:"imdbVotes,omitempty"`
	BoxOffice    string      `bson:"boxOffice,omitempty"`
	Production   string      `bson:"production,omitempty"`
	Website      string      `bson:"website,omitempty"`
	TotalSeasons string      `bson:"totalSeasons,omitempty"`
	Ratings      []ratingDoc `bson:"ratings,omitempty"`
	UpdatedAt    int64       `bson:"updatedAt"`
}

func NewMovieRepository(client *mongo.Client, dbName, collectionName string) *MovieRepository {
	return &MovieRepository{
		collection: client.Database(dbName).Collection(collectionName),
		now:        time.Now,
	}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *MovieRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "titleKey", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *MovieRepository) Ping(ctx context.Context) error {
	return r.collection.Database().Client().Ping(ctx, readpref.Primary())
}

func (r *MovieRepository) GetByID(ctx context.Context, externalID string) (domain.MovieRecord, error) {
	id := domain.NormalizeExternalID(externalID)
	if id == "" {
		return domain.MovieRecord{}, fmt.Errorf("%w: external id is required", domain.ErrInvalidArgument)
	}
	return r.findOne(ctx, "get_by_id", bson.M{"_id": id}, nil)
}

// GetByTitle matches titles case- and accent-insensitively. Full records win over
// partial ones, then the most recently written.
func (r *MovieRepository) GetByTitle(ctx context.Context, title string) (domain.MovieRecord, error) {
	key := titleKey(title)
	if key == "" {
		return domain.MovieRecord{}, fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "full", Value: -1}, {Key: "updatedAt", Value: -1}})
	return r.findOne(ctx, "get_by_title", bson.M{"titleKey": key}, opts)
}

func (r *MovieRepository) findOne(ctx context.Context, op string, filter bson.M, opts *options.FindOneOptions) (domain.MovieRecord, error) {
	var doc movieDoc
	var err error
	if opts != nil {
		err = r.collection.FindOne(ctx, filter, opts).Decode(&doc)
	} else {
		err = r.collection.FindOne(ctx, filter).Decode(&doc)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			metrics.CacheOperationsTotal.WithLabelValues(op, "miss").Inc()
			return domain.MovieRecord{}, domain.ErrNotFound
		}
		metrics.CacheOperationsTotal.WithLabelValues(op, "error").Inc()
		return domain.MovieRecord{}, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	metrics.CacheOperationsTotal.WithLabelValues(op, "hit").Inc()
	return fromDoc(doc), nil
}

// Upsert replaces the stored record for the same external id. A full record always
// replaces; a partial record never replaces a stored full one.
func (r *MovieRepository) Upsert(ctx context.Context, record domain.MovieRecord) error {
	doc := toDoc(record, r.now())
	if !domain.ValidExternalID(doc.ID) {
		return fmt.Errorf("%w: cache records need a valid external id, got %q", domain.ErrInvalidArgument, record.ExternalID)
	}

	filter := bson.M{"_id": doc.ID}
	if !doc.Full {
		filter["full"] = bson.M{"$ne": true}
	}
	_, err := r.collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		if !doc.Full && mongo.IsDuplicateKeyError(err) {
			// A full record already exists under this id.
			metrics.CacheOperationsTotal.WithLabelValues("upsert", "kept_full").Inc()
			return nil
		}
		metrics.CacheOperationsTotal.WithLabelValues("upsert", "error").Inc()
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	metrics.CacheOperationsTotal.WithLabelValues("upsert", "ok").Inc()
	return nil
}

// Each streams every cached record to fn, stopping at the first error fn returns.
func (r *MovieRepository) Each(ctx context.Context, fn func(domain.MovieRecord) error) error {
	cursor, err := r.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc movieDoc
		if err := cursor.Decode(&doc); err != nil {
			return fmt.Errorf("%w: decode: %v", domain.ErrCacheUnavailable, err)
		}
		if err := fn(fromDoc(doc)); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

func toDoc(m domain.MovieRecord, now time.Time) movieDoc {
	doc := movieDoc{
		ID:           domain.NormalizeExternalID(m.ExternalID),
		TitleKey:     titleKey(m.Title),
		Full:         m.IsFull(),
		Title:        strings.TrimSpace(m.Title),
		Year:         m.Year,
		Type:         string(m.Type),
		Poster:       m.Poster,
		Plot:         m.Plot,
		Genre:        m.Genre,
		Director:     m.Director,
		Cast:         m.Cast,
		Writer:       m.Writer,
		Rated:        m.Rated,
		Released:     m.Released,
		Runtime:      m.Runtime,
		Language:     m.Language,
		Country:      m.Country,
		Awards:       m.Awards,
		Metascore:    m.Metascore,
		IMDbRating:   m.IMDbRating,
		IMDbVotes:    m.IMDbVotes,
		BoxOffice:    m.BoxOffice,
		Production:   m.Production,
		Website:      m.Website,
		TotalSeasons: m.TotalSeasons,
		UpdatedAt:    now.UTC().Unix(),
	}
	if len(m.Ratings) > 0 {
		doc.Ratings = make([]ratingDoc, 0, len(m.Ratings))
		for _, rating := range m.Ratings {
			doc.Ratings = append(doc.Ratings, ratingDoc{Source: rating.Source, Value: rating.Value})
		}
	}
	return doc
}

func fromDoc(doc movieDoc) domain.MovieRecord {
	record := domain.MovieRecord{
		ExternalID:   doc.ID,
		Title:        doc.Title,
		Year:         doc.Year,
		Type:         domain.NormalizeMediaType(doc.Type),
		Poster:       doc.Poster,
		Plot:         doc.Plot,
		Genre:        doc.Genre,
		Director:     doc.Director,
		Cast:         doc.Cast,
		Writer:       doc.Writer,
		Rated:        doc.Rated,
		Released:     doc.Released,
		Runtime:      doc.Runtime,
		Language:     doc.Language,
		Country:      doc.Country,
		Awards:       doc.Awards,
		Metascore:    doc.Metascore,
		IMDbRating:   doc.IMDbRating,
		IMDbVotes:    doc.IMDbVotes,
		BoxOffice:    doc.BoxOffice,
		Production:   doc.Production,
		Website:      doc.Website,
		TotalSeasons: doc.TotalSeasons,
	}
	for _, rating := range doc.Ratings {
		record.Ratings = append(record.Ratings, domain.Rating{Source: rating.Source, Value: rating.Value})
	}
	return record
}
