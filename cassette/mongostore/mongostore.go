// Package mongostore keeps each cassette as one MongoDB document holding the ordered
// interactions. Appends use $push, which is atomic on a single document.
package mongostore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/circleci/vcr/cassette"
	"github.com/circleci/vcr/o11y"
)

const DefaultCollection = "cassettes"

type Config struct {
	URI    string
	UseTLS bool
}

// Connect connects to mongo. The context passed in is expected to carry an o11y provider
// and is only used for reporting.
func Connect(ctx context.Context, appName string, cfg Config) (client *mongo.Client, err error) {
	_, span := o11y.StartSpan(ctx, "mongostore: connect")
	defer o11y.End(span, &err)

	mongoURL, err := url.Parse(cfg.URI)

	// url.Parse includes the URI in its error, and the URI can contain a password
	var urlError *url.Error
	if errors.As(err, &urlError) {
		return nil, fmt.Errorf("mongostore: failed to parse URI: %w", urlError.Err)
	} else if err != nil {
		return nil, err
	}
	span.AddField("host", mongoURL.Host)

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetAppName(appName)
	if cfg.UseTLS {
		opts = opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return mongo.Connect(ctx, opts)
}

type Store struct {
	coll *mongo.Collection
}

// New returns a store on the named collection, DefaultCollection when empty.
func New(database *mongo.Database, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{coll: database.Collection(collection)}
}

type record struct {
	Name         string     `bson:"_id"`
	Interactions []bson.Raw `bson:"interactions"`
}

func span(ctx context.Context, queryName, name string) (context.Context, o11y.Span) {
	ctx, span := o11y.StartSpan(ctx, "db: cassettes."+queryName)
	span.RecordMetric(o11y.Timing("db.query", "db.entity", "db.query_name", "result"))
	span.AddRawField("db.system", "mongo")
	span.AddRawField("db.entity", "cassettes")
	span.AddRawField("db.query_name", queryName)
	if name != "" {
		span.AddField("cassette", name)
	}
	return ctx, span
}

func (s *Store) Save(ctx context.Context, name string, interactions []cassette.Interaction) (err error) {
	ctx, span := span(ctx, "save", name)
	defer o11y.End(span, &err)

	docs := make([]bson.Raw, 0, len(interactions))
	for _, i := range interactions {
		doc, err := encode(i)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	_, err = s.coll.ReplaceOne(ctx,
		bson.M{"_id": name},
		record{Name: name, Interactions: docs},
		options.Replace().SetUpsert(true))
	return err
}

func (s *Store) Append(ctx context.Context, name string, i cassette.Interaction) (err error) {
	ctx, span := span(ctx, "append", name)
	defer o11y.End(span, &err)

	doc, err := encode(i)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$push": bson.M{"interactions": doc}},
		options.Update().SetUpsert(true))
	return err
}

func (s *Store) LoadAll(ctx context.Context, name string) (_ []cassette.Interaction, err error) {
	ctx, span := span(ctx, "load_all", name)
	defer o11y.End(span, &err)

	var r record
	err = s.coll.FindOne(ctx, bson.M{"_id": name}).Decode(&r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return []cassette.Interaction{}, nil
	}
	if err != nil {
		return nil, err
	}

	interactions := make([]cassette.Interaction, 0, len(r.Interactions))
	for n, raw := range r.Interactions {
		i, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decode interaction %d: %w", n, err)
		}
		interactions = append(interactions, i)
	}
	return interactions, nil
}

func (s *Store) Delete(ctx context.Context, name string) (err error) {
	ctx, span := span(ctx, "delete", name)
	defer o11y.End(span, &err)

	_, err = s.coll.DeleteOne(ctx, bson.M{"_id": name})
	return err
}

func (s *Store) List(ctx context.Context) (_ []string, err error) {
	ctx, span := span(ctx, "list", "")
	defer o11y.End(span, &err)

	ids, err := s.coll.Distinct(ctx, "_id", bson.D{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := id.(string); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// encode stores an interaction as a native document, with the same field names as the JSON
// cassette form, so it can be queried from the mongo shell.
func encode(i cassette.Interaction) (bson.Raw, error) {
	b, err := json.Marshal(i)
	if err != nil {
		return nil, err
	}
	var doc bson.Raw
	if err := bson.UnmarshalExtJSON(b, false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decode(raw bson.Raw) (cassette.Interaction, error) {
	var i cassette.Interaction
	b, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return i, err
	}
	err = json.Unmarshal(b, &i)
	return i, err
}

// HealthCheck reports the store's MongoDB deployment to healthcheck.New.
type HealthCheck struct {
	name   string
	client *mongo.Client
}

// HealthCheck is named "mongo" when name is empty.
func (s *Store) HealthCheck(name string) *HealthCheck {
	if name == "" {
		name = "mongo"
	}
	return &HealthCheck{name: name, client: s.coll.Database().Client()}
}

func (h *HealthCheck) HealthChecks() (name string, ready, live func(ctx context.Context) error) {
	return h.name, h.ready, nil
}

func (h *HealthCheck) ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.client.Ping(ctx, readpref.PrimaryPreferred()); err != nil {
		return fmt.Errorf("%s health check failed on ping: %w", h.name, err)
	}
	return nil
}
