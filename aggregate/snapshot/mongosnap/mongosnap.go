// Package mongosnap provides a MongoDB-backed snapshot.Store.
package mongosnap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/jpkontreras/orderflow/aggregate/snapshot"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is the MongoDB implementation of snapshot.Store.
type Store struct {
	url     string
	dbname  string
	colname string

	client *mongo.Client
	col    *mongo.Collection

	onceConnect sync.Once
}

var _ snapshot.Store = (*Store)(nil)

// Option is a Store option.
type Option func(*Store)

// URL returns an Option that specifies the URL to the MongoDB instance. An
// empty URL means "use the default".
//
// Defaults to the environment variable "MONGO_URL".
func URL(url string) Option {
	return func(s *Store) {
		s.url = url
	}
}

// Client returns an Option that provides an existing mongo client to the
// Store. When used, the URL option has no effect.
func Client(client *mongo.Client) Option {
	return func(s *Store) {
		s.client = client
	}
}

// Database returns an Option that specifies the database name for snapshots.
func Database(name string) Option {
	return func(s *Store) {
		s.dbname = name
	}
}

// Collection returns an Option that specifies the collection name for
// snapshots.
func Collection(name string) Option {
	return func(s *Store) {
		s.colname = name
	}
}

// New returns a new Store.
func New(opts ...Option) *Store {
	var s Store
	for _, opt := range opts {
		opt(&s)
	}
	if s.dbname == "" {
		s.dbname = "orderflow"
	}
	if s.colname == "" {
		s.colname = "snapshots"
	}
	return &s
}

// Save saves the given snapshot into the database, replacing any previous
// snapshot of the same stream.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot) error {
	if err := s.connectOnce(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if _, err := s.col.ReplaceOne(
		ctx,
		bson.M{"streamId": snap.StreamID},
		snap,
		options.Replace().SetUpsert(true),
	); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

// Latest returns the latest snapshot of the given stream.
func (s *Store) Latest(ctx context.Context, streamID uuid.UUID) (snapshot.Snapshot, error) {
	if err := s.connectOnce(ctx); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("connect: %w", err)
	}

	res := s.col.FindOne(
		ctx,
		bson.M{"streamId": streamID},
		options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}}),
	)

	var snap snapshot.Snapshot
	if err := res.Decode(&snap); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return snapshot.Snapshot{}, fmt.Errorf("stream %s: %w", streamID, snapshot.ErrNotFound)
		}
		return snapshot.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	return snap, nil
}

// Delete removes the snapshot of the given stream.
func (s *Store) Delete(ctx context.Context, streamID uuid.UUID) error {
	if err := s.connectOnce(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if _, err := s.col.DeleteOne(ctx, bson.M{"streamId": streamID}); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}

	return nil
}

func (s *Store) connectOnce(ctx context.Context) error {
	var err error
	s.onceConnect.Do(func() {
		err = s.connect(ctx)
	})
	return err
}

func (s *Store) connect(ctx context.Context) error {
	if s.client == nil {
		uri := s.url
		if uri == "" {
			uri = os.Getenv("MONGO_URL")
		}

		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			return fmt.Errorf("connect to mongodb: %w", err)
		}

		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("ping: %w", err)
		}

		s.client = client
	}

	db := s.client.Database(s.dbname)
	s.col = db.Collection(s.colname)

	if _, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "streamId", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create index: %w", err)
	}

	return nil
}
