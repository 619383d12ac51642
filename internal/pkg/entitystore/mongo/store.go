// Package mongo stores each entity table as a MongoDB collection. Documents
// are keyed by {pk, rk}; compare-and-swap is a ReplaceOne filtered on etag and
// create-only writes rely on the unique _id.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jcmexdev/ecommerce-orders/internal/pkg/entitystore"
)

type key struct {
	PartitionKey string `bson:"pk"`
	RowKey       string `bson:"rk"`
}

type document struct {
	ID        key       `bson:"_id"`
	Data      bson.D    `bson:"data"`
	ETag      string    `bson:"etag"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type Store struct {
	db  *mongo.Database
	now func() time.Time
}

var _ entitystore.Store = (*Store)(nil)

func New(db *mongo.Database) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Connect dials uri and returns a Store on database name together with the
// client so the caller can Disconnect on shutdown.
func Connect(ctx context.Context, uri, name string) (*Store, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return New(client.Database(name)), client, nil
}

func (s *Store) Get(ctx context.Context, table, partitionKey, rowKey string) (entitystore.Entity, error) {
	var doc document
	err := s.db.Collection(table).FindOne(ctx, bson.M{"_id": key{partitionKey, rowKey}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entitystore.Entity{}, entitystore.ErrNotFound
	}
	if err != nil {
		return entitystore.Entity{}, fmt.Errorf("mongo: get %s/%s/%s: %w", table, partitionKey, rowKey, err)
	}
	return toEntity(doc)
}

func (s *Store) Put(ctx context.Context, table string, e entitystore.Entity, expected entitystore.ETag) (entitystore.ETag, error) {
	var data bson.D
	if err := bson.UnmarshalExtJSON(e.Data, false, &data); err != nil {
		return "", fmt.Errorf("mongo: encode %s/%s/%s: %w", table, e.PartitionKey, e.RowKey, err)
	}
	doc := document{
		ID:        key{e.PartitionKey, e.RowKey},
		Data:      data,
		ETag:      uuid.NewString(),
		UpdatedAt: s.now(),
	}
	coll := s.db.Collection(table)

	if expected == entitystore.IfAbsent {
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return "", entitystore.ErrConflict
			}
			return "", fmt.Errorf("mongo: insert %s/%s/%s: %w", table, e.PartitionKey, e.RowKey, err)
		}
		return entitystore.ETag(doc.ETag), nil
	}

	res, err := coll.ReplaceOne(ctx, bson.M{"_id": doc.ID, "etag": string(expected)}, doc)
	if err != nil {
		return "", fmt.Errorf("mongo: replace %s/%s/%s: %w", table, e.PartitionKey, e.RowKey, err)
	}
	if res.MatchedCount == 1 {
		return entitystore.ETag(doc.ETag), nil
	}

	n, err := coll.CountDocuments(ctx, bson.M{"_id": doc.ID})
	if err != nil {
		return "", fmt.Errorf("mongo: replace %s/%s/%s: %w", table, e.PartitionKey, e.RowKey, err)
	}
	if n == 0 {
		return "", entitystore.ErrNotFound
	}
	return "", entitystore.ErrConflict
}

func (s *Store) Delete(ctx context.Context, table, partitionKey, rowKey string) error {
	res, err := s.db.Collection(table).DeleteOne(ctx, bson.M{"_id": key{partitionKey, rowKey}})
	if err != nil {
		return fmt.Errorf("mongo: delete %s/%s/%s: %w", table, partitionKey, rowKey, err)
	}
	if res.DeletedCount == 0 {
		return entitystore.ErrNotFound
	}
	return nil
}

func (s *Store) Scan(ctx context.Context, table string, match entitystore.Predicate) iter.Seq2[entitystore.Entity, error] {
	return func(yield func(entitystore.Entity, error) bool) {
		cur, err := s.db.Collection(table).Find(ctx, bson.M{})
		if err != nil {
			yield(entitystore.Entity{}, fmt.Errorf("mongo: scan %s: %w", table, err))
			return
		}
		defer cur.Close(context.WithoutCancel(ctx))

		for cur.Next(ctx) {
			var doc document
			if err := cur.Decode(&doc); err != nil {
				if !yield(entitystore.Entity{}, fmt.Errorf("mongo: scan %s: %w", table, err)) {
					return
				}
				continue
			}
			e, err := toEntity(doc)
			if err != nil {
				if !yield(entitystore.Entity{}, err) {
					return
				}
				continue
			}
			if match != nil && !match(e) {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(entitystore.Entity{}, fmt.Errorf("mongo: scan %s: %w", table, err))
		}
	}
}

func toEntity(doc document) (entitystore.Entity, error) {
	data, err := bson.MarshalExtJSON(doc.Data, false, false)
	if err != nil {
		return entitystore.Entity{}, fmt.Errorf("mongo: decode %s/%s: %w", doc.ID.PartitionKey, doc.ID.RowKey, err)
	}
	return entitystore.Entity{
		PartitionKey: doc.ID.PartitionKey,
		RowKey:       doc.ID.RowKey,
		Data:         data,
		ETag:         entitystore.ETag(doc.ETag),
		Timestamp:    doc.UpdatedAt,
	}, nil
}
