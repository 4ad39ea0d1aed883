package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// NewMongoClient connects to MongoDB and verifies the connection. Booking
// relies on multi-document transactions, so the deployment must be a replica
// set or sharded cluster.
func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetRetryWrites(true).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// IndexSpec names a collection and the indexes it must carry.
type IndexSpec struct {
	Collection string
	Models     []mongo.IndexModel
}

// EnsureIndexes creates the given indexes. Creating an index that already
// exists with the same definition is a no-op in MongoDB.
func EnsureIndexes(ctx context.Context, database *mongo.Database, specs ...IndexSpec) error {
	for _, spec := range specs {
		if len(spec.Models) == 0 {
			continue
		}
		if _, err := database.Collection(spec.Collection).Indexes().CreateMany(ctx, spec.Models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", spec.Collection, err)
		}
	}
	return nil
}

// IsDuplicateKey reports whether err is a MongoDB duplicate key error.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// WithMongoTx runs fn inside a multi-document transaction. Collections used
// with the context handed to fn join the transaction. The driver retries fn
// on transient errors such as write conflicts, so fn must be safe to re-run.
// Nested calls reuse the outer session.
func WithMongoTx(ctx context.Context, client *mongo.Client, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := client.StartSession()
	if err != nil {
		return fmt.Errorf("start mongo session: %w", err)
	}
	defer sess.EndSession(context.Background())

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, opts)
	return err
}
