package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrNotFound is returned when a lookup by id or key matches nothing.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a write violates a unique index.
var ErrDuplicate = errors.New("duplicate key")

type DB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func NewMongoDB(ctx context.Context, uri, dbName string) (*DB, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logging.Info().Str("db", dbName).Msg("connected to MongoDB")
	return &DB{
		Client:   client,
		Database: client.Database(dbName),
	}, nil
}

func (db *DB) Users() *mongo.Collection {
	return db.Database.Collection("users")
}

func (db *DB) Profiles() *mongo.Collection {
	return db.Database.Collection("profiles")
}

func (db *DB) Categories() *mongo.Collection {
	return db.Database.Collection("categories")
}

func (db *DB) Books() *mongo.Collection {
	return db.Database.Collection("books")
}

func (db *DB) Collections() *mongo.Collection {
	return db.Database.Collection("collections")
}

func (db *DB) Ratings() *mongo.Collection {
	return db.Database.Collection("ratings")
}

func (db *DB) Comments() *mongo.Collection {
	return db.Database.Collection("comments")
}

func (db *DB) Progress() *mongo.Collection {
	return db.Database.Collection("reading_progress")
}

func (db *DB) Contents() *mongo.Collection {
	return db.Database.Collection("book_contents")
}

func (db *DB) EmailLogs() *mongo.Collection {
	return db.Database.Collection("email_logs")
}

func (db *DB) Ping(ctx context.Context) error {
	return db.Client.Ping(ctx, nil)
}

func (db *DB) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.Client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and lookup indexes every collection relies on.
// It is safe to run repeatedly.
func (db *DB) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	pair := bson.D{{Key: "userId", Value: 1}, {Key: "bookId", Value: 1}}

	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{db.Users(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique},
		}},
		{db.Profiles(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: unique},
		}},
		{db.Categories(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: unique},
		}},
		{db.Books(), []mongo.IndexModel{
			{
				Keys: bson.D{{Key: "isbn", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"isbn": bson.M{"$type": "string", "$gt": ""}}),
			},
			{Keys: bson.D{{Key: "isPublic", Value: 1}, {Key: "category", Value: 1}, {Key: "viewCount", Value: -1}}},
			{Keys: bson.D{{Key: "uploadedBy", Value: 1}, {Key: "uploadedOn", Value: -1}}},
			{Keys: bson.D{{Key: "author", Value: 1}}},
		}},
		{db.Collections(), []mongo.IndexModel{{Keys: pair, Options: unique}}},
		{db.Ratings(), []mongo.IndexModel{
			{Keys: pair, Options: unique},
			{Keys: bson.D{{Key: "bookId", Value: 1}}},
		}},
		{db.Comments(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "bookId", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{db.Progress(), []mongo.IndexModel{
			{Keys: pair, Options: unique},
			{Keys: bson.D{{Key: "bookId", Value: 1}}},
		}},
		{db.Contents(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "bookId", Value: 1}}, Options: unique},
		}},
		{db.EmailLogs(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "sentAt", Value: -1}}},
		}},
	}
	for _, s := range specs {
		if _, err := s.coll.Indexes().CreateMany(ctx, s.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", s.coll.Name(), err)
		}
	}
	return nil
}

// observe records the duration and outcome of one store call. Not-found
// results are not counted as errors.
func observe(op, coll string, start time.Time, err *error) {
	var e error
	if err != nil && *err != nil && !errors.Is(*err, ErrNotFound) {
		e = *err
	}
	metrics.RecordDBQuery(op, coll, time.Since(start), e)
}

// mapErr converts driver sentinel errors into store errors.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

// upsertOne runs an upserting UpdateOne. Two concurrent upserts on the same
// unique key can race and one fails with a duplicate-key error; the retry
// then matches the row the other one inserted.
func upsertOne(ctx context.Context, coll *mongo.Collection, filter, update any) error {
	opts := options.Update().SetUpsert(true)
	_, err := coll.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		_, err = coll.UpdateOne(ctx, filter, update, opts)
	}
	return mapErr(err)
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter any, opts ...*options.FindOneOptions) (*T, error) {
	var v T
	if err := coll.FindOne(ctx, filter, opts...).Decode(&v); err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}

// skip returns the number of documents before page (1-based).
func skip(page, size int) int64 {
	if page < 1 {
		page = 1
	}
	return int64((page - 1) * size)
}
