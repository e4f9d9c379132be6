package store

import (
	"context"
	"time"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UpsertProgress stores the reader's position in a book, keeping one row per
// (user, book).
func (db *DB) UpsertProgress(ctx context.Context, p *models.ReadingProgress) (out *models.ReadingProgress, err error) {
	defer observe("upsert", "reading_progress", time.Now(), &err)
	filter := bson.M{"userId": p.UserID, "bookId": p.BookID}
	err = upsertOne(ctx, db.Progress(), filter, bson.M{"$set": bson.M{
		"bookTitle":   p.BookTitle,
		"currentPage": p.CurrentPage,
		"totalPages":  p.TotalPages,
		"completed":   p.Completed,
		"lastRead":    time.Now().UTC(),
	}})
	if err != nil {
		return nil, err
	}
	return findOne[models.ReadingProgress](ctx, db.Progress(), filter)
}

// EnsureReadingProgress creates a row at page 0 of totalPages if none exists
// and otherwise only refreshes lastRead.
func (db *DB) EnsureReadingProgress(ctx context.Context, userID, bookID primitive.ObjectID, title string, totalPages int) (err error) {
	defer observe("upsert", "reading_progress", time.Now(), &err)
	return upsertOne(ctx, db.Progress(), bson.M{"userId": userID, "bookId": bookID}, bson.M{
		"$set": bson.M{"lastRead": time.Now().UTC()},
		"$setOnInsert": bson.M{
			"bookTitle":   title,
			"currentPage": 0,
			"totalPages":  totalPages,
			"completed":   false,
		},
	})
}

func (db *DB) ProgressFor(ctx context.Context, userID, bookID primitive.ObjectID) (p *models.ReadingProgress, err error) {
	defer observe("find_one", "reading_progress", time.Now(), &err)
	return findOne[models.ReadingProgress](ctx, db.Progress(), bson.M{"userId": userID, "bookId": bookID})
}

// ProgressForUser returns every progress row of the user, most recently read first.
func (db *DB) ProgressForUser(ctx context.Context, userID primitive.ObjectID) (rows []models.ReadingProgress, err error) {
	defer observe("find", "reading_progress", time.Now(), &err)
	opts := options.Find().SetSort(bson.D{{Key: "lastRead", Value: -1}})
	return findAll[models.ReadingProgress](ctx, db.Progress(), bson.M{"userId": userID}, opts)
}

// ReadersOfBook returns the users holding a progress row for bookID.
func (db *DB) ReadersOfBook(ctx context.Context, bookID primitive.ObjectID) (users []primitive.ObjectID, err error) {
	defer observe("distinct", "reading_progress", time.Now(), &err)
	raw, err := db.Progress().Distinct(ctx, "userId", bson.M{"bookId": bookID})
	if err != nil {
		return nil, err
	}
	return objectIDs(raw), nil
}

// CoReadCounts counts, per book, how many of userIDs have progress on it,
// skipping exclude, ordered by count descending.
func (db *DB) CoReadCounts(ctx context.Context, userIDs, exclude []primitive.ObjectID) (counts []models.BookCount, err error) {
	if len(userIDs) == 0 {
		return []models.BookCount{}, nil
	}
	defer observe("aggregate", "reading_progress", time.Now(), &err)
	match := bson.M{"userId": bson.M{"$in": userIDs}}
	if len(exclude) > 0 {
		match["bookId"] = bson.M{"$nin": exclude}
	}
	cur, err := db.Progress().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$bookId", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	counts = []models.BookCount{}
	if err := cur.All(ctx, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}
