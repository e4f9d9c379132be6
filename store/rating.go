package store

import (
	"context"
	"math"
	"time"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UpsertRating stores the user's rating of a book, replacing an earlier one,
// and refreshes the book's rating aggregate.
func (db *DB) UpsertRating(ctx context.Context, r *models.Rating) (out *models.Rating, err error) {
	defer observe("upsert", "ratings", time.Now(), &err)
	now := time.Now().UTC()
	filter := bson.M{"userId": r.UserID, "bookId": r.BookID}
	update := bson.M{
		"$set": bson.M{
			"username":  r.Username,
			"rating":    r.Rating,
			"review":    r.Review,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	if err := upsertOne(ctx, db.Ratings(), filter, update); err != nil {
		return nil, err
	}
	if err := db.RecomputeRating(ctx, r.BookID); err != nil {
		return nil, err
	}
	return findOne[models.Rating](ctx, db.Ratings(), filter)
}

func (db *DB) RatingsForBook(ctx context.Context, bookID primitive.ObjectID) ([]models.Rating, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	return findAll[models.Rating](ctx, db.Ratings(), bson.M{"bookId": bookID}, opts)
}

func (db *DB) RatingsForUser(ctx context.Context, userID primitive.ObjectID) (ratings []models.Rating, err error) {
	defer observe("find", "ratings", time.Now(), &err)
	return findAll[models.Rating](ctx, db.Ratings(), bson.M{"userId": userID})
}

// RatingFor returns the user's rating of a book.
func (db *DB) RatingFor(ctx context.Context, userID, bookID primitive.ObjectID) (*models.Rating, error) {
	return findOne[models.Rating](ctx, db.Ratings(), bson.M{"userId": userID, "bookId": bookID})
}

// RecomputeRating stores the average and count of a book's ratings on the book.
func (db *DB) RecomputeRating(ctx context.Context, bookID primitive.ObjectID) (err error) {
	defer observe("aggregate", "ratings", time.Now(), &err)
	cur, err := db.Ratings().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"bookId": bookID}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "avg": bson.M{"$avg": "$rating"}, "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	var agg []struct {
		Avg   float64 `bson:"avg"`
		Count int     `bson:"count"`
	}
	if err := cur.All(ctx, &agg); err != nil {
		return err
	}
	avg, count := 0.0, 0
	if len(agg) > 0 {
		avg, count = math.Round(agg[0].Avg*100)/100, agg[0].Count
	}
	_, err = db.Books().UpdateOne(ctx, bson.M{"_id": bookID},
		bson.M{"$set": bson.M{"ratingAverage": avg, "ratingCount": count}})
	return err
}

// deleteRatingsOf removes every rating by userID and returns the affected books.
func (db *DB) deleteRatingsOf(ctx context.Context, userID primitive.ObjectID) ([]primitive.ObjectID, error) {
	raw, err := db.Ratings().Distinct(ctx, "bookId", bson.M{"userId": userID})
	if err != nil {
		return nil, err
	}
	if _, err := db.Ratings().DeleteMany(ctx, bson.M{"userId": userID}); err != nil {
		return nil, err
	}
	return objectIDs(raw), nil
}

func objectIDs(raw []any) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(primitive.ObjectID); ok {
			out = append(out, id)
		}
	}
	return out
}
