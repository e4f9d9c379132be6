package store

import (
	"context"
	"time"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ToggleFavorite removes the book from the user's favorites if present and
// adds it otherwise. It reports whether the book is now a favorite.
func (db *DB) ToggleFavorite(ctx context.Context, userID, bookID primitive.ObjectID) (added bool, err error) {
	defer observe("toggle", "collections", time.Now(), &err)
	filter := bson.M{"userId": userID, "bookId": bookID}
	res, err := db.Collections().DeleteOne(ctx, filter)
	if err != nil {
		return false, err
	}
	if res.DeletedCount > 0 {
		return false, nil
	}
	err = upsertOne(ctx, db.Collections(), filter, bson.M{"$setOnInsert": bson.M{"addedOn": time.Now().UTC()}})
	return err == nil, err
}

func (db *DB) IsFavorited(ctx context.Context, userID, bookID primitive.ObjectID) (bool, error) {
	if userID.IsZero() {
		return false, nil
	}
	n, err := db.Collections().CountDocuments(ctx, bson.M{"userId": userID, "bookId": bookID}, options.Count().SetLimit(1))
	return n > 0, err
}

// Favorites lists the user's favorites, newest first, with the books attached.
// Entries whose book is no longer visible to the user are skipped.
func (db *DB) Favorites(ctx context.Context, userID primitive.ObjectID) (entries []models.Collection, err error) {
	defer observe("find", "collections", time.Now(), &err)
	entries, err = findAll[models.Collection](ctx, db.Collections(), bson.M{"userId": userID},
		options.Find().SetSort(bson.D{{Key: "addedOn", Value: -1}}))
	if err != nil {
		return nil, err
	}
	ids := make([]primitive.ObjectID, len(entries))
	for i, e := range entries {
		ids[i] = e.BookID
	}
	books, err := db.BooksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[primitive.ObjectID]*models.Book, len(books))
	for i := range books {
		byID[books[i].ID] = &books[i]
	}
	out := entries[:0]
	for _, e := range entries {
		if b, ok := byID[e.BookID]; ok && b.VisibleTo(userID) {
			e.Book = b
			out = append(out, e)
		}
	}
	return out, nil
}
