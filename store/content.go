package store

import (
	"context"
	"time"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (db *DB) ContentForBook(ctx context.Context, bookID primitive.ObjectID) (c *models.BookContent, err error) {
	defer observe("find_one", "book_contents", time.Now(), &err)
	return findOne[models.BookContent](ctx, db.Contents(), bson.M{"bookId": bookID})
}

// UpsertContent stores the single content record of a book.
func (db *DB) UpsertContent(ctx context.Context, bookID primitive.ObjectID, content string) (c *models.BookContent, err error) {
	defer observe("upsert", "book_contents", time.Now(), &err)
	now := time.Now().UTC()
	filter := bson.M{"bookId": bookID}
	err = upsertOne(ctx, db.Contents(), filter, bson.M{
		"$set":         bson.M{"content": content, "updatedAt": now},
		"$setOnInsert": bson.M{"createdAt": now},
	})
	if err != nil {
		return nil, err
	}
	return findOne[models.BookContent](ctx, db.Contents(), filter)
}
