package store

import (
	"context"
	"time"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (db *DB) InsertComment(ctx context.Context, c *models.Comment) (err error) {
	defer observe("insert", "comments", time.Now(), &err)
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	res, err := db.Comments().InsertOne(ctx, c)
	if err != nil {
		return err
	}
	c.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// CommentsForBook returns a book's comments, newest first.
func (db *DB) CommentsForBook(ctx context.Context, bookID primitive.ObjectID) (comments []models.Comment, err error) {
	defer observe("find", "comments", time.Now(), &err)
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	return findAll[models.Comment](ctx, db.Comments(), bson.M{"bookId": bookID}, opts)
}

func (db *DB) CommentByID(ctx context.Context, id primitive.ObjectID) (*models.Comment, error) {
	return findOne[models.Comment](ctx, db.Comments(), bson.M{"_id": id})
}

func (db *DB) UpdateComment(ctx context.Context, id primitive.ObjectID, content string) (c *models.Comment, err error) {
	defer observe("update", "comments", time.Now(), &err)
	var out models.Comment
	err = db.Comments().FindOneAndUpdate(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"content": content, "updatedAt": time.Now().UTC()}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

func (db *DB) DeleteComment(ctx context.Context, id primitive.ObjectID) (err error) {
	defer observe("delete", "comments", time.Now(), &err)
	res, err := db.Comments().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
