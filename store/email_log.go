package store

import (
	"context"
	"time"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// InsertEmailLog records that a book was sent to a device address by a user.
func (db *DB) InsertEmailLog(ctx context.Context, log *models.EmailLog) (err error) {
	defer observe("insert", "email_logs", time.Now(), &err)
	if log.SentAt.IsZero() {
		log.SentAt = time.Now().UTC()
	}
	res, err := db.EmailLogs().InsertOne(ctx, log)
	if err != nil {
		return err
	}
	log.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

// EmailLogsForUser returns the user's most recent sends, newest first.
func (db *DB) EmailLogsForUser(ctx context.Context, userID primitive.ObjectID, limit int) ([]models.EmailLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sentAt", Value: -1}}).SetLimit(int64(limit))
	return findAll[models.EmailLog](ctx, db.EmailLogs(), bson.M{"userId": userID}, opts)
}
