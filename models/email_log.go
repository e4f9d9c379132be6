package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmailLog records a book e-mailed to a reading device.
type EmailLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	BookID    primitive.ObjectID `bson:"bookId" json:"bookId"`
	BookTitle string             `bson:"bookTitle" json:"bookTitle"`
	Filename  string             `bson:"filename" json:"filename"`
	ToEmail   string             `bson:"toEmail" json:"toEmail"`
	UserID    primitive.ObjectID `bson:"userId" json:"-"`
	SentAt    time.Time          `bson:"sentAt" json:"sentAt"`
}
