package models

import (
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultTotalPages is the placeholder page count given to progress rows
// created by opening a book, before the reader reports a real position.
const DefaultTotalPages = 100

// Collection is a user's favorite-book membership.
type Collection struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID  primitive.ObjectID `bson:"userId" json:"user"`
	BookID  primitive.ObjectID `bson:"bookId" json:"book"`
	AddedOn time.Time          `bson:"addedOn" json:"addedOn"`
	Book    *Book              `bson:"-" json:"bookDetails,omitempty"`
}

type Rating struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"userId" json:"-"`
	Username  string             `bson:"username" json:"username"`
	BookID    primitive.ObjectID `bson:"bookId" json:"book"`
	Rating    int                `bson:"rating" json:"rating"`
	Review    string             `bson:"review,omitempty" json:"review,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type Comment struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"userId" json:"-"`
	Username  string             `bson:"username" json:"username"`
	BookID    primitive.ObjectID `bson:"bookId" json:"book"`
	Content   string             `bson:"content" json:"content"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type ReadingProgress struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID      primitive.ObjectID `bson:"userId" json:"-"`
	BookID      primitive.ObjectID `bson:"bookId" json:"book"`
	BookTitle   string             `bson:"bookTitle" json:"bookTitle"`
	CurrentPage int                `bson:"currentPage" json:"currentPage"`
	TotalPages  int                `bson:"totalPages" json:"totalPages"`
	Completed   bool               `bson:"completed" json:"completed"`
	LastRead    time.Time          `bson:"lastRead" json:"lastRead"`

	ProgressPercentage float64 `bson:"-" json:"progressPercentage"`
}

// Percentage returns the reading position as a percentage rounded to two decimals.
func (p *ReadingProgress) Percentage() float64 {
	if p.TotalPages <= 0 {
		return 0
	}
	return math.Round(float64(p.CurrentPage)/float64(p.TotalPages)*10000) / 100
}
