package models

import (
	"path/filepath"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DefaultCategories are seeded into the categories collection at startup.
var DefaultCategories = []string{
	"Novel", "Entertainment", "Education", "Science", "Biography",
	"History", "Fantasy", "Mystery", "Romance",
}

type Book struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Title         string             `bson:"title" json:"title"`
	Author        string             `bson:"author" json:"author"`
	Description   string             `bson:"description,omitempty" json:"description,omitempty"`
	Year          string             `bson:"year,omitempty" json:"year,omitempty"`
	ISBN          string             `bson:"isbn,omitempty" json:"isbn,omitempty"`
	Category      string             `bson:"category" json:"category"`
	IsPublic      bool               `bson:"isPublic" json:"isPublic"`
	UploadedBy    primitive.ObjectID `bson:"uploadedBy,omitempty" json:"-"`
	UploaderName  string             `bson:"uploaderName,omitempty" json:"uploader,omitempty"`
	EbookKey      string             `bson:"ebookKey,omitempty" json:"-"` // object key in file storage
	EbookName     string             `bson:"ebookName,omitempty" json:"ebook,omitempty"`
	EbookSize     int64              `bson:"ebookSize,omitempty" json:"ebookSize,omitempty"`
	CoverKey      string             `bson:"coverKey,omitempty" json:"-"`
	CoverURL      string             `bson:"-" json:"image,omitempty"`
	ViewCount     int64              `bson:"viewCount" json:"viewCount"`
	DownloadCount int64              `bson:"downloadCount" json:"downloadCount"`
	RatingAverage float64            `bson:"ratingAverage" json:"averageRating"`
	RatingCount   int                `bson:"ratingCount" json:"ratingsCount"`
	UploadedOn    time.Time          `bson:"uploadedOn" json:"uploadedOn"`
}

// HasEbook reports whether the record references a stored ebook file.
func (b *Book) HasEbook() bool {
	return strings.TrimSpace(b.EbookKey) != ""
}

// EbookExt returns the lower-cased ebook extension without the dot, taken from
// the original filename and falling back to the storage key.
func (b *Book) EbookExt() string {
	name := b.EbookName
	if name == "" {
		name = b.EbookKey
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// OwnedBy reports whether userID uploaded the book.
func (b *Book) OwnedBy(userID primitive.ObjectID) bool {
	return !userID.IsZero() && b.UploadedBy == userID
}

// VisibleTo reports whether the book can be read by userID (zero for anonymous callers).
func (b *Book) VisibleTo(userID primitive.ObjectID) bool {
	return b.IsPublic || b.OwnedBy(userID)
}

// PopularityScore orders the popular-books list.
func (b *Book) PopularityScore() float64 {
	return float64(b.ViewCount) + 2*float64(b.DownloadCount) + 10*b.RatingAverage
}

type Category struct {
	ID   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name string             `bson:"name" json:"name"`
}

// BookContent is the authored text attached to a book.
type BookContent struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	BookID    primitive.ObjectID `bson:"bookId" json:"bookId"`
	Content   string             `bson:"content" json:"content"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// BookUpdate carries the editable book fields; nil fields are left unchanged.
type BookUpdate struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=255"`
	Author      *string `json:"author" validate:"omitempty,max=255"`
	Description *string `json:"description"`
	Year        *string `json:"year" validate:"omitempty,len=4,numeric"`
	ISBN        *string `json:"isbn" validate:"omitempty,max=32"`
	Category    *string `json:"category" validate:"omitempty,max=100"`
	IsPublic    *bool   `json:"isPublic"`
}

// Empty reports whether no field is set.
func (u *BookUpdate) Empty() bool {
	return u.Title == nil && u.Author == nil && u.Description == nil && u.Year == nil &&
		u.ISBN == nil && u.Category == nil && u.IsPublic == nil
}
