package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// BookSort selects the ordering of a book query.
type BookSort int

const (
	SortNewest BookSort = iota
	SortViews
	SortPopularity
)

// BookQuery describes a catalog lookup used by the recommendation code.
// Author and TitleWords are alternatives: a book matches when its author
// equals Author or its title contains any of TitleWords (case-insensitive).
type BookQuery struct {
	PublicOnly bool
	Categories []string
	Author     string
	TitleWords []string
	ExcludeIDs []primitive.ObjectID
	Sort       BookSort
	Limit      int
}

// BookListParams are the listing filters exposed over HTTP.
type BookListParams struct {
	Viewer   primitive.ObjectID // zero for anonymous callers
	Owner    primitive.ObjectID // restrict to books uploaded by this user
	Title    string
	Author   string
	ISBN     string
	Year     string
	Category string
	Search   string
	Page     int
	PageSize int
}

// BookCount pairs a book with the number of readers it shares with another book.
type BookCount struct {
	BookID primitive.ObjectID `bson:"_id"`
	Count  int                `bson:"count"`
}
