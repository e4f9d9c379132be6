package service

import (
	"context"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Catalog is the read side of the store used by the recommendation code.
type Catalog interface {
	ProgressForUser(ctx context.Context, userID primitive.ObjectID) ([]models.ReadingProgress, error)
	RatingsForUser(ctx context.Context, userID primitive.ObjectID) ([]models.Rating, error)
	BooksByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Book, error)
	FindBooks(ctx context.Context, q models.BookQuery) ([]models.Book, error)
	// TopCategoriesByViews ranks categories by the summed view count of their public books.
	TopCategoriesByViews(ctx context.Context, limit int) ([]string, error)
	// ReadersOfBook returns the users holding a reading-progress row for bookID.
	ReadersOfBook(ctx context.Context, bookID primitive.ObjectID) ([]primitive.ObjectID, error)
	// CoReadCounts counts, per book, how many of userIDs have progress on it,
	// skipping exclude. Ordered by count descending.
	CoReadCounts(ctx context.Context, userIDs, exclude []primitive.ObjectID) ([]models.BookCount, error)
}

// Counters is the write side touched by book delivery.
type Counters interface {
	IncrementViewCount(ctx context.Context, bookID primitive.ObjectID) error
	IncrementDownloadCount(ctx context.Context, bookID primitive.ObjectID) error
	// EnsureReadingProgress creates a progress row at page 0 of totalPages if
	// none exists and refreshes lastRead otherwise.
	EnsureReadingProgress(ctx context.Context, userID, bookID primitive.ObjectID, title string, totalPages int) error
}

// idSet is an insertion-ordered set of ObjectIDs.
type idSet struct {
	seen  map[primitive.ObjectID]struct{}
	order []primitive.ObjectID
}

func newIDSet(ids ...primitive.ObjectID) *idSet {
	s := &idSet{seen: make(map[primitive.ObjectID]struct{})}
	for _, id := range ids {
		s.add(id)
	}
	return s
}

func (s *idSet) add(id primitive.ObjectID) bool {
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

func (s *idSet) slice() []primitive.ObjectID {
	return append([]primitive.ObjectID(nil), s.order...)
}

func (s *idSet) len() int { return len(s.order) }
