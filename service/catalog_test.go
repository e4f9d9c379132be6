package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// memCatalog is an in-memory Catalog and Counters.
type memCatalog struct {
	mu       sync.Mutex
	books    []models.Book
	progress []models.ReadingProgress
	ratings  []models.Rating
	queries  []models.BookQuery
}

var _ Catalog = (*memCatalog)(nil)
var _ Counters = (*memCatalog)(nil)

func (m *memCatalog) addBook(b models.Book) models.Book {
	if b.ID.IsZero() {
		b.ID = primitive.NewObjectID()
	}
	m.books = append(m.books, b)
	return b
}

func (m *memCatalog) book(id primitive.ObjectID) *models.Book {
	for i := range m.books {
		if m.books[i].ID == id {
			return &m.books[i]
		}
	}
	return nil
}

func (m *memCatalog) ProgressForUser(_ context.Context, userID primitive.ObjectID) ([]models.ReadingProgress, error) {
	var out []models.ReadingProgress
	for _, p := range m.progress {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memCatalog) RatingsForUser(_ context.Context, userID primitive.ObjectID) ([]models.Rating, error) {
	var out []models.Rating
	for _, r := range m.ratings {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memCatalog) BooksByIDs(_ context.Context, ids []primitive.ObjectID) ([]models.Book, error) {
	var out []models.Book
	for _, b := range m.books {
		for _, id := range ids {
			if b.ID == id {
				out = append(out, b)
				break
			}
		}
	}
	return out, nil
}

func (m *memCatalog) FindBooks(_ context.Context, q models.BookQuery) ([]models.Book, error) {
	m.queries = append(m.queries, q)
	excluded := map[primitive.ObjectID]bool{}
	for _, id := range q.ExcludeIDs {
		excluded[id] = true
	}
	var out []models.Book
	for _, b := range m.books {
		if excluded[b.ID] || (q.PublicOnly && !b.IsPublic) {
			continue
		}
		if len(q.Categories) > 0 && !contains(q.Categories, b.Category) {
			continue
		}
		if q.Author != "" || len(q.TitleWords) > 0 {
			match := q.Author != "" && b.Author == q.Author
			for _, w := range q.TitleWords {
				if strings.Contains(strings.ToLower(b.Title), strings.ToLower(w)) {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, b)
	}
	switch q.Sort {
	case models.SortViews:
		sort.SliceStable(out, func(i, j int) bool { return out[i].ViewCount > out[j].ViewCount })
	case models.SortPopularity:
		sort.SliceStable(out, func(i, j int) bool { return out[i].PopularityScore() > out[j].PopularityScore() })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memCatalog) TopCategoriesByViews(_ context.Context, limit int) ([]string, error) {
	views := map[string]int64{}
	for _, b := range m.books {
		if b.IsPublic && b.Category != "" {
			views[b.Category] += b.ViewCount
		}
	}
	var cats []string
	for c := range views {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if views[cats[i]] != views[cats[j]] {
			return views[cats[i]] > views[cats[j]]
		}
		return cats[i] < cats[j]
	})
	if len(cats) > limit {
		cats = cats[:limit]
	}
	return cats, nil
}

func (m *memCatalog) ReadersOfBook(_ context.Context, bookID primitive.ObjectID) ([]primitive.ObjectID, error) {
	var out []primitive.ObjectID
	for _, p := range m.progress {
		if p.BookID == bookID {
			out = append(out, p.UserID)
		}
	}
	return out, nil
}

func (m *memCatalog) CoReadCounts(_ context.Context, userIDs, exclude []primitive.ObjectID) ([]models.BookCount, error) {
	counts := map[primitive.ObjectID]int{}
	var order []primitive.ObjectID
	for _, p := range m.progress {
		if !containsID(userIDs, p.UserID) || containsID(exclude, p.BookID) {
			continue
		}
		if counts[p.BookID] == 0 {
			order = append(order, p.BookID)
		}
		counts[p.BookID]++
	}
	out := make([]models.BookCount, 0, len(order))
	for _, id := range order {
		out = append(out, models.BookCount{BookID: id, Count: counts[id]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out, nil
}

func (m *memCatalog) IncrementViewCount(_ context.Context, bookID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.book(bookID); b != nil {
		b.ViewCount++
	}
	return nil
}

func (m *memCatalog) IncrementDownloadCount(_ context.Context, bookID primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.book(bookID); b != nil {
		b.DownloadCount++
	}
	return nil
}

func (m *memCatalog) EnsureReadingProgress(_ context.Context, userID, bookID primitive.ObjectID, title string, totalPages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.progress {
		if p.UserID == userID && p.BookID == bookID {
			return nil
		}
	}
	m.progress = append(m.progress, models.ReadingProgress{
		ID: primitive.NewObjectID(), UserID: userID, BookID: bookID, BookTitle: title, TotalPages: totalPages,
	})
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsID(list []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
