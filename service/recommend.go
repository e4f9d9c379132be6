package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/kevinaaaquil/kremlib/metrics"
	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	likedRating = 4

	primaryLimit     = 5
	perSourceLimit   = 2
	recommendLimit   = 10
	backfillBelow    = 5
	popularLimit     = 12
	fallbackCategory = 3

	similarAuthorLimit   = 3
	similarCategoryLimit = 3
	similarTitleLimit    = 2
	similarReadersLimit  = 2
	titleWordMinLen      = 4
)

type Recommender struct {
	catalog Catalog
}

func NewRecommender(catalog Catalog) *Recommender {
	return &Recommender{catalog: catalog}
}

// Popular returns public books ordered by popularity score.
func (r *Recommender) Popular(ctx context.Context) ([]models.Book, error) {
	books, err := r.catalog.FindBooks(ctx, models.BookQuery{
		PublicOnly: true,
		Sort:       models.SortPopularity,
		Limit:      popularLimit,
	})
	if err != nil {
		return nil, WrapError(err, "popular books")
	}
	metrics.Recommendations.WithLabelValues("popular").Inc()
	if books == nil {
		books = []models.Book{}
	}
	return books, nil
}

// Recommend builds a personal reading list for userID. Anonymous callers and
// users with neither progress nor ratings get the popular list.
func (r *Recommender) Recommend(ctx context.Context, userID primitive.ObjectID) ([]models.Book, error) {
	if userID.IsZero() {
		return r.Popular(ctx)
	}
	progress, err := r.catalog.ProgressForUser(ctx, userID)
	if err != nil {
		return nil, WrapError(err, "load reading progress")
	}
	ratings, err := r.catalog.RatingsForUser(ctx, userID)
	if err != nil {
		return nil, WrapError(err, "load ratings")
	}
	if len(progress) == 0 && len(ratings) == 0 {
		return r.Popular(ctx)
	}

	read := newIDSet()
	sources := newIDSet()
	var liked []primitive.ObjectID
	for _, rt := range ratings {
		if rt.Rating >= likedRating {
			liked = append(liked, rt.BookID)
			sources.add(rt.BookID)
		}
	}
	for _, p := range progress {
		read.add(p.BookID)
		if p.Completed {
			sources.add(p.BookID)
		}
	}

	byID := map[primitive.ObjectID]models.Book{}
	if sources.len() > 0 {
		books, err := r.catalog.BooksByIDs(ctx, sources.slice())
		if err != nil {
			return nil, WrapError(err, "load source books")
		}
		for _, b := range books {
			byID[b.ID] = b
		}
	}

	// Liked books first, then completed ones, in source order.
	var categories []string
	seenCat := map[string]bool{}
	addCategory := func(c string) {
		if c != "" && !seenCat[c] {
			seenCat[c] = true
			categories = append(categories, c)
		}
	}
	for _, id := range sources.order {
		if b, ok := byID[id]; ok {
			addCategory(b.Category)
		}
	}
	if len(categories) < 2 {
		top, err := r.catalog.TopCategoriesByViews(ctx, fallbackCategory)
		if err != nil {
			return nil, WrapError(err, "top categories")
		}
		for _, c := range top {
			addCategory(c)
		}
	}

	out := newResultList(recommendLimit)
	if len(categories) > 0 {
		primary, err := r.catalog.FindBooks(ctx, models.BookQuery{
			PublicOnly: true,
			Categories: categories,
			ExcludeIDs: read.slice(),
			Sort:       models.SortViews,
			Limit:      primaryLimit,
		})
		if err != nil {
			return nil, WrapError(err, "category candidates")
		}
		out.add(primary...)
	}

	for _, id := range liked {
		src, ok := byID[id]
		if !ok {
			continue
		}
		q := models.BookQuery{
			PublicOnly: true,
			Author:     src.Author,
			ExcludeIDs: append(read.slice(), src.ID),
			Sort:       models.SortViews,
			Limit:      perSourceLimit,
		}
		if w := firstWord(src.Title); w != "" {
			q.TitleWords = []string{w}
		}
		if q.Author == "" && len(q.TitleWords) == 0 {
			continue
		}
		similar, err := r.catalog.FindBooks(ctx, q)
		if err != nil {
			return nil, WrapError(err, "similar candidates")
		}
		out.add(similar...)
	}

	if out.len() < backfillBelow {
		exclude := append(read.slice(), out.ids.slice()...)
		popular, err := r.catalog.FindBooks(ctx, models.BookQuery{
			PublicOnly: true,
			ExcludeIDs: exclude,
			Sort:       models.SortViews,
			Limit:      recommendLimit - out.len(),
		})
		if err != nil {
			return nil, WrapError(err, "popular backfill")
		}
		out.add(popular...)
	}

	metrics.Recommendations.WithLabelValues("personalized").Inc()
	return out.books, nil
}

// Similar lists books related to book: same author, same category, shared
// title words, then (for signed-in viewers) books read by this book's readers.
func (r *Recommender) Similar(ctx context.Context, book *models.Book, viewer primitive.ObjectID) ([]models.Book, error) {
	selected := newIDSet(book.ID)
	out := []models.Book{}
	take := func(books []models.Book, limit int) {
		n := 0
		for _, b := range books {
			if n == limit {
				return
			}
			if selected.add(b.ID) {
				out = append(out, b)
				n++
			}
		}
	}

	if book.Author != "" {
		books, err := r.catalog.FindBooks(ctx, models.BookQuery{
			PublicOnly: true,
			Author:     book.Author,
			ExcludeIDs: selected.slice(),
			Sort:       models.SortViews,
			Limit:      similarAuthorLimit,
		})
		if err != nil {
			return nil, WrapError(err, "same author")
		}
		take(books, similarAuthorLimit)
	}

	if book.Category != "" {
		books, err := r.catalog.FindBooks(ctx, models.BookQuery{
			PublicOnly: true,
			Categories: []string{book.Category},
			ExcludeIDs: selected.slice(),
			Sort:       models.SortViews,
			Limit:      similarCategoryLimit,
		})
		if err != nil {
			return nil, WrapError(err, "same category")
		}
		take(books, similarCategoryLimit)
	}

	if words := titleWords(book.Title); len(words) > 0 {
		books, err := r.catalog.FindBooks(ctx, models.BookQuery{
			PublicOnly: true,
			TitleWords: words,
			ExcludeIDs: selected.slice(),
			Sort:       models.SortViews,
			Limit:      similarTitleLimit,
		})
		if err != nil {
			return nil, WrapError(err, "title match")
		}
		take(books, similarTitleLimit)
	}

	if !viewer.IsZero() {
		books, err := r.alsoRead(ctx, book.ID, viewer, selected)
		if err != nil {
			return nil, err
		}
		take(books, similarReadersLimit)
	}
	return out, nil
}

// alsoRead ranks public books by how many readers of bookID (other than
// viewer) also have progress on them.
func (r *Recommender) alsoRead(ctx context.Context, bookID, viewer primitive.ObjectID, selected *idSet) ([]models.Book, error) {
	readers, err := r.catalog.ReadersOfBook(ctx, bookID)
	if err != nil {
		return nil, WrapError(err, "readers of book")
	}
	others := readers[:0:0]
	for _, u := range readers {
		if u != viewer {
			others = append(others, u)
		}
	}
	if len(others) == 0 {
		return nil, nil
	}
	counts, err := r.catalog.CoReadCounts(ctx, others, selected.slice())
	if err != nil {
		return nil, WrapError(err, "co-read counts")
	}
	if len(counts) == 0 {
		return nil, nil
	}
	ids := make([]primitive.ObjectID, len(counts))
	for i, c := range counts {
		ids[i] = c.BookID
	}
	books, err := r.catalog.BooksByIDs(ctx, ids)
	if err != nil {
		return nil, WrapError(err, "load co-read books")
	}
	byID := make(map[primitive.ObjectID]models.Book, len(books))
	for _, b := range books {
		byID[b.ID] = b
	}
	var out []models.Book
	for _, id := range ids {
		if b, ok := byID[id]; ok && b.IsPublic {
			out = append(out, b)
		}
	}
	return out, nil
}

type resultList struct {
	limit int
	ids   *idSet
	books []models.Book
}

func newResultList(limit int) *resultList {
	return &resultList{limit: limit, ids: newIDSet(), books: []models.Book{}}
}

func (l *resultList) add(books ...models.Book) {
	for _, b := range books {
		if len(l.books) == l.limit {
			return
		}
		if l.ids.add(b.ID) {
			l.books = append(l.books, b)
		}
	}
}

func (l *resultList) len() int { return len(l.books) }

func firstWord(title string) string {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// titleWords returns the distinct words of title longer than three characters.
func titleWords(title string) []string {
	var out []string
	seen := map[string]bool{}
	for _, w := range strings.Fields(title) {
		key := strings.ToLower(w)
		if utf8.RuneCountInString(w) >= titleWordMinLen && !seen[key] {
			seen[key] = true
			out = append(out, w)
		}
	}
	return out
}
