package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/kevinaaaquil/kremlib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func ids(books []models.Book) []primitive.ObjectID {
	out := make([]primitive.ObjectID, len(books))
	for i, b := range books {
		out[i] = b.ID
	}
	return out
}

func indexOf(books []models.Book, id primitive.ObjectID) int {
	for i, b := range books {
		if b.ID == id {
			return i
		}
	}
	return -1
}

func TestRecommendAnonymousGetsPopularPublicBooks(t *testing.T) {
	cat := &memCatalog{}
	for i := 0; i < 15; i++ {
		cat.addBook(models.Book{Title: fmt.Sprintf("Public %d", i), IsPublic: true, ViewCount: int64(i)})
	}
	private := cat.addBook(models.Book{Title: "Hidden", ViewCount: 1000})
	rated := cat.addBook(models.Book{Title: "Loved", IsPublic: true, ViewCount: 1, RatingAverage: 5})

	got, err := NewRecommender(cat).Recommend(context.Background(), primitive.NilObjectID)
	require.NoError(t, err)

	assert.Len(t, got, popularLimit)
	assert.Equal(t, -1, indexOf(got, private.ID))
	// 1 view + 10*5 rating average outranks every unrated book.
	assert.Equal(t, rated.ID, got[0].ID)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].PopularityScore(), got[i].PopularityScore())
	}
}

func TestRecommendWithoutHistoryFallsBackToPopular(t *testing.T) {
	cat := &memCatalog{}
	cat.addBook(models.Book{Title: "One", IsPublic: true, ViewCount: 3})
	cat.addBook(models.Book{Title: "Two", IsPublic: true, ViewCount: 9})

	r := NewRecommender(cat)
	user, err := r.Recommend(context.Background(), primitive.NewObjectID())
	require.NoError(t, err)
	anon, err := r.Recommend(context.Background(), primitive.NilObjectID)
	require.NoError(t, err)
	assert.Equal(t, ids(anon), ids(user))
}

func TestRecommendCategoryAffinityBeforeBackfill(t *testing.T) {
	cat := &memCatalog{}
	a := cat.addBook(models.Book{Title: "Winter Tales", Author: "Mira Stone", ISBN: "111", Category: "Fiction", IsPublic: true, ViewCount: 5})
	b := cat.addBook(models.Book{Title: "Summer Days", Author: "Mira Stone", Category: "Fiction", IsPublic: true, ViewCount: 20})
	c := cat.addBook(models.Book{Title: "Atoms", Author: "Rex", Category: "Science", IsPublic: true, ViewCount: 100})
	cat.addBook(models.Book{Title: "Hearts", Author: "Lia", Category: "Romance", IsPublic: true, ViewCount: 50})
	cat.addBook(models.Book{Title: "Clues", Author: "Oto", Category: "Mystery", IsPublic: true, ViewCount: 40})
	d := cat.addBook(models.Book{Title: "Empires", Author: "Ned", Category: "History", IsPublic: true, ViewCount: 1})

	user := primitive.NewObjectID()
	cat.progress = append(cat.progress, models.ReadingProgress{UserID: user, BookID: a.ID, CurrentPage: 100, TotalPages: 100, Completed: true})
	cat.ratings = append(cat.ratings, models.Rating{UserID: user, BookID: a.ID, Rating: 5})

	got, err := NewRecommender(cat).Recommend(context.Background(), user)
	require.NoError(t, err)

	require.NotEqual(t, -1, indexOf(got, b.ID))
	assert.Equal(t, -1, indexOf(got, a.ID), "already read")
	assert.Equal(t, c.ID, got[0].ID)
	backfill := indexOf(got, d.ID)
	require.NotEqual(t, -1, backfill, "History is outside the preferred categories and only arrives by backfill")
	assert.Less(t, indexOf(got, b.ID), backfill)
	assert.LessOrEqual(t, len(got), recommendLimit)
}

func TestRecommendExcludesEveryReadBook(t *testing.T) {
	cat := &memCatalog{}
	user := primitive.NewObjectID()
	for i := 0; i < 30; i++ {
		b := cat.addBook(models.Book{
			Title:     fmt.Sprintf("Saga part %d", i),
			Author:    "Same Author",
			Category:  []string{"Fantasy", "Science"}[i%2],
			IsPublic:  true,
			ViewCount: int64(100 - i),
		})
		if i%3 == 0 {
			cat.progress = append(cat.progress, models.ReadingProgress{UserID: user, BookID: b.ID, Completed: i%2 == 0})
			cat.ratings = append(cat.ratings, models.Rating{UserID: user, BookID: b.ID, Rating: 4 + i%2})
		}
	}

	got, err := NewRecommender(cat).Recommend(context.Background(), user)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), recommendLimit)

	read := map[primitive.ObjectID]bool{}
	for _, p := range cat.progress {
		read[p.BookID] = true
	}
	seen := map[primitive.ObjectID]bool{}
	for _, b := range got {
		assert.False(t, read[b.ID], "recommended a read book: %s", b.Title)
		assert.False(t, seen[b.ID], "duplicate: %s", b.Title)
		seen[b.ID] = true
	}
}

func TestRecommendSecondaryCapsPerSource(t *testing.T) {
	cat := &memCatalog{}
	user := primitive.NewObjectID()
	liked := cat.addBook(models.Book{Title: "Dune", Author: "Herbert", Category: "SciFi", IsPublic: true})
	cat.ratings = append(cat.ratings, models.Rating{UserID: user, BookID: liked.ID, Rating: 5})
	for i := 0; i < 4; i++ {
		cat.addBook(models.Book{Title: fmt.Sprintf("Other %d", i), Author: "Herbert", Category: "Misc", IsPublic: true, ViewCount: int64(i)})
	}
	cat.addBook(models.Book{Title: "Unrelated", Author: "X", Category: "Cooking", IsPublic: true, ViewCount: 1000})

	_, err := NewRecommender(cat).Recommend(context.Background(), user)
	require.NoError(t, err)

	var perSource []models.BookQuery
	for _, q := range cat.queries {
		if q.Author == "Herbert" {
			perSource = append(perSource, q)
		}
	}
	require.Len(t, perSource, 1)
	assert.Equal(t, perSourceLimit, perSource[0].Limit)
	assert.Equal(t, []string{"Dune"}, perSource[0].TitleWords)
	assert.Contains(t, perSource[0].ExcludeIDs, liked.ID)
}

func TestRecommendIgnoresLowRatingsForAffinity(t *testing.T) {
	cat := &memCatalog{}
	user := primitive.NewObjectID()
	disliked := cat.addBook(models.Book{Title: "Meh", Author: "Z", Category: "Poetry"})
	cat.ratings = append(cat.ratings, models.Rating{UserID: user, BookID: disliked.ID, Rating: 2})
	cat.addBook(models.Book{Title: "Popular", Author: "Y", Category: "Drama", IsPublic: true, ViewCount: 9})

	got, err := NewRecommender(cat).Recommend(context.Background(), user)
	require.NoError(t, err)
	for _, q := range cat.queries {
		assert.NotContains(t, q.Categories, "Poetry")
		assert.Empty(t, q.Author)
	}
	assert.NotEmpty(t, got)
}

func TestSimilarOrderAndCaps(t *testing.T) {
	cat := &memCatalog{}
	target := cat.addBook(models.Book{Title: "Quantum Gardens of Mars", Author: "Ann", Category: "Sci", IsPublic: true})
	a1 := cat.addBook(models.Book{Title: "Alpha", Author: "Ann", Category: "Other", IsPublic: true, ViewCount: 30})
	a2 := cat.addBook(models.Book{Title: "Beta", Author: "Ann", Category: "Other", IsPublic: true, ViewCount: 20})
	a3 := cat.addBook(models.Book{Title: "Gamma", Author: "Ann", Category: "Other", IsPublic: true, ViewCount: 10})
	cat.addBook(models.Book{Title: "Delta", Author: "Ann", Category: "Other", IsPublic: true, ViewCount: 5})
	cat.addBook(models.Book{Title: "Secret", Author: "Ann", Category: "Sci", IsPublic: false, ViewCount: 999})
	c1 := cat.addBook(models.Book{Title: "One", Author: "Bo", Category: "Sci", IsPublic: true, ViewCount: 50})
	c2 := cat.addBook(models.Book{Title: "Two", Author: "Bo", Category: "Sci", IsPublic: true, ViewCount: 40})
	c3 := cat.addBook(models.Book{Title: "Three", Author: "Bo", Category: "Sci", IsPublic: true, ViewCount: 30})
	cat.addBook(models.Book{Title: "Four", Author: "Bo", Category: "Sci", IsPublic: true, ViewCount: 1})
	t1 := cat.addBook(models.Book{Title: "Quantum Leap", Author: "Cy", Category: "Tech", IsPublic: true, ViewCount: 9})
	t2 := cat.addBook(models.Book{Title: "Mars Attacks", Author: "Cy", Category: "Tech", IsPublic: true, ViewCount: 8})
	cat.addBook(models.Book{Title: "Gardens", Author: "Cy", Category: "Tech", IsPublic: true, ViewCount: 7})
	x1 := cat.addBook(models.Book{Title: "Shared", Author: "Di", Category: "Misc", IsPublic: true})
	x2 := cat.addBook(models.Book{Title: "Less shared", Author: "Di", Category: "Misc", IsPublic: true})
	x3 := cat.addBook(models.Book{Title: "Viewer only", Author: "Di", Category: "Misc", IsPublic: true})

	viewer, u1, u2 := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	for _, p := range []struct{ user, book primitive.ObjectID }{
		{viewer, target.ID}, {u1, target.ID}, {u2, target.ID},
		{u1, x2.ID}, {u1, x1.ID}, {u2, x1.ID}, {viewer, x3.ID},
	} {
		cat.progress = append(cat.progress, models.ReadingProgress{UserID: p.user, BookID: p.book})
	}

	r := NewRecommender(cat)
	got, err := r.Similar(context.Background(), &target, viewer)
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{a1.ID, a2.ID, a3.ID, c1.ID, c2.ID, c3.ID, t1.ID, t2.ID, x1.ID, x2.ID}, ids(got))

	anon, err := r.Similar(context.Background(), &target, primitive.NilObjectID)
	require.NoError(t, err)
	assert.Equal(t, []primitive.ObjectID{a1.ID, a2.ID, a3.ID, c1.ID, c2.ID, c3.ID, t1.ID, t2.ID}, ids(anon))
}

func TestSimilarSkipsShortTitleWords(t *testing.T) {
	assert.Equal(t, []string{"Quantum", "Gardens", "Mars"}, titleWords("Quantum Gardens of Mars and the Sun"))
	assert.Empty(t, titleWords("An Odd Day"))
	assert.Equal(t, "Winter", firstWord("  Winter Tales"))
}

func TestSimilarWithoutOtherReaders(t *testing.T) {
	cat := &memCatalog{}
	target := cat.addBook(models.Book{Title: "Solo", Author: "Ann", Category: "Sci", IsPublic: true})
	viewer := primitive.NewObjectID()
	cat.progress = append(cat.progress, models.ReadingProgress{UserID: viewer, BookID: target.ID})

	got, err := NewRecommender(cat).Similar(context.Background(), &target, viewer)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRecommendEmptyCatalogReturnsEmptyList(t *testing.T) {
	r := NewRecommender(&memCatalog{})
	ctx := context.Background()

	got, err := r.Recommend(ctx, primitive.NilObjectID)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	reader := primitive.NewObjectID()
	cat := &memCatalog{}
	only := cat.addBook(models.Book{Title: "Lonely", Category: "Sci", IsPublic: true})
	cat.progress = append(cat.progress, models.ReadingProgress{UserID: reader, BookID: only.ID})
	got, err = NewRecommender(cat).Recommend(ctx, reader)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got, err = NewRecommender(&memCatalog{}).Similar(ctx, &models.Book{ID: primitive.NewObjectID()}, primitive.NilObjectID)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
