package store

import (
	"testing"

	"github.com/kevinaaaquil/kremlib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestListFilterAnonymousSeesPublicOnly(t *testing.T) {
	f := listFilter(models.BookListParams{})
	assert.Equal(t, bson.M{"isPublic": true}, f)
}

func TestListFilterSignedInSeesOwnBooks(t *testing.T) {
	viewer := primitive.NewObjectID()
	f := listFilter(models.BookListParams{Viewer: viewer, Title: "go", Search: "a.b"})

	and, ok := f["$and"].(bson.A)
	require.True(t, ok)
	require.Len(t, and, 3)
	assert.Equal(t, bson.M{"$or": bson.A{bson.M{"isPublic": true}, bson.M{"uploadedBy": viewer}}}, and[0])
	assert.Equal(t, bson.M{"title": primitive.Regex{Pattern: "go", Options: "i"}}, and[1])

	search := and[2].(bson.M)["$or"].(bson.A)
	assert.Len(t, search, 3)
	assert.Equal(t, bson.M{"title": primitive.Regex{Pattern: `a\.b`, Options: "i"}}, search[0])
}

func TestListFilterOwnerListing(t *testing.T) {
	owner := primitive.NewObjectID()
	mine := listFilter(models.BookListParams{Viewer: owner, Owner: owner})
	assert.Equal(t, bson.M{"uploadedBy": owner}, mine)

	theirs := listFilter(models.BookListParams{Viewer: primitive.NewObjectID(), Owner: owner})
	assert.Equal(t, bson.M{"$and": bson.A{bson.M{"uploadedBy": owner}, bson.M{"isPublic": true}}}, theirs)
}

func TestQueryFilterAlternatives(t *testing.T) {
	skip := primitive.NewObjectID()
	f := queryFilter(models.BookQuery{
		PublicOnly: true,
		Categories: []string{"Fantasy"},
		Author:     "Le Guin",
		TitleWords: []string{"Earthsea"},
		ExcludeIDs: []primitive.ObjectID{skip},
	})
	assert.Equal(t, true, f["isPublic"])
	assert.Equal(t, bson.M{"$in": []string{"Fantasy"}}, f["category"])
	assert.Equal(t, bson.M{"$nin": []primitive.ObjectID{skip}}, f["_id"])
	assert.Equal(t, bson.A{
		bson.M{"author": "Le Guin"},
		bson.M{"title": primitive.Regex{Pattern: "Earthsea", Options: "i"}},
	}, f["$or"])

	assert.Empty(t, queryFilter(models.BookQuery{}))
}

func TestSkip(t *testing.T) {
	assert.Equal(t, int64(0), skip(0, 10))
	assert.Equal(t, int64(0), skip(1, 10))
	assert.Equal(t, int64(20), skip(3, 10))
}
