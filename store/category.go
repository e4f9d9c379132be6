package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SeedCategories inserts any of names that do not exist yet.
func (db *DB) SeedCategories(ctx context.Context, names []string) (err error) {
	defer observe("upsert", "categories", time.Now(), &err)
	for _, name := range names {
		if err := upsertOne(ctx, db.Categories(), bson.M{"name": name},
			bson.M{"$setOnInsert": bson.M{"name": name}}); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) ListCategories(ctx context.Context) ([]models.Category, error) {
	return findAll[models.Category](ctx, db.Categories(), bson.M{}, options.Find().SetSort(bson.M{"name": 1}))
}

func (db *DB) CreateCategory(ctx context.Context, name string) (c *models.Category, err error) {
	defer observe("insert", "categories", time.Now(), &err)
	c = &models.Category{Name: strings.TrimSpace(name)}
	res, err := db.Categories().InsertOne(ctx, c)
	if err != nil {
		return nil, mapErr(err)
	}
	c.ID = res.InsertedID.(primitive.ObjectID)
	return c, nil
}

func (db *DB) DeleteCategory(ctx context.Context, id primitive.ObjectID) (err error) {
	defer observe("delete", "categories", time.Now(), &err)
	res, err := db.Categories().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CategoryByName looks a category up case-insensitively.
func (db *DB) CategoryByName(ctx context.Context, name string) (*models.Category, error) {
	pattern := "^" + regexp.QuoteMeta(strings.TrimSpace(name)) + "$"
	return findOne[models.Category](ctx, db.Categories(), bson.M{"name": primitive.Regex{Pattern: pattern, Options: "i"}})
}
