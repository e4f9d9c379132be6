package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func (db *DB) InsertBook(ctx context.Context, book *models.Book) (id primitive.ObjectID, err error) {
	defer observe("insert", "books", time.Now(), &err)
	if book.UploadedOn.IsZero() {
		book.UploadedOn = time.Now().UTC()
	}
	res, err := db.Books().InsertOne(ctx, book)
	if err != nil {
		return primitive.NilObjectID, mapErr(err)
	}
	book.ID = res.InsertedID.(primitive.ObjectID)
	return book.ID, nil
}

func (db *DB) BookByID(ctx context.Context, id primitive.ObjectID) (b *models.Book, err error) {
	defer observe("find_one", "books", time.Now(), &err)
	return findOne[models.Book](ctx, db.Books(), bson.M{"_id": id})
}

func (db *DB) BooksByIDs(ctx context.Context, ids []primitive.ObjectID) (books []models.Book, err error) {
	if len(ids) == 0 {
		return []models.Book{}, nil
	}
	defer observe("find", "books", time.Now(), &err)
	return findAll[models.Book](ctx, db.Books(), bson.M{"_id": bson.M{"$in": ids}})
}

// contains builds a case-insensitive substring match.
func contains(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

// visibility restricts a listing to what viewer may see.
func visibility(viewer primitive.ObjectID) bson.M {
	if viewer.IsZero() {
		return bson.M{"isPublic": true}
	}
	return bson.M{"$or": bson.A{bson.M{"isPublic": true}, bson.M{"uploadedBy": viewer}}}
}

func listFilter(p models.BookListParams) bson.M {
	var and bson.A
	if !p.Owner.IsZero() {
		and = append(and, bson.M{"uploadedBy": p.Owner})
		if p.Owner != p.Viewer {
			and = append(and, bson.M{"isPublic": true})
		}
	} else {
		and = append(and, visibility(p.Viewer))
	}
	if s := strings.TrimSpace(p.Title); s != "" {
		and = append(and, bson.M{"title": contains(s)})
	}
	if s := strings.TrimSpace(p.Author); s != "" {
		and = append(and, bson.M{"author": contains(s)})
	}
	if s := strings.TrimSpace(p.ISBN); s != "" {
		and = append(and, bson.M{"isbn": contains(s)})
	}
	if s := strings.TrimSpace(p.Year); s != "" {
		and = append(and, bson.M{"year": s})
	}
	if s := strings.TrimSpace(p.Category); s != "" {
		and = append(and, bson.M{"category": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(s) + "$", Options: "i"}})
	}
	if s := strings.TrimSpace(p.Search); s != "" {
		and = append(and, bson.M{"$or": bson.A{
			bson.M{"title": contains(s)},
			bson.M{"author": contains(s)},
			bson.M{"isbn": contains(s)},
		}})
	}
	if len(and) == 1 {
		return and[0].(bson.M)
	}
	return bson.M{"$and": and}
}

// ListBooks returns one page of books matching p, newest first, and the total match count.
func (db *DB) ListBooks(ctx context.Context, p models.BookListParams) (books []models.Book, total int64, err error) {
	defer observe("find", "books", time.Now(), &err)
	filter := listFilter(p)
	total, err = db.Books().CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "uploadedOn", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(skip(p.Page, p.PageSize)).
		SetLimit(int64(p.PageSize))
	books, err = findAll[models.Book](ctx, db.Books(), filter, opts)
	return books, total, err
}

func queryFilter(q models.BookQuery) bson.M {
	filter := bson.M{}
	if q.PublicOnly {
		filter["isPublic"] = true
	}
	if len(q.Categories) > 0 {
		filter["category"] = bson.M{"$in": q.Categories}
	}
	if len(q.ExcludeIDs) > 0 {
		filter["_id"] = bson.M{"$nin": q.ExcludeIDs}
	}
	var or bson.A
	if q.Author != "" {
		or = append(or, bson.M{"author": q.Author})
	}
	for _, w := range q.TitleWords {
		or = append(or, bson.M{"title": contains(w)})
	}
	if len(or) > 0 {
		filter["$or"] = or
	}
	return filter
}

// popularityScore mirrors models.Book.PopularityScore as an aggregation expression.
var popularityScore = bson.M{"$add": bson.A{
	bson.M{"$ifNull": bson.A{"$viewCount", 0}},
	bson.M{"$multiply": bson.A{2, bson.M{"$ifNull": bson.A{"$downloadCount", 0}}}},
	bson.M{"$multiply": bson.A{10, bson.M{"$ifNull": bson.A{"$ratingAverage", 0}}}},
}}

// FindBooks runs a catalog query for the recommendation code.
func (db *DB) FindBooks(ctx context.Context, q models.BookQuery) (books []models.Book, err error) {
	defer observe("find", "books", time.Now(), &err)
	filter := queryFilter(q)

	if q.Sort == models.SortPopularity {
		pipeline := mongo.Pipeline{
			{{Key: "$match", Value: filter}},
			{{Key: "$addFields", Value: bson.M{"_popularity": popularityScore}}},
			{{Key: "$sort", Value: bson.D{{Key: "_popularity", Value: -1}, {Key: "_id", Value: 1}}}},
		}
		if q.Limit > 0 {
			pipeline = append(pipeline, bson.D{{Key: "$limit", Value: q.Limit}})
		}
		cur, err := db.Books().Aggregate(ctx, pipeline)
		if err != nil {
			return nil, err
		}
		defer cur.Close(ctx)
		books = []models.Book{}
		if err := cur.All(ctx, &books); err != nil {
			return nil, err
		}
		return books, nil
	}

	sort := bson.D{{Key: "uploadedOn", Value: -1}, {Key: "_id", Value: -1}}
	if q.Sort == models.SortViews {
		sort = bson.D{{Key: "viewCount", Value: -1}, {Key: "_id", Value: 1}}
	}
	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return findAll[models.Book](ctx, db.Books(), filter, opts)
}

// TopCategoriesByViews ranks categories by the summed view count of their public books.
func (db *DB) TopCategoriesByViews(ctx context.Context, limit int) (names []string, err error) {
	defer observe("aggregate", "books", time.Now(), &err)
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"isPublic": true, "category": bson.M{"$nin": bson.A{nil, ""}}}}},
		{{Key: "$group", Value: bson.M{"_id": "$category", "views": bson.M{"$sum": "$viewCount"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "views", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
	}
	cur, err := db.Books().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var rows []struct {
		Name string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	names = make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, r.Name)
	}
	return names, nil
}

// UpdateBook applies the non-nil fields of u and returns the updated book.
func (db *DB) UpdateBook(ctx context.Context, id primitive.ObjectID, u *models.BookUpdate) (b *models.Book, err error) {
	defer observe("update", "books", time.Now(), &err)
	set, unset := bson.M{}, bson.M{}
	str := func(field string, v *string) {
		if v == nil {
			return
		}
		if s := strings.TrimSpace(*v); s != "" {
			set[field] = s
		} else {
			unset[field] = ""
		}
	}
	if u.Title != nil {
		set["title"] = strings.TrimSpace(*u.Title)
	}
	if u.Author != nil {
		set["author"] = strings.TrimSpace(*u.Author)
	}
	if u.Category != nil {
		set["category"] = strings.TrimSpace(*u.Category)
	}
	str("description", u.Description)
	str("year", u.Year)
	str("isbn", u.ISBN)
	if u.IsPublic != nil {
		set["isPublic"] = *u.IsPublic
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(update) == 0 {
		return db.BookByID(ctx, id)
	}
	var out models.Book
	err = db.Books().FindOneAndUpdate(ctx, bson.M{"_id": id}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

// SetBookFiles records the storage keys of a book's ebook and cover.
func (db *DB) SetBookFiles(ctx context.Context, id primitive.ObjectID, ebookKey, ebookName string, ebookSize int64, coverKey string) (err error) {
	defer observe("update", "books", time.Now(), &err)
	set := bson.M{}
	if ebookKey != "" {
		set["ebookKey"], set["ebookName"], set["ebookSize"] = ebookKey, ebookName, ebookSize
	}
	if coverKey != "" {
		set["coverKey"] = coverKey
	}
	if len(set) == 0 {
		return nil
	}
	res, err := db.Books().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteBook removes a book and every record that references it, returning
// the deleted book so the caller can remove its files.
func (db *DB) DeleteBook(ctx context.Context, id primitive.ObjectID) (b *models.Book, err error) {
	defer observe("delete", "books", time.Now(), &err)
	var book models.Book
	if err := db.Books().FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&book); err != nil {
		return nil, mapErr(err)
	}
	ref := bson.M{"bookId": id}
	for _, coll := range []*mongo.Collection{db.Collections(), db.Ratings(), db.Comments(), db.Progress(), db.Contents()} {
		if _, err := coll.DeleteMany(ctx, ref); err != nil {
			return &book, err
		}
	}
	return &book, nil
}

func (db *DB) IncrementViewCount(ctx context.Context, bookID primitive.ObjectID) error {
	return db.incBook(ctx, bookID, "viewCount")
}

func (db *DB) IncrementDownloadCount(ctx context.Context, bookID primitive.ObjectID) error {
	return db.incBook(ctx, bookID, "downloadCount")
}

func (db *DB) incBook(ctx context.Context, bookID primitive.ObjectID, field string) (err error) {
	defer observe("inc", "books", time.Now(), &err)
	res, err := db.Books().UpdateOne(ctx, bson.M{"_id": bookID}, bson.M{"$inc": bson.M{field: 1}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) CountBooksByUploader(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return db.Books().CountDocuments(ctx, bson.M{"uploadedBy": userID})
}
