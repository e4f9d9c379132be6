package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UsersCount returns the number of documents in the users collection.
func (db *DB) UsersCount(ctx context.Context) (int64, error) {
	return db.Users().CountDocuments(ctx, bson.M{})
}

// AdminsCount returns the number of users with role admin.
func (db *DB) AdminsCount(ctx context.Context) (int64, error) {
	return db.Users().CountDocuments(ctx, bson.M{"role": models.RoleAdmin})
}

// CreateUser inserts the account and its profile. The profile takes its
// username, email and join date from user.
func (db *DB) CreateUser(ctx context.Context, user *models.User, profile *models.UserProfile) (err error) {
	defer observe("insert", "users", time.Now(), &err)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	res, err := db.Users().InsertOne(ctx, user)
	if err != nil {
		return mapErr(err)
	}
	user.ID = res.InsertedID.(primitive.ObjectID)

	profile.UserID = user.ID
	profile.Username = user.Username
	profile.Email = user.Email
	profile.DateJoined = user.CreatedAt
	pres, err := db.Profiles().InsertOne(ctx, profile)
	if err != nil {
		_, _ = db.Users().DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": user.ID})
		return mapErr(err)
	}
	profile.ID = pres.InsertedID.(primitive.ObjectID)
	return nil
}

func (db *DB) UserByID(ctx context.Context, id primitive.ObjectID) (u *models.User, err error) {
	defer observe("find_one", "users", time.Now(), &err)
	return findOne[models.User](ctx, db.Users(), bson.M{"_id": id})
}

func (db *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return findOne[models.User](ctx, db.Users(), bson.M{"email": strings.ToLower(strings.TrimSpace(email))})
}

func (db *DB) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return findOne[models.User](ctx, db.Users(), bson.M{"username": strings.TrimSpace(username)})
}

// UserByLogin finds an account by username, or by email when login contains '@'.
func (db *DB) UserByLogin(ctx context.Context, login string) (u *models.User, err error) {
	defer observe("find_one", "users", time.Now(), &err)
	if strings.Contains(login, "@") {
		return db.UserByEmail(ctx, login)
	}
	return db.UserByUsername(ctx, login)
}

func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	return findAll[models.User](ctx, db.Users(), bson.M{}, options.Find().SetSort(bson.M{"createdAt": 1}))
}

// UpdateUser changes any of email, password hash and role. The profile copy
// of the email follows the account.
func (db *DB) UpdateUser(ctx context.Context, id primitive.ObjectID, email, hashedPassword, role *string) (err error) {
	defer observe("update", "users", time.Now(), &err)
	updates := bson.M{}
	if email != nil {
		updates["email"] = strings.ToLower(strings.TrimSpace(*email))
	}
	if hashedPassword != nil {
		updates["password"] = *hashedPassword
	}
	if role != nil {
		updates["role"] = *role
	}
	if len(updates) == 0 {
		return nil
	}
	res, err := db.Users().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": updates})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	profile := bson.M{}
	if email, ok := updates["email"]; ok {
		profile["email"] = email
	}
	if hashedPassword != nil {
		// A new password revokes every token issued so far.
		profile["lastLogout"] = time.Now().UTC()
	}
	if len(profile) > 0 {
		_, err = db.Profiles().UpdateOne(ctx, bson.M{"userId": id}, bson.M{"$set": profile})
	}
	return err
}

// DeleteUser removes an account together with its profile, uploaded books
// and activity. It returns the deleted books so their files can be removed.
func (db *DB) DeleteUser(ctx context.Context, id primitive.ObjectID) (books []models.Book, err error) {
	defer observe("delete", "users", time.Now(), &err)
	res, err := db.Users().DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if res.DeletedCount == 0 {
		return nil, ErrNotFound
	}
	owned := bson.M{"userId": id}
	for _, coll := range []*mongo.Collection{db.Profiles(), db.Collections(), db.Comments(), db.Progress(), db.EmailLogs()} {
		if _, err := coll.DeleteMany(ctx, owned); err != nil {
			return nil, err
		}
	}
	rated, err := db.deleteRatingsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, bookID := range rated {
		if err := db.RecomputeRating(ctx, bookID); err != nil {
			return nil, err
		}
	}

	books, err = findAll[models.Book](ctx, db.Books(), bson.M{"uploadedBy": id})
	if err != nil {
		return nil, err
	}
	for _, b := range books {
		if _, err := db.DeleteBook(ctx, b.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return books, err
		}
	}
	return books, nil
}

func (db *DB) ProfileByUserID(ctx context.Context, userID primitive.ObjectID) (p *models.UserProfile, err error) {
	defer observe("find_one", "profiles", time.Now(), &err)
	return findOne[models.UserProfile](ctx, db.Profiles(), bson.M{"userId": userID})
}

// ProfileUpdate carries the self-editable profile fields; nil fields are left unchanged.
type ProfileUpdate struct {
	FirstName      *string
	LastName       *string
	Bio            *string
	ProfilePicture *string
	DeviceEmail    *string
}

func (db *DB) UpdateProfile(ctx context.Context, userID primitive.ObjectID, u ProfileUpdate) (p *models.UserProfile, err error) {
	defer observe("update", "profiles", time.Now(), &err)
	set := bson.M{}
	for field, v := range map[string]*string{
		"firstName":      u.FirstName,
		"lastName":       u.LastName,
		"bio":            u.Bio,
		"profilePicture": u.ProfilePicture,
		"deviceEmail":    u.DeviceEmail,
	} {
		if v != nil {
			set[field] = strings.TrimSpace(*v)
		}
	}
	if len(set) == 0 {
		return db.ProfileByUserID(ctx, userID)
	}
	var out models.UserProfile
	err = db.Profiles().FindOneAndUpdate(ctx, bson.M{"userId": userID}, bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

// RecordLoginSuccess clears the failure streak and counts the login.
func (db *DB) RecordLoginSuccess(ctx context.Context, userID primitive.ObjectID, at time.Time) (err error) {
	defer observe("update", "profiles", time.Now(), &err)
	_, err = db.Profiles().UpdateOne(ctx, bson.M{"userId": userID}, bson.M{
		"$set":   bson.M{"lastLogin": at, "failedLoginAttempts": 0},
		"$unset": bson.M{"lockedUntil": ""},
		"$inc":   bson.M{"loginCount": 1},
	})
	return err
}

// RecordLoginFailure counts a failed password and locks the profile until
// lockUntil once maxFailures consecutive failures are reached. It returns
// the updated profile.
func (db *DB) RecordLoginFailure(ctx context.Context, userID primitive.ObjectID, maxFailures int, lockUntil time.Time) (p *models.UserProfile, err error) {
	defer observe("update", "profiles", time.Now(), &err)
	var out models.UserProfile
	err = db.Profiles().FindOneAndUpdate(ctx, bson.M{"userId": userID},
		bson.M{"$inc": bson.M{"failedLoginAttempts": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&out)
	if err != nil {
		return nil, mapErr(err)
	}
	if out.FailedLoginAttempts >= maxFailures {
		_, err = db.Profiles().UpdateOne(ctx, bson.M{"userId": userID}, bson.M{
			"$set": bson.M{"lockedUntil": lockUntil, "failedLoginAttempts": 0},
		})
		if err != nil {
			return nil, err
		}
		out.LockedUntil = &lockUntil
		out.FailedLoginAttempts = 0
	}
	return &out, nil
}

// RecordLogout stamps lastLogout; tokens issued before it stop being accepted.
func (db *DB) RecordLogout(ctx context.Context, userID primitive.ObjectID, at time.Time) (err error) {
	defer observe("update", "profiles", time.Now(), &err)
	_, err = db.Profiles().UpdateOne(ctx, bson.M{"userId": userID}, bson.M{"$set": bson.M{"lastLogout": at}})
	return err
}

// Analytics counts a user's uploads, finished and in-progress books and favorites.
func (db *DB) Analytics(ctx context.Context, user *models.User) (a *models.UserAnalytics, err error) {
	defer observe("count", "analytics", time.Now(), &err)
	a = &models.UserAnalytics{UserID: user.ID, Username: user.Username}
	if a.BooksUploaded, err = db.CountBooksByUploader(ctx, user.ID); err != nil {
		return nil, err
	}
	if a.BooksRead, err = db.Progress().CountDocuments(ctx, bson.M{"userId": user.ID, "completed": true}); err != nil {
		return nil, err
	}
	if a.BooksInProgress, err = db.Progress().CountDocuments(ctx, bson.M{
		"userId": user.ID, "completed": false, "currentPage": bson.M{"$gt": 0},
	}); err != nil {
		return nil, err
	}
	if a.FavoriteBooks, err = db.Collections().CountDocuments(ctx, bson.M{"userId": user.ID}); err != nil {
		return nil, err
	}
	return a, nil
}

// Session returns the user's current role and last logout. It returns nil
// when the account or its profile is gone.
func (db *DB) Session(ctx context.Context, userID primitive.ObjectID) (s *models.Session, err error) {
	defer observe("find_one", "users", time.Now(), &err)
	u, err := findOne[models.User](ctx, db.Users(), bson.M{"_id": userID},
		options.FindOne().SetProjection(bson.M{"role": 1}))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p, err := findOne[models.UserProfile](ctx, db.Profiles(), bson.M{"userId": userID},
		options.FindOne().SetProjection(bson.M{"lastLogout": 1}))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.Session{Role: u.Role, LastLogout: p.LastLogout}, nil
}
