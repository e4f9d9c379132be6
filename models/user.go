package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role constants for user authorization.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

var ValidRoles = []string{RoleAdmin, RoleMember}

type User struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username  string             `bson:"username" json:"username"`
	Email     string             `bson:"email" json:"email"`
	Password  string             `bson:"password" json:"-"` // bcrypt hash
	Role      string             `bson:"role" json:"role"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// Session is the stored account state a bearer token is checked against.
type Session struct {
	Role       string
	LastLogout *time.Time
}

// UserProfile holds the per-account profile. Each account has at most one.
type UserProfile struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID              primitive.ObjectID `bson:"userId" json:"userId"`
	Username            string             `bson:"username" json:"username"`
	Email               string             `bson:"email" json:"email"`
	FirstName           string             `bson:"firstName" json:"firstName"`
	LastName            string             `bson:"lastName" json:"lastName"`
	Bio                 string             `bson:"bio" json:"bio"`
	ProfilePicture      string             `bson:"profilePicture,omitempty" json:"profilePicture,omitempty"`
	DeviceEmail         string             `bson:"deviceEmail,omitempty" json:"deviceEmail,omitempty"`
	DateJoined          time.Time          `bson:"dateJoined" json:"dateJoined"`
	LastLogin           *time.Time         `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	LastLogout          *time.Time         `bson:"lastLogout,omitempty" json:"lastLogout,omitempty"`
	LoginCount          int                `bson:"loginCount" json:"loginCount"`
	FailedLoginAttempts int                `bson:"failedLoginAttempts" json:"-"`
	LockedUntil         *time.Time         `bson:"lockedUntil,omitempty" json:"-"`
}

// Locked reports whether logins are refused at now.
func (p *UserProfile) Locked(now time.Time) bool {
	return p.LockedUntil != nil && now.Before(*p.LockedUntil)
}

// UserAnalytics summarises a user's library activity.
type UserAnalytics struct {
	UserID          primitive.ObjectID `json:"id"`
	Username        string             `json:"username"`
	BooksUploaded   int64              `json:"booksUploaded"`
	BooksRead       int64              `json:"booksRead"`
	BooksInProgress int64              `json:"booksInProgress"`
	FavoriteBooks   int64              `json:"favoriteBooks"`
}
