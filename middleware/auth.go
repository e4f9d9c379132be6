package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/kevinaaaquil/kremlib/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func init() {
	// iat is compared against lastLogout, which has millisecond precision.
	jwt.TimePrecision = time.Millisecond
}

type contextKey string

const principalKey contextKey = "principal"

type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the caller of a request.
type Principal struct {
	UserID        primitive.ObjectID
	Username      string
	Role          string
	Authenticated bool
}

func (p Principal) IsAdmin() bool {
	return p.Authenticated && p.Role == models.RoleAdmin
}

// Sessions loads the current account state of a token's user. A nil session
// means the account no longer exists.
type Sessions interface {
	Session(ctx context.Context, userID primitive.ObjectID) (*models.Session, error)
}

// Authenticator validates bearer tokens.
type Authenticator struct {
	Secret   []byte
	TTL      time.Duration
	Sessions Sessions
}

// Issue signs a token for user.
func (a *Authenticator) Issue(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   user.ID.Hex(),
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.Hex(),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

var (
	errNoToken      = errors.New("authentication credentials were not provided")
	errBadFormat    = errors.New("invalid authorization format")
	errBadToken     = errors.New("invalid or expired token")
	errRevokedToken = errors.New("token has been revoked")
	errNoAccount    = errors.New("user account no longer exists")
)

func (a *Authenticator) parse(r *http.Request) (Principal, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return Principal{}, errNoToken
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return Principal{}, errBadFormat
	}
	token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuedAt())
	if err != nil || !token.Valid {
		return Principal{}, errBadToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.IssuedAt == nil {
		return Principal{}, errBadToken
	}
	userID, err := primitive.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return Principal{}, errBadToken
	}
	p := Principal{UserID: userID, Username: claims.Username, Role: claims.Role, Authenticated: true}
	if a.Sessions == nil {
		return p, nil
	}
	s, err := a.Sessions.Session(r.Context(), userID)
	if err != nil {
		return Principal{}, err
	}
	if s == nil {
		return Principal{}, errNoAccount
	}
	if s.LastLogout != nil && !claims.IssuedAt.Time.After(*s.LastLogout) {
		return Principal{}, errRevokedToken
	}
	// The stored role wins so a demotion applies to tokens already issued.
	p.Role = s.Role
	return p, nil
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errNoToken), errors.Is(err, errBadFormat), errors.Is(err, errBadToken), errors.Is(err, errRevokedToken), errors.Is(err, errNoAccount):
		utils.WriteError(w, http.StatusUnauthorized, err.Error(), nil)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("session lookup failed")
		utils.WriteError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

// Auth rejects requests without a valid bearer token.
func (a *Authenticator) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.parse(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// OptionalAuth lets anonymous requests through; a token that is present must be valid.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := a.parse(r)
		switch {
		case errors.Is(err, errNoToken):
			next.ServeHTTP(w, r)
		case err != nil:
			a.reject(w, r, err)
		default:
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		}
	})
}

// RequireAdmin must run after Auth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !PrincipalFromContext(r.Context()).IsAdmin() {
			utils.WriteError(w, http.StatusForbidden, "you do not have permission to perform this action", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the caller, or an anonymous principal.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey).(Principal)
	return p
}

func UserIDFromContext(ctx context.Context) (primitive.ObjectID, bool) {
	p := PrincipalFromContext(ctx)
	return p.UserID, p.Authenticated
}
