package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeSessions struct {
	role    string
	last    *time.Time
	deleted bool
	err     error
}

func (f *fakeSessions) Session(context.Context, primitive.ObjectID) (*models.Session, error) {
	if f.err != nil || f.deleted {
		return nil, f.err
	}
	return &models.Session{Role: f.role, LastLogout: f.last}, nil
}

func newAuth(s Sessions) *Authenticator {
	return &Authenticator{Secret: []byte("test-secret-0123456789"), TTL: time.Hour, Sessions: s}
}

func echoPrincipal(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p.Authenticated {
			_, _ = w.Write([]byte(p.Username))
			return
		}
		_, _ = w.Write([]byte("anonymous"))
	})
}

func do(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthAcceptsIssuedToken(t *testing.T) {
	a := newAuth(&fakeSessions{})
	user := &models.User{ID: primitive.NewObjectID(), Username: "ada", Role: models.RoleMember}
	token, err := a.Issue(user)
	require.NoError(t, err)

	rec := do(a.Auth(echoPrincipal(t)), token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada", rec.Body.String())
}

func TestAuthRejectsMissingAndBadTokens(t *testing.T) {
	a := newAuth(nil)
	h := a.Auth(echoPrincipal(t))

	rec := do(h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"error"`)

	assert.Equal(t, http.StatusUnauthorized, do(h, "not-a-jwt").Code)

	other := &Authenticator{Secret: []byte("another-secret-0123456"), TTL: time.Hour}
	token, err := other.Issue(&models.User{ID: primitive.NewObjectID()})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(h, token).Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	a := newAuth(nil)
	a.TTL = -time.Minute
	token, err := a.Issue(&models.User{ID: primitive.NewObjectID()})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(a.Auth(echoPrincipal(t)), token).Code)
}

func TestAuthRejectsTokenIssuedBeforeLogout(t *testing.T) {
	sessions := &fakeSessions{role: models.RoleMember}
	a := newAuth(sessions)
	token, err := a.Issue(&models.User{ID: primitive.NewObjectID(), Username: "bo"})
	require.NoError(t, err)

	logout := time.Now().Add(time.Second)
	sessions.last = &logout
	rec := do(a.Auth(echoPrincipal(t)), token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "revoked")

	earlier := time.Now().Add(-time.Hour)
	sessions.last = &earlier
	assert.Equal(t, http.StatusOK, do(a.Auth(echoPrincipal(t)), token).Code)
}

func TestAuthSessionLookupFailureIs500(t *testing.T) {
	a := newAuth(&fakeSessions{err: errors.New("db down")})
	token, err := a.Issue(&models.User{ID: primitive.NewObjectID()})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, do(a.Auth(echoPrincipal(t)), token).Code)
}

func TestAuthRejectsOtherSigningMethods(t *testing.T) {
	a := newAuth(nil)
	claims := &Claims{UserID: primitive.NewObjectID().Hex(), RegisteredClaims: jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(a.Secret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(a.Auth(echoPrincipal(t)), token).Code)
}

func TestAuthUsesStoredRole(t *testing.T) {
	sessions := &fakeSessions{role: models.RoleAdmin}
	a := newAuth(sessions)
	h := a.Auth(RequireAdmin(echoPrincipal(t)))
	token, err := a.Issue(&models.User{ID: primitive.NewObjectID(), Username: "root", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(h, token).Code)

	sessions.role = models.RoleMember
	assert.Equal(t, http.StatusForbidden, do(h, token).Code)

	member, err := a.Issue(&models.User{ID: primitive.NewObjectID(), Username: "m", Role: models.RoleMember})
	require.NoError(t, err)
	sessions.role = models.RoleAdmin
	assert.Equal(t, http.StatusOK, do(h, member).Code)
}

func TestAuthRejectsDeletedAccount(t *testing.T) {
	a := newAuth(&fakeSessions{role: models.RoleAdmin, deleted: true})
	token, err := a.Issue(&models.User{ID: primitive.NewObjectID(), Username: "gone", Role: models.RoleAdmin})
	require.NoError(t, err)

	rec := do(a.Auth(RequireAdmin(echoPrincipal(t))), token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "no longer exists")

	assert.Equal(t, http.StatusUnauthorized, do(a.OptionalAuth(echoPrincipal(t)), token).Code)
}

func TestOptionalAuth(t *testing.T) {
	a := newAuth(nil)
	h := a.OptionalAuth(echoPrincipal(t))

	rec := do(h, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	token, err := a.Issue(&models.User{ID: primitive.NewObjectID(), Username: "cy"})
	require.NoError(t, err)
	assert.Equal(t, "cy", do(h, token).Body.String())

	assert.Equal(t, http.StatusUnauthorized, do(h, "garbage").Code)
}

func TestRequireAdmin(t *testing.T) {
	a := newAuth(nil)
	h := a.Auth(RequireAdmin(echoPrincipal(t)))

	member, err := a.Issue(&models.User{ID: primitive.NewObjectID(), Username: "m", Role: models.RoleMember})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(h, member).Code)

	admin, err := a.Issue(&models.User{ID: primitive.NewObjectID(), Username: "root", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(h, admin).Code)
}

func TestRequestIDAndAccessLog(t *testing.T) {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, RequestID, AccessLog)
	r.Get("/books/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/books/42", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	open := RateLimit(0, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
