package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/metrics"
	"github.com/kevinaaaquil/kremlib/middleware"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/kevinaaaquil/kremlib/service"
	"github.com/kevinaaaquil/kremlib/store"
	"github.com/kevinaaaquil/kremlib/utils"
	"github.com/kevinaaaquil/kremlib/validation"
	"golang.org/x/crypto/bcrypt"
)

type AuthHandler struct {
	DB          *store.DB
	Tokens      *middleware.Authenticator
	MaxFailures int
	LockFor     time.Duration
}

type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=150,excludesall= @"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	FirstName string `json:"firstName" validate:"max=150"`
	LastName  string `json:"lastName" validate:"max=150"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password" validate:"required"`
}

type AccountResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type LoginResponse struct {
	Token string          `json:"token"`
	User  AccountResponse `json:"user"`
}

func accountOf(u *models.User) AccountResponse {
	return AccountResponse{ID: u.ID.Hex(), Username: u.Username, Email: u.Email, Role: u.Role}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	user := &models.User{
		Username: strings.TrimSpace(req.Username),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Password: string(hash),
		Role:     models.RoleMember,
	}
	profile := &models.UserProfile{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	}
	if err := h.DB.CreateUser(r.Context(), user, profile); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			verrs := validation.Errors{}
			verrs.Add("username", "A user with that username or email already exists.")
			writeErr(w, r, verrs)
			return
		}
		writeErr(w, r, err)
		return
	}
	logging.Ctx(r.Context()).Info().Str("user", user.Username).Msg("user registered")
	utils.WriteJSON(w, http.StatusCreated, "User registered successfully", accountOf(user))
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	login := strings.TrimSpace(req.Username)
	if login == "" {
		login = strings.TrimSpace(req.Email)
	}
	if login == "" {
		verrs := validation.Errors{}
		verrs.Add("username", "This field is required.")
		writeErr(w, r, verrs)
		return
	}

	user, err := h.DB.UserByLogin(r.Context(), login)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, r, service.ErrUnauthorized("invalid credentials"))
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	profile, err := h.DB.ProfileByUserID(r.Context(), user.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeErr(w, r, err)
		return
	}
	now := time.Now().UTC()
	if profile != nil && profile.Locked(now) {
		writeErr(w, r, service.ErrForbidden("account is temporarily locked, try again later"))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		metrics.LoginFailures.Inc()
		if profile != nil {
			p, err := h.DB.RecordLoginFailure(r.Context(), user.ID, h.MaxFailures, now.Add(h.LockFor))
			if err != nil {
				writeErr(w, r, err)
				return
			}
			if p.Locked(now) {
				logging.Ctx(r.Context()).Warn().Str("user", user.Username).Msg("account locked after repeated login failures")
			}
		}
		writeErr(w, r, service.ErrUnauthorized("invalid credentials"))
		return
	}

	token, err := h.Tokens.Issue(user)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.DB.RecordLoginSuccess(r.Context(), user.ID, now); err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "Login successful", LoginResponse{Token: token, User: accountOf(user)})
}

// Logout revokes every token issued to the caller so far.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	if err := h.DB.RecordLogout(r.Context(), userID, time.Now().UTC()); err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "Logged out successfully", nil)
}

// SeedAdmin creates the configured admin account unless a user with that
// username already exists.
func SeedAdmin(ctx context.Context, db *store.DB, username, email, password string) error {
	if username == "" {
		return nil
	}
	_, err := db.UserByUsername(ctx, username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := &models.User{
		Username: username,
		Email:    strings.ToLower(email),
		Password: string(hash),
		Role:     models.RoleAdmin,
	}
	if err := db.CreateUser(ctx, user, &models.UserProfile{}); err != nil {
		return err
	}
	logging.Info().Str("user", username).Msg("admin account created")
	return nil
}
