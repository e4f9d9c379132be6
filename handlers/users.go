package handlers

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/kevinaaaquil/kremlib/cache"
	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/middleware"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/kevinaaaquil/kremlib/service"
	"github.com/kevinaaaquil/kremlib/store"
	"github.com/kevinaaaquil/kremlib/utils"
	"github.com/kevinaaaquil/kremlib/validation"
	"golang.org/x/crypto/bcrypt"
)

// UsersHandler is the admin-only account management API.
type UsersHandler struct {
	DB    *store.DB
	Files service.FileStore
	Cache *cache.Cache
}

type UpdateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email,max=254"`
	Password *string `json:"password" validate:"omitempty,min=8,max=128"`
	Role     *string `json:"role"`
}

type UserResponse struct {
	AccountResponse
	CreatedAt string `json:"createdAt"`
}

func userToResponse(u *models.User) UserResponse {
	return UserResponse{
		AccountResponse: accountOf(u),
		CreatedAt:       u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.DB.ListUsers(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, userToResponse(&users[i]))
	}
	utils.WriteJSON(w, http.StatusOK, "", out)
}

// UpdateUser changes a user's email, password or role.
func (h *UsersHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req UpdateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	user, err := h.DB.UserByID(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var newRole *string
	if req.Role != nil {
		role := strings.TrimSpace(strings.ToLower(*req.Role))
		if !slices.Contains(models.ValidRoles, role) {
			verrs := validation.Errors{}
			verrs.Add("role", "Must be one of: "+strings.Join(models.ValidRoles, ", ")+".")
			writeErr(w, r, verrs)
			return
		}
		if user.Role == models.RoleAdmin && role != models.RoleAdmin {
			if err := h.keepAnAdmin(r); err != nil {
				writeErr(w, r, err)
				return
			}
		}
		newRole = &role
	}
	var newHash *string
	if req.Password != nil && *req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		s := string(hash)
		newHash = &s
	}

	err = h.DB.UpdateUser(r.Context(), id, req.Email, newHash, newRole)
	if errors.Is(err, store.ErrDuplicate) {
		verrs := validation.Errors{}
		verrs.Add("email", "A user with that email already exists.")
		writeErr(w, r, verrs)
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	user, err = h.DB.UserByID(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "User updated", userToResponse(user))
}

func (h *UsersHandler) keepAnAdmin(r *http.Request) error {
	count, err := h.DB.AdminsCount(r.Context())
	if err != nil {
		return err
	}
	if count <= 1 {
		return service.ErrBadRequest("cannot remove the last admin user")
	}
	return nil
}

// DeleteUser removes an account and everything it owns. Admins cannot delete
// themselves or the last remaining admin.
func (h *UsersHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if currentID, _ := middleware.UserIDFromContext(r.Context()); currentID == id {
		writeErr(w, r, service.ErrBadRequest("cannot delete your own account"))
		return
	}
	user, err := h.DB.UserByID(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if user.Role == models.RoleAdmin {
		if err := h.keepAnAdmin(r); err != nil {
			writeErr(w, r, err)
			return
		}
	}
	books, err := h.DB.DeleteUser(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	removeFiles(r.Context(), h.Files, books...)
	if len(books) > 0 {
		h.Cache.Invalidate(cache.EntityBooks)
	}
	logging.Ctx(r.Context()).Info().Str("user", user.Username).Int("books", len(books)).Msg("user deleted")
	utils.WriteJSON(w, http.StatusOK, "User deleted", nil)
}
