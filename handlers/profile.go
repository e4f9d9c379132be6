package handlers

import (
	"net/http"

	"github.com/kevinaaaquil/kremlib/middleware"
	"github.com/kevinaaaquil/kremlib/store"
	"github.com/kevinaaaquil/kremlib/utils"
)

const recentSends = 50

type ProfileHandler struct {
	DB *store.DB
}

type UpdateProfileRequest struct {
	FirstName      *string `json:"firstName" validate:"omitempty,max=150"`
	LastName       *string `json:"lastName" validate:"omitempty,max=150"`
	Bio            *string `json:"bio" validate:"omitempty,max=2000"`
	ProfilePicture *string `json:"profilePicture" validate:"omitempty,max=500"`
	DeviceEmail    *string `json:"deviceEmail" validate:"omitempty,email"`
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	p, err := h.DB.ProfileByUserID(r.Context(), userID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "Profile retrieved", p)
}

func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	userID, _ := middleware.UserIDFromContext(r.Context())
	p, err := h.DB.UpdateProfile(r.Context(), userID, store.ProfileUpdate{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Bio:            req.Bio,
		ProfilePicture: req.ProfilePicture,
		DeviceEmail:    req.DeviceEmail,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "Profile updated", p)
}

func (h *ProfileHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	user, err := h.DB.UserByID(r.Context(), userID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	a, err := h.DB.Analytics(r.Context(), user)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "Analytics retrieved", a)
}

// Sends lists the books the caller recently e-mailed to a device.
func (h *ProfileHandler) Sends(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.UserIDFromContext(r.Context())
	logs, err := h.DB.EmailLogsForUser(r.Context(), userID, recentSends)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", logs)
}
