package handlers

import (
	"errors"
	"net/http"

	"github.com/kevinaaaquil/kremlib/cache"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/kevinaaaquil/kremlib/store"
	"github.com/kevinaaaquil/kremlib/utils"
	"github.com/kevinaaaquil/kremlib/validation"
)

type CategoriesHandler struct {
	DB    *store.DB
	Cache *cache.Cache
}

type CategoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (h *CategoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	cats, err := cache.Remember(h.Cache, cache.EntityCategories, "list", nil, func() ([]models.Category, error) {
		return h.DB.ListCategories(r.Context())
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", cats)
}

func (h *CategoriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := h.DB.CreateCategory(r.Context(), req.Name)
	if errors.Is(err, store.ErrDuplicate) {
		verrs := validation.Errors{}
		verrs.Add("name", "category with this name already exists.")
		writeErr(w, r, verrs)
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.Cache.Invalidate(cache.EntityCategories)
	utils.WriteJSON(w, http.StatusCreated, "Category created", c)
}

func (h *CategoriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.DB.DeleteCategory(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	h.Cache.Invalidate(cache.EntityCategories)
	utils.WriteJSON(w, http.StatusOK, "Category deleted", nil)
}
