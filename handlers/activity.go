package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kevinaaaquil/kremlib/cache"
	"github.com/kevinaaaquil/kremlib/middleware"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/kevinaaaquil/kremlib/service"
	"github.com/kevinaaaquil/kremlib/store"
	"github.com/kevinaaaquil/kremlib/utils"
	"github.com/kevinaaaquil/kremlib/validation"
)

// ActivityHandler serves the per-user records attached to books: favorites,
// ratings, comments, reading progress and authored content.
type ActivityHandler struct {
	DB    *store.DB
	Books *BooksHandler
	Cache *cache.Cache
}

type FavoriteResponse struct {
	IsFavorited bool `json:"isFavorited"`
}

func (h *ActivityHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	added, err := h.DB.ToggleFavorite(r.Context(), viewerOf(r), book.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	msg := "Book removed from favorites"
	if added {
		msg = "Book added to favorites"
	}
	utils.WriteJSON(w, http.StatusOK, msg, FavoriteResponse{IsFavorited: added})
}

func (h *ActivityHandler) Favorites(w http.ResponseWriter, r *http.Request) {
	entries, err := h.DB.Favorites(r.Context(), viewerOf(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	for i := range entries {
		setCoverURL(entries[i].Book)
	}
	utils.WriteJSON(w, http.StatusOK, "", entries)
}

type RatingRequest struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Review string `json:"review" validate:"max=5000"`
}

// Rate creates or replaces the caller's rating of a book.
func (h *ActivityHandler) Rate(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req RatingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	p := middleware.PrincipalFromContext(r.Context())
	rating, err := h.DB.UpsertRating(r.Context(), &models.Rating{
		UserID:   p.UserID,
		Username: p.Username,
		BookID:   book.ID,
		Rating:   req.Rating,
		Review:   strings.TrimSpace(req.Review),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.Cache.Invalidate(cache.EntityBooks)
	utils.WriteJSON(w, http.StatusOK, "Rating saved", rating)
}

func (h *ActivityHandler) Ratings(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	ratings, err := h.DB.RatingsForBook(r.Context(), book.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", ratings)
}

type CommentRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

// text returns the trimmed comment body, rejecting whitespace-only content.
func (req *CommentRequest) text() (string, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		verrs := validation.Errors{}
		verrs.Add("content", "This field may not be blank.")
		return "", verrs
	}
	return content, nil
}

func (h *ActivityHandler) Comments(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	comments, err := h.DB.CommentsForBook(r.Context(), book.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", comments)
}

func (h *ActivityHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	content, err := req.text()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	p := middleware.PrincipalFromContext(r.Context())
	c := &models.Comment{UserID: p.UserID, Username: p.Username, BookID: book.ID, Content: content}
	if err := h.DB.InsertComment(r.Context(), c); err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, "Comment added", c)
}

// ownComment loads the {id} comment, allowing only its author.
func (h *ActivityHandler) ownComment(r *http.Request) (*models.Comment, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	c, err := h.DB.CommentByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, service.ErrNotFound("comment not found")
	}
	if err != nil {
		return nil, err
	}
	if c.UserID != viewerOf(r) {
		return nil, service.ErrForbidden("you do not have permission to perform this action")
	}
	return c, nil
}

func (h *ActivityHandler) UpdateComment(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownComment(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req CommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	content, err := req.text()
	if err != nil {
		writeErr(w, r, err)
		return
	}
	updated, err := h.DB.UpdateComment(r.Context(), c.ID, content)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "Comment updated", updated)
}

func (h *ActivityHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	c, err := h.ownComment(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.DB.DeleteComment(r.Context(), c.ID); err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "Comment deleted", nil)
}

type ProgressRequest struct {
	CurrentPage int   `json:"currentPage" validate:"gte=0"`
	TotalPages  int   `json:"totalPages" validate:"gte=0"`
	Completed   *bool `json:"completed"`
}

// Validate rejects a position past the end of a book with a known length.
func (p *ProgressRequest) Validate() error {
	if p.TotalPages > 0 && p.CurrentPage > p.TotalPages {
		verrs := validation.Errors{}
		verrs.Add("currentPage", "Current page cannot exceed total pages.")
		return verrs
	}
	return nil
}

func withPercentage(p *models.ReadingProgress) *models.ReadingProgress {
	p.ProgressPercentage = p.Percentage()
	return p
}

func (h *ActivityHandler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req ProgressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeErr(w, r, err)
		return
	}
	completed := req.TotalPages > 0 && req.CurrentPage >= req.TotalPages
	if req.Completed != nil && *req.Completed {
		completed = true
	}
	p, err := h.DB.UpsertProgress(r.Context(), &models.ReadingProgress{
		UserID:      viewerOf(r),
		BookID:      book.ID,
		BookTitle:   book.Title,
		CurrentPage: req.CurrentPage,
		TotalPages:  req.TotalPages,
		Completed:   completed,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "Progress saved", withPercentage(p))
}

func (h *ActivityHandler) Progress(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.DB.ProgressFor(r.Context(), viewerOf(r), book.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, r, service.ErrNotFound("no reading progress for this book"))
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", withPercentage(p))
}

func (h *ActivityHandler) AllProgress(w http.ResponseWriter, r *http.Request) {
	rows, err := h.DB.ProgressForUser(r.Context(), viewerOf(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	for i := range rows {
		withPercentage(&rows[i])
	}
	utils.WriteJSON(w, http.StatusOK, "", rows)
}

type ContentRequest struct {
	Content string `json:"content" validate:"required"`
}

func (h *ActivityHandler) Content(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := h.DB.ContentForBook(r.Context(), book.ID)
	if errors.Is(err, store.ErrNotFound) {
		writeErr(w, r, service.ErrNotFound("this book has no content"))
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", c)
}

func (h *ActivityHandler) SaveContent(w http.ResponseWriter, r *http.Request) {
	book, err := h.Books.ownedBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req ContentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := h.DB.UpsertContent(r.Context(), book.ID, req.Content)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "Content saved", c)
}
