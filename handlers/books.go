package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/kevinaaaquil/kremlib/cache"
	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/middleware"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/kevinaaaquil/kremlib/service"
	"github.com/kevinaaaquil/kremlib/store"
	"github.com/kevinaaaquil/kremlib/utils"
	"github.com/kevinaaaquil/kremlib/validation"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type BooksHandler struct {
	DB          *store.DB
	Files       service.FileStore
	Library     *service.Library
	Recommender *service.Recommender
	// Mailer is nil when SMTP is not configured.
	Mailer          service.BookSender
	Cache           *cache.Cache
	DefaultPageSize int
	MaxPageSize     int
}

// BookDetail is a book with the caller-specific and related data of the detail view.
type BookDetail struct {
	*models.Book
	IsFavorited bool                `json:"isFavorited"`
	Comments    []models.Comment    `json:"comments"`
	Content     *models.BookContent `json:"content"`
}

// setCoverURL points the image field at the cover endpoint when a cover is stored.
func setCoverURL(book *models.Book) {
	if book.CoverKey != "" {
		book.CoverURL = "/api/books/" + book.ID.Hex() + "/cover"
	}
}

func setCoverURLs(books []models.Book) []models.Book {
	for i := range books {
		setCoverURL(&books[i])
	}
	return books
}

func viewerOf(r *http.Request) primitive.ObjectID {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}

// visibleBook loads the {id} book. Private books are reported as missing to
// everyone except their uploader.
func (h *BooksHandler) visibleBook(r *http.Request) (*models.Book, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, service.ErrNotFound("book not found")
	}
	book, err := h.DB.BookByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, service.ErrNotFound("book not found")
	}
	if err != nil {
		return nil, err
	}
	if !book.VisibleTo(viewerOf(r)) {
		return nil, service.ErrNotFound("book not found")
	}
	setCoverURL(book)
	return book, nil
}

// ownedBook loads the {id} book for a write by its uploader.
func (h *BooksHandler) ownedBook(r *http.Request) (*models.Book, error) {
	book, err := h.visibleBook(r)
	if err != nil {
		return nil, err
	}
	if !book.OwnedBy(viewerOf(r)) {
		return nil, service.ErrForbidden("you do not have permission to perform this action")
	}
	return book, nil
}

func (h *BooksHandler) listParams(r *http.Request) (models.BookListParams, error) {
	q := r.URL.Query()
	page, size, err := pageParams(r, h.DefaultPageSize, h.MaxPageSize)
	if err != nil {
		return models.BookListParams{}, err
	}
	isbn := q.Get("isbn")
	if isbn == "" {
		isbn = q.Get("ISBN")
	}
	year := strings.TrimSpace(q.Get("year"))
	if year != "" {
		if _, err := strconv.Atoi(year); err != nil {
			verrs := validation.Errors{}
			verrs.Add("year", "Enter a number.")
			return models.BookListParams{}, verrs
		}
	}
	return models.BookListParams{
		Viewer:   viewerOf(r),
		Title:    q.Get("title"),
		Author:   q.Get("author"),
		ISBN:     isbn,
		Year:     year,
		Category: q.Get("category"),
		Search:   q.Get("search"),
		Page:     page,
		PageSize: size,
	}, nil
}

func (h *BooksHandler) list(w http.ResponseWriter, r *http.Request, mine bool) {
	p, err := h.listParams(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if mine {
		p.Owner = p.Viewer
	}
	books, total, err := h.DB.ListBooks(r.Context(), p)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", newPage(r, setCoverURLs(books), total, p.Page, p.PageSize))
}

func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) { h.list(w, r, false) }

// Mine lists the caller's uploads, private ones included.
func (h *BooksHandler) Mine(w http.ResponseWriter, r *http.Request) { h.list(w, r, true) }

func (h *BooksHandler) Popular(w http.ResponseWriter, r *http.Request) {
	books, err := cache.Remember(h.Cache, cache.EntityBooks, "popular", nil, func() ([]models.Book, error) {
		return h.Recommender.Popular(r.Context())
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", setCoverURLs(books))
}

func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	book, err := h.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	detail := BookDetail{Book: book}
	if detail.IsFavorited, err = h.DB.IsFavorited(r.Context(), viewerOf(r), book.ID); err != nil {
		writeErr(w, r, err)
		return
	}
	if detail.Comments, err = h.DB.CommentsForBook(r.Context(), book.ID); err != nil {
		writeErr(w, r, err)
		return
	}
	detail.Content, err = h.DB.ContentForBook(r.Context(), book.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", detail)
}

// checkCategory reports a validation error when name is set but unknown.
func (h *BooksHandler) checkCategory(ctx context.Context, name *string) error {
	if name == nil || strings.TrimSpace(*name) == "" {
		return nil
	}
	c, err := h.DB.CategoryByName(ctx, *name)
	if errors.Is(err, store.ErrNotFound) {
		verrs := validation.Errors{}
		verrs.Add("category", "Unknown category.")
		return verrs
	}
	if err != nil {
		return err
	}
	*name = c.Name
	return nil
}

func duplicateISBN() error {
	verrs := validation.Errors{}
	verrs.Add("isbn", "book with this isbn already exists.")
	return verrs
}

func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	book, err := h.ownedBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var req models.BookUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.checkCategory(r.Context(), req.Category); err != nil {
		writeErr(w, r, err)
		return
	}
	updated, err := h.DB.UpdateBook(r.Context(), book.ID, &req)
	if errors.Is(err, store.ErrDuplicate) {
		writeErr(w, r, duplicateISBN())
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	h.Cache.Invalidate(cache.EntityBooks)
	setCoverURL(updated)
	utils.WriteJSON(w, http.StatusOK, "Book updated", updated)
}

func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	book, err := h.ownedBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	deleted, err := h.DB.DeleteBook(r.Context(), book.ID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	removeFiles(r.Context(), h.Files, *deleted)
	h.Cache.Invalidate(cache.EntityBooks)
	utils.WriteJSON(w, http.StatusOK, "Book deleted", nil)
}

// removeFiles deletes the stored files of books, logging failures.
func removeFiles(ctx context.Context, files service.FileStore, books ...models.Book) {
	ctx = context.WithoutCancel(ctx)
	for _, b := range books {
		for _, key := range []string{b.EbookKey, b.CoverKey} {
			if key == "" {
				continue
			}
			if err := files.Delete(ctx, key); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to delete stored file")
			}
		}
	}
}

func (h *BooksHandler) Cover(w http.ResponseWriter, r *http.Request) {
	book, err := h.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	obj, err := h.Library.Cover(r.Context(), book)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer obj.Body.Close()
	ct := obj.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("cover stream interrupted")
	}
}

func (h *BooksHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	books, err := h.Recommender.Recommend(r.Context(), viewerOf(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", setCoverURLs(books))
}

func (h *BooksHandler) Similar(w http.ResponseWriter, r *http.Request) {
	book, err := h.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	viewer := viewerOf(r)
	similar := func() ([]models.Book, error) { return h.Recommender.Similar(r.Context(), book, viewer) }
	var books []models.Book
	if viewer.IsZero() {
		books, err = cache.Remember(h.Cache, cache.EntityBooks, "similar", []any{book.ID.Hex()}, similar)
	} else {
		books, err = similar()
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", setCoverURLs(books))
}

func (h *BooksHandler) Preview(w http.ResponseWriter, r *http.Request) {
	book, err := h.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	p, err := h.Library.Preview(r.Context(), book)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "", p)
}

func (h *BooksHandler) Read(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, service.ModeRead)
}

func (h *BooksHandler) Download(w http.ResponseWriter, r *http.Request) {
	h.deliver(w, r, service.ModeDownload)
}

func (h *BooksHandler) deliver(w http.ResponseWriter, r *http.Request, mode service.DeliveryMode) {
	book, err := h.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	d, err := h.Library.Deliver(r.Context(), book, mode, viewerOf(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	defer d.Body.Close()

	w.Header().Set("Content-Type", d.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(d.Disposition, map[string]string{"filename": d.Filename}))
	if d.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, d.Body); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("book", book.ID.Hex()).Msg("ebook stream interrupted")
	}
}

type SendResponse struct {
	To       string `json:"to"`
	Filename string `json:"filename"`
}

// Send e-mails the ebook to the caller's device address.
func (h *BooksHandler) Send(w http.ResponseWriter, r *http.Request) {
	if h.Mailer == nil {
		writeErr(w, r, service.ErrUnavailable("sending books by email is not configured"))
		return
	}
	book, err := h.visibleBook(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	userID := viewerOf(r)
	profile, err := h.DB.ProfileByUserID(r.Context(), userID)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if profile.DeviceEmail == "" {
		verrs := validation.Errors{}
		verrs.Add("deviceEmail", "Set a device email on your profile first.")
		writeErr(w, r, verrs)
		return
	}

	filename, err := h.Library.SendTo(r.Context(), book, profile.DeviceEmail, h.Mailer)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	entry := &models.EmailLog{
		BookID:    book.ID,
		BookTitle: book.Title,
		Filename:  filename,
		ToEmail:   profile.DeviceEmail,
		UserID:    userID,
	}
	if err := h.DB.InsertEmailLog(r.Context(), entry); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("failed to record sent book")
	}
	utils.WriteJSON(w, http.StatusOK, "Book sent", SendResponse{To: profile.DeviceEmail, Filename: filename})
}
