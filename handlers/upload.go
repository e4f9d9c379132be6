package handlers

import (
	"errors"
	"io"
	"mime/multipart"
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
)

type UploadHandler struct {
	DB       *store.DB
	Ingestor *service.Ingestor
	Books    *BooksHandler
	Cache    *cache.Cache
	MaxBytes int64
}

// CreateBookForm holds the text fields of a book upload.
type CreateBookForm struct {
	Title       string `form:"title" validate:"max=255"`
	Author      string `form:"author" validate:"max=255"`
	Description string `form:"description"`
	Year        string `form:"year" validate:"omitempty,len=4,numeric"`
	ISBN        string `form:"isbn" validate:"max=32"`
	Category    string `form:"category" validate:"max=100"`
	IsPublic    bool   `form:"isPublic"`
}

type UploadResponse struct {
	Book          *models.Book `json:"book"`
	ISBNFromFile  bool         `json:"isbnFromFile,omitempty"`
	MetadataFound bool         `json:"metadataFound,omitempty"`
	CoverFromFile bool         `json:"coverFromFile,omitempty"`
}

func formValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.FormValue(key))
}

// readPart returns the uploaded file under field, or nil when absent.
func readPart(r *http.Request, field string) (*service.UploadFile, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, service.ErrBadRequest("invalid " + field + " upload")
	}
	defer file.Close()
	return readUpload(file, header)
}

func readUpload(file multipart.File, header *multipart.FileHeader) (*service.UploadFile, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, service.ErrBadRequest("failed to read uploaded file")
	}
	return &service.UploadFile{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Create stores a new book from a multipart form with optional ebook and image files.
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.MaxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds the size limit", nil)
			return
		}
		writeErr(w, r, service.ErrBadRequest("failed to parse multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	isPublic := true
	if v := formValue(r, "isPublic"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			verrs := validation.Errors{}
			verrs.Add("isPublic", "Must be a valid boolean.")
			writeErr(w, r, verrs)
			return
		}
		isPublic = b
	}
	form := CreateBookForm{
		Title:       formValue(r, "title"),
		Author:      formValue(r, "author"),
		Description: formValue(r, "description"),
		Year:        formValue(r, "year"),
		ISBN:        formValue(r, "isbn"),
		Category:    formValue(r, "category"),
		IsPublic:    isPublic,
	}
	if err := validation.Struct(&form); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := h.Books.checkCategory(r.Context(), &form.Category); err != nil {
		writeErr(w, r, err)
		return
	}

	ebook, err := readPart(r, "ebook")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	cover, err := readPart(r, "image")
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if ebook == nil && form.Title == "" {
		verrs := validation.Errors{}
		verrs.Add("title", "This field is required.")
		writeErr(w, r, verrs)
		return
	}

	p := middleware.PrincipalFromContext(r.Context())
	book := &models.Book{
		Title:        form.Title,
		Author:       form.Author,
		Description:  form.Description,
		Year:         form.Year,
		ISBN:         form.ISBN,
		Category:     form.Category,
		IsPublic:     form.IsPublic,
		UploadedBy:   p.UserID,
		UploaderName: p.Username,
	}
	res, err := h.Ingestor.Ingest(r.Context(), book, ebook, cover)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	if _, err := h.DB.InsertBook(r.Context(), book); err != nil {
		h.Ingestor.Discard(r.Context(), book.EbookKey, book.CoverKey)
		if errors.Is(err, store.ErrDuplicate) {
			writeErr(w, r, duplicateISBN())
			return
		}
		writeErr(w, r, err)
		return
	}
	h.Cache.Invalidate(cache.EntityBooks)
	logging.Ctx(r.Context()).Info().Str("book", book.ID.Hex()).Str("format", book.EbookExt()).Msg("book uploaded")

	setCoverURL(book)
	utils.WriteJSON(w, http.StatusCreated, "Book created", UploadResponse{
		Book:          book,
		ISBNFromFile:  res.ISBNFromFile,
		MetadataFound: res.MetadataFound,
		CoverFromFile: res.CoverFromFile,
	})
}
