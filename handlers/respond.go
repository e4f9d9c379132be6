package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/service"
	"github.com/kevinaaaquil/kremlib/store"
	"github.com/kevinaaaquil/kremlib/utils"
	"github.com/kevinaaaquil/kremlib/validation"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const maxJSONBody = 1 << 20

// writeErr maps err onto a response. Unexpected errors are logged and reported
// as a bare 500.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if verrs, ok := validation.AsErrors(err); ok {
		utils.WriteError(w, http.StatusBadRequest, "validation failed", verrs)
		return
	}
	if se, ok := service.AsServiceError(err); ok {
		if se.Status >= http.StatusInternalServerError {
			logging.Ctx(r.Context()).Error().Err(err).Int("status", se.Status).Msg(se.Message)
			utils.WriteError(w, se.Status, se.Error(), nil)
			return
		}
		utils.WriteError(w, se.Status, se.Message, nil)
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, "not found", nil)
	case errors.Is(err, store.ErrDuplicate):
		utils.WriteError(w, http.StatusConflict, "already exists", nil)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		utils.WriteError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

// decodeJSON reads a JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return service.ErrBadRequest("request body is empty")
		}
		return service.ErrBadRequest("invalid json")
	}
	return validation.Struct(dst)
}

// pathID parses the {name} URL parameter as an ObjectID.
func pathID(r *http.Request, name string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, name))
	if err != nil {
		return primitive.NilObjectID, service.ErrNotFound("not found")
	}
	return id, nil
}

// pageParams reads ?page and ?page_size, clamping to the configured limits.
func pageParams(r *http.Request, defSize, maxSize int) (page, size int, err error) {
	q := r.URL.Query()
	page, size = 1, defSize
	if v := q.Get("page"); v != "" {
		if page, err = strconv.Atoi(v); err != nil || page < 1 {
			return 0, 0, service.ErrNotFound("invalid page")
		}
	}
	if v := q.Get("page_size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil || size < 1 {
			return 0, 0, service.ErrBadRequest("invalid page_size")
		}
		if size > maxSize {
			size = maxSize
		}
	}
	return page, size, nil
}

// pageLink returns the URL of page relative to the current request, or nil.
func pageLink(r *http.Request, page int) *string {
	if page < 1 {
		return nil
	}
	u := url.URL{Path: r.URL.Path}
	q := r.URL.Query()
	if page == 1 {
		q.Del("page")
	} else {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()
	s := u.String()
	return &s
}

func newPage[T any](r *http.Request, results []T, total int64, page, size int) utils.Page[T] {
	p := utils.Page[T]{Count: total, Results: results}
	if p.Results == nil {
		p.Results = []T{}
	}
	if int64(page*size) < total {
		p.Next = pageLink(r, page+1)
	}
	if page > 1 {
		p.Previous = pageLink(r, page-1)
	}
	return p
}
