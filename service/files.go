package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrFileNotFound is returned by a FileStore when the object does not exist.
var ErrFileNotFound = errors.New("file not found")

// Object is an opened stored file. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64 // -1 when unknown
	ContentType string
}

// FileStore holds ebook and cover files.
type FileStore interface {
	// Upload stores body under prefix and returns the generated object key.
	Upload(ctx context.Context, prefix, filename string, body io.Reader, contentType string) (string, error)
	Open(ctx context.Context, key string) (*Object, error)
	// OpenRange reads at most length bytes starting at offset.
	OpenRange(ctx context.Context, key string, offset, length int64) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// objectKey builds "<prefix><uuid><ext>" keeping the original extension.
func objectKey(prefix, filename string) string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + uuid.New().String() + strings.ToLower(filepath.Ext(filename))
}
