package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps files under Root. It is used when no S3 bucket is configured.
type DiskStore struct {
	Root string
}

var _ FileStore = (*DiskStore)(nil)

func NewDiskStore(root string) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{Root: abs}, nil
}

// path resolves key inside Root, rejecting keys that escape it.
func (d *DiskStore) path(key string) (string, error) {
	p := filepath.Join(d.Root, filepath.FromSlash(key))
	rel, err := filepath.Rel(d.Root, p)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return p, nil
}

func (d *DiskStore) Upload(_ context.Context, prefix, filename string, body io.Reader, _ string) (string, error) {
	key := objectKey(prefix, filename)
	target, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(target)
		return "", err
	}
	return key, nil
}

func (d *DiskStore) Open(_ context.Context, key string) (*Object, error) {
	f, size, err := d.open(key)
	if err != nil {
		return nil, err
	}
	return &Object{Body: f, Size: size, ContentType: mime.TypeByExtension(filepath.Ext(key))}, nil
}

func (d *DiskStore) OpenRange(_ context.Context, key string, offset, length int64) (*Object, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid range length %d", length)
	}
	f, size, err := d.open(key)
	if err != nil {
		return nil, err
	}
	if offset > size {
		offset = size
	}
	n := min(length, size-offset)
	return &Object{
		Body:        readCloser{io.NewSectionReader(f, offset, n), f},
		Size:        n,
		ContentType: mime.TypeByExtension(filepath.Ext(key)),
	}, nil
}

func (d *DiskStore) open(key string) (*os.File, int64, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, ErrFileNotFound
		}
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if st.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("object key %q is a directory", key)
	}
	return f, st.Size(), nil
}

func (d *DiskStore) Delete(_ context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
