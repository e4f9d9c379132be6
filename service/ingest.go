package service

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/metrics"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/kevinaaaquil/kremlib/utils"
)

// EbookFormats are the accepted ebook extensions.
var EbookFormats = map[string]bool{"pdf": true, "txt": true, "epub": true, "mobi": true}

var coverFormats = map[string]bool{"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true}

// UploadFile is one file part of an upload request.
type UploadFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (f *UploadFile) ext() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.Filename)), ".")
}

type MetadataLookup interface {
	FetchByISBN(ctx context.Context, isbn string) (*BookMetadata, error)
}

// Ingestor stores uploaded files and fills in missing book metadata.
type Ingestor struct {
	files  FileStore
	lookup MetadataLookup
}

func NewIngestor(files FileStore, lookup MetadataLookup) *Ingestor {
	return &Ingestor{files: files, lookup: lookup}
}

// IngestResult reports what enrichment happened.
type IngestResult struct {
	ISBNFromFile  bool `json:"isbnFromFile"`
	MetadataFound bool `json:"metadataFound"`
	CoverFromFile bool `json:"coverFromFile"`
}

// Validate checks file types before anything is stored.
func (in *Ingestor) Validate(ebook, cover *UploadFile) error {
	if ebook != nil {
		if len(ebook.Data) == 0 {
			return ErrBadRequest("ebook file is empty")
		}
		if !EbookFormats[ebook.ext()] {
			return ErrBadRequest("ebook must be a pdf, txt, epub or mobi file")
		}
	}
	if cover != nil {
		if len(cover.Data) == 0 {
			return ErrBadRequest("image file is empty")
		}
		if !coverFormats[cover.ext()] {
			return ErrBadRequest("image must be a jpg, png, gif or webp file")
		}
	}
	return nil
}

// Ingest uploads the ebook and cover concurrently and, for EPUB files, reads
// the embedded ISBN, looks it up and extracts the embedded cover when no
// image was supplied. Only empty book fields are filled in. Files written
// before a failure are removed again.
func (in *Ingestor) Ingest(ctx context.Context, book *models.Book, ebook, cover *UploadFile) (*IngestResult, error) {
	if err := in.Validate(ebook, cover); err != nil {
		return nil, err
	}
	owner := book.UploadedBy.Hex()
	res := &IngestResult{}

	var epub *utils.EPUB
	if ebook != nil && ebook.ext() == "epub" {
		e, err := utils.OpenEPUB(ebook.Data)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("file", ebook.Filename).Msg("epub metadata unreadable")
		}
		epub = e
	}

	var (
		ebookKey, coverKey string
		meta               *BookMetadata
	)
	g, gctx := errgroup.WithContext(ctx)

	if ebook != nil {
		g.Go(func() error {
			key, err := in.files.Upload(gctx, "ebooks/"+owner, ebook.Filename, bytes.NewReader(ebook.Data), ContentType(ebook.ext(), ebook.ContentType))
			if err != nil {
				return WrapError(err, "store ebook")
			}
			ebookKey = key
			return nil
		})
	}

	switch {
	case cover != nil:
		g.Go(func() error {
			key, err := in.files.Upload(gctx, "covers/"+owner, cover.Filename, bytes.NewReader(cover.Data), cover.ContentType)
			if err != nil {
				return WrapError(err, "store cover")
			}
			coverKey = key
			return nil
		})
	case epub != nil:
		g.Go(func() error {
			data, mediaType, err := epub.Cover()
			if err != nil {
				return nil
			}
			ext := ".jpg"
			if strings.Contains(mediaType, "png") {
				ext = ".png"
			}
			key, err := in.files.Upload(gctx, "covers/"+owner, "cover"+ext, bytes.NewReader(data), mediaType)
			if err != nil {
				return WrapError(err, "store extracted cover")
			}
			coverKey = key
			res.CoverFromFile = true
			return nil
		})
	}

	isbn := book.ISBN
	if epub != nil && isbn == "" {
		if found, err := epub.ISBN(); err == nil {
			isbn = found
			res.ISBNFromFile = true
		}
	}
	if isbn != "" && in.lookup != nil && needsMetadata(book) {
		g.Go(func() error {
			m, err := in.lookup.FetchByISBN(gctx, isbn)
			if err != nil {
				logging.Ctx(ctx).Info().Err(err).Str("isbn", isbn).Msg("isbn lookup failed")
				return nil
			}
			meta = m
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		in.Discard(context.WithoutCancel(ctx), ebookKey, coverKey)
		return nil, err
	}

	if ebook != nil {
		book.EbookKey = ebookKey
		book.EbookName = filepath.Base(ebook.Filename)
		book.EbookSize = int64(len(ebook.Data))
		metrics.UploadBytes.Add(float64(len(ebook.Data)))
	}
	if coverKey != "" {
		book.CoverKey = coverKey
	}
	if res.ISBNFromFile {
		book.ISBN = isbn
	}
	if meta != nil {
		res.MetadataFound = true
		fillBook(book, meta.Title, meta.Author, meta.Description, meta.Year, meta.ISBN)
	}
	if epub != nil {
		fillBook(book, epub.Title(), epub.Author(), epub.Description(), epub.Year(), "")
	}
	if book.Title == "" && ebook != nil {
		book.Title = strings.TrimSuffix(filepath.Base(ebook.Filename), filepath.Ext(ebook.Filename))
	}
	return res, nil
}

// Discard deletes stored files, logging failures.
func (in *Ingestor) Discard(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := in.files.Delete(ctx, k); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("key", k).Msg("failed to delete stored file")
		}
	}
}

func needsMetadata(b *models.Book) bool {
	return b.Title == "" || b.Author == "" || b.Description == "" || b.Year == ""
}

func fillBook(b *models.Book, title, author, description, year, isbn string) {
	if b.Title == "" {
		b.Title = title
	}
	if b.Author == "" {
		b.Author = author
	}
	if b.Description == "" {
		b.Description = description
	}
	if b.Year == "" {
		b.Year = year
	}
	if b.ISBN == "" {
		b.ISBN = isbn
	}
}
