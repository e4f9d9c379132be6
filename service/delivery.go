package service

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/metrics"
	"github.com/kevinaaaquil/kremlib/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type DeliveryMode string

const (
	ModeRead     DeliveryMode = "read"
	ModeDownload DeliveryMode = "download"
)

// Delivery is an opened ebook ready to stream. Callers must close Body.
type Delivery struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
	Filename    string
	// Disposition is "inline" for reading and "attachment" for downloads.
	Disposition string
}

var contentTypes = map[string]string{
	"pdf":  "application/pdf",
	"txt":  "text/plain; charset=utf-8",
	"text": "text/plain; charset=utf-8",
	"epub": "application/epub+zip",
	"mobi": "application/x-mobipocket-ebook",
}

// ContentType returns the response content type for an ebook extension,
// falling back to the stored type.
func ContentType(ext, stored string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if stored != "" {
		return stored
	}
	return "application/octet-stream"
}

// Deliver opens the book's ebook for streaming and records the read or
// download. A book without an ebook is NotFound before storage is touched.
// Counters only change once the file has been opened.
func (l *Library) Deliver(ctx context.Context, book *models.Book, mode DeliveryMode, viewer primitive.ObjectID) (*Delivery, error) {
	if mode != ModeRead && mode != ModeDownload {
		return nil, ErrBadRequest("unknown delivery mode")
	}
	d, err := l.open(ctx, book, mode)
	if err != nil {
		return nil, err
	}
	if err := l.record(ctx, book, mode, viewer); err != nil {
		d.Body.Close()
		return nil, err
	}
	metrics.BookDeliveries.WithLabelValues(string(mode), book.EbookExt()).Inc()
	return d, nil
}

// SendTo mails the book's ebook to address. The download is counted only
// after the sender accepted the message. It returns the attached filename.
func (l *Library) SendTo(ctx context.Context, book *models.Book, address string, sender BookSender) (string, error) {
	d, err := l.open(ctx, book, ModeDownload)
	if err != nil {
		return "", err
	}
	defer d.Body.Close()

	err = sender.SendBook(ctx, address, book, d)
	metrics.RecordMail(err)
	if err != nil {
		return "", ErrInternalIO("failed to send book", err)
	}
	// The mail is already sent, so a counting failure is only logged.
	if err := l.record(ctx, book, ModeDownload, primitive.NilObjectID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("book", book.ID.Hex()).Msg("download count not recorded")
	}
	metrics.BookDeliveries.WithLabelValues("send", book.EbookExt()).Inc()
	return d.Filename, nil
}

func (l *Library) open(ctx context.Context, book *models.Book, mode DeliveryMode) (*Delivery, error) {
	if !book.HasEbook() {
		return nil, ErrNotFound("no ebook file available for this book")
	}
	obj, err := l.files.Open(ctx, book.EbookKey)
	if errors.Is(err, ErrFileNotFound) {
		return nil, ErrNotFound("ebook file not found")
	}
	if err != nil {
		return nil, ErrInternalIO("failed to open ebook file", err)
	}
	d := &Delivery{
		Body:        obj.Body,
		Size:        obj.Size,
		ContentType: ContentType(book.EbookExt(), obj.ContentType),
		Filename:    deliveryName(book),
		Disposition: "inline",
	}
	if mode == ModeDownload {
		d.Disposition = "attachment"
	}
	return d, nil
}

func (l *Library) record(ctx context.Context, book *models.Book, mode DeliveryMode, viewer primitive.ObjectID) error {
	if mode == ModeDownload {
		return WrapError(l.counters.IncrementDownloadCount(ctx, book.ID), "increment download count")
	}
	if err := l.counters.IncrementViewCount(ctx, book.ID); err != nil {
		return WrapError(err, "increment view count")
	}
	if viewer.IsZero() {
		return nil
	}
	err := l.counters.EnsureReadingProgress(ctx, viewer, book.ID, book.Title, models.DefaultTotalPages)
	return WrapError(err, "start reading progress")
}

// Cover opens the book's cover image.
func (l *Library) Cover(ctx context.Context, book *models.Book) (*Object, error) {
	if book.CoverKey == "" {
		return nil, ErrNotFound("no cover image for this book")
	}
	obj, err := l.files.Open(ctx, book.CoverKey)
	if errors.Is(err, ErrFileNotFound) {
		return nil, ErrNotFound("cover image not found")
	}
	if err != nil {
		return nil, ErrInternalIO("failed to open cover image", err)
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return obj, nil
}

// deliveryName is the filename offered to the client.
func deliveryName(book *models.Book) string {
	if book.EbookName != "" {
		return path.Base(book.EbookName)
	}
	return path.Base(book.EbookKey)
}
