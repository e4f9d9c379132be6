package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kevinaaaquil/kremlib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeLookup struct {
	meta  *BookMetadata
	err   error
	calls atomic.Int32
	isbn  atomic.Value
}

func (f *fakeLookup) FetchByISBN(_ context.Context, isbn string) (*BookMetadata, error) {
	f.calls.Add(1)
	f.isbn.Store(isbn)
	return f.meta, f.err
}

func testEPUB(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	add := func(name, body string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	add("META-INF/container.xml", `<container><rootfiles><rootfile full-path="content.opf"/></rootfiles></container>`)
	add("content.opf", `<package><metadata>
<title>Embedded Title</title><creator>Embedded Author</creator>
<identifier scheme="ISBN">9780306406157</identifier>
<meta name="cover" content="cv"/></metadata>
<manifest><item id="cv" href="cover.jpg" media-type="image/jpeg"/></manifest></package>`)
	add("cover.jpg", "JPEGBYTES")
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestIngestEPUBFillsMetadataAndCover(t *testing.T) {
	disk, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	lookup := &fakeLookup{meta: &BookMetadata{Title: "Looked Up", Author: "API Author", Description: "From the API", Year: "1990", ISBN: "9780306406157"}}
	in := NewIngestor(disk, lookup)

	book := &models.Book{UploadedBy: primitive.NewObjectID(), Author: "Given Author"}
	res, err := in.Ingest(context.Background(), book, &UploadFile{Filename: "x.epub", Data: testEPUB(t)}, nil)
	require.NoError(t, err)

	assert.True(t, res.ISBNFromFile)
	assert.True(t, res.MetadataFound)
	assert.True(t, res.CoverFromFile)
	assert.Equal(t, "9780306406157", lookup.isbn.Load())

	assert.Equal(t, "Looked Up", book.Title)
	assert.Equal(t, "Given Author", book.Author, "supplied fields are kept")
	assert.Equal(t, "From the API", book.Description)
	assert.Equal(t, "1990", book.Year)
	assert.Equal(t, "9780306406157", book.ISBN)
	assert.Equal(t, "x.epub", book.EbookName)
	require.NotEmpty(t, book.EbookKey)
	require.NotEmpty(t, book.CoverKey)

	cover, err := disk.Open(context.Background(), book.CoverKey)
	require.NoError(t, err)
	defer cover.Body.Close()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(cover.Body)
	assert.Equal(t, "JPEGBYTES", buf.String())
}

func TestIngestFallsBackToEmbeddedMetadata(t *testing.T) {
	disk, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	in := NewIngestor(disk, &fakeLookup{err: errors.New("offline")})

	book := &models.Book{UploadedBy: primitive.NewObjectID()}
	res, err := in.Ingest(context.Background(), book, &UploadFile{Filename: "x.epub", Data: testEPUB(t)}, nil)
	require.NoError(t, err)
	assert.False(t, res.MetadataFound)
	assert.Equal(t, "Embedded Title", book.Title)
	assert.Equal(t, "Embedded Author", book.Author)
}

func TestIngestPlainFileUsesFilenameTitle(t *testing.T) {
	disk, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	lookup := &fakeLookup{}
	in := NewIngestor(disk, lookup)

	book := &models.Book{UploadedBy: primitive.NewObjectID()}
	cover := &UploadFile{Filename: "front.png", ContentType: "image/png", Data: []byte("png")}
	_, err = in.Ingest(context.Background(), book, &UploadFile{Filename: "My Notes.txt", Data: []byte("text")}, cover)
	require.NoError(t, err)

	assert.Equal(t, "My Notes", book.Title)
	assert.Equal(t, int64(4), book.EbookSize)
	assert.NotEmpty(t, book.CoverKey)
	assert.Zero(t, lookup.calls.Load(), "no ISBN, no lookup")
}

func TestIngestValidatesFormats(t *testing.T) {
	in := NewIngestor(&stubFiles{}, nil)
	book := &models.Book{}

	_, err := in.Ingest(context.Background(), book, &UploadFile{Filename: "virus.exe", Data: []byte("MZ")}, nil)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	_, err = in.Ingest(context.Background(), book, nil, &UploadFile{Filename: "cover.svg", Data: []byte("<svg/>")})
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))

	_, err = in.Ingest(context.Background(), book, &UploadFile{Filename: "empty.pdf"}, nil)
	assert.Equal(t, http.StatusBadRequest, statusOf(t, err))
}

func TestIngestStorageFailureReturnsError(t *testing.T) {
	in := NewIngestor(&stubFiles{err: errors.New("bucket gone")}, nil)
	_, err := in.Ingest(context.Background(), &models.Book{}, &UploadFile{Filename: "a.pdf", Data: []byte("%PDF")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestMetadataClientFetchByISBN(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "isbn:9780306406157", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalItems":1,"items":[{"volumeInfo":{
			"title":"Signals","subtitle":"An Introduction","authors":["A. One","B. Two"],
			"publishedDate":"2004-05-01","description":" about signals ",
			"industryIdentifiers":[{"type":"ISBN_10","identifier":"0306406152"},{"type":"ISBN_13","identifier":"9780306406157"}]}}]}`))
	}))
	defer srv.Close()

	c := &MetadataClient{BaseURL: srv.URL, HTTP: srv.Client()}
	m, err := c.FetchByISBN(context.Background(), "978-0306406157")
	require.NoError(t, err)
	assert.Equal(t, "Signals: An Introduction", m.Title)
	assert.Equal(t, "A. One, B. Two", m.Author)
	assert.Equal(t, "2004", m.Year)
	assert.Equal(t, "about signals", m.Description)
	assert.Equal(t, "9780306406157", m.ISBN)
}

func TestMetadataClientNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"totalItems":0}`))
	}))
	defer srv.Close()

	c := &MetadataClient{BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := c.FetchByISBN(context.Background(), "9780306406157")
	assert.Error(t, err)
	_, err = c.FetchByISBN(context.Background(), " ")
	assert.Error(t, err)
}
