package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/kevinaaaquil/kremlib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// stubFiles counts calls and fails every open with err.
type stubFiles struct {
	err   error
	calls int
}

func (s *stubFiles) Upload(context.Context, string, string, io.Reader, string) (string, error) {
	s.calls++
	return "", s.err
}

func (s *stubFiles) Open(context.Context, string) (*Object, error) {
	s.calls++
	return nil, s.err
}

func (s *stubFiles) OpenRange(context.Context, string, int64, int64) (*Object, error) {
	s.calls++
	return nil, s.err
}

func (s *stubFiles) Delete(context.Context, string) error {
	s.calls++
	return s.err
}

func newDiskLibrary(t *testing.T) (*Library, *DiskStore, *memCatalog) {
	t.Helper()
	disk, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	cat := &memCatalog{}
	return NewLibrary(disk, cat), disk, cat
}

func storeEbook(t *testing.T, disk *DiskStore, cat *memCatalog, name string, data []byte) *models.Book {
	t.Helper()
	key, err := disk.Upload(context.Background(), "ebooks/u1", name, bytes.NewReader(data), "")
	require.NoError(t, err)
	b := cat.addBook(models.Book{Title: "Stored", Author: "Someone", Category: "Novel", IsPublic: true, EbookKey: key, EbookName: name, EbookSize: int64(len(data))})
	return cat.book(b.ID)
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	se, ok := AsServiceError(err)
	require.True(t, ok, "expected ServiceError, got %v", err)
	return se.Status
}

func TestPreviewWithoutEbookIsMetadataOnly(t *testing.T) {
	files := &stubFiles{err: errors.New("must not be called")}
	cat := &memCatalog{}
	book := cat.addBook(models.Book{Title: "Paper only", Author: "A", Category: "History", IsPublic: true, ViewCount: 4})
	lib := NewLibrary(files, cat)

	p, err := lib.Preview(context.Background(), &book)
	require.NoError(t, err)
	assert.Nil(t, p.PreviewText)
	assert.Equal(t, "metadata", p.PreviewType)
	assert.Equal(t, "Paper only", p.Metadata.Title)

	raw, err := json.Marshal(p)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.NotContains(t, fields, "previewText")
	assert.Contains(t, fields, "metadata")

	_, err = lib.Deliver(context.Background(), &book, ModeRead, primitive.NewObjectID())
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
	_, err = lib.Deliver(context.Background(), &book, ModeDownload, primitive.NilObjectID)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))

	stored := cat.book(book.ID)
	assert.Equal(t, int64(4), stored.ViewCount)
	assert.Zero(t, stored.DownloadCount)
	assert.Empty(t, cat.progress)
	assert.Zero(t, files.calls, "file storage must not be touched")
}

func TestPreviewTextTruncatesAndFindsChapters(t *testing.T) {
	lib, disk, cat := newDiskLibrary(t)
	var sb strings.Builder
	sb.WriteString("CHAPTER ONE\nIt was a dark night.\n")
	sb.WriteString("Chapter 2: The Return\n")
	sb.WriteString("THE END OF PART I\n")
	sb.WriteString("This line is mixed Case and not a heading.\n")
	for sb.Len() < 12000 {
		sb.WriteString("lorem ipsum dolor sit amet ")
	}
	book := storeEbook(t, disk, cat, "story.txt", []byte(sb.String()))

	p, err := lib.Preview(context.Background(), book)
	require.NoError(t, err)
	require.NotNil(t, p.PreviewText)
	text := *p.PreviewText

	assert.True(t, strings.HasSuffix(text, "..."))
	assert.LessOrEqual(t, utf8.RuneCountInString(strings.TrimSuffix(text, "...")), previewChars)
	assert.Equal(t, "text", p.PreviewType)
	assert.Equal(t, []TOCEntry{
		{Title: "CHAPTER ONE", Level: 1},
		{Title: "Chapter 2: The Return", Level: 1},
		{Title: "THE END OF PART I", Level: 1},
	}, p.TableOfContents)

	assert.Zero(t, cat.book(book.ID).ViewCount, "preview does not count as a view")
}

func TestPreviewShortTextHasNoEllipsis(t *testing.T) {
	lib, disk, cat := newDiskLibrary(t)
	book := storeEbook(t, disk, cat, "note.TXT", []byte("\xef\xbb\xbfhello \xff world"))

	p, err := lib.Preview(context.Background(), book)
	require.NoError(t, err)
	require.NotNil(t, p.PreviewText)
	assert.Equal(t, "hello � world", *p.PreviewText)
}

func TestTrimPartialRune(t *testing.T) {
	s := []byte("ab\xe2\x82") // first two bytes of "€"
	assert.Equal(t, []byte("ab"), trimPartialRune(s))
	assert.Equal(t, []byte("ab€"), trimPartialRune([]byte("ab€")))
	assert.Equal(t, []byte("abc"), trimPartialRune([]byte("abc")))
}

func TestPreviewUnsupportedFormats(t *testing.T) {
	files := &stubFiles{err: errors.New("must not be called")}
	lib := NewLibrary(files, &memCatalog{})

	for _, name := range []string{"book.epub", "book.mobi"} {
		book := &models.Book{ID: primitive.NewObjectID(), Title: "T", EbookKey: "k/" + name, EbookName: name}
		p, err := lib.Preview(context.Background(), book)
		require.NoError(t, err)
		assert.Nil(t, p.PreviewText)
		assert.Equal(t, "preview for this format is not yet implemented", p.Message)
	}

	book := &models.Book{ID: primitive.NewObjectID(), Title: "T", EbookKey: "k/x.docx", EbookName: "x.docx"}
	p, err := lib.Preview(context.Background(), book)
	require.NoError(t, err)
	assert.Nil(t, p.PreviewText)
	assert.Contains(t, p.Message, ".docx")
	assert.Zero(t, files.calls)
}

func TestPreviewBrokenPDFDegrades(t *testing.T) {
	lib, disk, cat := newDiskLibrary(t)
	book := storeEbook(t, disk, cat, "broken.pdf", []byte("%PDF-1.4\nthis is not really a pdf"))

	p, err := lib.Preview(context.Background(), book)
	require.NoError(t, err)
	assert.Nil(t, p.PreviewText)
	assert.Equal(t, "metadata", p.PreviewType)
	assert.NotEmpty(t, p.Message)
}

// buildPDF writes a minimal PDF with one Helvetica text line per page.
func buildPDF(pages ...string) []byte {
	const fontObj, firstPageObj = 3, 4
	var objs []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPageObj+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, text := range pages {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>",
				fontObj, firstPageObj+2*i+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, obj := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestPreviewPDFReadsFirstThreePages(t *testing.T) {
	lib, disk, cat := newDiskLibrary(t)
	book := storeEbook(t, disk, cat, "four.pdf", buildPDF("PageOne", "PageTwo", "PageThree", "PageFour"))

	p, err := lib.Preview(context.Background(), book)
	require.NoError(t, err)
	assert.Equal(t, "pdf", p.PreviewType)
	assert.Equal(t, 4, p.Metadata.PageCount)
	assert.Empty(t, p.Message)
	assert.NotNil(t, p.TableOfContents)
	require.NotNil(t, p.PreviewText)
	assert.Equal(t, "PageOne\nPageTwo\nPageThree", *p.PreviewText)
	assert.NotContains(t, *p.PreviewText, "PageFour")
	assert.Zero(t, cat.book(book.ID).ViewCount, "preview does not count as a view")
}

func TestPreviewPDFTruncatesLongPage(t *testing.T) {
	lib, disk, cat := newDiskLibrary(t)
	long := strings.Repeat("abcdefghij", 700)
	book := storeEbook(t, disk, cat, "long.pdf", buildPDF(long, "PageTwo", "PageThree", "PageFour"))

	p, err := lib.Preview(context.Background(), book)
	require.NoError(t, err)
	assert.Equal(t, "pdf", p.PreviewType)
	assert.Equal(t, 4, p.Metadata.PageCount)
	require.NotNil(t, p.PreviewText)
	text := *p.PreviewText
	assert.Equal(t, previewChars+len(ellipsis), utf8.RuneCountInString(text))
	assert.True(t, strings.HasSuffix(text, "ij..."), text[len(text)-10:])
	assert.Equal(t, long[:previewChars], strings.TrimSuffix(text, ellipsis))
}

func TestPreviewOversizedPDFDegrades(t *testing.T) {
	lib, disk, cat := newDiskLibrary(t)
	lib.pdfMaxBytes = 10
	book := storeEbook(t, disk, cat, "big.pdf", bytes.Repeat([]byte("x"), 100))

	p, err := lib.Preview(context.Background(), book)
	require.NoError(t, err)
	assert.Nil(t, p.PreviewText)
	assert.Equal(t, "pdf is too large to preview", p.Message)
}

func TestPreviewMissingFileIsNotFound(t *testing.T) {
	lib, _, cat := newDiskLibrary(t)
	book := cat.addBook(models.Book{Title: "Ghost", EbookKey: "ebooks/none.txt", EbookName: "none.txt"})

	_, err := lib.Preview(context.Background(), &book)
	assert.Equal(t, http.StatusNotFound, statusOf(t, err))
}

func TestIsHeading(t *testing.T) {
	assert.True(t, isHeading("chapter twelve"))
	assert.True(t, isHeading("PROLOGUE"))
	assert.True(t, isHeading("PART 1"))
	assert.False(t, isHeading("1984"))
	assert.False(t, isHeading("Prologue"))
	assert.False(t, isHeading(strings.Repeat("A", headingMaxRunes+1)))
	assert.False(t, isHeading(""))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 5))
	assert.Equal(t, "hé...", truncateRunes("héllo", 2))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindPDF, KindOf("pdf"))
	assert.Equal(t, KindText, KindOf("TXT"))
	assert.Equal(t, KindText, KindOf("text"))
	assert.Equal(t, KindEbook, KindOf("mobi"))
	assert.Equal(t, KindOther, KindOf(""))
}
