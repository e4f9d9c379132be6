package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/metrics"
	"github.com/kevinaaaquil/kremlib/models"
)

const (
	previewChars     = 5000
	previewPDFPages  = 3
	ellipsis         = "..."
	maxTOCEntries    = 100
	headingMaxRunes  = 60
	defaultPDFMaxMiB = 32
)

// ContentKind is the preview strategy chosen from the ebook extension.
type ContentKind int

const (
	KindOther ContentKind = iota
	KindPDF
	KindText
	KindEbook // epub, mobi
)

func KindOf(ext string) ContentKind {
	switch strings.ToLower(ext) {
	case "pdf":
		return KindPDF
	case "txt", "text":
		return KindText
	case "epub", "mobi":
		return KindEbook
	default:
		return KindOther
	}
}

func (k ContentKind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindText:
		return "text"
	case KindEbook:
		return "ebook"
	default:
		return "other"
	}
}

type PreviewMetadata struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description,omitempty"`
	Year        string `json:"year,omitempty"`
	ISBN        string `json:"isbn,omitempty"`
	Category    string `json:"category"`
	Format      string `json:"format,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	PageCount   int    `json:"pageCount,omitempty"`
}

type TOCEntry struct {
	Title string `json:"title"`
	Level int    `json:"level"`
}

// Preview is the result of Library.Preview. PreviewText is nil for
// metadata-only previews so the key is omitted from JSON.
type Preview struct {
	Metadata        PreviewMetadata `json:"metadata"`
	TableOfContents []TOCEntry      `json:"tableOfContents"`
	PreviewText     *string         `json:"previewText,omitempty"`
	PreviewType     string          `json:"previewType"`
	Message         string          `json:"message,omitempty"`
}

// Library previews and delivers stored ebook files.
type Library struct {
	files    FileStore
	counters Counters
	// pdfMaxBytes bounds the PDF size loaded into memory for a preview.
	pdfMaxBytes int64
}

func NewLibrary(files FileStore, counters Counters) *Library {
	return &Library{files: files, counters: counters, pdfMaxBytes: defaultPDFMaxMiB << 20}
}

type previewFunc func(ctx context.Context, l *Library, book *models.Book, p *Preview) error

var previewers = map[ContentKind]previewFunc{
	KindPDF:   previewPDF,
	KindText:  previewText,
	KindEbook: previewUnsupportedEbook,
	KindOther: previewOther,
}

// Preview builds a bounded preview of the book's ebook. It never changes
// counters. Extraction problems degrade to a metadata-only preview; only a
// missing file or a failing read are returned as errors.
func (l *Library) Preview(ctx context.Context, book *models.Book) (*Preview, error) {
	p := &Preview{
		Metadata:        metadataOf(book),
		TableOfContents: []TOCEntry{},
		PreviewType:     "metadata",
	}
	if !book.HasEbook() {
		p.Message = "no ebook file available"
		metrics.RecordPreview("none", false)
		return p, nil
	}
	kind := KindOf(book.EbookExt())
	if err := previewers[kind](ctx, l, book, p); err != nil {
		return nil, err
	}
	metrics.RecordPreview(kind.String(), p.PreviewText != nil)
	return p, nil
}

func metadataOf(b *models.Book) PreviewMetadata {
	return PreviewMetadata{
		ID:          b.ID.Hex(),
		Title:       b.Title,
		Author:      b.Author,
		Description: b.Description,
		Year:        b.Year,
		ISBN:        b.ISBN,
		Category:    b.Category,
		Format:      b.EbookExt(),
		FileSize:    b.EbookSize,
	}
}

func (l *Library) openEbook(ctx context.Context, book *models.Book, ranged bool, length int64) (*Object, error) {
	var (
		obj *Object
		err error
	)
	if ranged {
		obj, err = l.files.OpenRange(ctx, book.EbookKey, 0, length)
	} else {
		obj, err = l.files.Open(ctx, book.EbookKey)
	}
	if errors.Is(err, ErrFileNotFound) {
		return nil, ErrNotFound("ebook file not found")
	}
	if err != nil {
		return nil, ErrInternalIO("failed to read ebook file", err)
	}
	return obj, nil
}

func previewText(ctx context.Context, l *Library, book *models.Book, p *Preview) error {
	obj, err := l.openEbook(ctx, book, true, previewChars+1)
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(obj.Body, previewChars+1))
	if err != nil {
		return ErrInternalIO("failed to read ebook file", err)
	}
	more := len(raw) > previewChars
	if more {
		raw = trimPartialRune(raw[:previewChars])
	}
	text := decodePermissive(raw)
	if more {
		text += ellipsis
	}
	p.PreviewText = &text
	p.PreviewType = "text"
	p.TableOfContents = textTOC(text)
	return nil
}

// trimPartialRune drops a multi-byte sequence cut off at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}

// decodePermissive decodes UTF-8 (honouring a BOM) and replaces invalid
// sequences with U+FFFD.
func decodePermissive(raw []byte) string {
	dec := xunicode.BOMOverride(xunicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(dec, raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
	}
	return string(out)
}

// textTOC picks lines that look like chapter headings.
func textTOC(text string) []TOCEntry {
	toc := []TOCEntry{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !isHeading(line) {
			continue
		}
		toc = append(toc, TOCEntry{Title: line, Level: 1})
		if len(toc) == maxTOCEntries {
			break
		}
	}
	return toc
}

func isHeading(line string) bool {
	if line == "" || line == ellipsis {
		return false
	}
	if strings.HasPrefix(strings.ToLower(line), "chapter") {
		return true
	}
	if utf8.RuneCountInString(line) > headingMaxRunes {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func previewPDF(ctx context.Context, l *Library, book *models.Book, p *Preview) error {
	obj, err := l.openEbook(ctx, book, false, 0)
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	if obj.Size > l.pdfMaxBytes {
		p.Message = "pdf is too large to preview"
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(obj.Body, l.pdfMaxBytes+1))
	if err != nil {
		return ErrInternalIO("failed to read ebook file", err)
	}
	if int64(len(raw)) > l.pdfMaxBytes {
		p.Message = "pdf is too large to preview"
		return nil
	}

	doc, err := extractPDF(raw)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("book", book.ID.Hex()).Msg("pdf preview unavailable")
		p.Message = "pdf preview is unavailable for this file"
		return nil
	}
	text := truncateRunes(doc.text, previewChars)
	p.PreviewText = &text
	p.PreviewType = "pdf"
	p.Metadata.PageCount = doc.pages
	p.TableOfContents = doc.toc
	return nil
}

type pdfDoc struct {
	pages int
	toc   []TOCEntry
	text  string
}

// extractPDF reads page count, outline and the text of the first pages.
// The parser panics on some malformed input; that is reported as an error.
func extractPDF(raw []byte) (doc *pdfDoc, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("pdf parser: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}
	doc = &pdfDoc{pages: r.NumPage(), toc: []TOCEntry{}}
	flattenOutline(r.Outline().Child, 1, &doc.toc)

	var sb strings.Builder
	for i := 1; i <= min(previewPDFPages, doc.pages); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(text))
		if sb.Len() > previewChars*utf8.UTFMax {
			break
		}
	}
	doc.text = sb.String()
	return doc, nil
}

func flattenOutline(items []pdf.Outline, level int, out *[]TOCEntry) {
	for _, o := range items {
		if len(*out) == maxTOCEntries {
			return
		}
		if title := strings.TrimSpace(o.Title); title != "" {
			*out = append(*out, TOCEntry{Title: title, Level: level})
		}
		flattenOutline(o.Child, level+1, out)
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + ellipsis
		}
		i++
	}
	return s
}

func previewUnsupportedEbook(_ context.Context, _ *Library, _ *models.Book, p *Preview) error {
	p.Message = "preview for this format is not yet implemented"
	return nil
}

func previewOther(_ context.Context, _ *Library, book *models.Book, p *Preview) error {
	ext := book.EbookExt()
	if ext == "" {
		ext = "unknown"
	}
	p.Message = fmt.Sprintf("preview is not available for .%s files", ext)
	return nil
}
