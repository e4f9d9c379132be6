package utils

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	ErrNoISBN  = errors.New("no ISBN found in EPUB metadata")
	ErrNoCover = errors.New("no cover image in EPUB")
)

// maxEntrySize bounds a single zip entry read into memory.
const maxEntrySize = 16 << 20

type container struct {
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// opfPackage is the part of the OPF document we read. Element names match in
// any namespace, so dc:identifier and identifier both land in Identifiers.
type opfPackage struct {
	Metadata struct {
		Titles      []string `xml:"title"`
		Creators    []string `xml:"creator"`
		Description string   `xml:"description"`
		Date        string   `xml:"date"`
		Identifiers []struct {
			ID     string `xml:"id,attr"`
			Scheme string `xml:"scheme,attr"`
			Value  string `xml:",chardata"`
		} `xml:"identifier"`
		Meta []struct {
			Name     string `xml:"name,attr"`
			Property string `xml:"property,attr"`
			Refines  string `xml:"refines,attr"`
			Content  string `xml:"content,attr"`
			Value    string `xml:",chardata"`
		} `xml:"meta"`
	} `xml:"metadata"`
	Manifest []struct {
		ID         string `xml:"id,attr"`
		Href       string `xml:"href,attr"`
		MediaType  string `xml:"media-type,attr"`
		Properties string `xml:"properties,attr"`
	} `xml:"manifest>item"`
}

// EPUB is a parsed EPUB archive.
type EPUB struct {
	zr      *zip.Reader
	opfPath string
	pkg     opfPackage
}

// OpenEPUB parses the container and OPF package of an EPUB file.
func OpenEPUB(raw []byte) (*EPUB, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty file")
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid EPUB (not a zip archive): %w", err)
	}
	e := &EPUB{zr: zr}

	data, err := e.readFile("META-INF/container.xml")
	if err != nil {
		return nil, err
	}
	var c container
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse container.xml: %w", err)
	}
	if len(c.RootFiles) == 0 || c.RootFiles[0].FullPath == "" {
		return nil, errors.New("no rootfile in container.xml")
	}
	e.opfPath = c.RootFiles[0].FullPath

	data, err = e.readFile(e.opfPath)
	if err != nil {
		return nil, err
	}
	if err := xml.Unmarshal(data, &e.pkg); err != nil {
		return nil, fmt.Errorf("parse OPF: %w", err)
	}
	return e, nil
}

func (e *EPUB) Title() string {
	for _, t := range e.pkg.Metadata.Titles {
		if t = strings.TrimSpace(t); t != "" {
			return t
		}
	}
	return ""
}

// Author joins the listed creators.
func (e *EPUB) Author() string {
	var names []string
	for _, c := range e.pkg.Metadata.Creators {
		if c = strings.TrimSpace(c); c != "" {
			names = append(names, c)
		}
	}
	return strings.Join(names, ", ")
}

func (e *EPUB) Description() string {
	return strings.TrimSpace(e.pkg.Metadata.Description)
}

// Year returns the four leading digits of the publication date, if any.
func (e *EPUB) Year() string {
	d := strings.TrimSpace(e.pkg.Metadata.Date)
	if len(d) >= 4 && isDigits(d[:4]) {
		return d[:4]
	}
	return ""
}

// ISBN returns the first valid ISBN among the package identifiers, preferring
// ones explicitly marked as ISBN.
func (e *EPUB) ISBN() (string, error) {
	ids := e.pkg.Metadata.Identifiers

	for _, id := range ids {
		if isISBNScheme(id.Scheme) || strings.Contains(strings.ToLower(id.Value), "isbn") {
			if isbn, ok := NormalizeISBN(id.Value); ok {
				return isbn, nil
			}
		}
	}
	// EPUB 3: <meta refines="#id" property="identifier-type">ISBN</meta>
	for _, m := range e.pkg.Metadata.Meta {
		prop := strings.ToLower(strings.TrimSpace(m.Property))
		if prop != "identifier-type" && prop != "scheme" {
			continue
		}
		if !isISBNScheme(m.Content) && !isISBNScheme(m.Value) {
			continue
		}
		ref := strings.TrimPrefix(strings.TrimSpace(m.Refines), "#")
		for _, id := range ids {
			if id.ID == ref {
				if isbn, ok := NormalizeISBN(id.Value); ok {
					return isbn, nil
				}
			}
		}
	}
	for _, id := range ids {
		if isbn, ok := NormalizeISBN(id.Value); ok {
			return isbn, nil
		}
	}
	return "", ErrNoISBN
}

// Cover returns the cover image bytes and media type. It looks for the EPUB 3
// cover-image manifest property, then the EPUB 2 <meta name="cover"> entry.
func (e *EPUB) Cover() ([]byte, string, error) {
	href, mediaType := "", ""
	for _, item := range e.pkg.Manifest {
		if strings.Contains(item.Properties, "cover-image") {
			href, mediaType = item.Href, item.MediaType
			break
		}
	}
	if href == "" {
		coverID := ""
		for _, m := range e.pkg.Metadata.Meta {
			if strings.EqualFold(m.Name, "cover") && m.Content != "" {
				coverID = m.Content
				break
			}
		}
		for _, item := range e.pkg.Manifest {
			if coverID != "" && item.ID == coverID {
				href, mediaType = item.Href, item.MediaType
				break
			}
		}
	}
	if href == "" {
		return nil, "", ErrNoCover
	}
	data, err := e.readFile(path.Join(path.Dir(e.opfPath), normalizeZipPath(href)))
	if err != nil {
		return nil, "", err
	}
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return data, mediaType, nil
}

// readFile reads an archive entry, matching the name case-insensitively.
func (e *EPUB) readFile(name string) ([]byte, error) {
	name = normalizeZipPath(name)
	for _, f := range e.zr.File {
		if !strings.EqualFold(normalizeZipPath(f.Name), name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if len(data) > maxEntrySize {
			return nil, fmt.Errorf("%s exceeds %d bytes", name, maxEntrySize)
		}
		return data, nil
	}
	return nil, fmt.Errorf("file not found in EPUB: %s", name)
}

func normalizeZipPath(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
}

func isISBNScheme(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "isbn", "isbn-10", "isbn-13", "isbn10", "isbn13", "15": // 15 is the ONIX code for ISBN-13
		return true
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// NormalizeISBN strips everything but digits (and a trailing X for ISBN-10)
// and reports whether the result is a checksum-valid ISBN-10 or ISBN-13.
func NormalizeISBN(s string) (string, bool) {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'X' || r == 'x':
			b.WriteRune('X')
		}
	}
	isbn := b.String()
	switch len(isbn) {
	case 10:
		return isbn, validISBN10(isbn)
	case 13:
		return isbn, isDigits(isbn) && validISBN13(isbn)
	}
	return isbn, false
}

func validISBN10(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		var v int
		switch {
		case s[i] >= '0' && s[i] <= '9':
			v = int(s[i] - '0')
		case s[i] == 'X' && i == 9:
			v = 10
		default:
			return false
		}
		sum += v * (10 - i)
	}
	return sum%11 == 0
}

func validISBN13(s string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		v := int(s[i] - '0')
		if i%2 == 1 {
			v *= 3
		}
		sum += v
	}
	return sum%10 == 0
}
