package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const googleBooksBase = "https://www.googleapis.com/books/v1/volumes"

type googleBooksVolumesResp struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title               string   `json:"title"`
			Subtitle            string   `json:"subtitle"`
			Authors             []string `json:"authors"`
			PublishedDate       string   `json:"publishedDate"`
			Description         string   `json:"description"`
			PageCount           int      `json:"pageCount"`
			Categories          []string `json:"categories"`
			IndustryIdentifiers []struct {
				Type       string `json:"type"`
				Identifier string `json:"identifier"`
			} `json:"industryIdentifiers"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// BookMetadata is what an ISBN lookup can fill in on a new book.
type BookMetadata struct {
	Title       string
	Author      string
	Description string
	Year        string
	ISBN        string
	PageCount   int
	Categories  []string
}

// MetadataClient looks books up on the Google Books volumes API.
type MetadataClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewMetadataClient() *MetadataClient {
	// Short timeout so a slow lookup does not hold up the upload.
	return &MetadataClient{BaseURL: googleBooksBase, HTTP: &http.Client{Timeout: 15 * time.Second}}
}

func (c *MetadataClient) FetchByISBN(ctx context.Context, isbn string) (*BookMetadata, error) {
	isbn = strings.ReplaceAll(strings.TrimSpace(isbn), "-", "")
	if isbn == "" {
		return nil, fmt.Errorf("isbn is required")
	}
	q := url.Values{}
	q.Set("q", "isbn:"+isbn)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google books returned %d", resp.StatusCode)
	}
	var data googleBooksVolumesResp
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, err
	}
	if data.TotalItems == 0 || len(data.Items) == 0 {
		return nil, fmt.Errorf("no volume found for isbn %s", isbn)
	}
	vi := data.Items[0].VolumeInfo
	meta := &BookMetadata{
		Title:       vi.Title,
		Author:      strings.Join(vi.Authors, ", "),
		Description: strings.TrimSpace(vi.Description),
		PageCount:   vi.PageCount,
		Categories:  vi.Categories,
		ISBN:        isbn,
	}
	if vi.Subtitle != "" {
		meta.Title += ": " + vi.Subtitle
	}
	if len(vi.PublishedDate) >= 4 {
		meta.Year = vi.PublishedDate[:4]
	}
	for _, id := range vi.IndustryIdentifiers {
		if id.Type == "ISBN_13" {
			meta.ISBN = id.Identifier
			break
		}
		if id.Type == "ISBN_10" {
			meta.ISBN = id.Identifier
		}
	}
	return meta, nil
}
