package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/osawatch/osawatch/pkg/domain"
)

// Client fetches the paginated files listing from the vendor portal.
// The listing is exposed as an offset/limit API, the first page carries
// the total count used to compute the remaining offsets.
type Client struct {
	baseURL       string
	tags          string
	pageSize      int
	maxConcurrent int
	client        *http.Client
}

// Params holds client construction parameters
type Params struct {
	BaseURL       string
	Tags          string
	PageSize      int
	MaxConcurrent int
	Timeout       time.Duration
}

// listResponse is a single page of the files listing
type listResponse struct {
	TotalFiles int          `json:"totalFiles"`
	FilesList  []fileRecord `json:"filesList"`
}

// fileRecord is a raw listing entry as returned by the API
type fileRecord struct {
	Key     string `json:"key"`
	Content struct {
		PostTitle string `json:"post_title"`
	} `json:"content"`
}

// NewClient creates a new listing client
func NewClient(p Params) *Client {
	if p.PageSize <= 0 {
		p.PageSize = 100
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 10
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL:       p.BaseURL,
		tags:          p.Tags,
		pageSize:      p.PageSize,
		maxConcurrent: p.MaxConcurrent,
		client:        &http.Client{Timeout: p.Timeout},
	}
}

// FetchAll retrieves the complete flattened listing across all pages.
// The first page is fetched synchronously to learn the total count, the
// remaining pages run concurrently with at most maxConcurrent requests in
// flight. Pages may complete in any order but the result is assembled in
// offset order. Any failed page aborts the whole fetch.
func (c *Client) FetchAll(ctx context.Context) ([]domain.Item, error) {
	first, total, err := c.fetchPage(ctx, 0)
	if err != nil {
		return nil, err
	}

	var offsets []int
	for off := c.pageSize; off < total; off += c.pageSize {
		offsets = append(offsets, off)
	}

	result := first
	if len(offsets) == 0 {
		return result, nil
	}

	// each goroutine writes its own slot, no shared state beyond the
	// pre-sized pages slice
	pages := make([][]domain.Item, len(offsets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)

	for i, off := range offsets {
		g.Go(func() error {
			items, _, err := c.fetchPage(gctx, off)
			if err != nil {
				return err
			}
			pages[i] = items
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, page := range pages {
		result = append(result, page...)
	}
	return result, nil
}

// fetchPage retrieves and normalizes a single page at the given offset
func (c *Client) fetchPage(ctx context.Context, offset int) (items []domain.Item, total int, err error) {
	pageURL := c.pageURL(offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, 0, fmt.Errorf("make request for offset %d: %w", offset, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch page at offset %d: %w", offset, err)
	}
	defer resp.Body.Close() //nolint:errcheck // nothing to do with close error

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("api request failed with status %d", resp.StatusCode)
	}

	var page listResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, 0, fmt.Errorf("decode page at offset %d: %w", offset, err)
	}

	items = make([]domain.Item, 0, len(page.FilesList))
	for _, rec := range page.FilesList {
		items = append(items, c.normalize(rec))
	}
	return items, page.TotalFiles, nil
}

// pageURL builds the listing URL for the given offset
func (c *Client) pageURL(offset int) string {
	q := url.Values{}
	q.Set("tags", c.tags)
	q.Set("type", "file_download")
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("offset", strconv.Itoa(offset))
	return c.baseURL + "/api/files?" + q.Encode()
}

// normalize maps a raw listing record to a domain item. It is total:
// missing key or title become empty strings, never an error. The item URL
// is the portal base plus the record key.
func (c *Client) normalize(rec fileRecord) domain.Item {
	item := domain.Item{Title: rec.Content.PostTitle}
	if rec.Key != "" {
		item.URL = c.baseURL + rec.Key
	}
	return item
}
