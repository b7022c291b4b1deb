package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxPageBytes caps how much of a response body is read into memory.
const maxPageBytes = 10 << 20 // 10 MiB

// FetchHTTP retrieves a page with a plain GET. Redirects are followed; the
// returned FinalURL reflects the last hop. Non-2xx responses are errors.
func (c *Client) FetchHTTP(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Result{
		FinalURL:    resp.Request.URL.String(),
		HTML:        string(body),
		StatusCode:  resp.StatusCode,
		FromBrowser: false,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
