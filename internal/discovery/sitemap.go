package discovery

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/knoguchi/webindex/internal/urlutil"
)

// sitemapTimeout bounds a sitemap download; sitemaps run larger than the
// probe files.
const sitemapTimeout = 20 * time.Second

// ParseSitemap downloads a sitemap and returns its normalized <loc>
// entries. Unreachable or malformed sitemaps yield an empty list, not an
// error; the caller falls back to crawling its seed URLs directly.
func (s *Service) ParseSitemap(ctx context.Context, sitemapURL string) []string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.sitemapClient.Do(req)
	if err != nil {
		s.logger.Warn("failed to download sitemap", "url", sitemapURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Warn("sitemap download rejected", "url", sitemapURL, "status", resp.StatusCode)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		s.logger.Warn("failed to read sitemap", "url", sitemapURL, "error", err)
		return nil
	}
	return ExtractLocs(string(body))
}

// ExtractLocs pulls <loc> values out of sitemap XML, ignoring namespaces so
// urlset, sitemapindex, and extension schemas all work. Malformed XML
// yields an empty list.
func ExtractLocs(content string) []string {
	decoder := xml.NewDecoder(strings.NewReader(content))

	var locs []string
	var inLoc bool
	var current strings.Builder

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "loc" {
				inLoc = true
				current.Reset()
			}
		case xml.CharData:
			if inLoc {
				current.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "loc" && inLoc {
				inLoc = false
				if text := strings.TrimSpace(current.String()); text != "" {
					locs = append(locs, urlutil.Normalize(text))
				}
			}
		}
	}
	return locs
}
