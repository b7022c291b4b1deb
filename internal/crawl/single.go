package crawl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/knoguchi/webindex/internal/fetch"
	"github.com/knoguchi/webindex/internal/urlutil"
)

// ErrAllAttemptsFailed is returned when every fetch attempt for a page
// failed.
var ErrAllAttemptsFailed = errors.New("all fetch attempts failed")

const (
	// fetchAttempts is how many times a page is tried before giving up.
	fetchAttempts = 3

	// minHTMLBytes is the smallest HTTP response treated as real content.
	// Anything shorter is assumed to be a JavaScript shell and refetched
	// through the browser.
	minHTMLBytes = 50
)

// bypassSchedule maps attempt number to browser cache behavior: the first
// attempt may serve from cache, retries bypass it.
var bypassSchedule = [fetchAttempts]bool{false, true, true}

// Wait selectors for browser rendering. Documentation frameworks render
// into article or markdown containers, everything else at least has main.
const (
	genericWaitSelector = "main"
	docWaitSelector     = "article, main, .markdown"
)

// CrawlPage fetches one URL and converts it to a Page. HTTP is tried first
// unless the URL looks like a documentation site or the caller prefers the
// browser; failures and JavaScript shells escalate to browser rendering on
// the next attempt.
func CrawlPage(ctx context.Context, fetcher fetch.Fetcher, rawURL string, opts Options) (*Page, error) {
	pageURL := urlutil.TransformGitHubURL(rawURL)
	docSite := urlutil.IsDocumentationSite(pageURL)
	useBrowser := opts.PreferBrowser || docSite

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := fetchPage(ctx, fetcher, pageURL, useBrowser, docSite, bypassSchedule[attempt])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			useBrowser = true
			if attempt < fetchAttempts-1 {
				if err := sleep(ctx, time.Duration(1<<uint(attempt))*time.Second); err != nil {
					return nil, err
				}
			}
			continue
		}

		// A tiny HTTP response or documentation framework markup means the
		// real content is rendered client side.
		if !res.FromBrowser {
			if docHTML := fetch.IsDocHTML(res.HTML); docHTML || len(res.HTML) < minHTMLBytes {
				lastErr = fmt.Errorf("response from %s needs browser rendering (%d bytes)", pageURL, len(res.HTML))
				useBrowser = true
				docSite = docSite || docHTML
				if attempt < fetchAttempts-1 {
					if err := sleep(ctx, time.Second); err != nil {
						return nil, err
					}
				}
				continue
			}
		}

		return buildPage(res, opts)
	}

	return nil, fmt.Errorf("%w for %s: %v", ErrAllAttemptsFailed, pageURL, lastErr)
}

// fetchPage runs one fetch attempt over the chosen transport.
func fetchPage(ctx context.Context, fetcher fetch.Fetcher, url string, useBrowser, docSite, bypassCache bool) (*fetch.Result, error) {
	if !useBrowser {
		return fetcher.FetchHTTP(ctx, url)
	}

	selector := genericWaitSelector
	if docSite {
		selector = docWaitSelector
	}
	return fetcher.FetchBrowser(ctx, url, fetch.BrowserOptions{
		WaitSelector: selector,
		BypassCache:  bypassCache,
	})
}

// buildPage converts a fetch result into a Page.
func buildPage(res *fetch.Result, opts Options) (*Page, error) {
	extracted, err := fetch.Extract(res.HTML, opts.IncludeLinks)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content from %s: %w", res.FinalURL, err)
	}

	var links []string
	if opts.IncludeLinks && extracted.Markdown != "" {
		for _, link := range urlutil.LinksFromMarkdown(extracted.Markdown) {
			if urlutil.IsBinaryFile(link) {
				continue
			}
			links = append(links, urlutil.Normalize(link))
		}
	}

	return &Page{
		URL:             res.FinalURL,
		SourceURL:       opts.SourceURL,
		Title:           extracted.Title,
		HTML:            res.HTML,
		Markdown:        extracted.Markdown,
		WordCount:       len(strings.Fields(extracted.Markdown)),
		CharCount:       utf8.RuneCountInString(extracted.Markdown),
		DiscoveredLinks: links,
		SourceID:        urlutil.SourceID(res.FinalURL),
		FromBrowser:     res.FromBrowser,
	}, nil
}
