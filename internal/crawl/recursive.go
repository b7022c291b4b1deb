package crawl

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/knoguchi/webindex/internal/fetch"
	"github.com/knoguchi/webindex/internal/urlutil"
)

// target is one frontier entry: the URL to fetch and the page it was
// discovered on.
type target struct {
	url    string
	source string
}

// CrawlRecursive walks outward from the seed URLs breadth first, one depth
// level at a time. Each level is fetched in batches of opts.BatchSize
// through the memory dispatcher; links for the next level come from the
// rendered HTML, not the markdown. MaxPages of 0 means unlimited.
func CrawlRecursive(ctx context.Context, fetcher fetch.Fetcher, seeds []string, opts Options) ([]*Page, error) {
	logger := opts.logger()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	visited := make(map[string]bool)
	var frontier []target
	for _, seed := range seeds {
		normalized := urlutil.Normalize(seed)
		if normalized == "" || visited[normalized] {
			continue
		}
		visited[normalized] = true
		frontier = append(frontier, target{url: normalized, source: opts.SourceURL})
	}

	// Host filter for expansion: any registrable domain seen in the seeds.
	var seedDomains map[string]bool
	if opts.SameDomainOnly {
		seedDomains = make(map[string]bool, len(frontier))
		for _, t := range frontier {
			if key := domainKey(t.url); key != "" {
				seedDomains[key] = true
			}
		}
	}

	var pages []*Page
	capReached := func() bool {
		return opts.MaxPages > 0 && len(pages) >= opts.MaxPages
	}
	report := func(pageURL string) {
		if opts.Progress == nil {
			return
		}
		total := opts.MaxPages
		if total == 0 {
			total = len(pages)
		}
		opts.Progress(len(pages), total, pageURL)
	}

	for depth := 0; depth <= opts.MaxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return pages, err
		}

		var next []target
		for start := 0; start < len(frontier); start += batchSize {
			if err := ctx.Err(); err != nil {
				return pages, err
			}
			if capReached() {
				return pages, nil
			}

			end := start + batchSize
			if end > len(frontier) {
				end = len(frontier)
			}

			for page := range fetchLevelBatch(ctx, fetcher, frontier[start:end], opts, logger) {
				if capReached() {
					continue // drain the batch without recording
				}
				pages = append(pages, page)
				report(page.URL)

				if depth < opts.MaxDepth {
					for _, link := range expandLinks(page, visited, seedDomains) {
						next = append(next, target{url: link, source: page.URL})
					}
				}
			}
		}

		frontier = next
	}

	if err := ctx.Err(); err != nil {
		return pages, err
	}
	return pages, nil
}

// fetchLevelBatch fetches one batch of frontier targets with bounded
// concurrency and streams completed pages back. The memory dispatcher gates
// the release of each fetch. Failures are logged and dropped.
func fetchLevelBatch(ctx context.Context, fetcher fetch.Fetcher, batch []target, opts Options, logger *slog.Logger) <-chan *Page {
	out := make(chan *Page)

	go func() {
		defer close(out)

		var wg sync.WaitGroup
		semaphore := make(chan struct{}, opts.concurrency())

		for _, t := range batch {
			if err := opts.Dispatcher.Wait(ctx); err != nil {
				break
			}

			wg.Add(1)
			go func(t target) {
				defer wg.Done()

				// Acquire semaphore
				select {
				case semaphore <- struct{}{}:
					defer func() { <-semaphore }()
				case <-ctx.Done():
					return
				}

				pageOpts := opts
				pageOpts.SourceURL = t.source
				page, err := CrawlPage(ctx, fetcher, t.url, pageOpts)
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						logger.Warn("recursive crawl failed for url", "url", t.url, "error", err)
					}
					return
				}

				select {
				case out <- page:
				case <-ctx.Done():
				}
			}(t)
		}

		wg.Wait()
	}()

	return out
}

// expandLinks pulls next-level URLs out of a fetched page: anchors from the
// rendered HTML, normalized, minus already visited URLs, binary files, and
// (when filtering) hosts outside the seed domains. Returned URLs are marked
// visited.
func expandLinks(page *Page, visited map[string]bool, seedDomains map[string]bool) []string {
	var links []string
	for _, link := range fetch.Links(page.HTML, page.URL) {
		normalized := urlutil.Normalize(link)
		if normalized == "" || visited[normalized] {
			continue
		}
		if urlutil.IsBinaryFile(normalized) {
			continue
		}
		if seedDomains != nil && !seedDomains[domainKey(normalized)] {
			continue
		}
		visited[normalized] = true
		links = append(links, normalized)
	}
	return links
}

// domainKey reduces a URL to its registrable domain (eTLD+1) for the
// same-domain filter. Hosts without a public suffix, like localhost or IP
// literals, fall back to the bare host.
func domainKey(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ""
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}
