package crawl

import (
	"context"
	"errors"
	"sync"

	"github.com/knoguchi/webindex/internal/fetch"
)

// CrawlBatch fetches a set of URLs in parallel, bounded by
// opts.MaxConcurrency. Individual failures are logged and skipped; the batch
// itself only fails on cancellation. Results are in completion order.
func CrawlBatch(ctx context.Context, fetcher fetch.Fetcher, urls []string, opts Options) ([]*Page, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	logger := opts.logger()
	total := len(urls)

	var (
		mu        sync.Mutex
		pages     []*Page
		completed int
	)

	report := func(url string) {
		completed++
		if opts.Progress != nil {
			opts.Progress(completed, total, url)
		}
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, opts.concurrency())

	for _, target := range urls {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				return
			}

			page, err := CrawlPage(ctx, fetcher, target, opts)

			if errors.Is(err, context.Canceled) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("batch crawl failed for url", "url", target, "error", err)
				report(target)
				return
			}
			pages = append(pages, page)
			report(page.URL)
		}(target)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return pages, err
	}
	return pages, nil
}
