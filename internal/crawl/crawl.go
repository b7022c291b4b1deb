// Package crawl implements the page acquisition strategies: single page
// with retry and browser escalation, bounded-concurrency batches, and
// breadth-first recursive expansion with memory-adaptive dispatch.
package crawl

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultMaxConcurrency bounds parallel fetches when the request does
	// not say otherwise.
	DefaultMaxConcurrency = 10

	// maxConcurrencyCap is the hard ceiling on parallel fetches.
	maxConcurrencyCap = 50

	// DefaultBatchSize is how many frontier URLs the recursive strategy
	// schedules per batch.
	DefaultBatchSize = 50
)

// Page is a crawled document.
type Page struct {
	URL             string   `json:"url"`
	SourceURL       string   `json:"source_url,omitempty"`
	Title           string   `json:"title,omitempty"`
	HTML            string   `json:"html_content"`
	Markdown        string   `json:"markdown_content"`
	WordCount       int      `json:"word_count"`
	CharCount       int      `json:"char_count"`
	DiscoveredLinks []string `json:"discovered_links,omitempty"`
	SourceID        string   `json:"-"`
	FromBrowser     bool     `json:"-"`
}

// ProgressFunc receives running completion totals. For the recursive
// strategy total grows as the frontier expands.
type ProgressFunc func(done, total int, url string)

// Options tunes the crawl strategies. The zero value is usable.
type Options struct {
	// IncludeLinks extracts links from the rendered markdown into
	// Page.DiscoveredLinks and prunes navigation chrome before conversion.
	IncludeLinks bool

	// PreferBrowser skips the cheap HTTP attempt and renders immediately.
	PreferBrowser bool

	// SourceURL records the parent page for pages found by expansion.
	SourceURL string

	// MaxConcurrency bounds parallel fetches (default 10, capped at 50).
	MaxConcurrency int

	// MaxDepth limits recursive expansion; 0 fetches only the seeds.
	MaxDepth int

	// MaxPages caps the total pages collected; 0 means unlimited.
	MaxPages int

	// SameDomainOnly restricts expansion to the seed hosts.
	SameDomainOnly bool

	// BatchSize is the recursive strategy's per-level scheduling unit
	// (default 50).
	BatchSize int

	// Dispatcher, when set, throttles fetches under memory pressure.
	Dispatcher *Dispatcher

	// Progress is invoked as pages complete.
	Progress ProgressFunc

	// Logger for per-URL failures; defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) concurrency() int {
	limit := o.MaxConcurrency
	if limit <= 0 {
		limit = DefaultMaxConcurrency
	}
	if limit > maxConcurrencyCap {
		limit = maxConcurrencyCap
	}
	return limit
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// sleep waits d unless the context ends first.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
