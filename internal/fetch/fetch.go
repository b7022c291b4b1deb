// Package fetch retrieves web pages over plain HTTP or through a headless
// Chrome instance, and extracts readable content from the returned HTML.
//
// The HTTP path is cheap and used first; the browser path renders
// JavaScript-heavy pages (most documentation frameworks) and is reached by
// escalation or by site heuristics.
package fetch

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultUserAgent identifies the crawler to origin servers.
const DefaultUserAgent = "webindexd/1.0"

// DefaultTimeout bounds a single page fetch, HTTP or browser.
const DefaultTimeout = 30 * time.Second

// Wait strategies for browser rendering.
const (
	WaitDOMContentLoaded = "domcontentloaded"
	WaitNetworkIdle      = "networkidle"
)

// Result is a fetched page.
type Result struct {
	FinalURL    string
	HTML        string
	StatusCode  int
	FromBrowser bool
	ContentType string
}

// BrowserOptions tunes a single browser fetch.
type BrowserOptions struct {
	// WaitSelector, when set, waits for the first matching node before the
	// page is captured. Overrides the configured wait strategy.
	WaitSelector string

	// BypassCache disables the browser cache for this navigation.
	BypassCache bool
}

// Fetcher retrieves pages. Implementations must be safe for concurrent use.
type Fetcher interface {
	FetchHTTP(ctx context.Context, url string) (*Result, error)
	FetchBrowser(ctx context.Context, url string, opts BrowserOptions) (*Result, error)
}

// Config holds configuration for the Client.
type Config struct {
	// Timeout is the per-fetch deadline (default: 30s).
	Timeout time.Duration

	// WaitStrategy selects how browser fetches decide the page is ready:
	// "domcontentloaded" (default) or "networkidle".
	WaitStrategy string

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// Logger for fetch diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client implements Fetcher with a shared HTTP client and a lazily started
// headless Chrome allocator.
type Client struct {
	http         *http.Client
	userAgent    string
	timeout      time.Duration
	waitStrategy string
	logger       *slog.Logger

	mu        sync.Mutex
	allocCtx  context.Context
	allocStop context.CancelFunc
}

// NewClient creates a fetcher. The browser process is not started until the
// first FetchBrowser call.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	waitStrategy := cfg.WaitStrategy
	if waitStrategy == "" {
		waitStrategy = WaitDOMContentLoaded
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		http: &http.Client{
			Timeout: timeout,
		},
		userAgent:    userAgent,
		timeout:      timeout,
		waitStrategy: waitStrategy,
		logger:       logger,
	}
}

// Close shuts down the browser allocator if it was started.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allocStop != nil {
		c.allocStop()
		c.allocCtx = nil
		c.allocStop = nil
	}
}

// Ensure Client implements Fetcher interface.
var _ Fetcher = (*Client)(nil)
