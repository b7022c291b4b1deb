package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// readyStateExpr is polled under the domcontentloaded strategy. Parsing is
// done once the document leaves the "loading" state.
const readyStateExpr = `document.readyState === "interactive" || document.readyState === "complete"`

// networkIdleSettle approximates a network-idle wait: the load event has
// fired, then the page gets a short window for late XHR-driven rendering.
const networkIdleSettle = 500 * time.Millisecond

// allocator lazily starts the shared headless Chrome allocator.
func (c *Client) allocator() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.allocCtx == nil {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(c.userAgent),
		)
		c.allocCtx, c.allocStop = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	return c.allocCtx
}

// FetchBrowser renders a page in a fresh tab and captures the resulting DOM.
// If rendering fails and the caller's context is still live, the fetch
// degrades to a plain HTTP GET so a broken or missing browser never takes
// down a crawl on its own.
func (c *Client) FetchBrowser(ctx context.Context, url string, opts BrowserOptions) (*Result, error) {
	res, err := c.renderPage(ctx, url, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn("browser fetch failed, falling back to http", "url", url, "error", err)
		return c.FetchHTTP(ctx, url)
	}
	return res, nil
}

func (c *Client) renderPage(ctx context.Context, url string, opts BrowserOptions) (*Result, error) {
	tabCtx, cancelTab := chromedp.NewContext(c.allocator())
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.timeout)
	defer cancelTimeout()

	// The tab descends from the allocator, not from the caller's context;
	// bridge cancellation manually.
	go func() {
		select {
		case <-ctx.Done():
			cancelTab()
		case <-tabCtx.Done():
		}
	}()

	var status int64
	var contentType string
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok && resp.Type == network.ResourceTypeDocument {
			// Keep the last document response so redirects report the
			// final page's status.
			status = resp.Response.Status
			contentType = resp.Response.MimeType
		}
	})

	actions := []chromedp.Action{network.Enable()}
	if opts.BypassCache {
		actions = append(actions,
			network.SetCacheDisabled(true),
			network.SetExtraHTTPHeaders(network.Headers{"Cache-Control": "no-cache"}),
		)
	}
	actions = append(actions, chromedp.Navigate(url))

	var ready bool
	switch {
	case opts.WaitSelector != "":
		actions = append(actions, chromedp.WaitReady(opts.WaitSelector, chromedp.ByQuery))
	case c.waitStrategy == WaitNetworkIdle:
		actions = append(actions, chromedp.Sleep(networkIdleSettle))
	default:
		actions = append(actions, chromedp.Poll(readyStateExpr, &ready))
	}

	var finalURL, html string
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to render %s: %w", url, err)
	}

	if status == 0 {
		status = 200
	}
	if finalURL == "" {
		finalURL = url
	}

	return &Result{
		FinalURL:    finalURL,
		HTML:        html,
		StatusCode:  int(status),
		FromBrowser: true,
		ContentType: contentType,
	}, nil
}
