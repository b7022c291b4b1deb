// Package discovery probes sites for auxiliary crawl files: llms.txt
// manifests, sitemaps, and robots.txt. Every fetch goes through an SSRF
// guard that rejects URLs resolving to private or otherwise unroutable
// addresses.
package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/knoguchi/webindex/internal/urlutil"
)

const (
	// DefaultTimeout bounds one probe request.
	DefaultTimeout = 10 * time.Second

	// dialTimeout bounds connection establishment within a probe.
	dialTimeout = 5 * time.Second

	// DefaultMaxBytes caps the size of a discovered file.
	DefaultMaxBytes = 10 << 20 // 10 MiB

	// maxRedirects bounds redirect chains; every hop is revalidated.
	maxRedirects = 3

	userAgent = "webindexd/1.0 (discovery)"
)

// priorityFiles are probed at the site root, most valuable first.
var priorityFiles = []string{
	"llms.txt",
	"llms-full.txt",
	".well-known/ai.txt",
	".well-known/llms.txt",
	"sitemap.xml",
	"sitemap_index.xml",
	"robots.txt",
	".well-known/sitemap.xml",
}

// seedDirFiles are probed in the seed URL's own directory.
var seedDirFiles = []string{"llms.txt", "llms-full.txt", "sitemap.xml"}

// commonSubdirs are conventional locations for manifests and sitemaps.
var commonSubdirs = []string{
	"docs", "doc", "documentation",
	"api", "static", "public", "assets",
	"sitemaps", "sitemap", "xml", "feed",
}

// fileExtensions distinguish file URLs from directory URLs when deriving
// the seed's directory.
var fileExtensions = []string{
	".html", ".htm", ".xml", ".json", ".txt", ".md", ".csv",
	".rss", ".yaml", ".yml", ".pdf", ".zip",
}

// File is a discovered auxiliary file.
type File struct {
	URL         string
	Content     string
	ContentType string
}

// Config holds configuration for the discovery Service.
type Config struct {
	// Timeout is the per-probe deadline (default: 10s).
	Timeout time.Duration

	// MaxBytes caps the size of fetched files (default: 10 MiB).
	MaxBytes int64

	// AllowPrivateHosts disables the SSRF address checks. Meant for
	// air-gapped deployments that crawl internal documentation hosts.
	AllowPrivateHosts bool

	// Logger for probe diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Service discovers crawl manifests for seed URLs.
type Service struct {
	client        *http.Client
	sitemapClient *http.Client
	maxBytes      int64
	allowPrivate  bool
	logger        *slog.Logger
}

// NewService creates a discovery service.
func NewService(cfg Config) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		maxBytes:     maxBytes,
		allowPrivate: cfg.AllowPrivateHosts,
		logger:       logger,
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
	}
	s.client = &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: s.checkRedirect,
	}
	s.sitemapClient = &http.Client{
		Timeout:   sitemapTimeout,
		Transport: transport,
	}
	return s
}

// Discover probes the seeds for an auxiliary crawl file and returns the
// first one found, or nil when the site exposes none. Probe failures are
// not errors; only cancellation aborts the scan.
func (s *Service) Discover(ctx context.Context, seeds []string) (*File, error) {
	checked := make(map[string]bool)

	var candidates []string
	for _, seed := range seeds {
		candidates = append(candidates, candidateURLs(urlutil.EnsureHTTPS(seed))...)
	}
	s.logger.Info("starting discovery", "seeds", len(seeds), "candidates", len(candidates))

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if checked[candidate] {
			continue
		}
		checked[candidate] = true

		file, err := s.tryFetch(ctx, candidate, checked)
		if err != nil {
			s.logger.Debug("discovery probe failed", "url", candidate, "error", err)
			continue
		}
		if file != nil {
			s.logger.Info("discovery found file", "url", file.URL, "content_type", file.ContentType)
			return file, nil
		}
	}

	// Fallback: some sites only reference their sitemap from the page
	// markup.
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageURL := urlutil.EnsureHTTPS(seed)
		if checked[pageURL] {
			continue
		}
		checked[pageURL] = true

		if file := s.fromHTMLTags(ctx, pageURL, checked); file != nil {
			s.logger.Info("discovery found file via HTML reference", "url", file.URL)
			return file, nil
		}
	}

	s.logger.Info("discovery found nothing")
	return nil, nil
}

// candidateURLs lists the probe URLs for one seed: root priority files,
// the seed's own directory, then conventional subdirectories.
func candidateURLs(seed string) []string {
	parsed, err := url.Parse(seed)
	if err != nil || parsed.Host == "" {
		return nil
	}
	origin := parsed.Scheme + "://" + parsed.Host

	var candidates []string
	for _, name := range priorityFiles {
		candidates = append(candidates, origin+"/"+name)
	}

	if dir := seedDirectory(parsed.Path); dir != "" && dir != "/" {
		for _, name := range seedDirFiles {
			candidates = append(candidates, origin+dir+"/"+name)
		}
	}

	for _, subdir := range commonSubdirs {
		candidates = append(candidates, origin+"/"+subdir+"/llms.txt")
		candidates = append(candidates, origin+"/"+subdir+"/sitemap.xml")
	}
	return candidates
}

// seedDirectory derives the directory of a seed path. A last segment with a
// known file extension is dropped; anything else is treated as a directory.
func seedDirectory(path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return ""
	}

	last := strings.ToLower(path[strings.LastIndex(path, "/")+1:])
	for _, ext := range fileExtensions {
		if strings.HasSuffix(last, ext) {
			return path[:strings.LastIndex(path, "/")]
		}
	}
	return path
}

// tryFetch retrieves one candidate and classifies it. Returns (nil, nil)
// when the URL serves nothing usable. robots.txt files trigger a nested
// probe of their Sitemap declaration.
func (s *Service) tryFetch(ctx context.Context, candidate string, checked map[string]bool) (*File, error) {
	parsed, err := url.Parse(candidate)
	if err != nil {
		return nil, fmt.Errorf("invalid candidate URL: %w", err)
	}
	if err := s.validateURL(ctx, parsed); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", candidate, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, nil
	}
	if resp.ContentLength > s.maxBytes {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", candidate, err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	file := &File{URL: candidate, Content: string(body), ContentType: contentType}

	switch {
	case urlutil.IsLLMsVariant(candidate), urlutil.IsSitemap(candidate):
		return file, nil
	case urlutil.IsRobotsTxt(candidate):
		if sitemapURL := sitemapFromRobots(file.Content, candidate); sitemapURL != "" && !checked[sitemapURL] {
			checked[sitemapURL] = true
			if nested, err := s.tryFetch(ctx, sitemapURL, checked); err == nil && nested != nil {
				return nested, nil
			}
		}
		return file, nil
	}
	return nil, nil
}

// sitemapFromRobots returns the first Sitemap declaration in a robots.txt,
// or the conventional sitemap.xml next to it when none is declared.
func sitemapFromRobots(content, robotsURL string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(strings.ToLower(line), "sitemap:") {
			continue
		}
		if declared := strings.TrimSpace(line[len("sitemap:"):]); declared != "" {
			return declared
		}
	}

	idx := strings.LastIndex(robotsURL, "/")
	if idx < 0 {
		return ""
	}
	return robotsURL[:idx] + "/sitemap.xml"
}

// fromHTMLTags fetches a seed page and follows any sitemap referenced from
// its <link rel="sitemap"> or <meta name="sitemap"> tags.
func (s *Service) fromHTMLTags(ctx context.Context, pageURL string, checked map[string]bool) *File {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if err := s.validateURL(ctx, parsed); err != nil {
		s.logger.Debug("seed blocked", "url", pageURL, "error", err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("seed fetch failed", "url", pageURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil || int64(len(body)) > s.maxBytes {
		return nil
	}

	base := resp.Request.URL
	for _, ref := range sitemapRefs(string(body)) {
		refURL, err := url.Parse(strings.TrimSpace(ref))
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(refURL)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			continue
		}

		candidate := resolved.String()
		if checked[candidate] {
			continue
		}
		checked[candidate] = true

		if file, err := s.tryFetch(ctx, candidate, checked); err == nil && file != nil {
			return file
		}
	}
	return nil
}

// sitemapRefs scans HTML for sitemap references in link and meta tags.
func sitemapRefs(content string) []string {
	var refs []string
	tokenizer := html.NewTokenizer(strings.NewReader(content))
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			return refs
		}
		if tokenType != html.StartTagToken && tokenType != html.SelfClosingTagToken {
			continue
		}

		token := tokenizer.Token()
		attrs := make(map[string]string, len(token.Attr))
		for _, attr := range token.Attr {
			attrs[strings.ToLower(attr.Key)] = attr.Val
		}

		switch token.Data {
		case "link":
			if attrs["href"] == "" {
				continue
			}
			for _, rel := range strings.Fields(strings.ToLower(attrs["rel"])) {
				if rel == "sitemap" {
					refs = append(refs, attrs["href"])
					break
				}
			}
		case "meta":
			if strings.EqualFold(attrs["name"], "sitemap") && attrs["content"] != "" {
				refs = append(refs, attrs["content"])
			}
		}
	}
}

// checkRedirect revalidates every redirect hop against the SSRF rules.
func (s *Service) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return s.validateURL(req.Context(), req.URL)
}

// validateURL rejects URLs an attacker could use to reach internal
// services: non-HTTP schemes and hosts resolving to private, loopback,
// link-local, multicast, or cloud-metadata addresses.
func (s *Service) validateURL(ctx context.Context, u *url.URL) error {
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("blocked non-HTTP scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if s.allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if !safeIP(ip) {
			return fmt.Errorf("blocked unsafe address %s", host)
		}
		return nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	for _, addr := range addrs {
		if !safeIP(addr.IP) {
			return fmt.Errorf("host %s resolves to unsafe address %s", host, addr.IP)
		}
	}
	return nil
}

// metadataIP is the cloud instance metadata endpoint.
var metadataIP = net.IPv4(169, 254, 169, 254)

// safeIP reports whether an address is routable for outbound probes.
func safeIP(ip net.IP) bool {
	switch {
	case ip.IsPrivate(),
		ip.IsLoopback(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified(),
		ip.Equal(net.IPv4bcast),
		ip.Equal(metadataIP):
		return false
	}
	return true
}
