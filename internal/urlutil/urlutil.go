// Package urlutil provides URL normalization, classification, and link
// extraction helpers shared by the discovery and crawling layers.
//
// The helpers are pure functions with no side effects so they can be called
// from any goroutine without coordination.
package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var (
	githubBlobPattern   = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/blob/([^/]+)/(.+)$`)
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	autoLinkPattern     = regexp.MustCompile(`<(https?://[^>\s]+)>`)
)

// binaryExtensions lists URL path suffixes that reference non-indexable
// content. Matched case-insensitively against the URL path.
var binaryExtensions = []string{
	// Archives
	".zip", ".tar", ".gz", ".rar", ".7z",
	// Documents
	".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	// Executables and installers
	".exe", ".dmg", ".pkg", ".deb", ".rpm",
	// Images
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".ico", ".webp",
	// Audio and video
	".mp3", ".mp4", ".avi", ".mov", ".wmv", ".flv", ".wav",
	// Fonts
	".woff", ".woff2", ".ttf", ".eot",
	// Frontend assets
	".css", ".js", ".map", ".min.js", ".min.css",
}

// docKeywords identify documentation frameworks by their hosting or
// generator names appearing anywhere in the URL.
var docKeywords = []string{
	"readthedocs",
	"docusaurus",
	"vitepress",
	"gitbook",
	"mkdocs",
	"docsify",
	"nextra",
	"sphinx",
	"storybook",
}

// docPathHints identify documentation sections by URL path conventions.
var docPathHints = []string{
	"/docs/",
	"/documentation",
	"/guide",
	"/handbook",
	"/kb/",
}

// Normalize canonicalizes a URL for deduplication: missing schemes become
// https, scheme and host are lowercased, an empty path becomes "/", the
// query string is preserved, and any trailing slash is stripped. Unparseable
// input is returned trimmed.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	candidate := raw
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}

	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Host == "" {
		return raw
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}

	normalized := scheme + "://" + host + path
	if parsed.RawQuery != "" {
		normalized += "?" + parsed.RawQuery
	}
	return strings.TrimRight(normalized, "/")
}

// EnsureHTTPS adds an https scheme to scheme-less URLs. URLs that already
// carry a scheme, including plain http, are returned unchanged.
func EnsureHTTPS(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	if strings.Contains(trimmed, "://") {
		return trimmed
	}
	return "https://" + trimmed
}

// TransformGitHubURL rewrites GitHub blob viewer URLs to their raw content
// equivalents so the crawler fetches file bytes instead of the HTML viewer.
// Other URLs pass through unchanged.
func TransformGitHubURL(raw string) string {
	match := githubBlobPattern.FindStringSubmatch(raw)
	if match == nil {
		return raw
	}
	return "https://raw.githubusercontent.com/" + match[1] + "/" + match[2] + "/" + match[3] + "/" + match[4]
}

// IsBinaryFile reports whether the URL path points at a known binary or
// asset extension. Extensionless URLs are treated as HTML-like and return
// false.
func IsBinaryFile(raw string) bool {
	path := raw
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		path = parsed.Path
	}
	lower := strings.ToLower(path)
	for _, ext := range binaryExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// IsSitemap reports whether the URL looks like a sitemap document.
func IsSitemap(raw string) bool {
	lower := strings.ToLower(raw)
	path := pathOf(lower)
	return strings.HasSuffix(path, ".xml") ||
		strings.HasSuffix(path, "sitemap") ||
		strings.Contains(lower, "/sitemap")
}

// IsLLMsVariant reports whether the URL is an llms.txt style crawl manifest.
func IsLLMsVariant(raw string) bool {
	path := pathOf(strings.ToLower(raw))
	return strings.HasSuffix(path, "llms.txt") ||
		strings.HasSuffix(path, "llms-full.txt") ||
		strings.HasSuffix(path, ".well-known/ai.txt")
}

// IsRobotsTxt reports whether the URL points at a robots.txt document.
func IsRobotsTxt(raw string) bool {
	return strings.HasSuffix(pathOf(strings.ToLower(raw)), "robots.txt")
}

// IsMarkdown reports whether the URL points at a markdown document.
func IsMarkdown(raw string) bool {
	path := pathOf(strings.ToLower(raw))
	return strings.HasSuffix(path, ".md") || strings.HasSuffix(path, ".mdx")
}

// IsTxt reports whether the URL points at a plain text document.
func IsTxt(raw string) bool {
	path := pathOf(strings.ToLower(raw))
	return strings.HasSuffix(path, ".txt") || strings.HasSuffix(path, ".text")
}

// IsDocumentationSite guesses whether a URL belongs to a documentation site
// based on framework keywords and common path conventions. The crawler uses
// this to prefer browser rendering for client-side rendered doc frameworks.
func IsDocumentationSite(raw string) bool {
	lower := strings.ToLower(raw)
	for _, keyword := range docKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	for _, hint := range docPathHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// SourceID derives a stable identifier for a crawl source from its
// normalized URL. Used to deduplicate pages across crawl sessions.
func SourceID(raw string) string {
	sum := sha256.Sum256([]byte(Normalize(raw)))
	return hex.EncodeToString(sum[:])[:32]
}

// SameDomain reports whether two URLs share a hostname, ignoring case.
func SameDomain(a, b string) bool {
	host := hostOf(a)
	return host != "" && host == hostOf(b)
}

// LinksFromMarkdown extracts http(s) link targets from markdown content.
// Both [text](url) links and <url> autolinks are collected, in document
// order, with duplicates removed.
func LinksFromMarkdown(markdown string) []string {
	if markdown == "" {
		return nil
	}

	type located struct {
		pos int
		url string
	}
	var found []located

	for _, match := range markdownLinkPattern.FindAllStringSubmatchIndex(markdown, -1) {
		target := strings.TrimSpace(markdown[match[4]:match[5]])
		found = append(found, located{pos: match[0], url: target})
	}
	for _, match := range autoLinkPattern.FindAllStringSubmatchIndex(markdown, -1) {
		target := strings.TrimSpace(markdown[match[2]:match[3]])
		found = append(found, located{pos: match[0], url: target})
	}

	// Autolink matches are appended after bracket links; restore document
	// order before deduplication so output order is deterministic.
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j-1].pos > found[j].pos; j-- {
			found[j-1], found[j] = found[j], found[j-1]
		}
	}

	seen := make(map[string]bool, len(found))
	var links []string
	for _, item := range found {
		if !isHTTPURL(item.url) {
			continue
		}
		if seen[item.url] {
			continue
		}
		seen[item.url] = true
		links = append(links, item.url)
	}
	return links
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func pathOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Path == "" {
		return raw
	}
	return parsed.Path
}

func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
