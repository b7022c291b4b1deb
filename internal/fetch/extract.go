package fetch

import (
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// navigationSelector matches the chrome around the main content of a page.
const navigationSelector = "nav, header, aside, [role=navigation], [data-testid=sidebar], .sidebar, .toc, .table-of-contents"

// docFrameworkKeywords are documentation framework names looked for in meta
// tags and body classes of fetched HTML.
var docFrameworkKeywords = []string{
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

// Extracted is the readable content pulled out of page HTML.
type Extracted struct {
	Title    string
	Markdown string
}

// Extract converts page HTML into a title plus Markdown. Scripts, styles and
// noscript blocks are always dropped; pruneNav additionally removes
// navigation chrome so links extracted downstream stay within the content
// body.
func Extract(html string, pruneNav bool) (Extracted, error) {
	if strings.TrimSpace(html) == "" {
		return Extracted{}, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Extracted{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, noscript").Remove()
	if pruneNav {
		doc.Find(navigationSelector).Remove()
	}

	cleaned, err := doc.Html()
	if err != nil {
		return Extracted{}, fmt.Errorf("failed to serialize cleaned HTML: %w", err)
	}

	markdown, err := htmltomarkdown.ConvertString(cleaned)
	if err != nil {
		return Extracted{}, fmt.Errorf("failed to convert HTML to markdown: %w", err)
	}

	return Extracted{Title: title, Markdown: strings.TrimSpace(markdown)}, nil
}

// Links collects anchor targets from page HTML, resolved against base.
// Only absolute http(s) URLs survive; fragments are stripped and duplicates
// removed, preserving document order.
func Links(html, base string) []string {
	if html == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		baseURL = nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		if baseURL != nil {
			ref = baseURL.ResolveReference(ref)
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return
		}
		ref.Fragment = ""

		resolved := ref.String()
		if seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, resolved)
	})
	return links
}

// IsDocHTML reports whether fetched HTML shows documentation framework
// signals: a framework name in meta tags or body classes, a
// [data-theme='docs'] node, or a .theme-doc-markdown container. Used to
// promote pages to browser rendering after a plain HTTP fetch.
func IsDocHTML(html string) bool {
	if html == "" {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	found := false
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		content, _ := s.Attr("content")
		name, _ := s.Attr("name")
		property, _ := s.Attr("property")
		text := strings.ToLower(content + " " + name + " " + property)
		for _, kw := range docFrameworkKeywords {
			if strings.Contains(text, kw) {
				found = true
				return false
			}
		}
		return true
	})
	if found {
		return true
	}

	bodyClass, _ := doc.Find("body").First().Attr("class")
	bodyClass = strings.ToLower(bodyClass)
	for _, kw := range docFrameworkKeywords {
		if strings.Contains(bodyClass, kw) {
			return true
		}
	}

	if doc.Find("[data-theme='docs']").Length() > 0 {
		return true
	}
	return doc.Find(".theme-doc-markdown").Length() > 0
}
