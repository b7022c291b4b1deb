package postgres

import (
	"strings"
	"testing"

	"github.com/knoguchi/webindex/internal/repository"
)

func TestPageMetadata(t *testing.T) {
	page := repository.PageUpsert{
		URL:       "https://docs.example.com/guide?x=1",
		SourceURL: "https://docs.example.com/",
		Markdown:  "# Guide\n\nSome body text.",
		HTML:      "<h1>Guide</h1>",
		WordCount: 4,
		CharCount: 24,
	}

	meta := pageMetadata(page)
	if meta["domain"] != "docs.example.com" {
		t.Errorf("expected domain docs.example.com, got %v", meta["domain"])
	}
	if meta["source_url"] != page.SourceURL {
		t.Errorf("unexpected source_url %v", meta["source_url"])
	}
	if meta["word_count"] != 4 {
		t.Errorf("expected word_count 4, got %v", meta["word_count"])
	}
	if meta["char_count"] != 24 {
		t.Errorf("expected char_count 24, got %v", meta["char_count"])
	}
	hash, ok := meta["content_hash"].(string)
	if !ok || len(hash) != 64 {
		t.Errorf("expected a sha256 hex content hash, got %v", meta["content_hash"])
	}
	if !strings.HasPrefix(meta["html_content"].(string), "<h1>") {
		t.Errorf("expected raw html preserved, got %v", meta["html_content"])
	}
}

func TestPageMetadataOmitsEmpty(t *testing.T) {
	meta := pageMetadata(repository.PageUpsert{URL: "https://example.com/"})
	if _, ok := meta["content_hash"]; ok {
		t.Error("expected no content hash for an empty page")
	}
	if _, ok := meta["html_content"]; ok {
		t.Error("expected no html_content for an empty page")
	}
}
