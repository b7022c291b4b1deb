package chunking

import "testing"

func TestExtractSegments(t *testing.T) {
	markdown := "Intro text before the code.\n\n```go\nfunc main() {}\n```\n\nClosing prose after the code."

	segments := ExtractSegments(markdown)
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segments), segments)
	}

	if segments[0].IsCode || segments[0].Language != "markdown" {
		t.Errorf("segments[0] = %+v, want markdown prose", segments[0])
	}
	if segments[0].Content != "Intro text before the code." {
		t.Errorf("segments[0].Content = %q", segments[0].Content)
	}

	if !segments[1].IsCode {
		t.Errorf("segments[1] should be code: %+v", segments[1])
	}
	if segments[1].Language != "go" {
		t.Errorf("segments[1].Language = %q, want go", segments[1].Language)
	}
	if segments[1].Content != "func main() {}" {
		t.Errorf("segments[1].Content = %q", segments[1].Content)
	}

	if segments[2].IsCode {
		t.Errorf("segments[2] should be prose: %+v", segments[2])
	}
	if segments[2].Content != "Closing prose after the code." {
		t.Errorf("segments[2].Content = %q", segments[2].Content)
	}
}

func TestExtractSegmentsNoFences(t *testing.T) {
	markdown := "Just plain markdown.\n\nNothing fenced here."

	segments := ExtractSegments(markdown)
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].IsCode {
		t.Error("plain markdown flagged as code")
	}
	if segments[0].Content != markdown {
		t.Errorf("content = %q, want whole document", segments[0].Content)
	}
	if segments[0].Start != 0 || segments[0].End != len(markdown) {
		t.Errorf("offsets [%d, %d), want [0, %d)", segments[0].Start, segments[0].End, len(markdown))
	}
}

func TestExtractSegmentsUntaggedFence(t *testing.T) {
	markdown := "```\nplain code block\n```"

	segments := ExtractSegments(markdown)
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d: %+v", len(segments), segments)
	}
	if !segments[0].IsCode {
		t.Error("fenced block not flagged as code")
	}
	if segments[0].Language != LanguageUnknown {
		t.Errorf("language = %q, want %q", segments[0].Language, LanguageUnknown)
	}
	if segments[0].Content != "plain code block" {
		t.Errorf("content = %q", segments[0].Content)
	}
}

func TestExtractSegmentsMultipleFences(t *testing.T) {
	markdown := "First.\n\n```python\nprint(1)\n```\n\nBetween.\n\n```js\nconsole.log(2)\n```\n\nLast."

	segments := ExtractSegments(markdown)
	if len(segments) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(segments))
	}

	wantCode := []bool{false, true, false, true, false}
	for i, want := range wantCode {
		if segments[i].IsCode != want {
			t.Errorf("segments[%d].IsCode = %v, want %v", i, segments[i].IsCode, want)
		}
	}
	if segments[1].Language != "python" || segments[3].Language != "js" {
		t.Errorf("fence languages = %q, %q", segments[1].Language, segments[3].Language)
	}
}

func TestExtractSegmentsEmpty(t *testing.T) {
	if segments := ExtractSegments(""); segments != nil {
		t.Errorf("expected nil for empty input, got %v", segments)
	}
}
