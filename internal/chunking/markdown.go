package chunking

import (
	"regexp"
	"strings"
)

// fencedCodePattern matches fenced code blocks with an optional language
// tag on the opening fence.
var fencedCodePattern = regexp.MustCompile("(?ms)^```(\\w+)?[ \\t]*\\n(.*?)^```[ \\t]*$")

// Segment is a run of markdown that is either prose or one fenced code
// block. Start and End are byte offsets into the source document.
type Segment struct {
	Content  string
	IsCode   bool
	Language string
	Start    int
	End      int
}

// ExtractSegments splits markdown into interleaved prose and fenced code
// segments, in document order. Code content is trimmed and keeps the fence
// language ("unknown" when the fence names none). Prose segments carry
// language "markdown". A document without fences becomes a single prose
// segment; empty input yields nil.
func ExtractSegments(markdown string) []Segment {
	if markdown == "" {
		return nil
	}

	var segments []Segment
	lastEnd := 0

	for _, match := range fencedCodePattern.FindAllStringSubmatchIndex(markdown, -1) {
		start, end := match[0], match[1]

		language := LanguageUnknown
		if match[2] >= 0 {
			language = markdown[match[2]:match[3]]
		}
		code := strings.TrimSpace(markdown[match[4]:match[5]])

		if start > lastEnd {
			if text := strings.TrimSpace(markdown[lastEnd:start]); text != "" {
				segments = append(segments, Segment{
					Content:  text,
					IsCode:   false,
					Language: "markdown",
					Start:    lastEnd,
					End:      start,
				})
			}
		}

		if code != "" {
			segments = append(segments, Segment{
				Content:  code,
				IsCode:   true,
				Language: language,
				Start:    start,
				End:      end,
			})
		}

		lastEnd = end
	}

	if lastEnd < len(markdown) {
		if text := strings.TrimSpace(markdown[lastEnd:]); text != "" {
			segments = append(segments, Segment{
				Content:  text,
				IsCode:   false,
				Language: "markdown",
				Start:    lastEnd,
				End:      len(markdown),
			})
		}
	}

	if len(segments) == 0 {
		segments = append(segments, Segment{
			Content:  markdown,
			IsCode:   false,
			Language: "markdown",
			Start:    0,
			End:      len(markdown),
		})
	}

	return segments
}
