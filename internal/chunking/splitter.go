package chunking

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// separators is the boundary hierarchy tried in order: section breaks,
// paragraphs, lines, sentence ends, clause breaks, words, then raw
// characters as the final fallback.
var separators = []string{
	"\n\n\n",
	"\n\n",
	"\n",
	". ",
	"! ",
	"? ",
	"; ",
	", ",
	" ",
	"",
}

var headerPattern = regexp.MustCompile(`(?m)^#{1,6}\s+.+$`)

// Piece is a contiguous slice of a source document. Start and End are byte
// offsets into the original text, so text[Start:End] == Text.
type Piece struct {
	Text  string
	Start int
	End   int
}

// Splitter splits text into overlapping pieces while preserving semantic
// boundaries. It prefers larger break points (paragraphs, sentences) over
// arbitrary character positions and keeps markdown headers attached to the
// sections they introduce.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
}

// NewSplitter creates a Splitter with the given chunk size and overlap in
// characters. Zero or negative values fall back to 1000/200.
func NewSplitter(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 200
	}
	if chunkOverlap >= chunkSize {
		return nil, errors.New("chunk overlap must be less than chunk size")
	}

	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// Split breaks text into pieces no larger than the chunk size, then extends
// each piece after the first backward to include overlap with its
// predecessor. Whitespace-only input yields no pieces.
func (s *Splitter) Split(text string) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := s.splitWithHeaders(text)
	return s.applyOverlap(pieces, text)
}

// splitWithHeaders partitions text at markdown headers so each section
// keeps its header. Sections that fit the chunk size stay whole; larger
// ones recurse down the separator hierarchy. Text before the first header
// is split on its own and prepended.
func (s *Splitter) splitWithHeaders(text string) []Piece {
	headers := headerPattern.FindAllStringIndex(text, -1)
	if len(headers) == 0 {
		return s.splitRecursive(text, 0, 0)
	}

	var pieces []Piece
	for i, header := range headers {
		start := header[0]
		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}

		section := text[start:end]
		if len(section) <= s.chunkSize {
			pieces = append(pieces, Piece{Text: section, Start: start, End: end})
		} else {
			pieces = append(pieces, s.splitRecursive(section, start, 0)...)
		}
	}

	if headers[0][0] > 0 {
		prefix := text[:headers[0][0]]
		pieces = append(s.splitRecursive(prefix, 0, 0), pieces...)
	}

	return pieces
}

// splitRecursive splits text using the separator hierarchy starting at
// sepIndex. offset is the byte position of text in the original document.
func (s *Splitter) splitRecursive(text string, offset, sepIndex int) []Piece {
	if len(text) <= s.chunkSize {
		return []Piece{{Text: text, Start: offset, End: offset + len(text)}}
	}

	for i := sepIndex; i < len(separators); i++ {
		sep := separators[i]
		if sep == "" {
			return s.splitByCharacters(text, offset)
		}
		if !strings.Contains(text, sep) {
			continue
		}
		if pieces := s.splitBySeparator(text, sep, offset, i); len(pieces) > 0 {
			return pieces
		}
	}

	return s.splitByCharacters(text, offset)
}

// splitBySeparator splits on one separator and greedily packs adjacent
// splits back together while they fit the chunk size. The separator is
// re-attached to every split except the last so no characters are lost.
// Splits still larger than the chunk size recurse on finer separators.
func (s *Splitter) splitBySeparator(text, separator string, offset, sepIndex int) []Piece {
	splits := strings.Split(text, separator)

	var pieces []Piece
	current := ""
	currentStart := offset

	for i, split := range splits {
		if i < len(splits)-1 {
			split += separator
		}

		if len(current)+len(split) <= s.chunkSize {
			current += split
			continue
		}

		if current != "" {
			pieces = append(pieces, Piece{Text: current, Start: currentStart, End: currentStart + len(current)})
			currentStart += len(current)
		}

		if len(split) > s.chunkSize {
			sub := s.splitRecursive(split, currentStart, sepIndex+1)
			pieces = append(pieces, sub...)
			if len(sub) > 0 {
				currentStart = sub[len(sub)-1].End
			}
			current = ""
		} else {
			current = split
		}
	}

	if current != "" {
		pieces = append(pieces, Piece{Text: current, Start: currentStart, End: currentStart + len(current)})
	}

	return pieces
}

// splitByCharacters is the last-resort split into chunk-size slices,
// backed off to rune boundaries so pieces stay valid UTF-8.
func (s *Splitter) splitByCharacters(text string, offset int) []Piece {
	var pieces []Piece
	for i := 0; i < len(text); {
		end := i + s.chunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			for end > i+1 && !utf8.RuneStart(text[end]) {
				end--
			}
		}
		pieces = append(pieces, Piece{Text: text[i:end], Start: offset + i, End: offset + end})
		i = end
	}
	return pieces
}

// applyOverlap extends every piece after the first backward by the overlap
// width, re-slicing from the full document. A piece never starts at or
// before its predecessor's start, so piece starts stay strictly increasing.
func (s *Splitter) applyOverlap(pieces []Piece, fullText string) []Piece {
	if len(pieces) == 0 || s.chunkOverlap == 0 {
		return pieces
	}

	overlapped := make([]Piece, 0, len(pieces))
	for i, piece := range pieces {
		if i == 0 {
			overlapped = append(overlapped, piece)
			continue
		}

		start := piece.Start - s.chunkOverlap
		if floor := overlapped[i-1].Start + 1; start < floor {
			start = floor
		}
		if start < 0 {
			start = 0
		}
		for start < piece.Start && !utf8.RuneStart(fullText[start]) {
			start++
		}

		overlapped = append(overlapped, Piece{
			Text:  fullText[start:piece.End],
			Start: start,
			End:   piece.End,
		})
	}

	return overlapped
}
