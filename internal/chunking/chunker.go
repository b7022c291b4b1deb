// Package chunking splits documents into overlapping chunks and classifies
// each chunk as code or prose so it can be routed to the right embedding
// model.
package chunking

import (
	"context"
	"fmt"
)

// Model hints name the embedding model family a chunk should be routed to.
const (
	ModelHintText = "text"
	ModelHintCode = "code"
)

// Chunk is a single routed chunk with provenance metadata.
type Chunk struct {
	Text       string
	IsCode     bool
	Language   string
	StartChar  int
	EndChar    int
	ChunkIndex int
	Confidence float64
	SourcePath string
	ModelHint  string
}

// Config controls chunk sizing and detection behavior.
type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	EnableTreeSitter bool
}

// Chunker combines the recursive splitter with code detection. Fenced code
// in markdown is separated up front so code and surrounding prose embed
// independently.
type Chunker struct {
	splitter *Splitter
	detector *Detector
}

// NewChunker creates a Chunker from config.
func NewChunker(cfg Config) (*Chunker, error) {
	splitter, err := NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("failed to create splitter: %w", err)
	}

	return &Chunker{
		splitter: splitter,
		detector: NewDetector(cfg.EnableTreeSitter),
	}, nil
}

// ChunkText splits text and classifies every piece. hint optionally names
// the expected language, usually from a file extension. Chunk indexes are
// sequential per document starting at 0.
func (c *Chunker) ChunkText(ctx context.Context, text, source, hint string) []Chunk {
	if text == "" {
		return nil
	}

	pieces := c.splitter.Split(text)
	chunks := make([]Chunk, 0, len(pieces))

	for idx, piece := range pieces {
		detection := c.detector.Detect(ctx, piece.Text, hint)
		chunks = append(chunks, Chunk{
			Text:       piece.Text,
			IsCode:     detection.IsCode,
			Language:   detection.Language,
			StartChar:  piece.Start,
			EndChar:    piece.End,
			ChunkIndex: idx,
			Confidence: detection.Confidence,
			SourcePath: source,
			ModelHint:  hintForDetection(detection),
		})
	}

	return chunks
}

// ChunkMarkdown splits markdown with fenced code blocks handled first.
// Fenced segments become code chunks with the fence language and full
// confidence; prose segments go through the splitter and detector.
func (c *Chunker) ChunkMarkdown(ctx context.Context, markdown, source string) []Chunk {
	if markdown == "" {
		return nil
	}

	var chunks []Chunk
	index := 0

	for _, segment := range ExtractSegments(markdown) {
		if segment.IsCode {
			for _, piece := range c.splitter.Split(segment.Content) {
				chunks = append(chunks, Chunk{
					Text:       piece.Text,
					IsCode:     true,
					Language:   segment.Language,
					StartChar:  segment.Start + piece.Start,
					EndChar:    segment.Start + piece.End,
					ChunkIndex: index,
					Confidence: 1.0,
					SourcePath: source,
					ModelHint:  ModelHintCode,
				})
				index++
			}
			continue
		}

		for _, piece := range c.splitter.Split(segment.Content) {
			detection := c.detector.Detect(ctx, piece.Text, "")
			chunks = append(chunks, Chunk{
				Text:       piece.Text,
				IsCode:     detection.IsCode,
				Language:   detection.Language,
				StartChar:  segment.Start + piece.Start,
				EndChar:    segment.Start + piece.End,
				ChunkIndex: index,
				Confidence: detection.Confidence,
				SourcePath: source,
				ModelHint:  hintForDetection(detection),
			})
			index++
		}
	}

	return chunks
}

func hintForDetection(detection Result) string {
	if detection.IsCode {
		return ModelHintCode
	}
	return ModelHintText
}

// Stats summarizes how a chunk set routes across embedding models.
type Stats struct {
	Total      int
	TextChunks int
	CodeChunks int
	Languages  map[string]int
}

// RoutingStats tallies chunks per model hint and per detected language.
func RoutingStats(chunks []Chunk) Stats {
	stats := Stats{
		Total:     len(chunks),
		Languages: make(map[string]int),
	}
	for _, chunk := range chunks {
		if chunk.ModelHint == ModelHintCode {
			stats.CodeChunks++
		} else {
			stats.TextChunks++
		}
		stats.Languages[chunk.Language]++
	}
	return stats
}
