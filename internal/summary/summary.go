// Package summary generates one-line chunk summaries through an LLM, with a
// prefix fallback so summarization can never sink an indexing run.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knoguchi/webindex/internal/llm"
)

const (
	// maxPreviewChars caps how much of a chunk is sent to the model.
	maxPreviewChars = 500

	// fallbackChars is the prefix length used when generation is unavailable.
	fallbackChars = 100

	// maxSummaryTokens bounds the generated summary.
	maxSummaryTokens = 100

	// DefaultBatchSize is how many chunks are summarized between progress reports.
	DefaultBatchSize = 10

	systemPrompt = "You are a code documentation assistant. Provide concise, technical summaries."
)

// ProgressFunc receives summarization progress.
type ProgressFunc func(done, total int)

// Config holds configuration for a Provider.
type Config struct {
	// LLM generates summaries. A nil LLM makes every summary a fallback,
	// which keeps the pipeline alive when no API key is configured.
	LLM llm.LLM

	// Model overrides the client default model when set.
	Model string

	// BatchSize is the progress reporting interval (default: 10).
	BatchSize int

	// Logger for per-chunk failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Provider turns chunks into one-sentence summaries.
type Provider struct {
	llm       llm.LLM
	model     string
	batchSize int
	logger    *slog.Logger
}

// NewProvider creates a summary provider.
func NewProvider(cfg Config) *Provider {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		llm:       cfg.LLM,
		model:     cfg.Model,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Summarize generates a one-sentence summary of text. When no LLM is
// configured it returns the prefix fallback without error.
func (p *Provider) Summarize(ctx context.Context, text string) (string, error) {
	if p.llm == nil {
		return Fallback(text), nil
	}

	out, err := p.llm.Generate(ctx, buildPrompt(text), llm.GenerateOptions{
		Model:        p.model,
		SystemPrompt: systemPrompt,
		Temperature:  llm.DefaultTemperature,
		MaxTokens:    maxSummaryTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return Fallback(text), nil
	}
	return out, nil
}

// SummarizeChunks summarizes every chunk, substituting the prefix fallback
// for any chunk that fails. It never fails as a whole; cancellation switches
// the remaining chunks to fallbacks.
func (p *Provider) SummarizeChunks(ctx context.Context, texts []string, progress ProgressFunc) []string {
	summaries := make([]string, 0, len(texts))
	for i, text := range texts {
		if ctx.Err() != nil {
			summaries = append(summaries, Fallback(text))
		} else {
			s, err := p.Summarize(ctx, text)
			if err != nil {
				p.logger.Warn("summary failed for chunk, using fallback",
					"chunk", i,
					"error", err)
				s = Fallback(text)
			}
			summaries = append(summaries, s)
		}

		done := i + 1
		if progress != nil && (done%p.batchSize == 0 || done == len(texts)) {
			progress(done, len(texts))
		}
	}
	return summaries
}

// Fallback returns the first 100 characters of text as a stand-in summary.
func Fallback(text string) string {
	runes := []rune(text)
	if len(runes) > fallbackChars {
		runes = runes[:fallbackChars]
	}
	return string(runes) + "..."
}

// buildPrompt renders the summarization prompt with a capped content preview.
func buildPrompt(text string) string {
	preview := text
	if runes := []rune(text); len(runes) > maxPreviewChars {
		preview = string(runes[:maxPreviewChars])
	}

	return fmt.Sprintf(`Summarize this text in 1-2 concise sentences. Focus on what it covers and its purpose.

Text:
%s

Summary:`, preview)
}
