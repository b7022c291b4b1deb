package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultDimension is the embedding dimension shared by both served models.
	DefaultDimension = 768

	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 32

	// DefaultMaxRetries is the number of attempts per embedding request.
	DefaultMaxRetries = 3

	// DefaultRequestTimeout bounds a single embedding request.
	DefaultRequestTimeout = 30 * time.Second

	// healthTimeout bounds the health probe.
	healthTimeout = 5 * time.Second

	// maxRetryDelay caps the exponential backoff between attempts.
	maxRetryDelay = 5 * time.Second
)

// HTTPConfig holds configuration for an HTTP embedding backend.
type HTTPConfig struct {
	// BaseURL is the embedding server base URL, e.g. http://localhost:30001.
	BaseURL string

	// Model is the model name sent with each request.
	Model string

	// Dimension is the embedding dimension (default: 768).
	Dimension int

	// BatchSize is the maximum number of texts per request (default: 32).
	BatchSize int

	// MaxRetries is the number of attempts per request (default: 3).
	MaxRetries int

	// Timeout bounds a single request (default: 30s).
	Timeout time.Duration

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// Logger for retry diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// HTTPEmbedder implements the Embedder interface against an HTTP embedding
// server that accepts a batch of inputs per request.
type HTTPEmbedder struct {
	baseURL    string
	model      string
	dimension  int
	batchSize  int
	maxRetries int
	client     *http.Client
	logger     *slog.Logger
}

// embedRequest is the request body for the /embed endpoint.
type embedRequest struct {
	Inputs []string `json:"inputs"`
	Model  string   `json:"model"`
}

// NewHTTPEmbedder creates an embedder for an HTTP embedding backend.
func NewHTTPEmbedder(cfg HTTPConfig) *HTTPEmbedder {
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = GetModelConfig(cfg.Model).Dimension
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPEmbedder{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		dimension:  dimension,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		client:     client,
		logger:     logger,
	}
}

// Embed generates an embedding vector for a single text input.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for multiple text inputs. Inputs
// are sent in batches of at most BatchSize per request; each request is
// retried with exponential backoff before the whole call fails.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := e.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d with %s: %w", start, end, e.model, err)
		}
		results = append(results, vectors...)
	}

	return results, nil
}

// embedWithRetry sends one request, retrying transient failures.
func (e *HTTPEmbedder) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		vectors, err := e.embedOnce(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < e.maxRetries {
			delay := time.Duration(1<<uint(attempt-1)) * time.Second
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
			e.logger.Warn("embedding request failed, retrying",
				"model", e.model,
				"attempt", attempt,
				"delay", delay,
				"error", err)

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", e.maxRetries, lastErr)
}

// embedOnce performs a single embedding request.
func (e *HTTPEmbedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	jsonBody, err := json.Marshal(embedRequest{Inputs: batch, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/embed", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, string(body))
	}

	vectors, err := parseEmbeddings(body)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(vectors), len(batch))
	}

	return vectors, nil
}

// parseEmbeddings decodes both response shapes served by embedding backends:
// a bare array of vectors, or an object with an "embeddings" field.
func parseEmbeddings(data []byte) ([][]float32, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var vectors [][]float32
		if err := json.Unmarshal(trimmed, &vectors); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return vectors, nil
	}

	var wrapped struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if wrapped.Embeddings == nil {
		return nil, fmt.Errorf("response carries no embeddings")
	}
	return wrapped.Embeddings, nil
}

// Healthy reports whether the embedding server responds to its health probe.
func (e *HTTPEmbedder) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *HTTPEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *HTTPEmbedder) ModelName() string {
	return e.model
}

// Ensure HTTPEmbedder implements Embedder interface.
var _ Embedder = (*HTTPEmbedder)(nil)
