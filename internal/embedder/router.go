package embedder

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Hints attached to chunks that pick the embedding model.
const (
	HintText = "text"
	HintCode = "code"
)

// DefaultMaxConcurrency is the default bound on in-flight embedding
// requests across both models.
const DefaultMaxConcurrency = 2

// Item is one text to embed together with the hint that routes it.
type Item struct {
	Text string
	Hint string
}

// ProgressFunc receives embedding progress after each completed batch.
type ProgressFunc func(done, total int)

// RouterConfig holds configuration for a Router.
type RouterConfig struct {
	// Text embeds prose. Required.
	Text Embedder

	// Code embeds source fragments. Optional; code-hinted items fall back
	// to the text model when nil.
	Code Embedder

	// Parallel interleaves text and code batches when both models have work.
	Parallel bool

	// MaxConcurrency bounds in-flight requests across both models (default: 2).
	MaxConcurrency int

	// BatchSize is the number of items per request (default: 32).
	BatchSize int

	// MetricsEnabled logs per-model throughput after each run.
	MetricsEnabled bool

	// Logger for batch failures and metrics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Router dispatches items to the text or code embedding model and returns
// vectors aligned with the input order.
type Router struct {
	text      Embedder
	code      Embedder
	parallel  bool
	batchSize int
	metrics   bool
	sem       *semaphore.Weighted
	logger    *slog.Logger
}

// NewRouter creates a router over the configured embedders.
func NewRouter(cfg RouterConfig) *Router {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		text:      cfg.Text,
		code:      cfg.Code,
		parallel:  cfg.Parallel,
		batchSize: batchSize,
		metrics:   cfg.MetricsEnabled,
		sem:       semaphore.NewWeighted(int64(maxConcurrency)),
		logger:    logger,
	}
}

// modelStats aggregates per-model counters for one EmbedItems run.
type modelStats struct {
	chunks  int
	batches int
	errors  int
	elapsed time.Duration
}

// EmbedItems embeds every item and returns vectors aligned with the input
// order. A failed batch is logged and its positions are filled with zero
// vectors so one bad request cannot sink a whole run; the only returned
// error is context cancellation.
func (r *Router) EmbedItems(ctx context.Context, items []Item, progress ProgressFunc) ([][]float32, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var textQueue, codeQueue []int
	for i, item := range items {
		if item.Hint == HintCode && r.code != nil {
			codeQueue = append(codeQueue, i)
		} else {
			textQueue = append(textQueue, i)
		}
	}

	r.logger.Info("routing chunks to embedding models",
		"total", len(items),
		"text", len(textQueue),
		"code", len(codeQueue))

	out := make([][]float32, len(items))
	completed := 0
	report := func(n int) {
		completed += n
		if progress != nil {
			progress(completed, len(items))
		}
	}

	var textStats, codeStats modelStats
	var err error
	switch {
	case len(codeQueue) == 0:
		textStats, err = r.drainQueue(ctx, r.text, items, textQueue, out, report)
	case len(textQueue) == 0:
		codeStats, err = r.drainQueue(ctx, r.code, items, codeQueue, out, report)
	case r.parallel:
		textStats, codeStats, err = r.drainParallel(ctx, items, textQueue, codeQueue, out, report)
	default:
		textStats, err = r.drainQueue(ctx, r.text, items, textQueue, out, report)
		if err == nil {
			codeStats, err = r.drainQueue(ctx, r.code, items, codeQueue, out, report)
		}
	}
	if err != nil {
		return nil, err
	}

	if r.metrics {
		r.logStats(r.text, textStats)
		r.logStats(r.code, codeStats)
	}

	return out, nil
}

// drainQueue embeds one queue with a single model, batch by batch.
func (r *Router) drainQueue(ctx context.Context, e Embedder, items []Item, queue []int, out [][]float32, report func(int)) (modelStats, error) {
	var stats modelStats
	for len(queue) > 0 {
		var batch []int
		batch, queue = popBatch(queue, r.batchSize)

		began := time.Now()
		failed, err := r.embedBatch(ctx, e, items, batch, out)
		stats.elapsed += time.Since(began)
		if err != nil {
			return stats, err
		}

		stats.chunks += len(batch)
		stats.batches++
		if failed {
			stats.errors++
		}
		report(len(batch))
	}
	return stats, nil
}

// drainParallel runs rounds that pop one batch from each queue and embed
// them concurrently, keeping both models busy until the queues empty.
func (r *Router) drainParallel(ctx context.Context, items []Item, textQueue, codeQueue []int, out [][]float32, report func(int)) (modelStats, modelStats, error) {
	var textStats, codeStats modelStats
	for len(textQueue) > 0 || len(codeQueue) > 0 {
		var g errgroup.Group
		var textBatch, codeBatch []int
		var textFailed, codeFailed bool
		var textTook, codeTook time.Duration

		if len(textQueue) > 0 {
			textBatch, textQueue = popBatch(textQueue, r.batchSize)
			g.Go(func() error {
				began := time.Now()
				failed, err := r.embedBatch(ctx, r.text, items, textBatch, out)
				textTook = time.Since(began)
				textFailed = failed
				return err
			})
		}
		if len(codeQueue) > 0 {
			codeBatch, codeQueue = popBatch(codeQueue, r.batchSize)
			g.Go(func() error {
				began := time.Now()
				failed, err := r.embedBatch(ctx, r.code, items, codeBatch, out)
				codeTook = time.Since(began)
				codeFailed = failed
				return err
			})
		}

		if err := g.Wait(); err != nil {
			return textStats, codeStats, err
		}

		if len(textBatch) > 0 {
			textStats.chunks += len(textBatch)
			textStats.batches++
			textStats.elapsed += textTook
			if textFailed {
				textStats.errors++
			}
		}
		if len(codeBatch) > 0 {
			codeStats.chunks += len(codeBatch)
			codeStats.batches++
			codeStats.elapsed += codeTook
			if codeFailed {
				codeStats.errors++
			}
		}
		report(len(textBatch) + len(codeBatch))
	}
	return textStats, codeStats, nil
}

// embedBatch embeds the items selected by batch into their slots in out.
// A failed request zero-fills the slots and reports failed=true; the
// returned error is reserved for context cancellation.
func (r *Router) embedBatch(ctx context.Context, e Embedder, items []Item, batch []int, out [][]float32) (bool, error) {
	if err := r.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer r.sem.Release(1)

	texts := make([]string, len(batch))
	for i, idx := range batch {
		texts[i] = items[idx].Text
	}

	vectors, err := e.EmbedBatch(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		r.logger.Error("embedding batch failed, filling zero vectors",
			"model", e.ModelName(),
			"size", len(batch),
			"error", err)
		r.zeroFill(e, batch, out)
		return true, nil
	}
	if len(vectors) != len(batch) {
		r.logger.Error("embedding batch returned wrong count, filling zero vectors",
			"model", e.ModelName(),
			"want", len(batch),
			"got", len(vectors))
		r.zeroFill(e, batch, out)
		return true, nil
	}

	for i, idx := range batch {
		out[idx] = vectors[i]
	}
	return false, nil
}

// zeroFill writes zero vectors of the model dimension into the batch slots.
func (r *Router) zeroFill(e Embedder, batch []int, out [][]float32) {
	dim := e.Dimension()
	if dim <= 0 {
		dim = DefaultDimension
	}
	for _, idx := range batch {
		out[idx] = make([]float32, dim)
	}
}

// logStats emits one metrics line for a model that did work this run.
func (r *Router) logStats(e Embedder, stats modelStats) {
	if e == nil || stats.batches == 0 {
		return
	}
	r.logger.Info("embedding metrics",
		"model", e.ModelName(),
		"chunks", stats.chunks,
		"batches", stats.batches,
		"errors", stats.errors,
		"elapsed", stats.elapsed)
}

// popBatch splits off up to n indices from the head of a queue.
func popBatch(queue []int, n int) (batch, rest []int) {
	if n > len(queue) {
		n = len(queue)
	}
	return queue[:n], queue[n:]
}
