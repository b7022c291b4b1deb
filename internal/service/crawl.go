// Package service implements the crawl-and-index pipeline and the query
// operations behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/knoguchi/webindex/internal/chunking"
	"github.com/knoguchi/webindex/internal/crawl"
	"github.com/knoguchi/webindex/internal/discovery"
	"github.com/knoguchi/webindex/internal/embedder"
	"github.com/knoguchi/webindex/internal/fetch"
	"github.com/knoguchi/webindex/internal/progress"
	"github.com/knoguchi/webindex/internal/repository"
	"github.com/knoguchi/webindex/internal/scope"
	"github.com/knoguchi/webindex/internal/summary"
	"github.com/knoguchi/webindex/internal/urlutil"
	"github.com/knoguchi/webindex/internal/vectorstore"
)

// Crawl strategies accepted in requests.
const (
	ModeSingle    = "single"
	ModeBatch     = "batch"
	ModeRecursive = "recursive"
	ModeSitemap   = "sitemap"
)

// Processing topologies.
const (
	ProcessingHybrid     = "hybrid"
	ProcessingSequential = "sequential"
)

// Defaults applied when the configuration leaves a knob unset.
const (
	DefaultHybridProcessBatch   = 10
	DefaultHybridMaxMemoryPages = 100
)

// ErrNoURLs rejects crawl requests without seed URLs.
var ErrNoURLs = errors.New("at least one url is required")

// CrawlRequest describes one crawl-and-index job. ExtractCodeExamples
// gates dual-model routing: when false every chunk embeds with the text
// model. KnowledgeType and Tags are recorded on stored chunks for later
// filtering. Provider is accepted for compatibility; summaries always use
// the configured client.
type CrawlRequest struct {
	URLs           []string `json:"urls"`
	Mode           string   `json:"mode"`
	Project        string   `json:"project,omitempty"`
	Dataset        string   `json:"dataset,omitempty"`
	Scope          string   `json:"scope,omitempty"`
	MaxDepth       int      `json:"max_depth"`
	MaxPages       int      `json:"max_pages"`
	SameDomainOnly bool     `json:"same_domain_only"`
	IncludeLinks   bool     `json:"include_links"`
	AutoDiscovery  bool     `json:"auto_discovery"`
	MaxConcurrent  int      `json:"max_concurrent"`

	ExtractCodeExamples bool     `json:"extract_code_examples"`
	KnowledgeType       string   `json:"knowledge_type,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	Provider            string   `json:"provider,omitempty"`
}

// DefaultCrawlRequest returns a request with the documented defaults.
// Decoding a JSON body into it leaves absent fields at those defaults.
func DefaultCrawlRequest() CrawlRequest {
	return CrawlRequest{
		Mode:                ModeSingle,
		MaxDepth:            1,
		MaxPages:            20,
		SameDomainOnly:      true,
		AutoDiscovery:       true,
		ExtractCodeExamples: true,
	}
}

// CrawlConfig wires the orchestrator's collaborators and tuning knobs.
type CrawlConfig struct {
	Fetcher   fetch.Fetcher
	Discovery *discovery.Service
	Chunker   *chunking.Chunker
	Summaries *summary.Provider
	Embedder  *embedder.Router
	Metadata  repository.MetadataRepository

	// ChunkDB is the relational vector store and PointDB the vector
	// database; both receive every stored chunk.
	ChunkDB vectorstore.ChunkWriter
	PointDB vectorstore.ChunkWriter

	Registry *progress.Registry

	// ProcessingMode selects the topology. Hybrid interleaves crawling
	// and processing per batch; sequential crawls everything first.
	ProcessingMode string

	// HybridProcessBatch is how many URLs each hybrid round crawls and
	// processes (default 10).
	HybridProcessBatch int

	// HybridMaxMemoryPages bounds pages buffered between the crawler and
	// the processor in hybrid mode (default 100).
	HybridMaxMemoryPages int

	// MaxConcurrent is the fetch parallelism when the request does not
	// set one.
	MaxConcurrent int

	// CrawlBatchSize is the recursive strategy's per-level scheduling
	// unit (default 50).
	CrawlBatchSize int

	// Dispatcher, when set, throttles fetches under memory pressure.
	Dispatcher *crawl.Dispatcher

	// DefaultScope applies when a request names no scope.
	DefaultScope string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CrawlService orchestrates crawl jobs: discovery, page acquisition,
// chunking, summarization, embedding, and storage, with progress tracked
// through the registry.
type CrawlService struct {
	fetcher   fetch.Fetcher
	discovery *discovery.Service
	chunker   *chunking.Chunker
	summaries *summary.Provider
	embedder  *embedder.Router
	metadata  repository.MetadataRepository
	chunkDB   vectorstore.ChunkWriter
	pointDB   vectorstore.ChunkWriter
	registry  *progress.Registry

	processingMode string
	processBatch   int
	maxMemoryPages int
	maxConcurrent  int
	crawlBatchSize int
	dispatcher     *crawl.Dispatcher
	defaultScope   string
	logger         *slog.Logger
}

// NewCrawlService creates the crawl orchestrator.
func NewCrawlService(cfg CrawlConfig) *CrawlService {
	processBatch := cfg.HybridProcessBatch
	if processBatch <= 0 {
		processBatch = DefaultHybridProcessBatch
	}

	maxMemoryPages := cfg.HybridMaxMemoryPages
	if maxMemoryPages <= 0 {
		maxMemoryPages = DefaultHybridMaxMemoryPages
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = crawl.DefaultMaxConcurrency
	}

	processingMode := cfg.ProcessingMode
	if processingMode == "" {
		processingMode = ProcessingHybrid
	}

	defaultScope := cfg.DefaultScope
	if defaultScope == "" {
		defaultScope = string(scope.LevelLocal)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CrawlService{
		fetcher:        cfg.Fetcher,
		discovery:      cfg.Discovery,
		chunker:        cfg.Chunker,
		summaries:      cfg.Summaries,
		embedder:       cfg.Embedder,
		metadata:       cfg.Metadata,
		chunkDB:        cfg.ChunkDB,
		pointDB:        cfg.PointDB,
		registry:       cfg.Registry,
		processingMode: processingMode,
		processBatch:   processBatch,
		maxMemoryPages: maxMemoryPages,
		maxConcurrent:  maxConcurrent,
		crawlBatchSize: cfg.CrawlBatchSize,
		dispatcher:     cfg.Dispatcher,
		defaultScope:   defaultScope,
		logger:         logger,
	}
}

// Start validates the request and launches the job in a goroutine whose
// context is detached from the caller's, so an HTTP disconnect does not
// kill the crawl. It returns the job id immediately.
func (s *CrawlService) Start(_ context.Context, req CrawlRequest) (string, error) {
	if len(req.URLs) == 0 {
		return "", ErrNoURLs
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	jobID := s.registry.Create(req.Project, req.Dataset, req.Mode, cancel)
	go s.run(jobCtx, jobID, req)
	return jobID, nil
}

// Progress returns a snapshot of a job's state.
func (s *CrawlService) Progress(jobID string) (progress.State, bool) {
	return s.registry.Get(jobID)
}

// Cancel requests cancellation of a running job. It reports false only
// when the id is unknown.
func (s *CrawlService) Cancel(jobID string) bool {
	return s.registry.Cancel(jobID)
}

// run executes the whole pipeline for one job. Only discovery and crawl
// errors fail the job; downstream stages degrade and continue.
func (s *CrawlService) run(ctx context.Context, jobID string, req CrawlRequest) {
	mapper := progress.NewMapper()

	s.registry.Update(jobID, func(st *progress.State) {
		st.Status = progress.StatusRunning
		st.CurrentPhase = progress.PhaseInitializing
		st.Log = "Starting crawl"
	})

	if req.Provider != "" {
		s.logger.Info("provider request ignored, summaries use the configured client",
			"provider", req.Provider)
	}

	urls := make([]string, 0, len(req.URLs))
	for _, raw := range req.URLs {
		urls = append(urls, urlutil.EnsureHTTPS(raw))
	}

	var discovered *discovery.File
	if req.AutoDiscovery {
		s.registry.Update(jobID, func(st *progress.State) {
			st.Progress = mapper.Map(progress.PhaseDiscovery, 0)
			st.CurrentPhase = progress.PhaseDiscovery
			st.PhaseDetail = "Auto-discovery"
			st.Log = "Running discovery"
		})

		file, err := s.discovery.Discover(ctx, urls)
		if err != nil {
			s.finish(jobID, mapper, err)
			return
		}
		discovered = file

		s.registry.Update(jobID, func(st *progress.State) {
			st.Progress = mapper.Map(progress.PhaseDiscovery, 100)
			st.PhaseDetail = "Discovery complete"
			st.Log = "Discovery complete"
		})
	}

	crawlURLs := s.determineURLs(ctx, req.Mode, urls, discovered)
	if req.MaxPages > 0 && len(crawlURLs) > req.MaxPages {
		crawlURLs = crawlURLs[:req.MaxPages]
	}

	s.registry.Update(jobID, func(st *progress.State) {
		st.TotalPages = len(crawlURLs)
		st.Progress = mapper.Map(progress.PhaseCrawling, 0)
		st.CurrentPhase = progress.PhaseCrawling
		st.PhaseDetail = "Fetching pages"
		st.Log = "Starting crawl"
	})

	hasTarget := req.Project != "" || req.Dataset != ""

	var err error
	if strings.EqualFold(s.processingMode, ProcessingHybrid) && hasTarget {
		err = s.runHybrid(ctx, jobID, mapper, req, crawlURLs)
	} else {
		err = s.runSequential(ctx, jobID, mapper, req, crawlURLs, hasTarget)
	}
	if err == nil {
		err = ctx.Err()
	}
	s.finish(jobID, mapper, err)
}

// finish records the terminal status. A cancelled job keeps whatever
// progress it had reached.
func (s *CrawlService) finish(jobID string, mapper *progress.Mapper, err error) {
	switch {
	case err == nil:
		s.registry.Update(jobID, func(st *progress.State) {
			st.Status = progress.StatusCompleted
			st.Progress = mapper.Force(progress.PhaseCompleted, 100)
			st.CurrentPhase = progress.PhaseCompleted
			st.PhaseDetail = "Success"
			st.Log = "Crawl finished"
		})
	case errors.Is(err, context.Canceled):
		s.registry.Update(jobID, func(st *progress.State) {
			st.Status = progress.StatusCancelled
			st.CurrentPhase = progress.PhaseCancelled
			st.Log = "Crawl cancelled"
		})
	default:
		s.logger.Error("crawl failed", "job_id", jobID, "error", err)
		s.registry.Update(jobID, func(st *progress.State) {
			st.Status = progress.StatusFailed
			st.CurrentPhase = progress.PhaseFailed
			st.Log = err.Error()
		})
	}
}

// determineURLs picks the URLs to crawl from the seeds and any discovered
// manifest. An llms variant contributes its http(s) lines, a sitemap its
// locs; empty extractions fall back to the seeds. Sitemap mode without a
// discovery hit parses each seed as a sitemap.
func (s *CrawlService) determineURLs(ctx context.Context, mode string, seeds []string, discovered *discovery.File) []string {
	if discovered == nil {
		if mode == ModeSitemap {
			var urls []string
			for _, seed := range seeds {
				urls = append(urls, s.discovery.ParseSitemap(ctx, seed)...)
			}
			if len(urls) > 0 {
				return urls
			}
		}
		return seeds
	}

	if urlutil.IsLLMsVariant(discovered.URL) {
		var urls []string
		for _, line := range strings.Split(discovered.Content, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "http") {
				urls = append(urls, line)
			}
		}
		if len(urls) > 0 {
			return urls
		}
		return seeds
	}

	if urlutil.IsSitemap(discovered.URL) {
		if urls := s.discovery.ParseSitemap(ctx, discovered.URL); len(urls) > 0 {
			return urls
		}
	}

	return seeds
}

// runSequential crawls every URL, then runs chunking, summarization,
// embedding, and storage over the full document set. Crawled pages are
// retained in the registry for the result endpoint.
func (s *CrawlService) runSequential(ctx context.Context, jobID string, mapper *progress.Mapper, req CrawlRequest, urls []string, hasTarget bool) error {
	pages, err := s.crawlPages(ctx, jobID, req, urls)
	if err != nil {
		return err
	}

	s.registry.Update(jobID, func(st *progress.State) {
		st.Pages = pagesValue(pages)
		st.ProcessedPages = len(pages)
		st.Progress = mapper.Map(progress.PhaseCrawling, 100)
		st.CurrentPhase = progress.PhaseCrawling
		st.PhaseDetail = "Complete"
		st.Log = "Crawling complete"
	})

	if len(pages) == 0 || !hasTarget {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	chunks := s.chunkPages(ctx, jobID, mapper, req, pages)
	if err := ctx.Err(); err != nil {
		return err
	}

	var summaries []string
	var embeddings [][]float32
	if len(chunks) > 0 {
		summaries = s.summarizeChunks(ctx, jobID, mapper, chunks)

		embeddings, err = s.embedChunks(ctx, jobID, mapper, chunks)
		if err != nil {
			return err
		}
	}

	if len(chunks) == 0 || len(summaries) == 0 || len(embeddings) == 0 {
		s.registry.Update(jobID, func(st *progress.State) {
			st.Progress = mapper.Map(progress.PhaseStoring, 100)
			st.CurrentPhase = progress.PhaseStoring
			st.PhaseDetail = "Skipped"
			st.Log = "Skipped storage (no valid data)"
		})
		return ctx.Err()
	}

	s.registry.Update(jobID, func(st *progress.State) {
		st.Progress = mapper.Map(progress.PhaseStoring, 0)
		st.CurrentPhase = progress.PhaseStoring
		st.PhaseDetail = "Postgres + Qdrant"
		st.Log = "Storing chunks"
		st.ChunksTotal = len(chunks)
		st.ChunksProcessed = 0
	})

	stored := s.storeChunks(ctx, jobID, req, pages, chunks, summaries, embeddings)

	s.registry.Update(jobID, func(st *progress.State) {
		st.ChunksStored = stored
		st.Progress = mapper.Map(progress.PhaseStoring, 100)
		st.PhaseDetail = "Complete"
		st.Log = fmt.Sprintf("Stored %d chunks", stored)
	})

	return ctx.Err()
}

// pageBatch carries one crawled batch and the running count of attempted
// URLs through the hybrid pipeline.
type pageBatch struct {
	pages []*crawl.Page
	done  int
}

// runHybrid crawls URLs in batches and processes each batch through the
// full pipeline while the next batch is being fetched. The channel buffer
// bounds how many crawled pages can sit in memory; pages are released as
// soon as their batch is stored, so the result endpoint stays empty for
// hybrid jobs.
func (s *CrawlService) runHybrid(ctx context.Context, jobID string, mapper *progress.Mapper, req CrawlRequest, urls []string) error {
	total := len(urls)
	if total == 0 {
		return nil
	}

	batchSize := s.processBatch
	buffered := s.maxMemoryPages / batchSize
	if buffered < 1 {
		buffered = 1
	}

	s.logger.Info("hybrid processing",
		"urls", total,
		"batch_size", batchSize)

	opts := s.crawlOptions(req)

	batches := make(chan pageBatch, buffered)
	go func() {
		defer close(batches)
		for start := 0; start < total; start += batchSize {
			if ctx.Err() != nil {
				return
			}

			end := start + batchSize
			if end > total {
				end = total
			}

			pct := progress.PhaseProgress(progress.PhaseCrawling, 100*start/total)
			s.registry.Update(jobID, func(st *progress.State) {
				st.Progress = pct
				st.CurrentPhase = progress.PhaseCrawling
				st.PhaseDetail = fmt.Sprintf("Batch %d", start/batchSize+1)
				st.Log = fmt.Sprintf("Crawling batch %d-%d/%d", start+1, end, total)
			})

			pages, err := crawl.CrawlBatch(ctx, s.fetcher, urls[start:end], opts)
			if err != nil {
				return
			}

			select {
			case batches <- pageBatch{pages: pages, done: end}:
			case <-ctx.Done():
				return
			}
		}
	}()

	processed := 0
	for batch := range batches {
		if ctx.Err() != nil {
			break
		}

		processed += len(batch.pages)
		frac := 100 * processed / total
		s.registry.Update(jobID, func(st *progress.State) {
			st.ProcessedPages = processed
		})

		if len(batch.pages) == 0 {
			continue
		}

		chunks := s.chunkPages(ctx, jobID, mapper, req, batch.pages)
		if len(chunks) == 0 {
			continue
		}

		summaries := s.summarizeChunks(ctx, jobID, mapper, chunks)

		embeddings, err := s.embedChunks(ctx, jobID, mapper, chunks)
		if err != nil {
			return err
		}

		stored := s.storeChunks(ctx, jobID, req, batch.pages, chunks, summaries, embeddings)
		s.registry.Update(jobID, func(st *progress.State) {
			st.ChunksStored += stored
			st.Progress = progress.PhaseProgress(progress.PhaseStoring, frac)
			st.CurrentPhase = progress.PhaseStoring
			st.Log = fmt.Sprintf("Stored batch %d/%d pages", processed, total)
		})
		s.logger.Info("batch complete",
			"stored", stored,
			"processed", processed,
			"total", total)
	}

	s.logger.Info("hybrid processing complete",
		"processed", processed,
		"total", total)
	return ctx.Err()
}

// crawlPages dispatches to the crawl strategy for the request mode. Batch
// mode with depth and link extraction chains a recursive expansion from
// the fetched pages.
func (s *CrawlService) crawlPages(ctx context.Context, jobID string, req CrawlRequest, urls []string) ([]*crawl.Page, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	opts := s.crawlOptions(req)
	opts.Progress = s.pageProgress(jobID)

	if req.Mode == ModeSingle || len(urls) == 1 {
		page, err := crawl.CrawlPage(ctx, s.fetcher, urls[0], opts)
		if err != nil {
			return nil, err
		}
		opts.Progress(1, 1, page.URL)
		return []*crawl.Page{page}, nil
	}

	if req.Mode == ModeRecursive {
		return crawl.CrawlRecursive(ctx, s.fetcher, urls, opts)
	}

	pages, err := crawl.CrawlBatch(ctx, s.fetcher, urls, opts)
	if err != nil {
		return pages, err
	}

	if req.Mode == ModeSitemap {
		return pages, nil
	}

	if req.MaxDepth > 1 && req.IncludeLinks {
		seeds := make([]string, 0, len(pages))
		for _, page := range pages {
			seeds = append(seeds, page.URL)
		}

		// The batch already consumed one level.
		expandOpts := opts
		expandOpts.MaxDepth = req.MaxDepth - 1
		expanded, err := crawl.CrawlRecursive(ctx, s.fetcher, seeds, expandOpts)
		pages = append(pages, expanded...)
		if err != nil {
			return pages, err
		}
	}

	return pages, nil
}

// crawlOptions builds the strategy options for one request. The progress
// callback is left unset; hybrid batches report at batch granularity.
func (s *CrawlService) crawlOptions(req CrawlRequest) crawl.Options {
	maxConcurrent := req.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = s.maxConcurrent
	}

	return crawl.Options{
		IncludeLinks:   req.IncludeLinks,
		MaxConcurrency: maxConcurrent,
		MaxDepth:       req.MaxDepth,
		MaxPages:       req.MaxPages,
		SameDomainOnly: req.SameDomainOnly,
		BatchSize:      s.crawlBatchSize,
		Dispatcher:     s.dispatcher,
		Logger:         s.logger,
	}
}

// pageProgress returns a crawl progress callback for one job. Crawl
// workers invoke it concurrently, so it goes through the stateless phase
// scaler and relies on the registry's monotonic floor.
func (s *CrawlService) pageProgress(jobID string) crawl.ProgressFunc {
	return func(done, total int, url string) {
		pct := 0
		if total > 0 {
			pct = 100 * done / total
		}
		overall := progress.PhaseProgress(progress.PhaseCrawling, pct)

		s.registry.Update(jobID, func(st *progress.State) {
			st.Progress = overall
			st.ProcessedPages = done
			st.TotalPages = total
			st.CurrentURL = url
			st.Log = fmt.Sprintf("Crawled %d/%d", done, total)
		})
	}
}

// chunkPages splits every page's markdown into routed chunks. Chunking is
// local work and cannot fail; cancellation stops between documents.
func (s *CrawlService) chunkPages(ctx context.Context, jobID string, mapper *progress.Mapper, req CrawlRequest, pages []*crawl.Page) []chunking.Chunk {
	s.registry.Update(jobID, func(st *progress.State) {
		st.Progress = mapper.Map(progress.PhaseChunking, 0)
		st.CurrentPhase = progress.PhaseChunking
		st.PhaseDetail = "Starting"
		st.Log = "Chunking documents"
		st.ChunksTotal = len(pages)
		st.ChunksProcessed = 0
	})

	var all []chunking.Chunk
	for i, page := range pages {
		if ctx.Err() != nil {
			break
		}

		all = append(all, s.chunker.ChunkMarkdown(ctx, page.Markdown, page.URL)...)

		done := i + 1
		pct := mapper.Map(progress.PhaseChunking, 100*done/len(pages))
		s.registry.Update(jobID, func(st *progress.State) {
			st.Progress = pct
			st.ChunksProcessed = done
			st.PhaseDetail = fmt.Sprintf("%d/%d docs", done, len(pages))
			st.Log = fmt.Sprintf("Chunked %d/%d documents", done, len(pages))
		})
	}

	// Detection metadata survives the toggle; only routing changes.
	if !req.ExtractCodeExamples {
		for i := range all {
			all[i].ModelHint = chunking.ModelHintText
		}
	}

	stats := chunking.RoutingStats(all)
	s.logger.Info("chunking complete",
		"total", stats.Total,
		"text", stats.TextChunks,
		"code", stats.CodeChunks)
	return all
}

// summarizeChunks generates one summary per chunk. The provider degrades
// to prefix fallbacks on failure or cancellation, so the slice always
// aligns with chunks.
func (s *CrawlService) summarizeChunks(ctx context.Context, jobID string, mapper *progress.Mapper, chunks []chunking.Chunk) []string {
	s.registry.Update(jobID, func(st *progress.State) {
		st.Progress = mapper.Map(progress.PhaseSummarizing, 0)
		st.CurrentPhase = progress.PhaseSummarizing
		st.PhaseDetail = "Starting"
		st.Log = "Generating summaries"
		st.ChunksTotal = len(chunks)
		st.ChunksProcessed = 0
	})

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	return s.summaries.SummarizeChunks(ctx, texts, func(done, total int) {
		pct := mapper.Map(progress.PhaseSummarizing, 100*done/total)
		s.registry.Update(jobID, func(st *progress.State) {
			st.Progress = pct
			st.SummariesGenerated = done
			st.ChunksProcessed = done
			st.PhaseDetail = fmt.Sprintf("%d/%d chunks", done, total)
			st.Log = fmt.Sprintf("Summarized %d/%d chunks", done, total)
		})
	})
}

// embedChunks routes every chunk to its embedding model. Failed batches
// come back as zero vectors; the only error is cancellation.
func (s *CrawlService) embedChunks(ctx context.Context, jobID string, mapper *progress.Mapper, chunks []chunking.Chunk) ([][]float32, error) {
	s.registry.Update(jobID, func(st *progress.State) {
		st.Progress = mapper.Map(progress.PhaseEmbedding, 0)
		st.CurrentPhase = progress.PhaseEmbedding
		st.PhaseDetail = "Starting"
		st.Log = "Generating embeddings"
		st.ChunksTotal = len(chunks)
		st.ChunksProcessed = 0
	})

	items := make([]embedder.Item, len(chunks))
	for i, chunk := range chunks {
		items[i] = embedder.Item{Text: chunk.Text, Hint: chunk.ModelHint}
	}

	return s.embedder.EmbedItems(ctx, items, func(done, total int) {
		pct := mapper.Map(progress.PhaseEmbedding, 100*done/total)
		s.registry.Update(jobID, func(st *progress.State) {
			st.Progress = pct
			st.EmbeddingsGenerated = done
			st.ChunksProcessed = done
			st.PhaseDetail = fmt.Sprintf("%d/%d chunks", done, total)
			st.Log = fmt.Sprintf("Embedded %d/%d chunks", done, total)
		})
	})
}

// storeChunks persists one processed set: canonical metadata tables
// first so vector records can reference page rows, then the relational
// vector store, then the point store. Each store's failure is logged
// independently and never fails the job. Returns how many chunks reached
// a vector store.
func (s *CrawlService) storeChunks(ctx context.Context, jobID string, req CrawlRequest, pages []*crawl.Page, chunks []chunking.Chunk, summaries []string, embeddings [][]float32) int {
	requested := req.Scope
	if requested == "" {
		requested = s.defaultScope
	}
	level := scope.Resolve(req.Project, req.Dataset, requested)
	collection, err := scope.CollectionName(req.Project, req.Dataset, level)
	if err != nil {
		s.logger.Error("failed to resolve collection", "error", err)
		return 0
	}

	// Deterministic fallbacks keep vector records consistent when the
	// canonical store is down.
	projectID := repository.ProjectID(req.Project)
	datasetID := repository.DatasetID(req.Dataset)
	var pageIDs map[string]uuid.UUID

	ingest, err := s.metadata.UpsertWebPages(ctx, req.Project, req.Dataset, pageUpserts(pages))
	if err != nil {
		s.logger.Error("canonical web page ingestion failed", "error", err)
	} else {
		projectID = ingest.ProjectID
		datasetID = ingest.DatasetID
		pageIDs = ingest.PageIDs
		s.logger.Info("canonical store upserted web pages", "pages", len(pageIDs))

		written, err := s.metadata.UpsertChunks(ctx, datasetID, pageIDs, chunkUpserts(req, chunks, summaries, embeddings))
		if err != nil {
			s.logger.Error("canonical chunk ingestion failed", "error", err)
		} else {
			s.logger.Info("canonical store upserted chunks", "chunks", written)
		}
	}

	s.logger.Info("storing chunks",
		"count", len(chunks),
		"scope", string(level),
		"collection", collection)

	records := make([]vectorstore.ChunkRecord, 0, len(chunks))
	for i, chunk := range chunks {
		if len(embeddings[i]) == 0 {
			s.logger.Warn("skipping chunk without embedding", "index", i)
			continue
		}

		pageID, linked := pageIDs[chunk.SourcePath]
		if !linked {
			pageID = repository.PageID(datasetID, chunk.SourcePath)
		}

		meta := map[string]any{
			"confidence": chunk.Confidence,
			"is_code":    chunk.IsCode,
			"language":   chunk.Language,
			"start_char": chunk.StartChar,
			"end_char":   chunk.EndChar,
		}
		if linked {
			meta["web_page_id"] = pageID.String()
		}
		if req.KnowledgeType != "" {
			meta["knowledge_type"] = req.KnowledgeType
		}
		if len(req.Tags) > 0 {
			meta["tags"] = req.Tags
		}

		records = append(records, vectorstore.ChunkRecord{
			ID:           repository.ChunkID(pageID, chunk.ChunkIndex, chunk.Text).String(),
			Text:         chunk.Text,
			Summary:      summaries[i],
			Vector:       embeddings[i],
			IsCode:       chunk.IsCode,
			Language:     chunk.Language,
			RelativePath: chunk.SourcePath,
			ChunkIndex:   chunk.ChunkIndex,
			StartChar:    chunk.StartChar,
			EndChar:      chunk.EndChar,
			ModelUsed:    chunk.ModelHint,
			ProjectID:    projectID.String(),
			DatasetID:    datasetID.String(),
			Scope:        string(level),
			Metadata:     meta,
		})
	}

	if len(records) == 0 {
		return 0
	}

	dimension := vectorstore.DefaultDimension
	if len(records[0].Vector) > 0 {
		dimension = len(records[0].Vector)
	}

	stored := 0
	if err := s.chunkDB.EnsureCollection(ctx, collection, dimension); err != nil {
		s.logger.Error("relational collection setup failed", "collection", collection, "error", err)
	} else {
		s.registry.Update(jobID, func(st *progress.State) {
			st.PhaseDetail = "Postgres"
			st.Log = "Inserting into Postgres"
		})

		n, err := s.chunkDB.UpsertChunks(ctx, collection, records)
		if err != nil {
			s.logger.Error("relational storage failed", "error", err)
		} else {
			stored = n
			s.logger.Info("relational store stored chunks", "count", n)
		}
	}

	if err := s.pointDB.EnsureCollection(ctx, collection, dimension); err != nil {
		s.logger.Error("point collection setup failed", "collection", collection, "error", err)
	} else {
		s.registry.Update(jobID, func(st *progress.State) {
			st.PhaseDetail = "Qdrant"
			st.Log = "Inserting into Qdrant"
		})

		n, err := s.pointDB.UpsertChunks(ctx, collection, records)
		if err != nil {
			s.logger.Error("point storage failed", "error", err)
		} else {
			if stored == 0 {
				stored = n
			}
			s.logger.Info("point store stored chunks", "count", n)
		}
	}

	return stored
}

// pageUpserts converts crawled pages into canonical page rows.
func pageUpserts(pages []*crawl.Page) []repository.PageUpsert {
	upserts := make([]repository.PageUpsert, 0, len(pages))
	for _, page := range pages {
		upserts = append(upserts, repository.PageUpsert{
			URL:       page.URL,
			SourceURL: page.SourceURL,
			Title:     page.Title,
			Markdown:  page.Markdown,
			HTML:      page.HTML,
			WordCount: page.WordCount,
			CharCount: page.CharCount,
		})
	}
	return upserts
}

// chunkUpserts pairs chunks with their summaries and vectors for the
// canonical chunks table. Request-level labels ride along in metadata.
func chunkUpserts(req CrawlRequest, chunks []chunking.Chunk, summaries []string, embeddings [][]float32) []repository.ChunkUpsert {
	upserts := make([]repository.ChunkUpsert, 0, len(chunks))
	for i, chunk := range chunks {
		meta := map[string]any{
			"language":    chunk.Language,
			"model_used":  chunk.ModelHint,
			"is_code":     chunk.IsCode,
			"confidence":  chunk.Confidence,
			"start_char":  chunk.StartChar,
			"end_char":    chunk.EndChar,
			"source_path": chunk.SourcePath,
		}
		if req.KnowledgeType != "" {
			meta["knowledge_type"] = req.KnowledgeType
		}
		if len(req.Tags) > 0 {
			meta["tags"] = req.Tags
		}

		upserts = append(upserts, repository.ChunkUpsert{
			SourcePath: chunk.SourcePath,
			ChunkIndex: chunk.ChunkIndex,
			Text:       chunk.Text,
			Summary:    summaries[i],
			Embedding:  embeddings[i],
			Metadata:   meta,
		})
	}
	return upserts
}

// pagesValue copies crawled pages into the registry's value slice.
func pagesValue(pages []*crawl.Page) []crawl.Page {
	out := make([]crawl.Page, 0, len(pages))
	for _, page := range pages {
		if page != nil {
			out = append(out, *page)
		}
	}
	return out
}
