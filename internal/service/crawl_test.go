package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/webindex/internal/chunking"
	"github.com/knoguchi/webindex/internal/crawl"
	"github.com/knoguchi/webindex/internal/discovery"
	"github.com/knoguchi/webindex/internal/embedder"
	"github.com/knoguchi/webindex/internal/fetch"
	"github.com/knoguchi/webindex/internal/progress"
	"github.com/knoguchi/webindex/internal/repository"
	"github.com/knoguchi/webindex/internal/summary"
	"github.com/knoguchi/webindex/internal/vectorstore"
)

// indexFetcher serves one canned page for every URL over either transport.
// With block set, fetches hang until the context is cancelled; started is
// closed when the first fetch begins.
type indexFetcher struct {
	mu      sync.Mutex
	fetched []string
	block   bool
	started chan struct{}
	once    sync.Once
}

func newIndexFetcher() *indexFetcher {
	return &indexFetcher{started: make(chan struct{})}
}

func (f *indexFetcher) fetch(ctx context.Context, url string) (*fetch.Result, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()
	f.once.Do(func() { close(f.started) })

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	return &fetch.Result{
		FinalURL: url,
		HTML: `<html><head><title>Install Guide</title></head><body><main>` +
			`<h1>Install Guide</h1>` +
			`<p>Download the release archive, unpack it, and put the binary on your PATH. ` +
			`The daemon reads its settings from environment variables at startup and logs to stdout.</p>` +
			`</main></body></html>`,
		StatusCode:  200,
		ContentType: "text/html",
	}, nil
}

func (f *indexFetcher) FetchHTTP(ctx context.Context, url string) (*fetch.Result, error) {
	return f.fetch(ctx, url)
}

func (f *indexFetcher) FetchBrowser(ctx context.Context, url string, _ fetch.BrowserOptions) (*fetch.Result, error) {
	res, err := f.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	res.FromBrowser = true
	return res, nil
}

func (f *indexFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

// stubModel answers every text with a fixed 4-dimensional vector.
type stubModel struct {
	name string
}

func (m *stubModel) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *stubModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3, 0.4}
	}
	return out, nil
}

func (m *stubModel) Dimension() int    { return 4 }
func (m *stubModel) ModelName() string { return m.name }

// memWriter collects upserted chunk records per collection.
type memWriter struct {
	mu          sync.Mutex
	ensured     map[string]int
	records     map[string][]vectorstore.ChunkRecord
	upsertCalls int
}

func newMemWriter() *memWriter {
	return &memWriter{
		ensured: make(map[string]int),
		records: make(map[string][]vectorstore.ChunkRecord),
	}
}

func (w *memWriter) EnsureCollection(_ context.Context, collection string, dimension int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensured[collection] = dimension
	return nil
}

func (w *memWriter) UpsertChunks(_ context.Context, collection string, chunks []vectorstore.ChunkRecord) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.upsertCalls++
	w.records[collection] = append(w.records[collection], chunks...)
	return len(chunks), nil
}

func (w *memWriter) stored(collection string) []vectorstore.ChunkRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]vectorstore.ChunkRecord(nil), w.records[collection]...)
}

func (w *memWriter) dimension(collection string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ensured[collection]
}

func (w *memWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.upsertCalls
}

// memMetadata is an in-memory stand-in for the canonical store.
type memMetadata struct {
	mu     sync.Mutex
	pages  []repository.PageUpsert
	chunks int
}

func (m *memMetadata) EnsureProject(_ context.Context, name string) (*repository.Project, error) {
	return &repository.Project{ID: repository.ProjectID(name), Name: name}, nil
}

func (m *memMetadata) EnsureDataset(_ context.Context, projectID uuid.UUID, name string) (*repository.Dataset, error) {
	return &repository.Dataset{ID: repository.DatasetID(name), ProjectID: projectID, Name: name}, nil
}

func (m *memMetadata) UpsertWebPages(_ context.Context, project, dataset string, pages []repository.PageUpsert) (*repository.PageIngestResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	datasetID := repository.DatasetID(dataset)
	ids := make(map[string]uuid.UUID, len(pages))
	for _, page := range pages {
		if page.Markdown == "" {
			continue
		}
		m.pages = append(m.pages, page)
		ids[page.URL] = repository.PageID(datasetID, page.URL)
	}

	return &repository.PageIngestResult{
		ProjectID: repository.ProjectID(project),
		DatasetID: datasetID,
		PageIDs:   ids,
	}, nil
}

func (m *memMetadata) UpsertChunks(_ context.Context, _ uuid.UUID, pageIDs map[string]uuid.UUID, chunks []repository.ChunkUpsert) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	written := 0
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		if _, ok := pageIDs[chunk.SourcePath]; !ok {
			continue
		}
		written++
	}
	m.chunks += written
	return written, nil
}

func (m *memMetadata) pageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

func (m *memMetadata) chunkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunks
}

type pipelineDeps struct {
	fetcher  *indexFetcher
	chunkDB  *memWriter
	pointDB  *memWriter
	metadata *memMetadata
}

func newPipelineService(t *testing.T, mutate func(*CrawlConfig)) (*CrawlService, *pipelineDeps) {
	t.Helper()

	chunker, err := chunking.NewChunker(chunking.Config{ChunkSize: 200, ChunkOverlap: 20})
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	deps := &pipelineDeps{
		fetcher:  newIndexFetcher(),
		chunkDB:  newMemWriter(),
		pointDB:  newMemWriter(),
		metadata: &memMetadata{},
	}

	cfg := CrawlConfig{
		Fetcher:   deps.fetcher,
		Discovery: discovery.NewService(discovery.Config{}),
		Chunker:   chunker,
		Summaries: summary.NewProvider(summary.Config{}),
		Embedder: embedder.NewRouter(embedder.RouterConfig{
			Text: &stubModel{name: embedder.TextModel},
			Code: &stubModel{name: embedder.CodeModel},
		}),
		Metadata:       deps.metadata,
		ChunkDB:        deps.chunkDB,
		PointDB:        deps.pointDB,
		Registry:       progress.NewRegistry(),
		ProcessingMode: ProcessingSequential,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewCrawlService(cfg), deps
}

// waitTerminal polls until the job reaches a final status.
func waitTerminal(t *testing.T, svc *CrawlService, jobID string) progress.State {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		st, ok := svc.Progress(jobID)
		if !ok {
			t.Fatalf("job %s disappeared from the registry", jobID)
		}
		if st.Status.Terminal() {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", jobID)
	return progress.State{}
}

func TestDefaultCrawlRequest(t *testing.T) {
	req := DefaultCrawlRequest()
	if req.Mode != ModeSingle {
		t.Errorf("default mode = %q, want %q", req.Mode, ModeSingle)
	}
	if req.MaxDepth != 1 {
		t.Errorf("default max_depth = %d, want 1", req.MaxDepth)
	}
	if req.MaxPages != 20 {
		t.Errorf("default max_pages = %d, want 20", req.MaxPages)
	}
	if !req.SameDomainOnly {
		t.Error("same_domain_only should default to true")
	}
	if !req.AutoDiscovery {
		t.Error("auto_discovery should default to true")
	}
	if !req.ExtractCodeExamples {
		t.Error("extract_code_examples should default to true")
	}
}

func TestCrawlServiceStartRequiresURLs(t *testing.T) {
	svc, _ := newPipelineService(t, nil)

	if _, err := svc.Start(context.Background(), CrawlRequest{Mode: ModeSingle}); !errors.Is(err, ErrNoURLs) {
		t.Fatalf("Start without URLs returned %v, want ErrNoURLs", err)
	}
}

func TestCrawlServiceSequentialPipeline(t *testing.T) {
	svc, deps := newPipelineService(t, nil)

	id, err := svc.Start(context.Background(), CrawlRequest{
		URLs:    []string{"https://example.com/install"},
		Mode:    ModeSingle,
		Project: "demo",
		Dataset: "docs",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitTerminal(t, svc, id)
	if st.Status != progress.StatusCompleted {
		t.Fatalf("job ended %s (log %q), want completed", st.Status, st.Log)
	}
	if st.Progress != 100 {
		t.Errorf("final progress = %d, want 100", st.Progress)
	}
	if st.CurrentPhase != progress.PhaseCompleted {
		t.Errorf("final phase = %s, want %s", st.CurrentPhase, progress.PhaseCompleted)
	}
	if len(st.Pages) != 1 {
		t.Fatalf("retained %d pages, want 1", len(st.Pages))
	}
	if st.Pages[0].Markdown == "" {
		t.Error("retained page has no markdown")
	}

	const collection = "project_demo_dataset_docs"
	pgRecords := deps.chunkDB.stored(collection)
	qdRecords := deps.pointDB.stored(collection)
	if len(pgRecords) == 0 {
		t.Fatal("no records reached the relational store")
	}
	if len(qdRecords) != len(pgRecords) {
		t.Errorf("stores diverged: %d relational vs %d point records", len(pgRecords), len(qdRecords))
	}
	if st.ChunksStored != len(pgRecords) {
		t.Errorf("ChunksStored = %d, want %d", st.ChunksStored, len(pgRecords))
	}
	if dim := deps.chunkDB.dimension(collection); dim != 4 {
		t.Errorf("collection created with dimension %d, want the embedder's 4", dim)
	}

	for i, rec := range pgRecords {
		if _, err := uuid.Parse(rec.ID); err != nil {
			t.Errorf("record %d id %q is not a UUID", i, rec.ID)
		}
		if len(rec.Vector) != 4 {
			t.Errorf("record %d vector has %d dims, want 4", i, len(rec.Vector))
		}
		if rec.Scope != "local" {
			t.Errorf("record %d scope = %q, want local", i, rec.Scope)
		}
		if !strings.HasSuffix(rec.Summary, "...") {
			t.Errorf("record %d summary %q is not a prefix fallback", i, rec.Summary)
		}
	}

	if got := deps.metadata.pageCount(); got != 1 {
		t.Errorf("canonical store has %d pages, want 1", got)
	}
	if got := deps.metadata.chunkCount(); got != len(pgRecords) {
		t.Errorf("canonical store has %d chunks, want %d", got, len(pgRecords))
	}
}

func TestCrawlServiceHybridPipeline(t *testing.T) {
	svc, deps := newPipelineService(t, func(cfg *CrawlConfig) {
		cfg.ProcessingMode = ProcessingHybrid
		cfg.HybridProcessBatch = 2
	})

	id, err := svc.Start(context.Background(), CrawlRequest{
		URLs: []string{
			"https://example.com/a",
			"https://example.com/b",
			"https://example.com/c",
		},
		Mode:    ModeBatch,
		Project: "demo",
		Dataset: "docs",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitTerminal(t, svc, id)
	if st.Status != progress.StatusCompleted {
		t.Fatalf("job ended %s (log %q), want completed", st.Status, st.Log)
	}
	if len(st.Pages) != 0 {
		t.Errorf("hybrid job retained %d pages; batches should be released after storage", len(st.Pages))
	}
	if st.ProcessedPages != 3 {
		t.Errorf("processed %d pages, want 3", st.ProcessedPages)
	}
	if got := deps.fetcher.count(); got != 3 {
		t.Errorf("fetched %d urls, want 3", got)
	}

	const collection = "project_demo_dataset_docs"
	records := deps.chunkDB.stored(collection)
	if len(records) == 0 {
		t.Fatal("no records reached the relational store")
	}
	if st.ChunksStored != len(records) {
		t.Errorf("ChunksStored = %d, want %d", st.ChunksStored, len(records))
	}
	if calls := deps.chunkDB.calls(); calls < 2 {
		t.Errorf("hybrid mode stored everything in %d upsert calls, want one per batch", calls)
	}
}

func TestChunkPagesCodeRoutingToggle(t *testing.T) {
	svc, _ := newPipelineService(t, nil)
	pages := []*crawl.Page{{
		URL:      "https://example.com/snippets",
		Markdown: "Intro prose.\n\n```go\nfunc main() {}\n```\n",
	}}

	routed := svc.chunkPages(context.Background(), "unused", progress.NewMapper(),
		CrawlRequest{ExtractCodeExamples: true}, pages)
	codeHints := 0
	for _, chunk := range routed {
		if chunk.ModelHint == chunking.ModelHintCode {
			codeHints++
		}
	}
	if codeHints == 0 {
		t.Fatal("expected the fenced block to route to the code model")
	}

	flat := svc.chunkPages(context.Background(), "unused", progress.NewMapper(),
		CrawlRequest{}, pages)
	if len(flat) != len(routed) {
		t.Fatalf("routing toggle changed chunk count: %d vs %d", len(flat), len(routed))
	}
	detected := false
	for i, chunk := range flat {
		if chunk.ModelHint != chunking.ModelHintText {
			t.Errorf("chunk %d hint = %q, want text-only routing", i, chunk.ModelHint)
		}
		if chunk.IsCode {
			detected = true
		}
	}
	if !detected {
		t.Error("disabling code routing should not erase detection results")
	}
}

func TestCrawlServiceRequestMetadataStored(t *testing.T) {
	svc, deps := newPipelineService(t, nil)

	id, err := svc.Start(context.Background(), CrawlRequest{
		URLs:          []string{"https://example.com/install"},
		Mode:          ModeSingle,
		Project:       "demo",
		Dataset:       "docs",
		KnowledgeType: "technical",
		Tags:          []string{"go", "docs"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitTerminal(t, svc, id)
	if st.Status != progress.StatusCompleted {
		t.Fatalf("job ended %s (log %q), want completed", st.Status, st.Log)
	}

	records := deps.chunkDB.stored("project_demo_dataset_docs")
	if len(records) == 0 {
		t.Fatal("no records reached the relational store")
	}
	for i, rec := range records {
		if rec.Metadata["knowledge_type"] != "technical" {
			t.Errorf("record %d knowledge_type = %v, want technical", i, rec.Metadata["knowledge_type"])
		}
		tags, ok := rec.Metadata["tags"].([]string)
		if !ok || len(tags) != 2 || tags[0] != "go" || tags[1] != "docs" {
			t.Errorf("record %d tags = %v, want [go docs]", i, rec.Metadata["tags"])
		}
	}
}

func TestCrawlServiceMaxPagesTruncatesSeeds(t *testing.T) {
	svc, deps := newPipelineService(t, nil)

	id, err := svc.Start(context.Background(), CrawlRequest{
		URLs:     []string{"https://example.com/a", "https://example.com/b", "https://example.com/c"},
		Mode:     ModeBatch,
		MaxPages: 2,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	st := waitTerminal(t, svc, id)
	if st.Status != progress.StatusCompleted {
		t.Fatalf("job ended %s (log %q), want completed", st.Status, st.Log)
	}
	if got := deps.fetcher.count(); got != 2 {
		t.Errorf("fetched %d urls, want the max_pages cap of 2", got)
	}
	if len(st.Pages) != 2 {
		t.Errorf("retained %d pages, want 2", len(st.Pages))
	}
}

func TestCrawlServiceCancelMidCrawl(t *testing.T) {
	svc, deps := newPipelineService(t, nil)
	deps.fetcher.block = true

	id, err := svc.Start(context.Background(), CrawlRequest{
		URLs: []string{"https://example.com/slow"},
		Mode: ModeSingle,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-deps.fetcher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch never started")
	}

	if !svc.Cancel(id) {
		t.Fatal("Cancel reported unknown job")
	}

	st := waitTerminal(t, svc, id)
	if st.Status != progress.StatusCancelled {
		t.Fatalf("job ended %s, want cancelled", st.Status)
	}
	if st.CurrentPhase != progress.PhaseCancelled {
		t.Errorf("final phase = %s, want %s", st.CurrentPhase, progress.PhaseCancelled)
	}
}

func TestDetermineURLsLLMsManifest(t *testing.T) {
	svc, _ := newPipelineService(t, nil)

	manifest := &discovery.File{
		URL: "https://example.com/llms.txt",
		Content: "# Docs\n" +
			"https://example.com/guide\n" +
			"see also the changelog\n" +
			"https://example.com/reference\n",
	}

	urls := svc.determineURLs(context.Background(), ModeSingle, []string{"https://example.com"}, manifest)
	want := []string{"https://example.com/guide", "https://example.com/reference"}
	if len(urls) != len(want) {
		t.Fatalf("determineURLs returned %v, want %v", urls, want)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("url[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestDetermineURLsLLMsManifestWithoutLinks(t *testing.T) {
	svc, _ := newPipelineService(t, nil)

	manifest := &discovery.File{
		URL:     "https://example.com/llms.txt",
		Content: "# Docs\nno links here\n",
	}

	seeds := []string{"https://example.com"}
	urls := svc.determineURLs(context.Background(), ModeSingle, seeds, manifest)
	if len(urls) != 1 || urls[0] != seeds[0] {
		t.Fatalf("determineURLs returned %v, want the seeds %v", urls, seeds)
	}
}

const sitemapFixture = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/one</loc></url>
  <url><loc>https://example.com/two</loc></url>
</urlset>`

func TestDetermineURLsSitemapMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sitemapFixture))
	}))
	defer srv.Close()

	svc, _ := newPipelineService(t, nil)

	urls := svc.determineURLs(context.Background(), ModeSitemap, []string{srv.URL + "/sitemap.xml"}, nil)
	if len(urls) != 2 {
		t.Fatalf("determineURLs returned %v, want two sitemap entries", urls)
	}
	if urls[0] != "https://example.com/one" || urls[1] != "https://example.com/two" {
		t.Errorf("unexpected sitemap urls %v", urls)
	}
}

func TestDetermineURLsDiscoveredSitemap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(sitemapFixture))
	}))
	defer srv.Close()

	svc, _ := newPipelineService(t, nil)

	discovered := &discovery.File{URL: srv.URL + "/sitemap.xml", Content: sitemapFixture}
	urls := svc.determineURLs(context.Background(), ModeBatch, []string{"https://example.com"}, discovered)
	if len(urls) != 2 {
		t.Fatalf("determineURLs returned %v, want two sitemap entries", urls)
	}
}

func TestCrawlOptionsConcurrencyFallback(t *testing.T) {
	svc, _ := newPipelineService(t, func(cfg *CrawlConfig) {
		cfg.MaxConcurrent = 7
		cfg.CrawlBatchSize = 25
	})

	opts := svc.crawlOptions(CrawlRequest{MaxDepth: 2, MaxPages: 40, SameDomainOnly: true})
	if opts.MaxConcurrency != 7 {
		t.Errorf("MaxConcurrency = %d, want the configured default 7", opts.MaxConcurrency)
	}
	if opts.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", opts.BatchSize)
	}
	if !opts.SameDomainOnly {
		t.Error("SameDomainOnly not carried into crawl options")
	}

	opts = svc.crawlOptions(CrawlRequest{MaxConcurrent: 3})
	if opts.MaxConcurrency != 3 {
		t.Errorf("request max_concurrent not honored: got %d", opts.MaxConcurrency)
	}
}
