package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/webindex/internal/chunking"
	"github.com/knoguchi/webindex/internal/config"
	"github.com/knoguchi/webindex/internal/crawl"
	"github.com/knoguchi/webindex/internal/discovery"
	"github.com/knoguchi/webindex/internal/embedder"
	"github.com/knoguchi/webindex/internal/fetch"
	"github.com/knoguchi/webindex/internal/llm"
	"github.com/knoguchi/webindex/internal/progress"
	"github.com/knoguchi/webindex/internal/repository"
	"github.com/knoguchi/webindex/internal/repository/postgres"
	"github.com/knoguchi/webindex/internal/server"
	"github.com/knoguchi/webindex/internal/service"
	"github.com/knoguchi/webindex/internal/summary"
	"github.com/knoguchi/webindex/internal/vectorstore"
)

func main() {
	// Set up structured logging
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting webindex service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"processing_mode", cfg.ProcessingMode,
	)

	// Initialize PostgreSQL
	db, err := postgres.New(ctx, cfg.PostgresConnectionString)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	// Canonical metadata store and relational vector store share the pool
	metadataRepo := postgres.NewMetadataRepo(db, slog.Default())
	chunkStore := vectorstore.NewPgVectorStore(db.Pool)

	// Initialize Qdrant point store
	pointStore, err := vectorstore.NewQdrantStore(cfg.QdrantURL, cfg.QdrantAPIKey)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer pointStore.Close()
	slog.Info("connected to Qdrant")

	// Initialize the dual-model embedding stack
	textEmbedder := embedder.NewHTTPEmbedder(embedder.HTTPConfig{
		BaseURL: cfg.TextEmbeddingURL(),
		Model:   embedder.TextModel,
	})
	codeEmbedder := embedder.NewHTTPEmbedder(embedder.HTTPConfig{
		BaseURL: cfg.CodeEmbeddingURL(),
		Model:   embedder.CodeModel,
	})
	embedRouter := embedder.NewRouter(embedder.RouterConfig{
		Text:           textEmbedder,
		Code:           codeEmbedder,
		Parallel:       cfg.EnableParallelEmbedding,
		MaxConcurrency: cfg.MaxEmbeddingConcurrency,
		MetricsEnabled: cfg.EmbeddingMetricsEnabled,
	})
	slog.Info("initialized embedding router",
		"text_model", textEmbedder.ModelName(),
		"code_model", codeEmbedder.ModelName(),
		"parallel", cfg.EnableParallelEmbedding,
	)

	// Summaries degrade to prefix fallbacks without an API key
	var summaryLLM llm.LLM
	if cfg.SummaryAPIKey != "" {
		summaryLLM = llm.NewOpenAIClient(cfg.SummaryAPIKey,
			llm.WithBaseURL(cfg.SummaryAPIBase),
			llm.WithModel(cfg.SummaryModel),
		)
		slog.Info("initialized summary LLM", "model", cfg.SummaryModel)
	} else {
		slog.Info("summary API key not set, using prefix summaries")
	}
	summaries := summary.NewProvider(summary.Config{LLM: summaryLLM})

	// Initialize chunking
	chunker, err := chunking.NewChunker(chunking.Config{
		ChunkSize:        cfg.ChunkSize,
		ChunkOverlap:     cfg.ChunkOverlap,
		EnableTreeSitter: cfg.EnableTreeSitter,
	})
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	// Initialize crawling
	fetcher := fetch.NewClient(fetch.Config{
		Timeout:      cfg.PageTimeout(),
		WaitStrategy: cfg.CrawlWaitStrategy,
	})
	defer fetcher.Close()

	discoverySvc := discovery.NewService(discovery.Config{})
	dispatcher := crawl.NewDispatcher(cfg.MemoryThresholdPercent)
	registry := progress.NewRegistry()

	// Initialize services
	crawlSvc := service.NewCrawlService(service.CrawlConfig{
		Fetcher:              fetcher,
		Discovery:            discoverySvc,
		Chunker:              chunker,
		Summaries:            summaries,
		Embedder:             embedRouter,
		Metadata:             metadataRepo,
		ChunkDB:              chunkStore,
		PointDB:              pointStore,
		Registry:             registry,
		ProcessingMode:       cfg.ProcessingMode,
		HybridProcessBatch:   cfg.HybridProcessBatch,
		HybridMaxMemoryPages: cfg.HybridMaxMemoryPages,
		MaxConcurrent:        cfg.CrawlMaxConcurrent,
		CrawlBatchSize:       cfg.CrawlBatchSize,
		Dispatcher:           dispatcher,
		DefaultScope:         cfg.DefaultScope,
	})
	searchSvc := service.NewSearchService(service.SearchConfig{
		Embedder:     textEmbedder,
		Store:        chunkStore,
		DefaultScope: cfg.DefaultScope,
	})

	// Create HTTP server
	httpServer, err := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"}, // Configure in production
	}, server.Services{
		Crawl:  crawlSvc,
		Search: searchSvc,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	// Start server
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	// Graceful shutdown
	slog.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// Ensure interfaces are satisfied at compile time
var (
	_ repository.MetadataRepository = (*postgres.MetadataRepo)(nil)
	_ vectorstore.ChunkWriter       = (*vectorstore.PgVectorStore)(nil)
	_ vectorstore.ChunkWriter       = (*vectorstore.QdrantStore)(nil)
	_ embedder.Embedder             = (*embedder.HTTPEmbedder)(nil)
	_ fetch.Fetcher                 = (*fetch.Client)(nil)
	_ llm.LLM                       = (*llm.OpenAIClient)(nil)
	_ server.CrawlService           = (*service.CrawlService)(nil)
	_ server.SearchService          = (*service.SearchService)(nil)
)
