// Ragd is the multi-tenant retrieval-augmented generation daemon.
//
// It serves the ingestion and retrieval HTTP API, runs the background
// ingestion workers and, when NATS is configured, publishes job events.
//
// Configuration is loaded from ~/.config/ragd/config.yaml (or --config)
// and the environment. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	ragd
//
//	# Configure via environment
//	OPENAI_API_KEY=sk-... QDRANT_URL=http://localhost:6333 REDIS_URL=redis://localhost:6379/0 ragd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/cache"
	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	httpserver "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/jobs"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/rag"
	"github.com/fyrsmithlabs/ragd/internal/reranker"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default ~/.config/ragd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd [--config path]   Start the ragd daemon\n")
			fmt.Fprintf(os.Stderr, "  ragd version           Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("ragd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("ragd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts ragd and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and logger
//  3. Connects to infrastructure (vector index, cache, NATS)
//  4. Builds the ingestion and retrieval pipelines and the job queue
//  5. Serves HTTP until ctx is cancelled, then shuts down in reverse order
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zlog := logger.Zap()

	logger.Info(ctx, "starting ragd",
		zap.String("version", version),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("cache", cfg.Cache.Backend))

	deps, err := initDependencies(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	split, err := chunker.New(chunker.Config{Size: cfg.Chunker.Size, Overlap: cfg.Chunker.Overlap})
	if err != nil {
		return fmt.Errorf("failed to create chunker: %w", err)
	}

	ingestOpts := []rag.IngestorOption{
		rag.WithIngestLogger(zlog.Named("ingest")),
		rag.WithReplaceExisting(cfg.Ingest.ReplaceExisting),
	}
	if cfg.Cache.InvalidateOnWrite {
		ingestOpts = append(ingestOpts, rag.WithInvalidation(deps.cache))
	}
	ingestor, err := rag.NewIngestor(split, deps.embedder, deps.index, ingestOpts...)
	if err != nil {
		return fmt.Errorf("failed to create ingestor: %w", err)
	}

	retrieveOpts := []rag.RetrieverOption{
		rag.WithCache(deps.cache, cfg.Cache.TTL.Duration()),
		rag.WithTopK(cfg.Retrieval.TopK),
		rag.WithRetrieveLogger(zlog.Named("retrieve")),
	}
	if cfg.Retrieval.Rerank {
		rr, err := reranker.NewTermOverlap(cfg.Retrieval.RerankWeight)
		if err != nil {
			return fmt.Errorf("failed to create reranker: %w", err)
		}
		retrieveOpts = append(retrieveOpts, rag.WithReranker(rr, cfg.Retrieval.Candidates))
	}
	retriever, err := rag.NewRetriever(deps.embedder, deps.index, retrieveOpts...)
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}

	queue := initQueue(cfg, ingestor, deps, zlog)
	queue.Start()

	srv, err := httpserver.NewServer(httpserver.Deps{
		Ingestion: queue,
		Projects:  ingestor,
		Retrieval: retriever,
		Events:    deps.nats,
		Checks: []httpserver.Check{
			{Name: "vectorstore", Probe: deps.index.Ping},
			{Name: "cache", Probe: deps.cache.Ping},
		},
		Logger:  logger,
		Metrics: httpserver.NewRequestMetrics(zlog),
	}, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout.Duration(),
		BodyLimit:      cfg.Server.BodyLimit,
		EventHeartbeat: cfg.Server.EventHeartbeat.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error(context.Background(), "http server failed", zap.Error(serveErr))
		}
	}

	// Stop accepting requests first, then drain the queue so accepted
	// jobs finish, then release infrastructure via deferred Close.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown incomplete", zap.Error(err))
	}
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "ingestion queue did not drain", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}

	logger.Info(shutdownCtx, "ragd stopped")
	return serveErr
}

func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	tcfg := telemetry.DefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.Endpoint = cfg.Telemetry.Endpoint
	tcfg.Protocol = cfg.Telemetry.Protocol
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.SampleRate = cfg.Telemetry.SampleRate
	tcfg.ExportLogs = cfg.Telemetry.ExportLogs
	tcfg.MetricInterval = cfg.Telemetry.MetricInterval.Duration()
	tcfg.ServiceVersion = version
	return telemetry.New(ctx, tcfg)
}

// initLogger builds the structured logger. Logs also go to the OTEL
// logger provider when telemetry exports one.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lcfg := logging.DefaultConfig()
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lcfg.Level = level
	lcfg.Format = cfg.Logging.Format
	lcfg.Version = version

	return logging.New(lcfg, tel.LoggerProvider())
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	provider embeddings.Provider
	embedder *embeddings.Client
	index    vectorstore.Index
	cache    cache.Cache
	nats     *nats.Conn
	broker   *jobs.Broker
	logger   *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.broker != nil {
		d.broker.Close()
	} else if d.nats != nil {
		if err := d.nats.Drain(); err != nil {
			d.nats.Close()
		}
	}
	if d.index != nil {
		if err := d.index.Close(); err != nil {
			d.logger.Warn("closing vector index", zap.Error(err))
		}
	}
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			d.logger.Warn("closing cache", zap.Error(err))
		}
	}
	if d.provider != nil {
		if err := d.provider.Close(); err != nil {
			d.logger.Warn("closing embedding provider", zap.Error(err))
		}
	}
}

// initDependencies connects to every backing service. A failure closes
// whatever was already opened.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *dependencies, err error) {
	d := &dependencies{logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	ecfg := embeddings.Config{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		Dimension: cfg.Embeddings.Dimension,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		CacheDir:  cfg.Embeddings.CacheDir,
		Timeout:   cfg.Embeddings.Timeout.Duration(),
		RateLimit: cfg.Embeddings.RateLimit,
		Burst:     cfg.Embeddings.Burst,
		BatchSize: cfg.Embeddings.BatchSize,
	}
	d.provider, err = embeddings.NewProvider(ctx, ecfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	clientOpts := []embeddings.ClientOption{
		embeddings.WithModel(cfg.Embeddings.Model),
		embeddings.WithLogger(logger.Named("embeddings")),
		embeddings.WithMetrics(embeddings.NewMetrics(logger)),
		embeddings.WithBatchSize(ecfg.BatchSize),
	}
	if cfg.Embeddings.RateLimit > 0 {
		clientOpts = append(clientOpts, embeddings.WithRateLimit(cfg.Embeddings.RateLimit, cfg.Embeddings.Burst))
	}
	d.embedder, err = embeddings.NewClient(d.provider, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	logger.Info("embedding provider initialized",
		zap.String("provider", d.provider.Name()),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", d.embedder.Dimension()))

	d.index, err = vectorstore.NewIndex(ctx, vectorstore.Config{
		Provider: cfg.VectorStore.Provider,
		Qdrant: vectorstore.QdrantConfig{
			URL:    cfg.VectorStore.QdrantURL,
			APIKey: cfg.VectorStore.QdrantAPIKey.Value(),
		},
		Chromem: vectorstore.ChromemConfig{
			Path:     cfg.VectorStore.ChromemPath,
			Compress: cfg.VectorStore.ChromemCompress,
		},
	}, d.embedder.Dimension(), logger.Named("vectorstore"))
	if err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	d.cache, err = cache.New(ctx, cache.Config{
		Backend:    cfg.Cache.Backend,
		URL:        cfg.Cache.URL.Value(),
		TTL:        cfg.Cache.TTL.Duration(),
		MaxEntries: cfg.Cache.MaxEntries,
		Timeout:    cfg.Cache.Timeout.Duration(),
	}, logger.Named("cache"))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	switch {
	case cfg.Events.Embedded:
		d.broker, err = jobs.StartBroker(jobs.BrokerConfig{
			Host: cfg.Events.EmbeddedHost,
			Port: cfg.Events.EmbeddedPort,
		}, logger.Named("nats"))
		if err != nil {
			return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		d.nats = d.broker.Conn()
		logger.Info("job events enabled", zap.String("nats", d.broker.ClientURL()))
	case cfg.Events.NATSURL != "":
		d.nats, err = nats.Connect(cfg.Events.NATSURL,
			nats.Name("ragd"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		logger.Info("job events enabled", zap.String("nats", d.nats.ConnectedUrlRedacted()))
	}

	return d, nil
}

func initQueue(cfg *config.Config, ingestor *rag.Ingestor, deps *dependencies, logger *zap.Logger) *jobs.Queue {
	jcfg := jobs.Config{
		Workers:        cfg.Ingest.Workers,
		QueueSize:      cfg.Ingest.QueueSize,
		MaxAttempts:    cfg.Ingest.MaxAttempts,
		InitialBackoff: cfg.Ingest.InitialBackoff.Duration(),
		MaxBackoff:     cfg.Ingest.MaxBackoff.Duration(),
		JobTimeout:     cfg.Ingest.JobTimeout.Duration(),
		MaxTrackedJobs: cfg.Ingest.MaxTrackedJobs,
		JobRetention:   cfg.Ingest.JobRetention.Duration(),
	}
	jcfg.ApplyDefaults()

	var publisher jobs.Publisher = jobs.NopPublisher{}
	if deps.nats != nil {
		publisher = jobs.NewNATSPublisher(deps.nats)
	}
	registry := jobs.NewRegistry(jcfg.MaxTrackedJobs, jcfg.JobRetention, publisher, logger.Named("jobs"))
	return jobs.New(ingestor, registry, jcfg, logger.Named("jobs"))
}
