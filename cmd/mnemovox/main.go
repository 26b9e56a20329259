// Command mnemovox is the main entry point for the Mnemovox audio memory
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mnemovox/mnemovox/internal/aggregate"
	"github.com/mnemovox/mnemovox/internal/api"
	"github.com/mnemovox/mnemovox/internal/blob"
	"github.com/mnemovox/mnemovox/internal/chat"
	"github.com/mnemovox/mnemovox/internal/config"
	"github.com/mnemovox/mnemovox/internal/health"
	"github.com/mnemovox/mnemovox/internal/ingest"
	"github.com/mnemovox/mnemovox/internal/jobs"
	"github.com/mnemovox/mnemovox/internal/observe"
	"github.com/mnemovox/mnemovox/internal/plugin"
	"github.com/mnemovox/mnemovox/internal/prompt"
	"github.com/mnemovox/mnemovox/internal/rank"
	"github.com/mnemovox/mnemovox/internal/resilience"
	"github.com/mnemovox/mnemovox/internal/retrieval"
	"github.com/mnemovox/mnemovox/internal/session"
	neo4jstore "github.com/mnemovox/mnemovox/pkg/memory/neo4j"
	"github.com/mnemovox/mnemovox/pkg/memory/pgvector"
	"github.com/mnemovox/mnemovox/pkg/memory/postgres"
	"github.com/mnemovox/mnemovox/pkg/provider/embeddings"
	ollamaembed "github.com/mnemovox/mnemovox/pkg/provider/embeddings/ollama"
	oaembed "github.com/mnemovox/mnemovox/pkg/provider/embeddings/openai"
	"github.com/mnemovox/mnemovox/pkg/provider/llm"
	"github.com/mnemovox/mnemovox/pkg/provider/llm/anyllm"
	"github.com/mnemovox/mnemovox/pkg/provider/stt"
	"github.com/mnemovox/mnemovox/pkg/provider/stt/whisper"
)

const defaultEmbeddingDimensions = 1536

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mnemovox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mnemovox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("mnemovox starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "mnemovox"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	model, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	if len(cfg.Providers.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(model, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			fallback, err := buildLLM(entry)
			if err != nil {
				slog.Error("failed to build llm fallback provider", "name", entry.Name, "err", err)
				return 1
			}
			fb.AddFallback(entry.Name, fallback)
		}
		model = fb
	}
	transcriber, err := buildSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	embedder, err := buildEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}

	// ── Stores ────────────────────────────────────────────────────────────────
	store, err := postgres.NewStore(ctx, cfg.Stores.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect postgres", "err", err)
		return 1
	}
	defer store.Close()

	dims := cfg.Stores.EmbeddingDimensions
	if dims <= 0 {
		dims = defaultEmbeddingDimensions
	}
	index, err := pgvector.NewIndex(ctx, cfg.Stores.PostgresDSN, dims)
	if err != nil {
		slog.Error("failed to prepare pgvector index", "err", err)
		return 1
	}

	graph, err := neo4jstore.NewGraph(ctx, neo4jstore.Config{
		URI:      cfg.Stores.Neo4j.URI,
		Username: cfg.Stores.Neo4j.Username,
		Password: cfg.Stores.Neo4j.Password,
		Database: cfg.Stores.Neo4j.Database,
	})
	if err != nil {
		slog.Error("failed to connect neo4j", "err", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := graph.Close(closeCtx); err != nil {
			slog.Warn("neo4j close error", "err", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Stores.Redis.Addr,
		Password: cfg.Stores.Redis.Password,
		DB:       cfg.Stores.Redis.DB,
	})
	defer redisClient.Close()
	queue := jobs.NewRedisQueue(redisClient, cfg.Stores.Redis.QueueKey)

	blobDir := cfg.Server.BlobDir
	if blobDir == "" {
		blobDir = "data/audio"
	}
	blobs, err := blob.NewDirStore(blobDir)
	if err != nil {
		slog.Error("failed to prepare blob store", "err", err)
		return 1
	}

	// ── Ingestion pipeline and job layer ──────────────────────────────────────
	var chunkerOpts []ingest.ChunkerOption
	if cfg.Ingest.ChunkSize > 0 {
		chunkerOpts = append(chunkerOpts, ingest.WithChunkSize(cfg.Ingest.ChunkSize))
	}
	if cfg.Ingest.ChunkOverlap > 0 {
		chunkerOpts = append(chunkerOpts, ingest.WithChunkOverlap(cfg.Ingest.ChunkOverlap))
	}

	chunker, err := ingest.NewChunker(chunkerOpts...)
	if err != nil {
		slog.Error("invalid chunking geometry", "err", err)
		return 1
	}

	writer := ingest.NewWriter(index, graph, logger)
	pipeline := ingest.NewPipeline(
		transcriber,
		chunker,
		ingest.NewLLMExtractor(model, logger),
		embedder,
		writer,
		store,
		logger,
	)

	var poolOpts []jobs.PoolOption
	if cfg.Ingest.Workers > 0 {
		poolOpts = append(poolOpts, jobs.WithWorkers(cfg.Ingest.Workers))
	}
	pool := jobs.NewPool(queue, store, blobs, pipeline, logger, poolOpts...)
	jobsSvc := jobs.NewService(queue, store, blobs, writer, logger)

	// ── Retrieval and chat ────────────────────────────────────────────────────
	var vectorOpts []retrieval.VectorOption
	if cfg.Retrieval.SimilarityFloor > 0 {
		vectorOpts = append(vectorOpts, retrieval.WithSimilarityFloor(cfg.Retrieval.SimilarityFloor))
	}
	vectorRet := retrieval.NewVectorRetriever(index, embedder, logger, vectorOpts...)
	graphRet := retrieval.NewGraphRetriever(graph, logger)

	aggOpts := []aggregate.AggregatorOption{aggregate.WithTraverser(graphRet)}
	if cfg.Retrieval.TimeoutSeconds > 0 {
		aggOpts = append(aggOpts, aggregate.WithTimeout(time.Duration(cfg.Retrieval.TimeoutSeconds)*time.Second))
	}
	aggregator := aggregate.NewAggregator(vectorRet, graphRet, rank.New(), logger, aggOpts...)

	plugins, err := buildPlugins(cfg, store, logger)
	if err != nil {
		slog.Error("failed to register plugins", "err", err)
		return 1
	}

	sessions := session.NewManager(store, logger)

	chatOpts := []chat.ServiceOption{chat.WithPlugins(plugins)}
	if cfg.Chat.TimeoutSeconds > 0 {
		chatOpts = append(chatOpts, chat.WithTimeout(time.Duration(cfg.Chat.TimeoutSeconds)*time.Second))
	}
	if cfg.Chat.TranscriptWindowHours > 0 {
		chatOpts = append(chatOpts, chat.WithTranscriptWindow(time.Duration(cfg.Chat.TranscriptWindowHours)*time.Hour))
	}
	chatSvc := chat.NewService(
		aggregator,
		prompt.NewComposer(logger),
		model,
		sessions,
		store,
		logger,
		chatOpts...,
	)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	checks := health.New(
		health.Checker{Name: "postgres", Check: store.HealthCheck},
		health.Checker{Name: "pgvector", Check: index.HealthCheck},
		health.Checker{Name: "neo4j", Check: graph.HealthCheck},
		health.Checker{Name: "queue", Check: queue.HealthCheck},
	)

	var apiOpts []api.Option
	if cfg.Server.MaxUploadMB > 0 {
		apiOpts = append(apiOpts, api.WithMaxUploadBytes(int64(cfg.Server.MaxUploadMB)<<20))
	}
	server := api.NewServer(chatSvc, jobsSvc, sessions, checks, logger, apiOpts...)

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, listenAddr)
	slog.Info("server ready — press Ctrl+C to shut down")

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		var err error
		if cfg.Server.TLS != nil {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildLLM constructs the configured chat/extraction model.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "" {
		return nil, errors.New("providers.llm.name is required")
	}
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	p, err := anyllm.New(entry.Name, entry.Model, opts...)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	return p, nil
}

// buildSTT constructs the configured transcriber.
func buildSTT(entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "whisper":
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		p, err := whisper.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
		return p, nil
	case "whisper-native":
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		p, err := whisper.NewNative(modelPath, opts...)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
		return p, nil
	case "":
		return nil, errors.New("providers.stt.name is required")
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildEmbeddings constructs the configured embedding model.
func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		p, err := oaembed.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", entry.Model)
		return p, nil
	case "ollama":
		p, err := ollamaembed.New(entry.BaseURL, entry.Model)
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name, "model", entry.Model)
		return p, nil
	case "":
		return nil, errors.New("providers.embeddings.name is required")
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

// buildPlugins registers the built-in plugins plus any configured MCP
// plugins.
func buildPlugins(cfg *config.Config, store *postgres.Store, logger *slog.Logger) (*plugin.Registry, error) {
	reg := plugin.NewRegistry(logger)
	if err := reg.Register(plugin.NewRecentActivityPlugin(store, 0)); err != nil {
		return nil, err
	}
	if err := reg.Register(plugin.EntityDigestPlugin{}); err != nil {
		return nil, err
	}
	for _, p := range cfg.Plugins {
		mcpPlugin := plugin.NewMCPPlugin(plugin.Metadata{
			Name:         p.Name,
			Description:  p.Description,
			Dependencies: p.DependsOn,
		}, p.Endpoint, p.Tool)
		if err := reg.Register(mcpPlugin); err != nil {
			return nil, err
		}
		slog.Info("mcp plugin registered", "name", p.Name, "tool", p.Tool)
	}
	return reg, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, listenAddr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Mnemovox — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printValue("Postgres", hostOnly(cfg.Stores.PostgresDSN))
	printValue("Neo4j", cfg.Stores.Neo4j.URI)
	printValue("Redis", cfg.Stores.Redis.Addr)
	fmt.Printf("║  MCP plugins     : %-19d ║\n", len(cfg.Plugins))
	fmt.Printf("║  Listen addr     : %-19s ║\n", listenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printValue(kind, value)
}

func printValue(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// hostOnly strips credentials from a DSN for display.
func hostOnly(dsn string) string {
	if i := strings.LastIndex(dsn, "@"); i >= 0 {
		return dsn[i+1:]
	}
	return dsn
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
