// Command frontdesk is the main entry point for the FrontDesk routing
// engine server.
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
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/chatterlinx/frontdesk/internal/app"
	"github.com/chatterlinx/frontdesk/internal/blackbox"
	"github.com/chatterlinx/frontdesk/internal/cache"
	"github.com/chatterlinx/frontdesk/internal/call"
	"github.com/chatterlinx/frontdesk/internal/config"
	"github.com/chatterlinx/frontdesk/internal/dialogue"
	"github.com/chatterlinx/frontdesk/internal/gateway"
	"github.com/chatterlinx/frontdesk/internal/knowledge"
	"github.com/chatterlinx/frontdesk/internal/match/semantic/pgvec"
	"github.com/chatterlinx/frontdesk/internal/observe"
	"github.com/chatterlinx/frontdesk/internal/response"
	"github.com/chatterlinx/frontdesk/internal/router"
	"github.com/chatterlinx/frontdesk/internal/store"
	"github.com/chatterlinx/frontdesk/internal/tracelog"
	oaiembed "github.com/chatterlinx/frontdesk/pkg/provider/embeddings/openai"
	"github.com/chatterlinx/frontdesk/pkg/provider/llm"
	"github.com/chatterlinx/frontdesk/pkg/provider/llm/anyllm"
	"github.com/chatterlinx/frontdesk/pkg/provider/llm/openai"
)

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
			fmt.Fprintf(os.Stderr, "frontdesk: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "frontdesk: %v\n", err)
		}
		return 1
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "frontdesk: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("frontdesk starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"tier3_enabled", cfg.Routing.Tier3Enabled,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "frontdesk"})
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

	events := blackbox.NewSlogSink(logger)

	// ── Document store ────────────────────────────────────────────────────────
	st, pool, closeStore, err := buildStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open document store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Cache ─────────────────────────────────────────────────────────────────
	layer := buildCache(cfg.Storage)

	// ── LLM gateway ───────────────────────────────────────────────────────────
	gw, err := buildGateway(cfg.Providers, events, logger)
	if err != nil {
		slog.Error("failed to build LLM providers", "err", err)
		return 1
	}

	// ── Engine assembly ───────────────────────────────────────────────────────
	engine := response.NewEngine(
		response.WithEvents(events),
		response.WithLogger(logger),
	)
	know := knowledge.NewRouter(
		knowledge.WithEngine(engine),
		knowledge.WithEvents(events),
		knowledge.WithLogger(logger),
	)
	routerOpts := []router.Option{
		router.WithGateway(gw),
		router.WithLedger(st),
		router.WithCache(layer),
		router.WithEvents(events),
		router.WithLogger(logger),
	}

	// ── Tier-2 embedding index (optional) ─────────────────────────────────────
	index, err := buildEmbeddingIndex(ctx, cfg.Providers.Embeddings, pool)
	if err != nil {
		slog.Error("failed to build embedding index", "err", err)
		return 1
	}
	if index != nil {
		routerOpts = append(routerOpts, router.WithMatcher(pgvec.NewMatcher(index, logger)))
	}

	tiered := router.New(router.Config{
		Tier3Enabled:      cfg.Routing.Tier3Enabled,
		PriceInPer1K:      cfg.Routing.PriceInPer1K,
		PriceOutPer1K:     cfg.Routing.PriceOutPer1K,
		EstimatedCallCost: cfg.Routing.EstimatedCallCost,
	}, routerOpts...)

	traces := tracelog.NewAsync(tracelog.SlogSink{Logger: logger}, tracelog.WithLogger(logger))
	defer traces.Close()

	processor := dialogue.NewProcessor(
		dialogue.WithGateway(gw),
		dialogue.WithKnowledge(know),
		dialogue.WithRouter(tiered),
		dialogue.WithResponseEngine(engine),
		dialogue.WithTraceLogger(traces),
		dialogue.WithEvents(events),
		dialogue.WithLogger(logger),
	)

	var callOpts []call.ManagerOption
	if cfg.Calls.InactivityTTLMinutes > 0 {
		callOpts = append(callOpts, call.WithInactivityTTL(time.Duration(cfg.Calls.InactivityTTLMinutes)*time.Minute))
	}
	calls := call.NewManager(callOpts...)

	appOpts := []app.Option{
		app.WithRouter(tiered),
		app.WithKnowledge(know),
		app.WithEngine(engine),
		app.WithProcessor(processor),
		app.WithCallManager(calls),
		app.WithEvents(events),
		app.WithLogger(logger),
	}
	if index != nil {
		appOpts = append(appOpts, app.WithScenarioIndexer(index))
	}
	brain := app.New(st, appOpts...)

	go calls.Run(ctx, time.Minute)
	go brain.Tracker().Run(ctx)

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	registerAPI(mux, brain, logger)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	brain.Tracker().Close(shutdownCtx)
	slog.Info("goodbye")
	return 0
}

// buildStore opens the configured document store. An empty DSN selects the
// in-memory store for development. The pgx pool is returned alongside so the
// embedding index can share the connection; it is nil for the memory store.
func buildStore(ctx context.Context, sc config.StorageConfig) (store.Store, *pgxpool.Pool, func(), error) {
	if sc.PostgresDSN == "" {
		slog.Warn("no postgres_dsn configured, using in-memory store")
		return store.NewMemoryStore(), nil, func() {}, nil
	}
	pool, err := pgxpool.New(ctx, sc.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return pg, pool, pool.Close, nil
}

// buildEmbeddingIndex builds the pgvector scenario index when an embeddings
// provider is configured. Returns nil when the deployment runs the in-process
// Tier-2 matcher instead.
func buildEmbeddingIndex(ctx context.Context, entry config.ProviderEntry, pool *pgxpool.Pool) (*pgvec.Index, error) {
	if !entry.Configured() {
		return nil, nil
	}
	if pool == nil {
		return nil, fmt.Errorf("embeddings provider requires postgres storage")
	}
	if entry.Name != "openai" {
		return nil, fmt.Errorf("embeddings provider %q is not supported, use openai", entry.Name)
	}
	var opts []oaiembed.Option
	if entry.BaseURL != "" {
		opts = append(opts, oaiembed.WithBaseURL(entry.BaseURL))
	}
	if entry.TimeoutMS > 0 {
		opts = append(opts, oaiembed.WithTimeout(time.Duration(entry.TimeoutMS)*time.Millisecond))
	}
	embedder, err := oaiembed.New(entry.APIKey, entry.Model, opts...)
	if err != nil {
		return nil, err
	}
	index := pgvec.NewIndex(pool, embedder)
	if err := index.Migrate(ctx); err != nil {
		return nil, err
	}
	slog.Info("tier-2 embedding index configured",
		"model", embedder.ModelID(), "dimensions", embedder.Dimensions())
	return index, nil
}

// buildCache builds the cache layer. An empty Redis address degrades to the
// bounded in-memory client.
func buildCache(sc config.StorageConfig) *cache.Layer {
	if sc.RedisAddr == "" {
		slog.Warn("no redis_addr configured, using in-memory cache")
		return cache.NewLayer(cache.NewMemory())
	}
	client := cache.NewRedis(&redis.Options{
		Addr:     sc.RedisAddr,
		Password: sc.RedisPassword,
		DB:       sc.RedisDB,
	})
	return cache.NewLayer(client)
}

// buildGateway instantiates a provider per configured role. Roles left
// unconfigured are simply absent; the engine degrades accordingly.
func buildGateway(pc config.ProvidersConfig, events blackbox.Logger, logger *slog.Logger) (*gateway.Gateway, error) {
	opts := []gateway.Option{
		gateway.WithEvents(events),
		gateway.WithLogger(logger),
	}
	for role, entry := range map[gateway.Role]config.ProviderEntry{
		gateway.RoleDialogue: pc.Dialogue,
		gateway.RoleFallback: pc.Fallback,
		gateway.RoleAdmin:    pc.Admin,
	} {
		if !entry.Configured() {
			continue
		}
		p, err := buildProvider(entry)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", role, err)
		}
		opts = append(opts, gateway.WithRole(role, p, time.Duration(entry.TimeoutMS)*time.Millisecond))
		slog.Info("llm role configured", "role", role, "provider", entry.Name, "model", entry.Model)
	}
	return gateway.New(opts...), nil
}

// buildProvider constructs one LLM provider. "openai" uses the native SDK;
// every other name goes through the any-llm multi-provider backend.
func buildProvider(entry config.ProviderEntry) (llm.Provider, error) {
	if entry.Name == "openai" {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	}
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// newLogger builds the process logger at the configured level.
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
