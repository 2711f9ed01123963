package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Web3ok/bsc-sub000/internal/batch"
	"github.com/Web3ok/bsc-sub000/internal/chain"
	"github.com/Web3ok/bsc-sub000/internal/events"
	"github.com/Web3ok/bsc-sub000/internal/executor"
	"github.com/Web3ok/bsc-sub000/internal/nonce"
	"github.com/Web3ok/bsc-sub000/internal/platform/aws"
	"github.com/Web3ok/bsc-sub000/internal/platform/cache"
	"github.com/Web3ok/bsc-sub000/internal/platform/config"
	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
	"github.com/Web3ok/bsc-sub000/internal/routing"
	"github.com/Web3ok/bsc-sub000/internal/token"
	"github.com/Web3ok/bsc-sub000/internal/wallet"
)

const serviceName = "batch-engine"

func main() {
	// Create root context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration (ENGINE_CONFIG overrides the search path)
	log.Println("Loading configuration...")
	cfg := config.MustLoad(os.Getenv("ENGINE_CONFIG"))

	// Setup observability (foundational - must be first)
	logger := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	meterProvider, err := newMeterProvider(cfg)
	if err != nil {
		log.Fatalf("Failed to create meter provider: %v", err)
	}
	defer meterProvider.Shutdown(context.Background())
	metrics := observability.NewMetrics(meterProvider.Meter(serviceName))

	tracerProvider, err := observability.NewTracerProvider(ctx, observability.TracerProviderConfig{
		ServiceName: serviceName,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		Enabled:     cfg.Observability.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to create tracer provider: %v", err)
	}
	defer tracerProvider.Shutdown(context.Background())
	tracer := observability.NewTracer(serviceName)

	logger.Info("observability ready")

	// Token metadata cache: in-process LRU, layered over Redis when enabled
	memCache := cache.NewMemoryCache(cfg.Cache.L1MaxSize)
	defer memCache.Close()

	var metadataCache cache.Cache = memCache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.LogError(ctx, "failed to connect to Redis", err)
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()
		metadataCache = cache.NewLayeredCacheWithConfig(cache.LayeredCacheConfig{
			L1:       memCache,
			L2:       redisCache,
			L1MaxTTL: cfg.Cache.L1BackfillTTL,
			Logger:   logger.Named("cache").Logger,
		})
	}

	// Operation event stream
	publisher, err := newPublisher(ctx, cfg, logger, metrics, tracer)
	if err != nil {
		logger.LogError(ctx, "failed to create event publisher", err)
		log.Fatalf("Failed to create event publisher: %v", err)
	}
	dispatcher := events.NewDispatcher(events.DispatcherConfig{
		Publisher:  publisher,
		BufferSize: cfg.Events.BufferSize,
		Logger:     logger.Named("events"),
		Metrics:    metrics,
	})

	// Chain access
	logger.Info("connecting to chain", "chain_id", cfg.Chain.ID)
	endpoints := make([]chain.EndpointConfig, len(cfg.Chain.RPCEndpoints))
	for i, ep := range cfg.Chain.RPCEndpoints {
		endpoints[i] = chain.EndpointConfig{URL: ep.URL, Weight: ep.Weight}
	}

	pool, err := chain.NewPool(chain.PoolConfig{
		Endpoints:           endpoints,
		RequestsPerSecond:   cfg.Chain.RateLimit.RequestsPerSecond,
		Burst:               cfg.Chain.RateLimit.Burst,
		HealthCheckInterval: cfg.Chain.HealthCheckInterval,
		Logger:              logger.Named("chain"),
		Metrics:             metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create RPC pool", err)
		log.Fatalf("Failed to create RPC pool: %v", err)
	}
	defer pool.Close()

	client, err := chain.NewClient(chain.ClientConfig{
		Pool:            pool,
		ChainID:         cfg.Chain.ID,
		GasPriceTTL:     cfg.Chain.GasPriceTTL,
		MaxGasPriceGwei: cfg.Chain.MaxGasPriceGwei,
		Logger:          logger.Named("chain"),
		Metrics:         metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create chain client", err)
		log.Fatalf("Failed to create chain client: %v", err)
	}

	// Token metadata
	tokenResolver, err := token.NewResolver(token.ResolverConfig{
		Registry: token.NewRegistry(),
		Reader:   client,
		Cache:    metadataCache,
		TTL:      cfg.Cache.MetadataTTL,
		Logger:   logger.Named("token"),
		Metrics:  metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create token resolver", err)
		log.Fatalf("Failed to create token resolver: %v", err)
	}

	if len(cfg.Tokens.Warmup) > 0 {
		addrs := make([]common.Address, len(cfg.Tokens.Warmup))
		for i, a := range cfg.Tokens.Warmup {
			addrs[i] = common.HexToAddress(a)
		}
		warmer := cache.NewWarmer(logger, cache.DefaultWarmupConfig())
		warmer.RegisterProvider(token.NewWarmupProvider(tokenResolver, addrs))
		if res := warmer.Warmup(ctx); res.HasErrors() {
			logger.Warn("token warmup incomplete, first batches resolve on demand",
				"failed", res.Errors,
			)
		}
	}

	// Wallets
	keyring, err := wallet.NewKeyring(cfg.Chain.ID, cfg.Wallets.Keys)
	if err != nil {
		logger.LogError(ctx, "failed to load keyring", err)
		log.Fatalf("Failed to load keyring: %v", err)
	}
	logger.Info("keyring loaded", "accounts", len(keyring.Accounts()))

	// Routing
	venues, err := routing.NewRegistry(cfg.Routing.Venues)
	if err != nil {
		logger.LogError(ctx, "failed to build venue registry", err)
		log.Fatalf("Failed to build venue registry: %v", err)
	}

	routeResolver, err := routing.NewResolver(routing.ResolverConfig{
		Registry:         venues,
		Reader:           client,
		BaseAsset:        common.HexToAddress(cfg.Routing.BaseAsset),
		QuoteConcurrency: cfg.Routing.QuoteConcurrency,
		Logger:           logger.Named("routing"),
		Metrics:          metrics,
		Tracer:           tracer,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create route resolver", err)
		log.Fatalf("Failed to create route resolver: %v", err)
	}

	// Per-account nonce sequencing
	sequencer, err := nonce.NewSequencer(nonce.SequencerConfig{
		Reader:  client,
		Logger:  logger.Named("nonce"),
		Metrics: metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create nonce sequencer", err)
		log.Fatalf("Failed to create nonce sequencer: %v", err)
	}

	// Operation executor
	exec, err := executor.NewExecutor(executor.Config{
		Chain:    client,
		Resolver: routeResolver,
		Nonces:   sequencer,
		Signers:  keyring,
		Sink:     dispatcher,
		Logger:   logger.Named("executor"),
		Metrics:  metrics,
		Tracer:   tracer,
		V2Router: common.HexToAddress(cfg.Routing.V2Router),
		V3Router: common.HexToAddress(cfg.Routing.V3Router),
		Settings: cfg.Executor,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create executor", err)
		log.Fatalf("Failed to create executor: %v", err)
	}

	// Batch engine
	engine, err := batch.NewEngine(ctx, batch.EngineConfig{
		Runner:   exec,
		Sink:     dispatcher,
		Defaults: cfg.Batch,
		Logger:   logger.Named("batch"),
		Metrics:  metrics,
	})
	if err != nil {
		logger.LogError(ctx, "failed to create batch engine", err)
		log.Fatalf("Failed to create batch engine: %v", err)
	}

	// HTTP server for health checks and metrics
	server := newHTTPServer(cfg.Server.Port, meterProvider, pool)
	go func() {
		logger.Info("HTTP server listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogError(context.Background(), "HTTP server error", err)
		}
	}()

	logger.Info("batch execution engine ready",
		"chain_id", cfg.Chain.ID,
		"venues", len(cfg.Routing.Venues),
		"accounts", len(keyring.Accounts()),
		"event_publisher", cfg.Events.Publisher,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received, draining...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "HTTP server shutdown error", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "batches did not settle before the deadline", err)
	}
	// Stop the dispatcher last so terminal events from the drain still ship
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.LogError(shutdownCtx, "event drain incomplete", err)
	}
	logger.Info("engine stopped")
}

// newMeterProvider builds the metrics backend: Prometheus always when
// enabled, OTLP push alongside it when an endpoint is configured.
func newMeterProvider(cfg *config.Config) (observability.MeterProvider, error) {
	if !cfg.Observability.Metrics.Enabled {
		return observability.NewNoopMeterProvider(), nil
	}

	providers := []observability.MetricProviderConfig{
		{Type: observability.ProviderPrometheus},
	}
	if ep := cfg.Observability.Metrics.OTLPEndpoint; ep != "" {
		providers = append(providers, observability.MetricProviderConfig{
			Type:     observability.ProviderOTLP,
			Endpoint: ep,
			Insecure: true,
		})
	}

	return observability.NewMeterProvider(observability.MeterProviderConfig{
		ServiceName: serviceName,
		Providers:   providers,
	})
}

// newPublisher selects the transition event sink from configuration.
func newPublisher(
	ctx context.Context,
	cfg *config.Config,
	logger *observability.Logger,
	metrics *observability.Metrics,
	tracer observability.Tracer,
) (events.Publisher, error) {
	switch cfg.Events.Publisher {
	case "sns":
		awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{Region: cfg.AWS.Region})
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		snsClient := aws.NewSNSClient(aws.SNSClientConfig{
			AWSConfig: awsCfg,
			Logger:    logger,
			Metrics:   metrics,
		})
		return events.NewSNSPublisher(events.SNSPublisherConfig{
			SNSClient: snsClient,
			TopicARN:  cfg.AWS.SNSTopicARN,
			Logger:    logger,
			Metrics:   metrics,
			Tracer:    tracer,
		})
	case "noop":
		return events.NewNoopPublisher(), nil
	default:
		return events.NewLogPublisher(logger, metrics), nil
	}
}

// newHTTPServer serves health, readiness and metrics endpoints.
func newHTTPServer(port int, meterProvider observability.MeterProvider, pool *chain.Pool) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready only while at least one RPC endpoint is answering
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		body := struct {
			Status    string                          `json:"status"`
			Endpoints map[string]chain.EndpointStatus `json:"endpoints"`
		}{Status: "ready", Endpoints: pool.Status()}

		code := http.StatusOK
		if pool.HealthyCount() == 0 {
			body.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(body)
	})

	mux.Handle("/metrics", meterProvider.Handler())

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
}
