package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felipepmaragno/model-router/internal/api"
	"github.com/felipepmaragno/model-router/internal/auth"
	"github.com/felipepmaragno/model-router/internal/budget"
	"github.com/felipepmaragno/model-router/internal/cache"
	"github.com/felipepmaragno/model-router/internal/chunker"
	"github.com/felipepmaragno/model-router/internal/circuitbreaker"
	"github.com/felipepmaragno/model-router/internal/config"
	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/httputil"
	"github.com/felipepmaragno/model-router/internal/metrics"
	"github.com/felipepmaragno/model-router/internal/notifications"
	"github.com/felipepmaragno/model-router/internal/provider"
	"github.com/felipepmaragno/model-router/internal/provider/anthropic"
	"github.com/felipepmaragno/model-router/internal/provider/bedrock"
	"github.com/felipepmaragno/model-router/internal/provider/gemini"
	"github.com/felipepmaragno/model-router/internal/provider/ollama"
	"github.com/felipepmaragno/model-router/internal/provider/openai"
	"github.com/felipepmaragno/model-router/internal/queue"
	"github.com/felipepmaragno/model-router/internal/ratelimit"
	"github.com/felipepmaragno/model-router/internal/registry"
	"github.com/felipepmaragno/model-router/internal/router"
	"github.com/felipepmaragno/model-router/internal/secrets"
	"github.com/felipepmaragno/model-router/internal/telemetry"
	"github.com/redis/go-redis/v9"
)

const serviceName = "model-router"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting model router", "addr", cfg.Addr, "version", api.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.InitInstanceMetrics(cfg.PodName, cfg.PodNamespace, api.Version)

	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{
			ServiceName: serviceName,
			Version:     api.Version,
			Endpoint:    cfg.OTLPEndpoint,
			SampleRatio: cfg.TraceSampleRatio,
		})
		if err != nil {
			slog.Warn("failed to initialize tracing", "error", err)
		} else {
			defer shutdownTracing(context.Background())
		}
	}

	if cfg.SecretsName != "" {
		loadSecrets(ctx, cfg)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	backends, listers := buildBackends(ctx, cfg)
	if len(backends) == 0 {
		slog.Warn("no backends configured, every request will fail until credentials are provided")
	}
	pool := provider.NewPool(backends...)

	registryOpts := []registry.Option{
		registry.WithSnapshotStore(buildSnapshotStore(ctx, cfg, redisClient, db)),
		registry.WithEnricher(registry.NewCatalogEnricher()),
		registry.WithRankPolicy(registry.DefaultTierPolicy().Prefer(cfg.PreferredModels)),
		registry.WithTTL(cfg.DiscoveryTTL),
		registry.WithFallbackTTL(cfg.FallbackTTL),
		registry.WithMaxModels(cfg.MaxCandidates),
	}
	if fallback := registry.ParseFallback(cfg.FallbackModels); len(fallback) > 0 {
		registryOpts = append(registryOpts, registry.WithFallback(fallback))
	}
	reg := registry.New(registry.MultiLister(listers), registryOpts...)

	var responseCache cache.Cache
	if redisClient != nil {
		responseCache = cache.NewRedisCacheWithClient(redisClient, cfg.CacheCapacity)
		slog.Info("using redis response cache")
	} else {
		responseCache = cache.NewInMemoryCache(cfg.CacheCapacity)
		slog.Info("using in-memory response cache", "capacity", cfg.CacheCapacity)
	}

	cbConfig := circuitbreaker.Config{
		FailureThreshold: cfg.CBFailureThreshold,
		Timeout:          cfg.CBResetTimeout,
	}
	var breakerOpts []circuitbreaker.ManagerOption
	if cfg.UseDistributedCircuitBreaker && redisClient != nil {
		breakerOpts = append(breakerOpts, circuitbreaker.WithRedisClient(redisClient))
		slog.Info("using distributed circuit breakers")
	}
	breakers := circuitbreaker.NewManager(cbConfig, breakerOpts...)

	sinks := []router.EventSink{metrics.NewRecorder()}
	var closers []func()

	var notifier notifications.Notifier = notifications.LogNotifier{}
	if cfg.SNSTopicARN != "" {
		sn, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Warn("failed to create sns notifier, alerts go to the log", "error", err)
		} else {
			notifier = sn
			slog.Info("sns alerts enabled", "topic", cfg.SNSTopicARN)
		}
	}
	var dedup notifications.AlertDeduplicator
	if redisClient != nil {
		dedup = notifications.NewRedisDeduplicator(redisClient, cfg.AlertDedupWindow)
	} else {
		dedup = notifications.NewInMemoryDeduplicator(cfg.AlertDedupWindow)
	}
	alerts := notifications.NewAlertSink(notifier, dedup)
	sinks = append(sinks, alerts)
	closers = append(closers, alerts.Close)

	if cfg.SQSEventsURL != "" {
		q, err := queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.SQSEventsURL)
		if err != nil {
			slog.Warn("failed to create sqs queue, event export disabled", "error", err)
		} else {
			publisher := queue.NewEventPublisher(q)
			sinks = append(sinks, publisher)
			closers = append(closers, publisher.Close)
			slog.Info("sqs event export enabled", "queue", cfg.SQSEventsURL)
		}
	}

	routerConfig := router.Config{
		MaxAttempts:          cfg.RetryMaxAttempts,
		BaseDelay:            cfg.RetryBaseDelay,
		MaxDelay:             cfg.RetryMaxDelay,
		MaxJitter:            router.DefaultConfig().MaxJitter,
		CacheTTL:             cfg.CacheTTL,
		PartitionCacheByUser: cfg.CachePartitionByUser,
		RouteTimeout:         cfg.RouteTimeout,
	}

	modelRouter := router.New(reg,
		func(m domain.ModelDescriptor) router.Provider { return pool.Adapter(m) },
		router.WithCache(responseCache),
		router.WithBreakers(breakers),
		router.WithEventSink(sinks...),
		router.WithConfig(routerConfig),
	)

	checkers := []api.HealthChecker{api.NewBackendsChecker(pool.Names())}
	if redisClient != nil {
		checkers = append(checkers, api.NewRedisChecker(redisClient))
	}
	if db != nil {
		checkers = append(checkers, api.NewPostgresChecker(db))
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPM > 0 {
		if redisClient != nil {
			limiter = ratelimit.NewRedisLimiter(redisClient)
		} else {
			limiter = ratelimit.NewInMemoryLimiter()
		}
		slog.Info("inbound rate limit enabled", "rpm", cfg.RateLimitRPM)
	}

	handler := api.NewHandler(api.HandlerConfig{
		Router:       modelRouter,
		Models:       reg,
		Splitter:     chunker.New(),
		Allocator:    budget.NewAllocator(nil),
		Checkers:     checkers,
		Limiter:      limiter,
		RateLimitRPM: cfg.RateLimitRPM,
	})
	handler.Mount("/admin/", api.NewAdminHandler(reg, breakers, buildAdminAuth(cfg)))

	go func() {
		models := reg.Discover(ctx, false)
		metrics.SetDiscoveredModels(len(models))
	}()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	for _, closeSink := range closers {
		closeSink()
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func loadSecrets(ctx context.Context, cfg *config.Config) {
	store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		slog.Warn("failed to create secrets manager client", "error", err)
		return
	}

	creds, err := secrets.LoadCredentials(ctx, store, cfg.SecretsName)
	if err != nil {
		slog.Warn("failed to load credentials from secrets manager", "secret", cfg.SecretsName, "error", err)
		return
	}

	cfg.MergeCredentials(creds)
	slog.Info("loaded credentials from secrets manager", "secret", cfg.SecretsName, "providers", creds.Providers())
}

type listingBackend interface {
	provider.Backend
	registry.Lister
}

func buildBackends(ctx context.Context, cfg *config.Config) ([]provider.Backend, []registry.Lister) {
	client := httputil.NewClient(httputil.DefaultConfig())

	var candidates []listingBackend

	if cfg.GeminiAPIKey != "" {
		b, err := gemini.New(ctx, gemini.Config{
			APIKey:     cfg.GeminiAPIKey,
			BaseURL:    cfg.GeminiBaseURL,
			HTTPClient: client,
		})
		if err != nil {
			slog.Error("failed to create gemini backend", "error", err)
		} else {
			candidates = append(candidates, b)
		}
	}

	if cfg.OpenAIAPIKey != "" {
		candidates = append(candidates, openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			HTTPClient: client,
		}))
	}

	if cfg.AnthropicAPIKey != "" {
		candidates = append(candidates, anthropic.New(anthropic.Config{
			APIKey:     cfg.AnthropicAPIKey,
			HTTPClient: client,
		}))
	}

	if len(cfg.BedrockModels) > 0 {
		b, err := bedrock.New(ctx, cfg.AWSRegion, cfg.BedrockModels...)
		if err != nil {
			slog.Error("failed to create bedrock backend", "error", err)
		} else {
			candidates = append(candidates, b)
		}
	}

	if cfg.OllamaBaseURL != "" {
		candidates = append(candidates, ollama.New(cfg.OllamaBaseURL, client))
	}

	var backends []provider.Backend
	var listers []registry.Lister
	for _, b := range candidates {
		if !b.Configured() {
			slog.Warn("backend credentials missing or placeholder, skipping", "provider", b.Name())
			continue
		}
		backends = append(backends, b)
		listers = append(listers, b)
		slog.Info("registered backend", "provider", b.Name())
	}

	return backends, listers
}

func buildSnapshotStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, db *sql.DB) registry.SnapshotStore {
	switch cfg.ModelCacheBackend {
	case "redis":
		if redisClient != nil {
			slog.Info("persisting model list in redis")
			return registry.NewRedisStore(redisClient, "model-router:models")
		}
		slog.Warn("MODEL_CACHE_BACKEND=redis without REDIS_URL, falling back to file")

	case "postgres":
		if db != nil {
			store := registry.NewPostgresStore(db, serviceName)
			if err := store.EnsureSchema(ctx); err != nil {
				slog.Warn("failed to prepare model snapshot table, falling back to file", "error", err)
				break
			}
			slog.Info("persisting model list in postgres")
			return store
		}
		slog.Warn("MODEL_CACHE_BACKEND=postgres without DATABASE_URL, falling back to file")

	case "none":
		return registry.NopStore{}
	}

	slog.Info("persisting model list on disk", "path", cfg.ModelCacheFile)
	return registry.NewFileStore(cfg.ModelCacheFile)
}

func buildAdminAuth(cfg *config.Config) *auth.RBACMiddleware {
	if !cfg.AdminAuthEnabled {
		return nil
	}

	store, err := auth.ParseOperators(cfg.AdminOperators)
	if err != nil {
		slog.Error("invalid ADMIN_OPERATORS", "error", err)
		os.Exit(1)
	}
	if store.Len() == 0 {
		slog.Warn("admin auth enabled without operators, admin endpoints will reject every request")
	}

	return auth.NewRBACMiddleware(auth.NewAuthenticator(store))
}
