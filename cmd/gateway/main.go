package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/moatsec/moat/pkg/ai"
	"github.com/moatsec/moat/pkg/cache"
	"github.com/moatsec/moat/pkg/config"
	"github.com/moatsec/moat/pkg/heuristic"
	"github.com/moatsec/moat/pkg/logging"
	"github.com/moatsec/moat/pkg/patterns"
	"github.com/moatsec/moat/pkg/pipeline"
	"github.com/moatsec/moat/pkg/quota"
	"github.com/moatsec/moat/pkg/reputation"
	"github.com/moatsec/moat/pkg/store"
	"github.com/moatsec/moat/pkg/telemetry"
	"github.com/moatsec/moat/pkg/threat"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServer()
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: moat scan <text>")
			os.Exit(1)
		}
		runCLIScan(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Moat v%s\n", Version)
		fmt.Println("Email & URL risk-scoring engine")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Moat v%s - email & URL risk-scoring engine\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  moat serve           Start the scoring gateway")
	fmt.Println("  moat scan <text>     Score text from the command line (heuristics only)")
	fmt.Println("  moat version         Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  MOAT_LISTEN_ADDR     Gateway listen address (default :8600)")
	fmt.Println("  MOAT_AI_PROVIDER     AI provider: openrouter, groq, openai, ollama, none")
	fmt.Println("  MOAT_AI_API_KEY      API key for cloud AI providers")
	fmt.Println("  MOAT_REDIS_ADDR      Usage store address (default localhost:6379)")
	fmt.Println("  MOAT_POSTGRES_URL    Durable verdict store; empty disables persistence")
	fmt.Println("  MOAT_PATTERNS_PATH   Optional YAML pattern overrides")
}

// engine bundles everything the HTTP surface needs.
type engine struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	cache    *cache.ResponseCache
	registry *prometheus.Registry
	logger   *zap.Logger
	closers  []func()
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lib, err := loadPatterns(cfg)
	if err != nil {
		return nil, err
	}
	thresholds := threat.Thresholds{
		Suspicious: cfg.SuspiciousThreshold,
		Malicious:  cfg.MaliciousThreshold,
	}
	scorer := heuristic.NewScorer(lib, thresholds)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.New(registry)

	eng := &engine{cfg: cfg, registry: registry, logger: logger}

	// Persistent store collaborator.
	var st store.Store = store.Noop{}
	if cfg.PostgresURL != "" {
		pg, err := store.NewPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("persistent store: %w", err)
		}
		st = pg
		eng.closers = append(eng.closers, pg.Close)
		logger.Info("durable persistence enabled")
	}

	// Usage governor over Redis. Outages fail open at check time.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	eng.closers = append(eng.closers, func() { _ = rdb.Close() })
	governor := quota.NewGovernor(rdb, st, logger)

	// Response cache with its background sweeper. Eviction counts live
	// inside the cache, so they are exported as a counter func.
	respCache := cache.New(cfg.CacheTTL, cfg.CacheCapacity, nil)
	go respCache.Run(cfg.CacheSweep)
	eng.cache = respCache
	eng.closers = append(eng.closers, respCache.Close)
	registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "moat",
		Name:      "response_cache_evictions_total",
		Help:      "Entries evicted from the AI response cache.",
	}, func() float64 { return float64(respCache.Stats().Evictions) }))

	// Reputation registry: curated list, structural analysis, community votes.
	community := reputation.NewCommunityProvider(0, nil)
	aggregator := reputation.NewAggregator(
		[]reputation.Provider{
			reputation.NewCuratedProvider(lib, nil),
			reputation.NewStructuralProvider(scorer, nil),
			community,
		},
		logger,
		reputation.WithProviderTimeout(cfg.ProviderTimeout),
		reputation.WithLookupTTL(cfg.ReputationTTL),
		reputation.WithErrorHook(func(provider string) {
			metrics.ProviderErrors.WithLabelValues(provider).Inc()
		}),
	)

	// AI orchestrator, unless the deployment is heuristics-only.
	var orchestrator *ai.Orchestrator
	if cfg.AIProvider != config.ProviderNone {
		client := ai.NewClient(ai.ClientConfig{
			Provider:  ai.Provider(cfg.AIProvider),
			APIKey:    cfg.AIAPIKey,
			Model:     cfg.AIModel,
			BaseURL:   cfg.AIBaseURL,
			MaxTokens: cfg.AIMaxTokens,
			Timeout:   cfg.AITimeout,
			RateLimit: cfg.AIRateLimit,
		})
		orchestrator = ai.NewOrchestrator(ai.OrchestratorConfig{
			Analyzer:   client,
			Scorer:     scorer,
			Cache:      respCache,
			Quota:      governor,
			Metrics:    metrics,
			Logger:     logger,
			Timeout:    cfg.AITimeout,
			MaxAIRunes: cfg.MaxAIContentRunes,
		})
		logger.Info("AI analysis enabled",
			zap.String("provider", string(cfg.AIProvider)),
			zap.String("model", client.ModelName()))
	} else {
		logger.Info("AI analysis disabled, heuristics only")
	}

	var notifier pipeline.Notifier
	if cfg.NotifyWebhookURL != "" {
		notifier = pipeline.NewWebhookNotifier(cfg.NotifyWebhookURL)
	}

	eng.pipeline = pipeline.New(pipeline.Config{
		Scorer:          scorer,
		Orchestrator:    orchestrator,
		Reputation:      aggregator,
		Community:       community,
		Cache:           respCache,
		Quota:           governor,
		Store:           st,
		Notifier:        notifier,
		Metrics:         metrics,
		Logger:          logger,
		MaxContentBytes: cfg.MaxContentBytes,
	})
	return eng, nil
}

func loadPatterns(cfg *config.Config) (*patterns.Library, error) {
	if cfg.PatternsPath == "" {
		return patterns.Default(), nil
	}
	lib, err := patterns.Load(cfg.PatternsPath)
	if err != nil {
		return nil, fmt.Errorf("pattern overrides: %w", err)
	}
	return lib, nil
}

func (e *engine) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

func runServer() {
	cfg := config.NewDefaultConfig()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer eng.close()

	app := newApp(eng)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.ShutdownWithContext(sctx)
	}()

	logger.Info("gateway listening", zap.String("addr", cfg.ListenAddr))
	if err := app.Listen(cfg.ListenAddr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newApp(eng *engine) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Moat",
	})
	p := eng.pipeline

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})

	app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(eng.registry, promhttp.HandlerOpts{})))

	app.Post("/v1/scan/email", func(c fiber.Ctx) error {
		var req struct {
			Identity threat.Identity     `json:"identity"`
			Email    threat.EmailRequest `json:"email"`
			SkipAI   bool                `json:"skip_ai"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		return runScan(c, p, threat.ScanRequest{
			Identity: normalizeIdentity(req.Identity),
			Email:    &req.Email,
			SkipAI:   req.SkipAI,
		})
	})

	app.Post("/v1/scan/link", func(c fiber.Ctx) error {
		var req struct {
			Identity threat.Identity    `json:"identity"`
			Link     threat.LinkRequest `json:"link"`
			SkipAI   bool               `json:"skip_ai"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		return runScan(c, p, threat.ScanRequest{
			Identity: normalizeIdentity(req.Identity),
			Link:     &req.Link,
			SkipAI:   req.SkipAI,
		})
	})

	app.Get("/v1/quota/:identity", func(c fiber.Ctx) error {
		tier := threat.ParseTier(c.Query("tier", string(threat.TierFree)))
		status := p.CheckQuota(c.Context(), c.Params("identity"), tier)
		return c.JSON(status)
	})

	app.Get("/v1/reputation", func(c fiber.Ctx) error {
		target := strings.TrimSpace(c.Query("target"))
		if target == "" {
			return badRequest(c, "target query parameter is required")
		}
		entry := p.LookupReputation(c.Context(), target)
		return c.JSON(entry)
	})

	app.Post("/v1/reputation/report", func(c fiber.Ctx) error {
		var rep reputation.Report
		if err := c.Bind().Body(&rep); err != nil {
			return badRequest(c, "invalid report body")
		}
		if err := p.ReportReputation(rep); err != nil {
			if threat.IsInputError(err) {
				return badRequest(c, err.Error())
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
	})

	app.Get("/v1/cache/stats", func(c fiber.Ctx) error {
		return c.JSON(p.CacheStats())
	})

	return app
}

// runScan executes the scan and maps input errors to 400. Every other
// degradation is already inside the verdict.
func runScan(c fiber.Ctx, p *pipeline.Pipeline, req threat.ScanRequest) error {
	verdict, err := p.Scan(c.Context(), req)
	if err != nil {
		if threat.IsInputError(err) {
			return badRequest(c, err.Error())
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "scan failed"})
	}
	return c.JSON(verdict)
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func normalizeIdentity(id threat.Identity) threat.Identity {
	if id.ID == "" {
		id.ID = "anonymous"
	}
	id.Tier = threat.ParseTier(string(id.Tier))
	return id
}

// ============================================================================
// CLI Mode
// ============================================================================

// runCLIScan scores text with the deterministic path only: no Redis, no AI,
// no persistence. Useful for smoke tests and piping suspicious mail through.
func runCLIScan(text string) {
	logger := zap.NewNop()
	scorer := heuristic.NewScorer(patterns.Default(), threat.DefaultThresholds())
	p := pipeline.New(pipeline.Config{Scorer: scorer, Logger: logger})

	verdict, err := p.Scan(context.Background(), threat.ScanRequest{
		Identity: threat.Identity{ID: "cli", Tier: threat.TierFree},
		Email:    &threat.EmailRequest{Body: text},
		SkipAI:   true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(verdict, "", "  ")
	fmt.Println(string(out))
}
