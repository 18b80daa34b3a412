package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fundline/outreach/internal/api"
	"github.com/fundline/outreach/internal/approval"
	"github.com/fundline/outreach/internal/auth"
	"github.com/fundline/outreach/internal/campaign"
	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/dispatch"
	"github.com/fundline/outreach/internal/draft"
	"github.com/fundline/outreach/internal/engagement"
	"github.com/fundline/outreach/internal/enrich"
	"github.com/fundline/outreach/internal/followup"
	"github.com/fundline/outreach/internal/orchestrator"
	"github.com/fundline/outreach/internal/pkg/distlock"
	"github.com/fundline/outreach/internal/pkg/httpretry"
	"github.com/fundline/outreach/internal/pkg/ratelimit"
	"github.com/fundline/outreach/internal/report"
	"github.com/fundline/outreach/internal/scoring"
	"github.com/fundline/outreach/internal/store"
	"github.com/fundline/outreach/internal/store/postgres"

	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  FUNDLINE Outreach Server (cmd/server/main.go)             ║")
	log.Println("║  Investor outreach pipeline with human approval gate       ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	port := cfg.Server.Port
	if port == 0 {
		port = 8080
		cfg.Server.Port = port
	}
	if err := checkPortAvailable(cfg.Server.Host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	ctx, cancel := context.WithCancel(context.Background())

	// Initialize stores
	var (
		db     *sql.DB
		bundle store.Bundle
	)
	if cfg.Database.URL != "" {
		log.Printf("Connecting to Postgres: ...@%s/...", extractHost(cfg.Database.URL))
		db, err = postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		bundle = postgres.NewBundle(db)
		log.Println("Postgres stores initialized")
	} else {
		bundle = store.NewMemory().Bundle()
		log.Println("No database configured (DATABASE_URL not set) — using in-memory stores, state is lost on restart")
	}

	// Initialize Redis for distributed rate limits and locks
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v — falling back to in-process limits and PG advisory locks", cfg.Redis.URL, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s (distributed rate limiting enabled)", cfg.Redis.URL)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured (REDIS_URL not set) — using in-process rate limits")
	}

	// Rate limit registry shared by the pipeline stages
	var limiter ratelimit.Limiter
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient)
	} else {
		limiter = ratelimit.NewLocalLimiter()
	}
	limits := make(map[string]ratelimit.Limit, len(cfg.RateLimits))
	for name, lc := range cfg.RateLimits {
		limits[name] = ratelimit.Limit{PerSecond: lc.PerSecond, PerMinute: lc.PerMinute, PerHour: lc.PerHour}
	}
	registry := ratelimit.NewRegistry(limiter, limits)

	// Campaign service. The recount lock only matters with shared
	// storage; a memory-backed single process skips it.
	var recountLock distlock.Lock
	if redisClient != nil || db != nil {
		recountLock = distlock.New(redisClient, db, "campaign_recount", 2*time.Minute)
	}
	campaignSvc := campaign.NewService(bundle.Campaigns, bundle.Items, campaign.Defaults{
		ReplySLAHours:    cfg.FollowUp.DefaultReplySLAHours,
		MaxStageAttempts: cfg.Pipeline.MaxStageAttempts,
		MaxFollowUps:     cfg.FollowUp.DefaultMaxFollowUps,
	}, recountLock)

	// Enrichment sources: curated directory first, then the investor's
	// own site and feed.
	httpClient := httpretry.New(&http.Client{Timeout: cfg.Enrichment.Timeout()}, 3).WithUserAgent(cfg.Enrichment.UserAgent)
	var sources []enrich.Source
	if cfg.Enrichment.DirectoryPath != "" {
		dir, err := enrich.LoadDirectorySource(cfg.Enrichment.DirectoryPath)
		if err != nil {
			log.Printf("Warning: investor directory not loaded (%s): %v", cfg.Enrichment.DirectoryPath, err)
		} else {
			sources = append(sources, dir)
			log.Printf("Investor directory loaded: %s", cfg.Enrichment.DirectoryPath)
		}
	}
	sources = append(sources,
		enrich.NewSiteSource(httpClient),
		enrich.NewRSSSource(cfg.Enrichment.UserAgent, cfg.Enrichment.MaxActivityItems),
	)
	enricher := enrich.NewCollector(bundle.Profiles, cfg.Enrichment.MaxActivityItems, sources...)

	// Scoring engine
	scorer := scoring.NewEngine(scoring.Config{
		Weights: scoring.Weights{
			Stage:            cfg.Scoring.Weights.Stage,
			Sector:           cfg.Scoring.Weights.Sector,
			Geography:        cfg.Scoring.Weights.Geography,
			CheckSize:        cfg.Scoring.Weights.CheckSize,
			PortfolioSynergy: cfg.Scoring.Weights.PortfolioSynergy,
		},
		Neutral: cfg.Scoring.NeutralScore,
	})

	// Drafting. Dev mode and the template provider run without model
	// access; bedrock misconfiguration fails the boot rather than
	// producing a pipeline that stalls at the draft stage.
	var composer orchestrator.Composer
	switch {
	case cfg.Server.DevMode, cfg.Drafting.Provider == "template":
		composer = draft.NewTemplateComposer(cfg.Dispatch.FromName)
		log.Println("Drafting: template composer (no model access)")
	default:
		gen, err := draft.NewBedrockGenerator(ctx, cfg.Drafting)
		if err != nil {
			log.Fatalf("Failed to initialize Bedrock generator: %v", err)
		}
		composer = draft.NewService(gen, cfg.Drafting, cfg.Dispatch.FromName)
		log.Printf("Drafting: bedrock model %s (region %s)", cfg.Drafting.ModelID, cfg.Drafting.Region)
	}

	// Dispatch transport. Loopback accepts everything locally; SES needs
	// a verified from-address.
	var transport dispatch.Transport
	if cfg.Server.DevMode {
		transport = dispatch.NewLoopbackTransport()
		log.Println("Dispatch: loopback transport (dev mode, nothing leaves the process)")
	} else {
		if cfg.Dispatch.FromEmail == "" {
			log.Fatalf("Dispatch is not configured: DISPATCH_FROM_EMAIL is required outside dev mode")
		}
		transport, err = dispatch.NewSESTransport(ctx, cfg.Dispatch)
		if err != nil {
			log.Fatalf("Failed to initialize SES transport: %v", err)
		}
		log.Printf("Dispatch: SES region %s, from %s <%s>", cfg.Dispatch.Region, cfg.Dispatch.FromName, cfg.Dispatch.FromEmail)
	}
	dispatcher := dispatch.NewEngine(transport, bundle.Sends)

	// Pipeline engine and the approval gate, which is constructed with a
	// reference back to the engine for post-approval resume.
	engine := orchestrator.New(orchestrator.Deps{
		Items:      bundle.Items,
		Campaigns:  bundle.Campaigns,
		Profiles:   bundle.Profiles,
		Enricher:   enricher,
		Scorer:     scorer,
		Composer:   composer,
		Dispatcher: dispatcher,
		Counters:   campaignSvc,
		Limits:     registry,
	}, cfg.Pipeline)
	gate := approval.NewGate(bundle.Items, engine, campaignSvc)
	engine.SetGate(gate)

	// Follow-up scheduler. Without a reply classifier every reply routes
	// to manual triage.
	var sweepLock distlock.Lock
	if redisClient != nil || db != nil {
		sweepLock = distlock.New(redisClient, db, "followup_sweep", time.Duration(cfg.FollowUp.TickSeconds)*time.Second)
	}
	scheduler := followup.NewScheduler(bundle.Items, bundle.Campaigns, bundle.Tasks, cfg.FollowUp, followup.Options{
		Pipeline: engine,
		Lock:     sweepLock,
	})

	// Engagement tracking: webhook receiver feeding the tracker, tracker
	// nudging the scheduler.
	tracker := engagement.NewTracker(bundle.Items, bundle.Events, campaignSvc, scheduler)
	webhooks := engagement.NewWebhookHandler(tracker)

	// Reporting
	reporter := report.NewGenerator(bundle.Campaigns, bundle.Items, bundle.Profiles)
	var reportStore *report.Storage
	if rs, err := report.NewStorage(ctx, cfg.Reports); err != nil {
		log.Printf("Warning: report storage not available: %v — snapshot endpoints disabled", err)
	} else {
		reportStore = rs
		log.Printf("Report storage initialized (%s)", reportStore.Backend())
	}

	// Initialize authentication manager if enabled
	var authManager *auth.AuthManager
	if cfg.Auth.Enabled && cfg.Auth.GoogleClientID != "" {
		baseURL := cfg.Server.BaseURL
		if baseURL == "" {
			host := cfg.Server.Host
			if host == "" {
				host = "localhost"
			}
			baseURL = fmt.Sprintf("http://%s:%d", host, port)
		}
		authManager = auth.NewAuthManager(&cfg.Auth, baseURL)

		// Pre-flight: validate OAuth credentials against Google before
		// accepting traffic, so misconfiguration does not surface only
		// at approver login time.
		log.Println("Validating Google OAuth credentials...")
		if err := authManager.ValidateCredentials(context.Background()); err != nil {
			log.Fatalf("OAuth pre-flight FAILED: %v", err)
		}
		log.Println("Google OAuth credentials validated successfully")

		authManager.CleanupExpiredSessions()
		log.Printf("Google OAuth enabled for domain: %s (callback: %s/auth/callback)", cfg.Auth.AllowedDomain, baseURL)
	} else {
		log.Println("Authentication disabled — approval endpoints are open, do not expose this publicly")
	}

	// Build the API surface. Routes are wired once at server
	// construction, so every collaborator must be attached first.
	handlers := api.NewHandlers(engine, campaignSvc, gate, bundle.Items)
	handlers.SetScheduler(scheduler)
	handlers.SetTracker(tracker)
	handlers.SetWebhookHandler(webhooks)
	handlers.SetReports(reporter)
	if reportStore != nil {
		handlers.SetReportStore(reportStore)
	}
	handlers.SetHealthChecker(api.NewHealthChecker(db, redisClient, reportStore, engine))

	var server *api.Server
	if authManager != nil {
		server = api.NewServerWithAuth(cfg.Server, handlers, authManager)
	} else {
		server = api.NewServer(cfg.Server, handlers)
	}
	log.Println("Health check routes registered: /health, /health/live, /health/ready")

	// Start the pipeline and re-enqueue whatever the previous process
	// left mid-stage.
	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start pipeline engine: %v", err)
	}
	log.Printf("Pipeline engine started (enrich=%d draft=%d dispatch=%d workers)",
		cfg.Pipeline.EnrichWorkers, cfg.Pipeline.DraftWorkers, cfg.Pipeline.DispatchWorkers)
	if n, err := engine.Recover(ctx); err != nil {
		log.Printf("Warning: recovery scan failed: %v", err)
	} else if n > 0 {
		log.Printf("Recovered %d in-flight items from the previous run", n)
	}

	go scheduler.Run(ctx)
	log.Printf("Follow-up scheduler started (tick every %ds, reply SLA %dh)",
		cfg.FollowUp.TickSeconds, cfg.FollowUp.DefaultReplySLAHours)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := cfg.Server.Addr()
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — server is ready")

	<-done
	log.Println("Shutting down...")

	// Cancel background tasks
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	scheduler.Stop()
	engine.Stop()

	if redisClient != nil {
		redisClient.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Println("Server stopped")
}
