package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fundline/outreach/internal/approval"
	"github.com/fundline/outreach/internal/campaign"
	"github.com/fundline/outreach/internal/config"
	"github.com/fundline/outreach/internal/dispatch"
	"github.com/fundline/outreach/internal/draft"
	"github.com/fundline/outreach/internal/enrich"
	"github.com/fundline/outreach/internal/followup"
	"github.com/fundline/outreach/internal/orchestrator"
	"github.com/fundline/outreach/internal/pkg/distlock"
	"github.com/fundline/outreach/internal/pkg/httpretry"
	"github.com/fundline/outreach/internal/pkg/ratelimit"
	"github.com/fundline/outreach/internal/scoring"
	"github.com/fundline/outreach/internal/store/postgres"

	"github.com/redis/go-redis/v9"
)

// The worker is the pipeline without the API: it drains whatever the
// shared store holds and runs follow-up sweeps. Deployments that
// terminate HTTP elsewhere run one of these next to a thin API node;
// the sweep lock keeps concurrent workers from double-firing.
func main() {
	log.Println("Starting Fundline Outreach Worker...")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required: the worker only makes sense against shared Postgres storage")
	}

	db, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	bundle := postgres.NewBundle(db)
	log.Println("Connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
			log.Printf("Warning: Redis connection failed: %v — falling back to in-process limits and PG advisory locks", err)
			redisClient.Close()
			redisClient = nil
		}
		pingCancel()
	}

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

	campaignSvc := campaign.NewService(bundle.Campaigns, bundle.Items, campaign.Defaults{
		ReplySLAHours:    cfg.FollowUp.DefaultReplySLAHours,
		MaxStageAttempts: cfg.Pipeline.MaxStageAttempts,
		MaxFollowUps:     cfg.FollowUp.DefaultMaxFollowUps,
	}, distlock.New(redisClient, db, "campaign_recount", 2*time.Minute))

	httpClient := httpretry.New(&http.Client{Timeout: cfg.Enrichment.Timeout()}, 3).WithUserAgent(cfg.Enrichment.UserAgent)
	var sources []enrich.Source
	if cfg.Enrichment.DirectoryPath != "" {
		if dir, err := enrich.LoadDirectorySource(cfg.Enrichment.DirectoryPath); err != nil {
			log.Printf("Warning: investor directory not loaded: %v", err)
		} else {
			sources = append(sources, dir)
		}
	}
	sources = append(sources,
		enrich.NewSiteSource(httpClient),
		enrich.NewRSSSource(cfg.Enrichment.UserAgent, cfg.Enrichment.MaxActivityItems),
	)
	enricher := enrich.NewCollector(bundle.Profiles, cfg.Enrichment.MaxActivityItems, sources...)

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
	}

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
	}
	dispatcher := dispatch.NewEngine(transport, bundle.Sends)

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
	engine.SetGate(approval.NewGate(bundle.Items, engine, campaignSvc))

	scheduler := followup.NewScheduler(bundle.Items, bundle.Campaigns, bundle.Tasks, cfg.FollowUp, followup.Options{
		Pipeline: engine,
		Lock:     distlock.New(redisClient, db, "followup_sweep", time.Duration(cfg.FollowUp.TickSeconds)*time.Second),
	})

	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start pipeline engine: %v", err)
	}
	if n, err := engine.Recover(ctx); err != nil {
		log.Printf("Warning: recovery scan failed: %v", err)
	} else {
		log.Printf("Recovery scan complete: %d items re-enqueued", n)
	}

	go scheduler.Run(ctx)
	log.Println("Worker running — waiting for items")

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down...")
	cancel()
	scheduler.Stop()
	engine.Stop()
	if redisClient != nil {
		redisClient.Close()
	}
	log.Println("Worker stopped")
}
