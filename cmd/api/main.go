package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wilson/brickwatch/internal/api"
	"github.com/wilson/brickwatch/internal/api/handlers"
	"github.com/wilson/brickwatch/internal/breaker"
	"github.com/wilson/brickwatch/internal/models"
	"github.com/wilson/brickwatch/internal/queue"
	"github.com/wilson/brickwatch/internal/ratelimit"
	"github.com/wilson/brickwatch/internal/repository"
	"github.com/wilson/brickwatch/internal/scheduler"
	"github.com/wilson/brickwatch/internal/scraper"
	"github.com/wilson/brickwatch/pkg/config"
	"github.com/wilson/brickwatch/pkg/logger"
	"github.com/wilson/brickwatch/pkg/middleware"
	"github.com/wilson/brickwatch/pkg/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	log.Info("Starting BrickWatch scraping service")

	// Initialize database connection pool
	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	dbConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		log.WithError(err).Fatal("Failed to parse database config")
	}

	dbConfig.MaxConns = 25
	dbConfig.MinConns = 5
	dbConfig.MaxConnLifetime = 1 * time.Hour
	dbConfig.MaxConnIdleTime = 30 * time.Minute
	dbConfig.HealthCheckPeriod = 1 * time.Minute
	dbConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	dbConfig.ConnConfig.RuntimeParams = map[string]string{
		"application_name":  "brickwatch",
		"timezone":          "UTC",
		"statement_timeout": "30s",
	}

	dbPool, err := pgxpool.NewWithConfig(dbCtx, dbConfig)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := dbPool.Ping(dbCtx); err != nil {
		log.WithError(err).Fatal("Failed to ping database")
	}
	log.Info("Successfully connected to database")

	// Initialize Redis: the shared coordination store for queue, breaker
	// and rate limiter state across worker processes.
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	log.Info("Successfully connected to Redis")

	// Shared-store primitives
	jobQueue := queue.New(redisClient, queue.Config{
		MaxAttempts:        cfg.Queue.MaxAttempts,
		BackoffBase:        cfg.Queue.GetBackoffBase(),
		BackoffCap:         cfg.Queue.GetBackoffCap(),
		CompletedRetention: cfg.Queue.CompletedRetention,
	}, log)

	circuitBreaker := breaker.New(redisClient, cfg.Breaker.Threshold, cfg.Breaker.GetCooldown(), log)

	domains := map[string]config.DomainRateLimit{}
	for baseURL, limit := range map[string]config.DomainRateLimit{
		cfg.Scraper.MarketplaceBaseURL: cfg.RateLimit.Marketplace,
		cfg.Scraper.RetirementURL:      cfg.RateLimit.Retirement,
		cfg.Scraper.MetadataBaseURL:    cfg.RateLimit.Metadata,
		cfg.Scraper.CommunityBaseURL:   cfg.RateLimit.Community,
	} {
		if domain, err := utils.GetDomain(baseURL); err == nil {
			domains[domain] = limit
		} else {
			log.WithError(err).Warnf("Skipping rate limit config for %s", baseURL)
		}
	}
	rateLimiter := ratelimit.New(redisClient, domains, log)

	// Repositories
	sessionRepo := repository.NewSessionRepository(dbPool, log)
	rawRepo := repository.NewRawPayloadRepository(dbPool, log)
	marketplaceRepo := repository.NewMarketplaceRepository(dbPool, log)
	retirementRepo := repository.NewRetirementRepository(dbPool, log)
	metadataRepo := repository.NewMetadataRepository(dbPool, log)
	communityRepo := repository.NewCommunityRepository(dbPool, log)
	retailRepo := repository.NewRetailRepository(dbPool, log)
	productRepo := repository.NewProductRepository(dbPool, log)

	// Scraper service with all source workers
	scraperService := scraper.NewService(&cfg.Scraper, rateLimiter, circuitBreaker, scraper.Stores{
		Sessions:    sessionRepo,
		Raws:        rawRepo,
		Marketplace: marketplaceRepo,
		Retirement:  retirementRepo,
		Metadata:    metadataRepo,
		Community:   communityRepo,
		Retail:      retailRepo,
		Products:    productRepo,
	}, log)
	defer scraperService.Close()

	// Worker pool consuming the queue
	pool := queue.NewWorkerPool(jobQueue, cfg.Queue.WorkerConcurrency, cfg.Queue.GetPollInterval(), log)
	for name, handler := range scraperService.Handlers() {
		pool.Register(name, handler)
	}
	pool.Start(context.Background())

	// Scheduler over the source repositories
	specs := []scheduler.SourceSpec{
		{
			Source:  models.SourceMarketplace,
			JobName: models.JobScrapeMarketplace,
			Repo:    marketplaceRepo,
			BuildURL: func(c models.ScrapeCandidate) string {
				return scraperService.Marketplace.ItemURL(c.Identifier, c.ItemType)
			},
		},
		{
			Source:  models.SourceRetirementTracker,
			JobName: models.JobScrapeRetirement,
			Repo:    retirementRepo,
			BuildURL: func(models.ScrapeCandidate) string {
				return cfg.Scraper.RetirementURL
			},
		},
		{
			Source:  models.SourceMetadataSite,
			JobName: models.JobScrapeMetadata,
			Repo:    metadataRepo,
			BuildURL: func(c models.ScrapeCandidate) string {
				return scraperService.Metadata.SearchURL(c.Identifier)
			},
		},
		{
			Source:  models.SourceCommunity,
			JobName: models.JobScrapeCommunity,
			Repo:    communityRepo,
			BuildURL: func(c models.ScrapeCandidate) string {
				return scraperService.Community.SearchURL(c.Identifier)
			},
		},
	}

	scraperScheduler := scheduler.NewScheduler(specs, jobQueue, cfg.Scheduler.GetSweepInterval(), log)
	if cfg.Scheduler.Enabled {
		scraperScheduler.Start(context.Background())
		log.Infof("Scheduled sweeps enabled with interval: %v", cfg.Scheduler.GetSweepInterval())
	} else {
		log.Info("Scheduled sweeps disabled")
	}

	detector := scheduler.NewDetector(dbPool, jobQueue, cfg.Scheduler.GetDetectInterval(), log)
	if cfg.Scheduler.DetectEnabled {
		detector.Start(context.Background())
		log.Infof("Missing-data detection enabled with interval: %v", cfg.Scheduler.GetDetectInterval())
	}

	// Handlers and middleware
	queueHandler := handlers.NewQueueHandler(jobQueue, scraperScheduler, log)
	scraperHandler := handlers.NewScraperHandler(scraperScheduler, detector, scraperService.Retail, log)
	healthHandler := handlers.NewHealthHandler(dbPool, redisClient, jobQueue, circuitBreaker, log)

	apiLimiter := middleware.NewRateLimiter(redisClient, cfg.API.RateLimitRequests, cfg.API.RateLimitWindowSeconds)

	var auth *middleware.APIKeyAuth
	if cfg.API.APIKey != "" {
		auth = middleware.NewAPIKeyAuth(cfg.API.APIKey, cfg.API.APIKeyHeader)
		log.Info("API key authentication enabled")
	} else {
		log.Warn("API key authentication disabled - no API_KEY configured")
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "BrickWatch Control Plane",
		ReadTimeout:  cfg.API.GetAPITimeout(),
		WriteTimeout: cfg.API.GetAPITimeout(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	api.SetupRoutes(app, queueHandler, scraperHandler, healthHandler, apiLimiter, auth, log)

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.APIPort)
		log.Infof("Starting control plane on %s", addr)
		if err := app.Listen(addr); err != nil {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.WithError(err).Fatal("Server failed to start")
	case <-quit:
		log.Info("Shutting down...")
	}

	if scraperScheduler.IsRunning() {
		scraperScheduler.Stop()
	}
	detector.Stop()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}
