// Package main provides the main entry point for the Raijin outbound dialing engine
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mkarimv/Raijin/app/dispatcher"
	"github.com/mkarimv/Raijin/app/handlers"
	"github.com/mkarimv/Raijin/app/middleware"
	"github.com/mkarimv/Raijin/app/router"
	"github.com/mkarimv/Raijin/app/services"
	businessflow "github.com/mkarimv/Raijin/business_flow"
	"github.com/mkarimv/Raijin/config"
	"github.com/mkarimv/Raijin/repository"
)

// Application represents the main application structure
type Application struct {
	router    *router.FiberRouter
	config    *config.ProductionConfig
	server    *fiber.App
	stopFuncs []func()
}

func main() {
	log.Println("Starting Raijin dialing engine...")

	// Load production configuration
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize application
	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Setup routes
	app.router.SetupRoutes()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Server starting on %s", address)

		if err := app.server.Listen(address); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Println("Shutting down gracefully...")

	// Stop the dispatch loop and background workers before closing the
	// listener so in-flight claims settle through the normal path
	for _, fn := range app.stopFuncs {
		fn()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", cfg.RedisURL, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor starts a background goroutine that periodically pings redis
// to detect connectivity issues. The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	// Initialize database
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	// The typed-nil guard matters: a nil *redis.Client boxed into the
	// interface would pass != nil checks downstream.
	var redisClient redis.UniversalClient
	if rc != nil {
		redisClient = rc
		cancel := startCacheHealthMonitor(context.Background(), rc, cfg.Cache.HealthCheckInterval)
		stopFuncs = append(stopFuncs, cancel)
	}

	// Initialize repositories
	broadcastRepo := repository.NewBroadcastRepository(db)
	targetRepo := repository.NewDialTargetRepository(db)
	attemptRepo := repository.NewCallAttemptRepository(db)
	accountRepo := repository.NewProviderAccountRepository(db)
	eventRepo := repository.NewScheduledEventRepository(db)
	dncRepo := repository.NewDNCRepository(db)
	triggerAccountRepo := repository.NewTriggerAccountRepository(db)

	// Initialize token service
	tokenService, err := services.NewTokenService(
		cfg.JWT.AccessTokenTTL,
		cfg.JWT.Issuer,
		cfg.JWT.Audience,
		cfg.JWT.SecretKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	log.Printf("Token service initialized with issuer: %s, audience: %s", cfg.JWT.Issuer, cfg.JWT.Audience)

	// Initialize credit reserver
	var credit services.CreditReserver
	if cfg.Billing.Enabled && redisClient != nil {
		credit = services.NewRedisCreditReserver(redisClient)
		log.Println("Billing enabled, credit reservations go through redis")
	} else {
		credit = services.NewNoopCreditReserver()
	}

	// Initialize the dispatch pipeline
	pacing := dispatcher.NewPacingController()
	retryScheduler := dispatcher.NewRetryScheduler(eventRepo)
	outcome := dispatcher.NewOutcomeProcessor(
		targetRepo,
		attemptRepo,
		accountRepo,
		broadcastRepo,
		eventRepo,
		dncRepo,
		retryScheduler,
		pacing,
		credit,
		nil,
	)

	disp := dispatcher.NewDispatcher(
		broadcastRepo,
		targetRepo,
		attemptRepo,
		accountRepo,
		eventRepo,
		services.NewAdapter,
		pacing,
		retryScheduler,
		outcome,
		credit,
		cfg.Dialer.DispatchInterval,
		cfg.Dialer.StaleCallThreshold,
		cfg.Dialer.CallTimeout,
		cfg.Dialer.WebhookBaseURL,
		cfg.Logging.Dir,
	)

	stopDispatcher := disp.Start(context.Background())
	stopFuncs = append(stopFuncs, stopDispatcher)

	// Initialize flows
	broadcastFlow := businessflow.NewBroadcastFlow(
		broadcastRepo,
		targetRepo,
		attemptRepo,
		eventRepo,
		pacing,
		db,
	)

	triggerFlow := businessflow.NewTriggerFlow(
		broadcastRepo,
		targetRepo,
		dncRepo,
		db,
	)

	providerFlow := businessflow.NewProviderFlow(
		accountRepo,
		services.NewAdapter,
		db,
	)

	// Initialize handlers
	broadcastHandler := handlers.NewBroadcastHandler(broadcastFlow)
	triggerHandler := handlers.NewTriggerHandler(triggerFlow)
	providerHandler := handlers.NewProviderAccountHandler(providerFlow)
	webhookHandler := handlers.NewWebhookHandler(
		accountRepo,
		outcome,
		services.NewAdapter,
		redisClient,
		cfg.Dialer.WebhookBaseURL,
		disp.Logger(),
	)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenService)

	var rateLimiter *middleware.RateLimiter
	if redisClient != nil {
		rateLimiter = middleware.NewRateLimiter(redisClient)
	}
	apiKeyMiddleware := middleware.NewAPIKeyMiddleware(triggerAccountRepo, rateLimiter, nil)

	// Initialize router
	appRouter := router.NewFiberRouter(
		broadcastHandler,
		triggerHandler,
		providerHandler,
		webhookHandler,
		authMiddleware,
		apiKeyMiddleware,
		cfg.Server.EnableMetrics,
	)

	fiberRouter := appRouter.(*router.FiberRouter)
	application := &Application{
		router:    fiberRouter,
		config:    cfg,
		server:    fiberRouter.GetApp(),
		stopFuncs: stopFuncs,
	}

	return application, nil
}
