// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarimv/Raijin/app/dto"
	"github.com/mkarimv/Raijin/app/handlers"
	"github.com/mkarimv/Raijin/app/middleware"
	"github.com/mkarimv/Raijin/utils"
)

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app              *fiber.App
	broadcastHandler handlers.BroadcastHandlerInterface
	triggerHandler   handlers.TriggerHandlerInterface
	providerHandler  handlers.ProviderAccountHandlerInterface
	webhookHandler   handlers.WebhookHandlerInterface
	authMiddleware   *middleware.AuthMiddleware
	apiKeyMiddleware *middleware.APIKeyMiddleware
	enableMetrics    bool
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	broadcastHandler handlers.BroadcastHandlerInterface,
	triggerHandler handlers.TriggerHandlerInterface,
	providerHandler handlers.ProviderAccountHandlerInterface,
	webhookHandler handlers.WebhookHandlerInterface,
	authMiddleware *middleware.AuthMiddleware,
	apiKeyMiddleware *middleware.APIKeyMiddleware,
	enableMetrics bool,
) Router {
	app := fiber.New(fiber.Config{
		AppName:      "Raijin Dialer API",
		ServerHeader: "Raijin",
		ErrorHandler: errorHandler,
		BodyLimit:    8 * 1024 * 1024, // XLSX imports
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	return &FiberRouter{
		app:              app,
		broadcastHandler: broadcastHandler,
		triggerHandler:   triggerHandler,
		providerHandler:  providerHandler,
		webhookHandler:   webhookHandler,
		authMiddleware:   authMiddleware,
		apiKeyMiddleware: apiKeyMiddleware,
		enableMetrics:    enableMetrics,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	r.setupMiddleware()

	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting)
	api.Get("/health", r.healthCheck)

	if r.enableMetrics {
		r.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}

	api.Use(limiter.New(limiter.Config{
		Max:        2000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health"
		},
	}))

	// Provider status callbacks authenticate by signature, not by token
	api.Post("/webhooks/:provider", r.webhookHandler.HandleProviderEvent)

	// Operator endpoints behind JWT
	broadcasts := api.Group("/broadcasts", r.authMiddleware.Authenticate())
	broadcasts.Post("/", r.broadcastHandler.CreateBroadcast)
	broadcasts.Get("/", r.broadcastHandler.ListBroadcasts)
	broadcasts.Get("/:uuid", r.broadcastHandler.GetBroadcast)
	broadcasts.Put("/:uuid/spec", r.broadcastHandler.UpdateSpec)
	broadcasts.Post("/:uuid/start", r.broadcastHandler.StartBroadcast)
	broadcasts.Post("/:uuid/pause", r.broadcastHandler.PauseBroadcast)
	broadcasts.Post("/:uuid/stop", r.broadcastHandler.StopBroadcast)
	broadcasts.Get("/:uuid/stats", r.broadcastHandler.GetStats)
	broadcasts.Post("/:uuid/targets/import", r.triggerHandler.ImportTargets)

	providers := api.Group("/providers", r.authMiddleware.Authenticate())
	providers.Post("/", r.providerHandler.CreateAccount)
	providers.Get("/", r.providerHandler.ListAccounts)
	providers.Post("/:uuid/test", r.providerHandler.TestConnection)

	dnc := api.Group("/dnc", r.authMiddleware.Authenticate())
	dnc.Post("/", r.triggerHandler.AddDNC)

	// Inbound gateway for external automation systems, API-key authenticated
	triggers := api.Group("/triggers", r.apiKeyMiddleware.Authenticate())
	triggers.Post("/targets", r.triggerHandler.AddTarget)
	triggers.Get("/targets/:uuid", r.triggerHandler.GetTarget)

	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

// setupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware, must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	r.app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Request-ID",
			"X-Api-Key-Id",
			"X-Api-Secret",
		},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	r.app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	r.app.Use(logger.New(logger.Config{
		Format:     `{"time":"${time}","pid":"${pid}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","ip":"${ip}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent}}` + "\n",
		TimeFormat: time.RFC3339,
		TimeZone:   "UTC",
		Next: func(c fiber.Ctx) bool {
			return c.Path() == "/api/v1/health"
		},
	}))

	if r.enableMetrics {
		r.app.Use(middleware.Metrics())
	}

	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Printf(`{"time":"%s","level":"error","request_id":"%s","event":"panic","error":"%v","path":"%s","method":"%s","ip":"%s"}`,
				utils.UTCNow().Format(time.RFC3339),
				c.Locals("requestid"),
				e,
				c.Path(),
				c.Method(),
				c.IP(),
			)
		},
	}))
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	log.Printf("Starting server on %s", address)
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// healthCheck reports process liveness
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
			"service":   "raijin-dialer",
		},
	})
}

// notFoundHandler handles unmatched routes
func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "Endpoint not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
		},
	})
}

// errorHandler is the global Fiber error handler
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: err.Error(),
		Error: dto.ErrorDetail{
			Code: "INTERNAL_ERROR",
		},
	})
}

// generateRequestID creates a random hex request id
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}
