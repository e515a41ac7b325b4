package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gimpeliovsky-prog/license-server/internal/cache"
	"github.com/gimpeliovsky-prog/license-server/internal/config"
	"github.com/gimpeliovsky-prog/license-server/internal/handlers"
	"github.com/gimpeliovsky-prog/license-server/internal/license"
	"github.com/gimpeliovsky-prog/license-server/internal/metrics"
	"github.com/gimpeliovsky-prog/license-server/internal/middleware"
	"github.com/gimpeliovsky-prog/license-server/internal/models"
	"github.com/gimpeliovsky-prog/license-server/internal/services"
	"github.com/gimpeliovsky-prog/license-server/internal/store"
	"github.com/gimpeliovsky-prog/license-server/internal/token"
	"github.com/gimpeliovsky-prog/license-server/internal/util"
	"github.com/gimpeliovsky-prog/license-server/internal/version"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Define flags
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Usage = printUsage
	flag.Parse()

	// Show version and exit if requested
	if *showVersion {
		version.PrintVersion()
		os.Exit(0)
	}

	// Check if command is provided
	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Handle subcommands
	switch args[0] {
	case "server":
		runServer()
	case "seed":
		runSeed(args[1:])
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s [OPTIONS] COMMAND\n\n", os.Args[0])
	fmt.Println("Multi-tenant licensing and device-activation server")
	fmt.Println("\nCommands:")
	fmt.Println("  server    Start the license server")
	fmt.Println("  seed      Create a tenant with a fresh license key")
	fmt.Println("\nOptions:")
	fmt.Println("  -v, --version    Show version information")
	fmt.Println("  -h, --help       Show this help message")
}

// runSeed creates a tenant and one license key, printing the raw key once.
// Only the bcrypt hash is stored; losing the printed key means issuing a
// new one.
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	companyCode := fs.String("company-code", "", "Unique company code for the tenant")
	companyName := fs.String("company-name", "", "Display name for the tenant")
	expiresIn := fs.Duration("expires-in", 365*24*time.Hour, "Subscription length from now")
	_ = fs.Parse(args)

	if *companyCode == "" {
		log.Fatal("seed: --company-code is required")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db, err := store.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rawKey, err := util.CryptoRandomString(32)
	if err != nil {
		log.Fatalf("Failed to generate license key: %v", err)
	}
	hashed, err := license.HashKey(rawKey)
	if err != nil {
		log.Fatalf("Failed to hash license key: %v", err)
	}

	tenant := &models.Tenant{
		CompanyCode:           *companyCode,
		CompanyName:           *companyName,
		Status:                models.TenantActive,
		SubscriptionExpiresAt: time.Now().UTC().Add(*expiresIn),
	}
	key, err := db.Seed(tenant, hashed, license.Fingerprint(rawKey))
	if err != nil {
		log.Fatalf("Failed to seed tenant: %v", err)
	}

	log.Printf("Created tenant %s (%s)", tenant.CompanyCode, tenant.ID)
	log.Printf("License key id: %s", key.ID)
	log.Printf("License key (save this, it is not stored): %s", rawKey)
}

func runServer() {
	// Load configuration
	cfg := config.Load()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize store
	db, err := store.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// Initialize metrics
	prometheusMetrics := metrics.Init(cfg.MetricsEnabled)
	if cfg.MetricsEnabled {
		log.Println("Prometheus metrics initialized")
	} else {
		log.Println("Metrics disabled (using noop implementation)")
	}

	// Initialize metrics cache (only if metrics and gauge updates are enabled)
	var metricsCache cache.Cache[int64]
	if cfg.MetricsEnabled && cfg.MetricsGaugeUpdateEnabled {
		switch cfg.MetricsCacheType {
		case config.MetricsCacheTypeRedis:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			metricsCache, err = cache.NewRueidisCache[int64](
				ctx,
				cfg.RedisAddr,
				cfg.RedisPassword,
				cfg.RedisDB,
				"metrics:",
			)
			cancel()
			if err != nil {
				log.Fatalf("Failed to initialize redis metrics cache: %v", err)
			}
			log.Printf("Metrics cache: redis (addr=%s, db=%d)", cfg.RedisAddr, cfg.RedisDB)
		default: // memory
			metricsCache = cache.NewMemoryCache[int64]()
			log.Println("Metrics cache: memory (single instance only)")
		}
	}

	// Initialize audit service
	auditService := services.NewAuditService(db, cfg.EnableAuditLogging, cfg.AuditLogBufferSize)

	// Initialize services
	codec := token.NewCodec(cfg.JWTSecret, cfg.TokenTTL())
	activationService := services.NewActivationService(
		db,
		codec,
		auditService,
		prometheusMetrics,
		cfg.GraceDays,
	)
	otaService := services.NewOTAService(
		db,
		auditService,
		prometheusMetrics,
		cfg.OTADownloadSecret,
		cfg.OTADownloadTTL(),
		cfg.FirmwareBasePath,
		cfg.BaseURL,
	)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(activationService)
	otaHandler := handlers.NewOTAHandler(otaService, prometheusMetrics)
	adminHandler := handlers.NewAdminHandler(db, otaService, auditService)

	// Setup Gin
	setupGinMode(cfg)
	r := gin.New()
	// Setup Prometheus metrics middleware (must be before other routes)
	r.Use(metrics.HTTPMetricsMiddleware(prometheusMetrics))
	r.Use(gin.Logger(), gin.Recovery())

	// Setup IP middleware (for audit logging)
	r.Use(util.IPMiddleware())

	// Health check endpoint
	r.GET("/healthz", createHealthCheckHandler(db))

	// Prometheus metrics endpoint (with optional authentication)
	switch {
	case !cfg.MetricsEnabled:
		log.Printf("Prometheus metrics disabled")
	case cfg.MetricsToken != "":
		log.Printf("Prometheus metrics enabled at /metrics with Bearer token authentication")
		r.GET(
			"/metrics",
			middleware.RequireMetricsToken(cfg.MetricsToken),
			gin.WrapH(promhttp.Handler()),
		)
	default:
		log.Printf("Prometheus metrics enabled at /metrics (no authentication)")
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// Setup rate limiting
	rateLimiters, redisClient := setupRateLimiting(cfg, prometheusMetrics)

	requireToken := middleware.RequireToken(activationService)

	// Device-facing API
	api := r.Group("/api")
	{
		api.POST("/activate", rateLimiters.activate, authHandler.Activate)
		api.POST("/refresh", rateLimiters.refresh, authHandler.Refresh)
		api.GET("/status", requireToken, authHandler.Status)

		api.POST("/ota/check", rateLimiters.ota, requireToken, otaHandler.Check)
		api.POST("/ota/status", rateLimiters.ota, requireToken, otaHandler.ReportStatus)
		// Download links authenticate themselves via HMAC signature when
		// signing is enabled; embedded bootloaders cannot send bearer tokens
		api.GET("/ota/download/:firmware_id", rateLimiters.ota, otaHandler.Download)
	}

	// Admin API (X-Admin-Token)
	admin := r.Group("/api/admin", middleware.RequireAdmin(cfg.AdminToken))
	{
		admin.GET("/firmware", adminHandler.ListFirmware)
		admin.POST("/firmware", adminHandler.CreateFirmware)
		admin.POST("/firmware/upload", adminHandler.UploadBinary)
		admin.GET("/firmware/:id", adminHandler.GetFirmware)
		admin.PATCH("/firmware/:id", adminHandler.PatchFirmware)
		admin.DELETE("/firmware/:id", adminHandler.DeactivateFirmware)

		admin.GET("/ota/logs", adminHandler.ListOTALogs)
		admin.GET("/ota/access", adminHandler.GetOTAAccess)
		admin.PUT("/ota/access", adminHandler.PutOTAAccess)

		admin.POST("/devices/revoke", adminHandler.RevokeDevice)
		admin.GET("/audit", adminHandler.ListAuditLogs)
	}

	// Start server
	log.Printf("License server starting on %s", cfg.ServerAddr)
	log.Printf("Token TTL: %d days, grace period: %d days", cfg.TokenTTLDays, cfg.GraceDays)
	if cfg.AdminToken == "" {
		log.Printf("Admin API disabled (no ADMIN_TOKEN configured)")
	}
	if cfg.OTADownloadSecret == "" {
		log.Printf("OTA download links are unsigned (no OTA_DOWNLOAD_SECRET configured)")
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Create graceful manager
	m := graceful.NewManager()

	// Add server as a running job
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()
		<-ctx.Done()
		return nil
	})

	// Add shutdown job for HTTP server
	m.AddShutdownJob(func() error {
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server forced to shutdown: %v", err)
			return err
		}

		log.Println("Server exited")
		return nil
	})

	// Add shutdown job for Redis client (if used)
	if redisClient != nil {
		m.AddShutdownJob(func() error {
			log.Println("Closing Redis connection...")
			if err := redisClient.Close(); err != nil {
				log.Printf("Error closing Redis client: %v", err)
				return err
			}
			log.Println("Redis connection closed")
			return nil
		})
	}

	// Add shutdown job for audit service
	m.AddShutdownJob(func() error {
		log.Println("Shutting down audit service...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := auditService.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down audit service: %v", err)
			return err
		}
		return nil
	})

	// Add cleanup job for old audit logs (runs daily)
	if cfg.EnableAuditLogging && cfg.AuditLogRetention > 0 {
		m.AddRunningJob(func(ctx context.Context) error {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()

			// Run cleanup immediately on startup
			if deleted, err := auditService.CleanupOldLogs(cfg.AuditLogRetention); err != nil {
				log.Printf("Failed to cleanup old audit logs: %v", err)
			} else if deleted > 0 {
				log.Printf("Cleaned up %d old audit logs", deleted)
			}

			for {
				select {
				case <-ticker.C:
					if deleted, err := auditService.CleanupOldLogs(
						cfg.AuditLogRetention,
					); err != nil {
						log.Printf("Failed to cleanup old audit logs: %v", err)
					} else if deleted > 0 {
						log.Printf("Cleaned up %d old audit logs", deleted)
					}
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	// Add metrics gauge update job
	if cfg.MetricsEnabled && cfg.MetricsGaugeUpdateEnabled {
		m.AddRunningJob(func(ctx context.Context) error {
			ticker := time.NewTicker(cfg.MetricsGaugeUpdateInterval)
			defer ticker.Stop()

			// Create cache wrapper
			cacheWrapper := metrics.NewCacheWrapper(db, metricsCache)

			// Update immediately on startup
			updateGaugeMetricsWithCache(
				ctx,
				cacheWrapper,
				prometheusMetrics,
				cfg.MetricsGaugeUpdateInterval,
			)

			for {
				select {
				case <-ticker.C:
					updateGaugeMetricsWithCache(
						ctx,
						cacheWrapper,
						prometheusMetrics,
						cfg.MetricsGaugeUpdateInterval,
					)
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	// Add cache cleanup on shutdown
	if metricsCache != nil {
		m.AddShutdownJob(func() error {
			if err := metricsCache.Close(); err != nil {
				log.Printf("Error closing metrics cache: %v", err)
			} else {
				log.Println("Metrics cache closed")
			}
			return nil
		})
	}

	// Wait for graceful shutdown
	<-m.Done()
}

// createHealthCheckHandler creates health check endpoint handler
func createHealthCheckHandler(db *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch err := db.Health(); err {
		case nil:
			c.JSON(http.StatusOK, gin.H{
				"status":   "healthy",
				"database": "connected",
			})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "disconnected",
			})
		}
	}
}

// rateLimitMiddlewares holds rate limiting middlewares for different endpoints
type rateLimitMiddlewares struct {
	activate gin.HandlerFunc
	refresh  gin.HandlerFunc
	ota      gin.HandlerFunc
}

// setupRateLimiting configures rate limiting middlewares based on configuration
// Returns rate limit middlewares and optional Redis client (needs cleanup on shutdown)
func setupRateLimiting(
	cfg *config.Config,
	m metrics.Recorder,
) (rateLimitMiddlewares, *redis.Client) {
	// Return no-op middlewares when rate limiting is disabled
	noOpMiddleware := func(c *gin.Context) { c.Next() }
	disabledLimiters := rateLimitMiddlewares{
		activate: noOpMiddleware,
		refresh:  noOpMiddleware,
		ota:      noOpMiddleware,
	}

	if !cfg.EnableRateLimit {
		return disabledLimiters, nil
	}

	log.Printf("Rate limiting enabled (store: %s)", cfg.RateLimitStore)

	storeType := middleware.RateLimitStoreType(cfg.RateLimitStore)
	var sharedRedisClient *redis.Client

	// Create shared Redis client for all limiters when using Redis store
	if storeType == middleware.RateLimitStoreRedis {
		var err error
		sharedRedisClient, err = middleware.CreateRedisClient(
			cfg.RedisAddr,
			cfg.RedisPassword,
			cfg.RedisDB,
		)
		if err != nil {
			log.Fatalf("Failed to create shared Redis client: %v", err)
		}
		log.Printf("Redis rate limiting configured: %s (DB: %d)", cfg.RedisAddr, cfg.RedisDB)
	} else {
		log.Printf("In-memory rate limiting configured (single instance only)")
	}

	createLimiter := func(requestsPerMinute int, endpoint string) gin.HandlerFunc {
		limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: requestsPerMinute,
			StoreType:         storeType,
			RedisClient:       sharedRedisClient, // Shared client (nil for memory store)
			RedisAddr:         cfg.RedisAddr,
			RedisPassword:     cfg.RedisPassword,
			RedisDB:           cfg.RedisDB,
			CleanupInterval:   cfg.RateLimitCleanupInterval,
			Endpoint:          endpoint,
		}, m)
		if err != nil {
			log.Fatalf("Failed to create rate limiter for %s: %v", endpoint, err)
		}
		return limiter
	}

	return rateLimitMiddlewares{
		activate: createLimiter(cfg.ActivateRateLimit, "activate"),
		refresh:  createLimiter(cfg.RefreshRateLimit, "refresh"),
		ota:      createLimiter(cfg.OTARateLimit, "ota"),
	}, sharedRedisClient
}

// setupGinMode sets Gin mode based on environment configuration
func setupGinMode(cfg *config.Config) {
	mode := ginModeMap[cfg.IsProduction]
	gin.SetMode(mode)
	log.Printf("Gin mode: %s", ginModeLogMessage[cfg.IsProduction])
}

var ginModeMap = map[bool]string{
	true:  gin.ReleaseMode,
	false: gin.DebugMode,
}

var ginModeLogMessage = map[bool]string{
	true:  "Release (production)",
	false: "Debug (development)",
}

// errorLogger handles rate-limited error logging
type errorLogger struct {
	lastErrorTimes  map[string]time.Time
	rateLimitWindow time.Duration
}

// newErrorLogger creates a new error logger with rate limiting
func newErrorLogger() *errorLogger {
	return &errorLogger{
		lastErrorTimes:  make(map[string]time.Time),
		rateLimitWindow: 5 * time.Minute, // Log at most once per 5 minutes per operation
	}
}

// logIfNeeded logs an error only if rate limit allows
func (e *errorLogger) logIfNeeded(operation string, err error) {
	now := time.Now()
	lastTime, exists := e.lastErrorTimes[operation]

	if !exists || now.Sub(lastTime) >= e.rateLimitWindow {
		log.Printf("Database query failed for %s: %v (further errors will be suppressed for %v)",
			operation, err, e.rateLimitWindow)
		e.lastErrorTimes[operation] = now
	}
}

var gaugeErrorLogger = newErrorLogger()

// updateGaugeMetricsWithCache updates gauge metrics using a cache-backed store.
// This reduces database load in multi-instance deployments by caching query results.
// The cache TTL should match the update interval to ensure consistent behavior.
func updateGaugeMetricsWithCache(
	ctx context.Context,
	cacheWrapper *metrics.CacheWrapper,
	m metrics.Recorder,
	cacheTTL time.Duration,
) {
	activeDevices, err := cacheWrapper.GetActiveDevicesCount(ctx, cacheTTL)
	if err != nil {
		m.RecordDatabaseQueryError("count_active_devices")
		gaugeErrorLogger.logIfNeeded("count_active_devices", err)
	} else {
		m.SetActiveDevicesCount(activeDevices)
	}

	activeTenants, err := cacheWrapper.GetActiveTenantsCount(ctx, cacheTTL)
	if err != nil {
		m.RecordDatabaseQueryError("count_active_tenants")
		gaugeErrorLogger.logIfNeeded("count_active_tenants", err)
	} else {
		m.SetActiveTenantsCount(activeTenants)
	}

	otaInFlight, err := cacheWrapper.GetOTAInFlightCount(ctx, cacheTTL)
	if err != nil {
		m.RecordDatabaseQueryError("count_ota_in_flight")
		gaugeErrorLogger.logIfNeeded("count_ota_in_flight", err)
	} else {
		m.SetOTAInFlightCount(otaInFlight)
	}
}
