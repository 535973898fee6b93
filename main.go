package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"mailprobe/cache"
	"mailprobe/config"
	controller "mailprobe/controllers"
	"mailprobe/middleware"
	"mailprobe/models"
	"mailprobe/routes"
	"mailprobe/utils"
	"mailprobe/verifier"
	"mailprobe/worker"
)

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig

	if err := utils.SetupLogger(cfg.LogLevel, cfg.Environment); err != nil {
		logrus.Fatalf("Failed to configure logging: %v", err)
	}
	logger := logrus.StandardLogger()

	flush, err := utils.InitSentry(cfg.SentryDSN, cfg.Environment)
	if err != nil {
		logger.Fatalf("Failed to initialize Sentry: %v", err)
	}
	defer flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared state lives in Redis when enabled so replicas agree on
	// cooldowns and cached domain facts
	var (
		mxCache       cache.Cache[[]models.MXRecord]
		catchAllCache cache.Cache[bool]
		limiter       verifier.DomainLimiter
		limitStorage  fiber.Storage
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		mxCache = cache.NewRedis[[]models.MXRecord](rdb, "mailprobe:mx:", logger)
		catchAllCache = cache.NewRedis[bool](rdb, "mailprobe:catchall:", logger)
		limiter = verifier.NewRedisLimiter(rdb, "mailprobe:cooldown:", cfg.Verify.DomainCooldown)
		limitStorage = middleware.NewRedisStorage(rdb, "mailprobe:ratelimit:")
	} else {
		mxCache = cache.NewMemory[[]models.MXRecord](cfg.Verify.CacheMaxEntries, nil)
		catchAllCache = cache.NewMemory[bool](cfg.Verify.CacheMaxEntries, nil)
		memLimiter := verifier.NewMemoryLimiter(cfg.Verify.DomainCooldown, nil, nil)
		limiter = memLimiter
		go worker.NewJanitor(memLimiter, cfg.JanitorInterval, logger).Start(ctx)
	}

	resolver, err := verifier.NewDNSResolver(cfg.Verify.DNSServers, cfg.Verify.DNSTimeout)
	if err != nil {
		logger.Fatalf("Failed to set up DNS resolver: %v", err)
	}
	dialer, err := verifier.NewDialer(cfg.SMTP.Proxy, cfg.SMTP.Timeout)
	if err != nil {
		logger.Fatalf("Failed to set up SMTP dialer: %v", err)
	}

	prober := verifier.NewSMTPProber(dialer, cfg.SMTP.Port, cfg.SMTP.Timeout, cfg.SMTP.EHLODomain, cfg.SMTP.MailFrom, logger)
	v := verifier.New(
		verifier.NewMXLookup(resolver, mxCache, cfg.Verify.CacheTTL, logger),
		verifier.NewCatchAllDetector(catchAllCache, limiter, prober, cfg.Verify.CacheTTL, logger),
		limiter,
		prober,
		verifier.Options{
			MaxMXAttempts:   cfg.Verify.MaxMXAttempts,
			GreylistBackoff: cfg.Verify.GreylistBackoff,
			RetryBackoff:    cfg.Verify.RetryBackoff,
			Deadline:        cfg.Verify.Deadline,
		},
		logger,
	)
	service := verifier.NewService(v, cfg.Verify.MaxBatchSize, cfg.Verify.BatchDelay)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "mailprobe",
		ErrorHandler: errorHandler,
	})

	app.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	app.Use(middleware.APIKeyAuth(cfg.APIKey))
	if cfg.RateLimitRequests > 0 {
		app.Use(middleware.RequestRateLimiter(cfg.RateLimitRequests, limitStorage))
	}

	routes.SetupRoutes(app, controller.NewVerificationController(service, logger))

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down...")
		cancel()
		app.ShutdownWithTimeout(30 * time.Second)
	}()

	// Start server
	logger.Infof("Email verifier running on :%s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	if code >= fiber.StatusInternalServerError {
		utils.LogError("request_failed", err, map[string]interface{}{
			"method": c.Method(),
			"path":   c.Path(),
		})
		return utils.ErrorResponse(c, code, "Internal server error", nil)
	}
	return utils.ErrorResponse(c, code, err.Error(), nil)
}
