package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	infraLogger "github.com/modguard/modguard/internal/logger"
	"github.com/modguard/modguard/pkg/config"
	handlers "github.com/modguard/modguard/pkg/handlers/http"
	"github.com/modguard/modguard/pkg/infra/database"
	"github.com/modguard/modguard/pkg/infra/inference"
	"github.com/modguard/modguard/pkg/infra/repository"
	"github.com/modguard/modguard/pkg/middleware"
	"github.com/modguard/modguard/pkg/pipeline"
	"github.com/modguard/modguard/pkg/ratelimit"
	"github.com/modguard/modguard/pkg/server"
	"github.com/modguard/modguard/pkg/server/router"
	"github.com/modguard/modguard/pkg/verdict"

	verdictcache "github.com/modguard/modguard/pkg/cache"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger := infraLogger.NewLogger()

	if err := config.Load("./config"); err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.GetConfig()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	aggregator, err := verdict.NewAggregator(cfg.Moderation.Categories, cfg.Moderation.Thresholds)
	if err != nil {
		logger.Fatalf("Invalid moderation configuration: %v", err)
	}

	limiter := ratelimit.NewSlidingWindowLimiter(
		redisClient,
		logger,
		cfg.RateLimit.Limit,
		cfg.RateLimit.WindowDuration(),
		cfg.RateLimit.StoreTimeoutDuration(),
		cfg.RateLimit.FailClosed,
		nil,
	)

	cache := verdictcache.NewVerdictCache(redisClient, logger, cfg.Cache.StoreTimeoutDuration())

	inferenceClient := inference.NewHTTPClient(logger, nil, inference.HTTPClientOpts{
		Endpoint:        cfg.Inference.Endpoint,
		Timeout:         cfg.Inference.TimeoutDuration(),
		BreakerTimeout:  cfg.Inference.BreakerTimeoutDuration(),
		BreakerFailures: cfg.Inference.BreakerFailures,
	})

	var auditor pipeline.Auditor
	if cfg.Database.Enabled {
		db, err := database.NewDB(logger, &database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		auditRepo, err := repository.NewAuditRepository(db.DB, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize audit repository: %v", err)
		}
		auditor = auditRepo
	}

	moderationPipeline := pipeline.New(pipeline.DI{
		Limiter:      limiter,
		Cache:        cache,
		Inferencer:   inferenceClient,
		Aggregator:   aggregator,
		Auditor:      auditor,
		Logger:       logger,
		CacheTTL:     cfg.Cache.TTLDuration(),
		SingleFlight: cfg.Cache.SingleFlight,
	})

	handlerTransport := &handlers.HandlerTransport{
		ModerateHandler: handlers.NewModerateHandler(logger, moderationPipeline, aggregator),
		HealthHandler:   handlers.NewHealthHandler(logger, redisClient),
	}

	middlewareTransport := &middleware.Transport{
		ClientIPMiddleware: middleware.NewClientIPMiddleware(logger),
		MetricsMiddleware:  middleware.NewMetricsMiddleware(logger),
	}

	srv := server.NewModerationServer(server.ModerationServerDI{
		Config: cfg,
		Logger: logger,
		Routers: []router.ServerRouter{
			router.NewModerationRouter(middlewareTransport, handlerTransport),
		},
	})

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := srv.Shutdown(); err != nil {
		logger.WithError(err).Error("failed to shut down server")
	}
	if err := redisClient.Close(); err != nil {
		logger.WithError(err).Error("failed to close redis client")
	}
}
