package main

import (
	"context"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/sirupsen/logrus"

	"leadflow/config"
	controller "leadflow/controllers"
	"leadflow/engine"
	"leadflow/routes"
	"leadflow/utils"
	"leadflow/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	var rdb *redis.Client
	if config.AppConfig.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.AppConfig.Redis.Address,
			Password: config.AppConfig.Redis.Password,
			DB:       config.AppConfig.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Warn("Redis unavailable, leases fall back to the database")
			rdb = nil
		}
	}

	mailer := utils.NewSMTPMailer()
	generator := utils.NewOpenAIGenerator(config.AppConfig.OpenAI)

	engineCfg := engine.Config{
		BatchSize:              config.AppConfig.Automation.BatchSize,
		MaxRetryAttempts:       config.AppConfig.Automation.MaxRetryAttempts,
		RetryDelay:             config.AppConfig.Automation.RetryDelay,
		DuplicateWindow:        config.AppConfig.Automation.DuplicateWindow,
		SendDelay:              config.AppConfig.Automation.SendDelay,
		SendingStaleAfter:      config.AppConfig.Automation.SendingStaleAfter,
		LeaseTTL:               config.AppConfig.Automation.LeaseTTL,
		DefaultStageDelay:      config.AppConfig.Automation.DefaultStageDelay,
		AllowFallbackTransport: config.AppConfig.AllowFallback,
	}

	eng := engine.New(config.DB, mailer, generator, rdb, engineCfg, logger)
	triage := engine.NewTriage(config.DB, generator, logger)

	controller.SetEngine(eng)
	controller.SetTriage(triage, mailer)

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000",
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Cron-Secret",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sequenceWorker := worker.NewSequenceWorker(eng, logger, 5*time.Minute)
	go sequenceWorker.Start(ctx)

	replyWorker := worker.NewReplyWorker(config.DB, triage, logger, 5*time.Minute)
	go replyWorker.Start(ctx)

	routes.SetupRoutes(app, config.DB)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	logger.Infof("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
