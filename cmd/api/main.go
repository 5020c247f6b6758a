package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/taskchat-api/internal/config"
	"github.com/noah-isme/taskchat-api/internal/database"
	"github.com/noah-isme/taskchat-api/internal/handler"
	"github.com/noah-isme/taskchat-api/internal/middleware"
	"github.com/noah-isme/taskchat-api/internal/realtime"
	"github.com/noah-isme/taskchat-api/internal/repository"
	"github.com/noah-isme/taskchat-api/internal/router"
	"github.com/noah-isme/taskchat-api/internal/service"
	cloud "github.com/noah-isme/taskchat-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL, cfg.AppName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	natsConn, err := database.ConnectNATS(cfg.NATSURL, cfg.AppName, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	var storage service.FileStorage
	if cfg.CloudinaryEnabled() {
		uploader, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		storage = uploader
	} else {
		logger.Warn().Msg("cloudinary not configured, attachment uploads disabled")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	hub := realtime.NewHub(logger)
	relay := realtime.NewRelay(redisClient, natsConn, cfg.RealtimeChannel, logger)
	hub.UsePublisher(relay)
	relay.Start(rootCtx, hub)
	logger.Info().Str("transport", relay.Transport()).Str("node_id", relay.NodeID()).Msg("realtime relay ready")
	presence := realtime.NewPresence(redisClient, cfg.RealtimeChannel, hub, logger)

	chatRepo := repository.NewChatRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)
	uploadRepo := repository.NewUploadRepository(db)

	notificationService := service.NewNotificationService(notificationRepo, hub, hub, validate, logger)

	var uploadService service.UploadService
	var purger service.AttachmentPurger
	var chatUploads service.ChatUploadsPurger
	if storage != nil {
		uploadService = service.NewUploadService(storage, uploadRepo, chatRepo, messageRepo, cfg.UploadMaxSizeMB, logger)
		purger = uploadService
		chatUploads = uploadService
	}

	chatService := service.NewChatService(service.ChatServiceDeps{
		Chats:         chatRepo,
		Messages:      messageRepo,
		Users:         userRepo,
		Notifications: notificationService,
		Broadcaster:   hub,
		Presence:      presence,
		Uploads:       chatUploads,
		Validator:     validate,
		Logger:        logger,
	})
	messageService := service.NewMessageService(service.MessageServiceDeps{
		Chats:         chatRepo,
		Messages:      messageRepo,
		Users:         userRepo,
		Notifications: notificationService,
		Broadcaster:   hub,
		Uploads:       uploadRepo,
		Attachments:   purger,
		Validator:     validate,
		Logger:        logger,
	})

	gateway, err := realtime.NewGateway(hub, presence, chatService, messageService, validate, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build realtime gateway")
	}

	deps := router.Dependencies{
		ChatHandler:         handler.NewChatHandler(chatService, validate, logger),
		MessageHandler:      handler.NewMessageHandler(messageService, validate, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, validate, logger, cfg.SSEKeepAlive),
		RealtimeHandler:     handler.NewRealtimeHandler(gateway, logger),
		HealthProbes:        healthProbes(db, redisClient, natsConn),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		MessageRateLimit:    middleware.RateLimit("messages", cfg.MessageRateLimit, cfg.MessageRateWindow, redisClient),
	}
	if uploadService != nil {
		deps.UploadHandler = handler.NewUploadHandler(uploadService, logger)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, deps)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, cancelRoot, logger)
}

func waitForShutdown(app *fiber.App, stopBackground context.CancelFunc, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}

func healthProbes(db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn) map[string]handler.HealthProbe {
	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if redisClient != nil {
		probes["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	if natsConn != nil {
		probes["nats"] = func(context.Context) error {
			if !natsConn.IsConnected() {
				return errors.New(natsConn.Status().String())
			}
			return nil
		}
	}
	return probes
}
