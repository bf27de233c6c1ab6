package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/ragscale/api/internal/client"
	"github.com/ragscale/api/internal/config"
	"github.com/ragscale/api/internal/document"
	"github.com/ragscale/api/internal/handler"
	"github.com/ragscale/api/internal/logging"
	"github.com/ragscale/api/internal/middleware"
	"github.com/ragscale/api/internal/progress"
	"github.com/ragscale/api/internal/queue"
	"github.com/ragscale/api/internal/service"
	"github.com/ragscale/api/internal/tracker"
	"github.com/ragscale/api/internal/vectorstore"
	ws "github.com/ragscale/api/internal/websocket"
	"github.com/ragscale/api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, closeLog := logging.Setup(cfg.Server.LogFile, logging.ParseLevel(cfg.Server.LogLevel))
	defer closeLog()
	slog.SetDefault(appLogger)

	// Tracker and pub/sub on DB, work queue on QueueDB
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	queueRedis := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.QueueDB,
	})
	defer queueRedis.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		appLogger.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
	}

	queueOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.QueueDB,
	}
	asynqClient := asynq.NewClient(queueOpt)
	defer asynqClient.Close()
	asynqInspector := asynq.NewInspector(queueOpt)
	defer asynqInspector.Close()

	jobs := queue.NewClient(asynqClient, queue.PolicyFrom(&cfg.Queue))
	batches := tracker.New(redisClient, cfg.Ingest.BatchTTL)
	channel := progress.NewChannel(redisClient, appLogger)

	storage, err := client.NewStorageClient(&cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	ingestService, err := service.NewIngestService(batches, storage, jobs, channel, service.IngestConfig{
		Bucket:       cfg.Storage.UploadBucket,
		MaxFiles:     cfg.Ingest.MaxFiles,
		Concurrency:  cfg.Ingest.UploadConcurrency,
		CleanupDelay: cfg.Ingest.CleanupDelay,
		Resync:       cfg.Ingest.StatusResync,
	}, appLogger)
	if err != nil {
		log.Fatalf("Failed to create ingest service: %v", err)
	}
	defer ingestService.Release()

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := ws.NewHub(ingestService, appLogger)
	go hub.Run(hubCtx)

	// Vector store backs chat retrieval and the embedded worker
	vectors, err := vectorstore.New(vectorstore.Config{
		QdrantURL:  cfg.VectorStore.QdrantURL,
		APIKey:     cfg.VectorStore.APIKey,
		Collection: cfg.VectorStore.Collection,
		OllamaURL:  cfg.Embedding.OllamaURL,
		Model:      cfg.Embedding.Model,
	})
	if err != nil {
		appLogger.Warn("vector store not available", "error", err)
	}

	validate := validator.New()

	speech := client.NewSpeechClient(&cfg.Speech)

	var chatHandler *handler.ChatHandler
	chatModel, err := client.NewChatModel(&cfg.LLM)
	if err != nil {
		appLogger.Info("chat disabled", "reason", err)
	} else {
		var retriever service.Retriever
		if vectors != nil {
			retriever = vectors
		}
		chatService := service.NewChatService(chatModel, retriever, speech, storage, service.ChatConfig{
			AudioBucket:   cfg.Storage.AudioBucket,
			PresignExpiry: cfg.Storage.PresignExpiry,
		}, appLogger)
		chatHandler = handler.NewChatHandler(chatService, validate, appLogger)
	}

	var authMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// auth already done by the gateway's forward-auth call
		appLogger.Info("gateway mode enabled, using header-based auth")
		authMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		authMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}

	routes := handler.Routes{
		Auth:        authMiddleware,
		RateLimiter: middleware.NewRateLimiter(redisClient, appLogger),
		Limits:      cfg.RateLimit,
		Verify:      handler.NewAuthHandler(cfg.JWT.Secret),
		Health: handler.NewHealthHandler(batches, hub.Connections, map[string]bool{
			"storage": cfg.Storage.AccessKeyID != "",
			"vectors": vectors != nil,
			"llm":     chatHandler != nil,
			"speech":  speech.IsConfigured(),
			"auth":    cfg.Gateway.Enabled || cfg.JWT.Secret != "",
			"worker":  cfg.Worker.Embedded,
		}),
		Ingest: handler.NewIngestHandler(ingestService, hub, cfg.Ingest.MaxFiles, cfg.Ingest.MaxFileSize, appLogger),
		Chat:   chatHandler,
		Admin:  handler.NewAdminHandler(queue.NewInspector(asynqInspector), appLogger),
	}

	app := handler.NewApp(bodyLimit(cfg))
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{Format: logFormat}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	routes.Mount(app)

	if cfg.Worker.Embedded {
		if vectors == nil {
			log.Fatalf("Embedded worker needs a vector store")
		}
		if err := vectors.EnsureCollection(ctx); err != nil {
			log.Fatalf("Failed to prepare vector collection: %v", err)
		}
		runtime := worker.NewRuntime(queueRedis, cfg, worker.Deps{
			Tracker:   batches,
			Publisher: channel,
			Jobs:      jobs,
			Objects:   storage,
			Splitter:  document.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
			Vectors:   vectors,
		}, appLogger)
		if err := runtime.Start(); err != nil {
			log.Fatalf("Failed to start embedded worker: %v", err)
		}
		defer runtime.Shutdown()
		appLogger.Info("embedded worker started")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		appLogger.Info("shutting down server")
		stopHub()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			appLogger.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	appLogger.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		appLogger.Error("server error", "error", err)
	}
}

// bodyLimit fits a full batch plus multipart overhead
func bodyLimit(cfg *config.Config) int {
	limit := int64(cfg.Ingest.MaxFiles)*cfg.Ingest.MaxFileSize + 1<<20
	if limit < 50<<20 {
		limit = 50 << 20
	}
	return int(limit)
}
