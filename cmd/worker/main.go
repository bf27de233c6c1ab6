package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/ragscale/api/internal/client"
	"github.com/ragscale/api/internal/config"
	"github.com/ragscale/api/internal/document"
	"github.com/ragscale/api/internal/logging"
	"github.com/ragscale/api/internal/progress"
	"github.com/ragscale/api/internal/queue"
	"github.com/ragscale/api/internal/tracker"
	"github.com/ragscale/api/internal/vectorstore"
	"github.com/ragscale/api/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closeLog := logging.Setup(cfg.Server.LogFile, logging.ParseLevel(cfg.Server.LogLevel))
	defer closeLog()
	slog.SetDefault(logger)

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
		log.Fatalf("Redis not available: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.QueueDB,
	})
	defer asynqClient.Close()

	storage, err := client.NewStorageClient(&cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create storage client: %v", err)
	}

	vectors, err := vectorstore.New(vectorstore.Config{
		QdrantURL:  cfg.VectorStore.QdrantURL,
		APIKey:     cfg.VectorStore.APIKey,
		Collection: cfg.VectorStore.Collection,
		OllamaURL:  cfg.Embedding.OllamaURL,
		Model:      cfg.Embedding.Model,
	})
	if err != nil {
		log.Fatalf("Failed to create vector store: %v", err)
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		log.Fatalf("Failed to prepare vector collection: %v", err)
	}

	if err := os.MkdirAll(cfg.Ingest.StagingDir, 0o755); err != nil {
		log.Fatalf("Failed to create staging dir: %v", err)
	}

	runtime := worker.NewRuntime(queueRedis, cfg, worker.Deps{
		Tracker:   tracker.New(redisClient, cfg.Ingest.BatchTTL),
		Publisher: progress.NewChannel(redisClient, logger),
		Jobs:      queue.NewClient(asynqClient, queue.PolicyFrom(&cfg.Queue)),
		Objects:   storage,
		Splitter:  document.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		Vectors:   vectors,
	}, logger)

	if err := runtime.Start(); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}
	logger.Info("worker started", "concurrency", cfg.Queue.Concurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")
	runtime.Shutdown()
}
