package worker

import (
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/ragscale/api/internal/config"
	"github.com/ragscale/api/internal/queue"
)

// Objects is the object store surface the workers use
type Objects interface {
	ObjectFetcher
	ObjectRemover
}

// Deps are the handles a worker process is assembled from
type Deps struct {
	Tracker   BatchTracker
	Publisher Publisher
	Jobs      JobEnqueuer
	Objects   Objects
	Splitter  DocumentSplitter
	Vectors   VectorUpserter
}

// Runtime is an assembled worker process: the queue server plus every
// worker routed by task type.
type Runtime struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewRuntime builds the workers over queueRDB. Tasks that exhaust their
// retries fail their batch through the lifecycle.
func NewRuntime(queueRDB redis.UniversalClient, cfg *config.Config, deps Deps, logger *slog.Logger) *Runtime {
	lc := NewLifecycle(deps.Tracker, deps.Publisher, deps.Jobs, cfg.Storage.UploadBucket, cfg.Ingest.CleanupDelay, logger.With("component", "lifecycle"))

	chunking := NewChunkingWorker(lc, deps.Tracker, deps.Objects, deps.Splitter, deps.Jobs, ChunkingConfig{
		StagingDir: cfg.Ingest.StagingDir,
		BatchSize:  cfg.Ingest.EmbedBatchSize,
	}, logger)
	embedding := NewEmbeddingWorker(lc, deps.Tracker, deps.Vectors, logger)
	cleanup := NewCleanupWorker(deps.Objects, logger)

	server := queue.NewServer(queueRDB, queue.ServerConfig{
		Concurrency: cfg.Queue.Concurrency,
		Policy:      queue.PolicyFrom(&cfg.Queue),
		LogLevel:    cfg.Server.LogLevel,
		OnDead:      lc.OnDead,
	}, logger)

	return &Runtime{
		server: server,
		mux:    queue.NewMux(chunking, embedding, cleanup),
	}
}

// Start processes tasks in the background
func (r *Runtime) Start() error {
	return r.server.Start(r.mux)
}

// Shutdown waits for in-flight tasks up to the server's shutdown timeout
func (r *Runtime) Shutdown() {
	r.server.Shutdown()
}
