package worker

import (
	"context"
	"time"

	"github.com/ragscale/api/internal/model"
)

// BatchTracker is the durable batch state the workers mutate
type BatchTracker interface {
	GetBatchStatus(ctx context.Context, batchID string) (*model.Batch, error)
	UpdateStatus(ctx context.Context, batchID string, status model.BatchStatus) (bool, error)
	RecordChunkedFile(ctx context.Context, batchID, fileKey string, chunks int) (bool, error)
	RecordEmbedded(ctx context.Context, batchID, jobKey string, n int) (bool, error)
}

// Publisher broadcasts progress events
type Publisher interface {
	Publish(ctx context.Context, batchID string, event model.ProgressEvent) error
}

// JobEnqueuer queues follow-up work
type JobEnqueuer interface {
	EnqueueEmbedding(ctx context.Context, job model.EmbeddingJob) (string, error)
	EnqueueCleanup(ctx context.Context, job model.CleanupJob, delay time.Duration) (string, error)
}

// ObjectFetcher downloads uploaded files for parsing
type ObjectFetcher interface {
	GetToPath(ctx context.Context, bucket, key, path string) error
}

// ObjectRemover deletes a batch's uploads
type ObjectRemover interface {
	DeletePrefix(ctx context.Context, bucket, prefix string) (int, error)
}

// DocumentSplitter turns a staged file into chunks
type DocumentSplitter interface {
	SplitFile(ctx context.Context, path string, meta map[string]any) ([]model.ChunkRecord, error)
}

// VectorUpserter embeds and stores chunks
type VectorUpserter interface {
	Upsert(ctx context.Context, chunks []model.ChunkRecord) error
}
