package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/progress"
	"github.com/ragscale/api/internal/tracker"
)

var (
	ErrBatchNotFound = errors.New("batch not found")
	ErrNoFiles       = errors.New("no files uploaded")
	ErrTooManyFiles  = errors.New("too many files")
)

// BatchStore is the tracker surface used by the API
type BatchStore interface {
	CreateBatch(ctx context.Context, totalFiles int, userID string) (string, error)
	UpdateStatus(ctx context.Context, batchID string, status model.BatchStatus) (bool, error)
	GetBatchStatus(ctx context.Context, batchID string) (*model.Batch, error)
}

// ObjectPutter stores uploaded files
type ObjectPutter interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
}

// ChunkEnqueuer queues uploaded files for chunking and removes the uploads
// of batches that never started
type ChunkEnqueuer interface {
	EnqueueChunking(ctx context.Context, job model.ChunkingJob) (string, error)
	EnqueueCleanup(ctx context.Context, job model.CleanupJob, delay time.Duration) (string, error)
}

// Subscriber opens live progress feeds
type Subscriber interface {
	Subscribe(ctx context.Context, batchID string) (*progress.Subscription, error)
}

type IngestConfig struct {
	Bucket      string
	MaxFiles    int
	Concurrency int
	// CleanupDelay is how long an abandoned batch's uploads are kept
	CleanupDelay time.Duration
	// Resync re-reads the durable snapshot while streaming, covering
	// events lost by pub/sub. Zero disables it.
	Resync time.Duration
}

// IngestService accepts uploads and serves batch status streams
type IngestService struct {
	tracker BatchStore
	store   ObjectPutter
	queue   ChunkEnqueuer
	channel Subscriber
	pool    *ants.Pool
	cfg     IngestConfig
	logger  *slog.Logger
}

// NewIngestService creates a new ingest service. Call Release on shutdown.
func NewIngestService(tr BatchStore, store ObjectPutter, q ChunkEnqueuer, ch Subscriber, cfg IngestConfig, logger *slog.Logger) (*IngestService, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	pool, err := ants.NewPool(cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload pool: %w", err)
	}
	return &IngestService{
		tracker: tr,
		store:   store,
		queue:   q,
		channel: ch,
		pool:    pool,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Release stops the upload pool
func (s *IngestService) Release() {
	s.pool.Release()
}

// ObjectKey is where file i of a batch is stored
func ObjectKey(batchID string, i int, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "file.pdf"
	}
	return fmt.Sprintf("%s/%d-%s", batchID, i, name)
}

// Upload creates the batch, stores every file and queues one chunking job
// per file. Once the batch exists, any failure marks it FAILED.
func (s *IngestService) Upload(ctx context.Context, userID string, files []model.UploadFile) (string, error) {
	if len(files) == 0 {
		return "", ErrNoFiles
	}
	if s.cfg.MaxFiles > 0 && len(files) > s.cfg.MaxFiles {
		return "", fmt.Errorf("%w: %d > %d", ErrTooManyFiles, len(files), s.cfg.MaxFiles)
	}

	batchID, err := s.tracker.CreateBatch(ctx, len(files), userID)
	if err != nil {
		return "", fmt.Errorf("failed to create batch: %w", err)
	}

	log := s.logger.With("batch_id", batchID, "user_id", userID)

	keys := make([]string, len(files))
	errs := make([]error, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		keys[i] = ObjectKey(batchID, i, f.Filename)
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/pdf"
		}

		wg.Add(1)
		err := s.pool.Submit(func() {
			defer wg.Done()
			errs[i] = s.store.Put(ctx, s.cfg.Bucket, keys[i], f.Body, contentType)
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		s.abandon(ctx, log, batchID)
		return "", fmt.Errorf("failed to store uploads: %w", err)
	}

	for _, key := range keys {
		job := model.ChunkingJob{UserID: userID, BatchID: batchID, ObjectKey: key, BucketName: s.cfg.Bucket}
		if _, err := s.queue.EnqueueChunking(ctx, job); err != nil {
			s.abandon(ctx, log, batchID)
			return "", fmt.Errorf("failed to queue chunking job: %w", err)
		}
	}

	log.Info("batch accepted", "files", len(files))
	return batchID, nil
}

// abandon fails the batch and schedules removal of whatever was stored
func (s *IngestService) abandon(ctx context.Context, log *slog.Logger, batchID string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.tracker.UpdateStatus(ctx, batchID, model.BatchStatusFailed); err != nil {
		log.Error("failed to mark abandoned batch failed", "error", err)
	}
	job := model.CleanupJob{BatchID: batchID, BucketName: s.cfg.Bucket}
	if _, err := s.queue.EnqueueCleanup(ctx, job, s.cfg.CleanupDelay); err != nil {
		log.Warn("failed to schedule cleanup of abandoned batch", "error", err)
	}
}

// Lookup returns the batch if it exists and belongs to userID
func (s *IngestService) Lookup(ctx context.Context, userID, batchID string) (*model.Batch, error) {
	b, err := s.tracker.GetBatchStatus(ctx, batchID)
	if errors.Is(err, tracker.ErrBatchNotFound) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrBatchNotFound
	}
	return b, nil
}

// Stream emits the batch's current state and then every change until a
// terminal event, ctx cancellation or an emit error. The subscription is
// confirmed before the snapshot is read, so no event falls in between.
func (s *IngestService) Stream(ctx context.Context, userID, batchID string, emit func(model.ProgressEvent) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, err := s.channel.Subscribe(ctx, batchID)
	if err != nil {
		return err
	}
	defer sub.Close()

	snapshot, err := s.Lookup(ctx, userID, batchID)
	if err != nil {
		return err
	}

	last := snapshot.Event()
	if err := emit(last); err != nil {
		return err
	}
	if last.Terminal() {
		return nil
	}

	var resync <-chan time.Time
	if s.cfg.Resync > 0 {
		ticker := time.NewTicker(s.cfg.Resync)
		defer ticker.Stop()
		resync = ticker.C
	}

	events := sub.Events()
	for {
		var next model.ProgressEvent
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if resync == nil {
					return nil
				}
				// feed dropped; keep going on snapshots alone
				events = nil
				continue
			}
			next = ev
		case <-resync:
			b, err := s.tracker.GetBatchStatus(ctx, batchID)
			if errors.Is(err, tracker.ErrBatchNotFound) {
				next = model.FailedEvent(userID, "Batch record expired.")
				break
			}
			if err != nil {
				s.logger.Warn("status resync failed", "batch_id", batchID, "error", err)
				continue
			}
			next = b.Event()
		}

		if next == last {
			continue
		}
		if err := emit(next); err != nil {
			return err
		}
		last = next
		if last.Terminal() {
			return nil
		}
	}
}
