// Package tracker keeps the durable per-batch counters and status in Redis.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ragscale/api/internal/model"
)

var (
	ErrBatchNotFound      = errors.New("batch not found")
	ErrTrackerUnavailable = errors.New("batch tracker unavailable")
	ErrInvalidArgument    = errors.New("invalid tracker argument")
)

// Key returns the hash key of a batch
func Key(batchID string) string {
	return "batch:" + batchID
}

func filesKey(batchID string) string    { return Key(batchID) + ":files" }
func embeddedKey(batchID string) string { return Key(batchID) + ":embedded" }

// Tracker is the Redis-backed batch store. All counter writes are atomic on
// the server side; there is no read-modify-write from Go.
type Tracker struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New creates a tracker. A zero ttl keeps records forever.
func New(rdb redis.UniversalClient, ttl time.Duration) *Tracker {
	return &Tracker{rdb: rdb, ttl: ttl}
}

// CreateBatch writes a PENDING record with zeroed counters and returns its id.
func (t *Tracker) CreateBatch(ctx context.Context, totalFiles int, userID string) (string, error) {
	if totalFiles < 1 || userID == "" {
		return "", fmt.Errorf("%w: total_files=%d user_id=%q", ErrInvalidArgument, totalFiles, userID)
	}

	batchID := uuid.NewString()
	key := Key(batchID)

	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"user_id":                         userID,
			"total_files":                     totalFiles,
			string(model.FieldFilesChunked):   0,
			string(model.FieldTotalChunks):    0,
			string(model.FieldChunksEmbedded): 0,
			"status":                          string(model.BatchStatusPending),
		})
		if t.ttl > 0 {
			pipe.Expire(ctx, key, t.ttl)
		}
		return nil
	})
	if err != nil {
		return "", unavailable(err)
	}
	return batchID, nil
}

// IncrementField atomically adds delta to one counter and returns the new value.
func (t *Tracker) IncrementField(ctx context.Context, batchID string, field model.BatchField, delta int64) (int64, error) {
	if !field.Valid() {
		return 0, fmt.Errorf("%w: field %q", ErrInvalidArgument, field)
	}
	if delta < 0 {
		return 0, fmt.Errorf("%w: negative delta %d", ErrInvalidArgument, delta)
	}

	n, err := incrementScript.Run(ctx, t.rdb, []string{Key(batchID)}, string(field), delta).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// UpdateStatus moves a PENDING batch to SUCCESS or FAILED. The bool reports
// whether this call performed the transition; terminal records never change.
func (t *Tracker) UpdateStatus(ctx context.Context, batchID string, status model.BatchStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("%w: status %q", ErrInvalidArgument, status)
	}

	res, err := statusScript.Run(ctx, t.rdb, []string{Key(batchID)}, string(status)).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	switch res {
	case -1:
		return false, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// GetBatchStatus returns a snapshot read in one HGETALL.
func (t *Tracker) GetBatchStatus(ctx context.Context, batchID string) (*model.Batch, error) {
	fields, err := t.rdb.HGetAll(ctx, Key(batchID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}

	b := &model.Batch{
		ID:             batchID,
		UserID:         fields["user_id"],
		TotalFiles:     atoi(fields["total_files"]),
		FilesChunked:   atoi(fields[string(model.FieldFilesChunked)]),
		TotalChunks:    atoi(fields[string(model.FieldTotalChunks)]),
		ChunksEmbedded: atoi(fields[string(model.FieldChunksEmbedded)]),
		Status:         model.BatchStatus(fields["status"]),
	}
	if b.Status == "" {
		b.Status = model.BatchStatusNone
	}
	return b, nil
}

// RecordChunkedFile adds one file and its chunk count, once per fileKey.
// A false result means the file was already counted.
func (t *Tracker) RecordChunkedFile(ctx context.Context, batchID, fileKey string, chunks int) (bool, error) {
	if chunks < 0 {
		return false, fmt.Errorf("%w: negative chunk count %d", ErrInvalidArgument, chunks)
	}
	return t.runMarker(ctx, batchID, filesKey(batchID), fileKey, chunks,
		string(model.FieldFilesChunked), 1,
		string(model.FieldTotalChunks), chunks,
	)
}

// RecordEmbedded adds n embedded chunks, once per jobKey.
func (t *Tracker) RecordEmbedded(ctx context.Context, batchID, jobKey string, n int) (bool, error) {
	if n < 0 {
		return false, fmt.Errorf("%w: negative chunk count %d", ErrInvalidArgument, n)
	}
	return t.runMarker(ctx, batchID, embeddedKey(batchID), jobKey, n,
		string(model.FieldChunksEmbedded), n,
	)
}

func (t *Tracker) runMarker(ctx context.Context, batchID, markerKey, marker string, value int, pairs ...interface{}) (bool, error) {
	args := append([]interface{}{marker, value}, pairs...)
	res, err := markerScript.Run(ctx, t.rdb, []string{Key(batchID), markerKey}, args...).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	switch res {
	case -1:
		return false, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// Ping checks the store is reachable
func (t *Tracker) Ping(ctx context.Context) error {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrTrackerUnavailable, err)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
