package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragscale/api/internal/model"
)

func setupTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, time.Hour), mr
}

func TestCreateBatch(t *testing.T) {
	tr, mr := setupTracker(t)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := tr.CreateBatch(ctx, 2, "user-1")
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate batch id %s", id)
		seen[id] = true
	}

	id, err := tr.CreateBatch(ctx, 3, "user-1")
	require.NoError(t, err)

	b, err := tr.GetBatchStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, &model.Batch{
		ID:         id,
		UserID:     "user-1",
		TotalFiles: 3,
		Status:     model.BatchStatusPending,
	}, b)

	assert.True(t, mr.TTL(Key(id)) > 0, "record should carry a ttl")
}

func TestCreateBatchRejectsInvalid(t *testing.T) {
	tr, _ := setupTracker(t)

	_, err := tr.CreateBatch(context.Background(), 0, "user-1")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = tr.CreateBatch(context.Background(), 1, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestIncrementFieldConcurrent(t *testing.T) {
	tr, _ := setupTracker(t)
	ctx := context.Background()

	id, err := tr.CreateBatch(ctx, 1, "user-1")
	require.NoError(t, err)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.IncrementField(ctx, id, model.FieldChunksEmbedded, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := tr.GetBatchStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, n, b.ChunksEmbedded)
}

func TestIncrementFieldMissingBatch(t *testing.T) {
	tr, mr := setupTracker(t)

	_, err := tr.IncrementField(context.Background(), "nope", model.FieldTotalChunks, 3)
	assert.ErrorIs(t, err, ErrBatchNotFound)
	assert.False(t, mr.Exists(Key("nope")), "increment must not create a partial record")
}

func TestIncrementFieldValidation(t *testing.T) {
	tr, _ := setupTracker(t)
	ctx := context.Background()
	id, err := tr.CreateBatch(ctx, 1, "user-1")
	require.NoError(t, err)

	_, err = tr.IncrementField(ctx, id, "total_files", 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = tr.IncrementField(ctx, id, model.FieldTotalChunks, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUpdateStatusTerminalGuard(t *testing.T) {
	tr, _ := setupTracker(t)
	ctx := context.Background()
	id, err := tr.CreateBatch(ctx, 1, "user-1")
	require.NoError(t, err)

	changed, err := tr.UpdateStatus(ctx, id, model.BatchStatusSuccess)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = tr.UpdateStatus(ctx, id, model.BatchStatusSuccess)
	require.NoError(t, err)
	assert.False(t, changed, "second success is a no-op")

	changed, err = tr.UpdateStatus(ctx, id, model.BatchStatusFailed)
	require.NoError(t, err)
	assert.False(t, changed, "success never becomes failed")

	b, err := tr.GetBatchStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusSuccess, b.Status)
}

func TestUpdateStatusSingleWinner(t *testing.T) {
	tr, _ := setupTracker(t)
	ctx := context.Background()
	id, err := tr.CreateBatch(ctx, 1, "user-1")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := tr.UpdateStatus(ctx, id, model.BatchStatusFailed)
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestUpdateStatusErrors(t *testing.T) {
	tr, _ := setupTracker(t)
	ctx := context.Background()

	_, err := tr.UpdateStatus(ctx, "missing", model.BatchStatusFailed)
	assert.ErrorIs(t, err, ErrBatchNotFound)

	_, err = tr.UpdateStatus(ctx, "missing", model.BatchStatusPending)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRecordChunkedFileIsIdempotent(t *testing.T) {
	tr, mr := setupTracker(t)
	ctx := context.Background()
	id, err := tr.CreateBatch(ctx, 2, "user-1")
	require.NoError(t, err)

	applied, err := tr.RecordChunkedFile(ctx, id, "b/0-a.pdf", 3)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = tr.RecordChunkedFile(ctx, id, "b/0-a.pdf", 3)
	require.NoError(t, err)
	assert.False(t, applied, "redelivered job must not double count")

	b, err := tr.GetBatchStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, b.FilesChunked)
	assert.Equal(t, 3, b.TotalChunks)
	assert.True(t, mr.TTL(filesKey(id)) > 0, "markers expire with the batch")
}

func TestRecordEmbeddedIsIdempotent(t *testing.T) {
	tr, _ := setupTracker(t)
	ctx := context.Background()
	id, err := tr.CreateBatch(ctx, 1, "user-1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := tr.RecordEmbedded(ctx, id, "job-1", 20)
		require.NoError(t, err)
	}
	_, err = tr.RecordEmbedded(ctx, id, "job-2", 5)
	require.NoError(t, err)

	b, err := tr.GetBatchStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 25, b.ChunksEmbedded)
}

func TestRecordMissingBatch(t *testing.T) {
	tr, _ := setupTracker(t)

	_, err := tr.RecordEmbedded(context.Background(), "gone", "job", 1)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestGetBatchStatusMissing(t *testing.T) {
	tr, _ := setupTracker(t)

	_, err := tr.GetBatchStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestTrackerUnavailable(t *testing.T) {
	tr, mr := setupTracker(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := tr.CreateBatch(ctx, 1, "user-1")
	assert.ErrorIs(t, err, ErrTrackerUnavailable)

	_, err = tr.GetBatchStatus(ctx, "x")
	assert.ErrorIs(t, err, ErrTrackerUnavailable)

	assert.ErrorIs(t, tr.Ping(ctx), ErrTrackerUnavailable)
}
