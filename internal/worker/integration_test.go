//go:build integration

package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ragscale/api/internal/config"
	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/progress"
	"github.com/ragscale/api/internal/queue"
	"github.com/ragscale/api/internal/tracker"
)

var redisAddr string

// TestMain runs the real queue against a Redis container.
func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}
	redisAddr = fmt.Sprintf("%s:%s", host, port.Port())

	code := m.Run()

	_ = container.Terminate(ctx)
	os.Exit(code)
}

// syncObjects is a thread-safe object store double for the worker pool
type syncObjects struct {
	fakeFetcher
	mu       sync.Mutex
	prefixes []string
}

func (o *syncObjects) DeletePrefix(_ context.Context, _, prefix string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prefixes = append(o.prefixes, prefix)
	return 1, nil
}

func (o *syncObjects) deleted() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.prefixes...)
}

type pipeline struct {
	tracker  *tracker.Tracker
	channel  *progress.Channel
	jobs     *queue.Client
	objects  *syncObjects
	splitter *fakeSplitter
	vectors  *fakeUpserter
	queueOpt asynq.RedisClientOpt
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr, DB: 0})
	queueRDB := redis.NewClient(&redis.Options{Addr: redisAddr, DB: 1})
	t.Cleanup(func() {
		rdb.Close()
		queueRDB.Close()
	})
	require.NoError(t, rdb.FlushDB(ctx).Err())
	require.NoError(t, queueRDB.FlushDB(ctx).Err())

	cfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: "error"},
		Storage: config.StorageConfig{UploadBucket: "uploads"},
		Ingest:  config.IngestConfig{StagingDir: t.TempDir(), EmbedBatchSize: 20},
		Queue: config.QueueConfig{
			Concurrency: 4,
			MaxRetry:    1,
			RetryDelays: []time.Duration{100 * time.Millisecond},
			Retention:   time.Hour,
		},
	}

	queueOpt := asynq.RedisClientOpt{Addr: redisAddr, DB: 1}
	asynqClient := asynq.NewClient(queueOpt)
	t.Cleanup(func() { asynqClient.Close() })

	p := &pipeline{
		tracker:  tracker.New(rdb, time.Hour),
		channel:  progress.NewChannel(rdb, discard),
		jobs:     queue.NewClient(asynqClient, queue.PolicyFrom(&cfg.Queue)),
		objects:  &syncObjects{},
		splitter: &fakeSplitter{counts: map[string]int{}},
		vectors:  &fakeUpserter{},
		queueOpt: queueOpt,
	}

	rt := NewRuntime(queueRDB, cfg, Deps{
		Tracker:   p.tracker,
		Publisher: p.channel,
		Jobs:      p.jobs,
		Objects:   p.objects,
		Splitter:  p.splitter,
		Vectors:   p.vectors,
	}, discard)
	require.NoError(t, rt.Start())
	t.Cleanup(rt.Shutdown)
	return p
}

// submit creates a batch with one file per chunk count and queues it
func (p *pipeline) submit(t *testing.T, counts ...int) (string, *progress.Subscription) {
	t.Helper()
	ctx := context.Background()

	id, err := p.tracker.CreateBatch(ctx, len(counts), "u1")
	require.NoError(t, err)

	sub, err := p.channel.Subscribe(ctx, id)
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	for i, n := range counts {
		key := fmt.Sprintf("%s/%d-doc.pdf", id, i)
		p.splitter.counts[key] = n
	}
	for i := range counts {
		job := model.ChunkingJob{UserID: "u1", BatchID: id, ObjectKey: fmt.Sprintf("%s/%d-doc.pdf", id, i), BucketName: "uploads"}
		_, err := p.jobs.EnqueueChunking(ctx, job)
		require.NoError(t, err)
	}
	return id, sub
}

// drain collects events until a terminal one, then keeps listening for
// grace to catch duplicates.
func drain(t *testing.T, sub *progress.Subscription, timeout, grace time.Duration) []model.ProgressEvent {
	t.Helper()
	var events []model.ProgressEvent
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub.Events():
			events = append(events, ev)
			if ev.Terminal() {
				extra := time.After(grace)
				for {
					select {
					case ev := <-sub.Events():
						events = append(events, ev)
					case <-extra:
						return events
					}
				}
			}
		case <-deadline:
			t.Fatalf("no terminal event within %s (got %d events)", timeout, len(events))
		}
	}
}

func countStatus(events []model.ProgressEvent, status model.BatchStatus) int {
	n := 0
	for _, ev := range events {
		if ev.Status == status {
			n++
		}
	}
	return n
}

func TestPipelineCompletesBatch(t *testing.T) {
	p := startPipeline(t)
	ctx := context.Background()

	id, sub := p.submit(t, 10, 10, 5)
	events := drain(t, sub, 30*time.Second, time.Second)

	assert.Equal(t, 1, countStatus(events, model.BatchStatusSuccess))
	assert.Zero(t, countStatus(events, model.BatchStatusFailed))
	last := events[len(events)-1]
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "Ingestion complete: 3 files processed, 25 chunks embedded.", last.Details)

	b, err := p.tracker.GetBatchStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusSuccess, b.Status)
	assert.Equal(t, 3, b.FilesChunked)
	assert.Equal(t, 25, b.TotalChunks)
	assert.Equal(t, 25, b.ChunksEmbedded)

	assert.Eventually(t, func() bool {
		for _, prefix := range p.objects.deleted() {
			if prefix == id+"/" {
				return true
			}
		}
		return false
	}, 10*time.Second, 100*time.Millisecond, "uploads cleaned up")
}

func TestPipelineDeadLetterFailsBatch(t *testing.T) {
	p := startPipeline(t)
	p.vectors.err = errors.New("vector store timeout")

	id, sub := p.submit(t, 5)
	events := drain(t, sub, 60*time.Second, 500*time.Millisecond)

	assert.Equal(t, 1, countStatus(events, model.BatchStatusFailed))
	assert.Zero(t, countStatus(events, model.BatchStatusSuccess))
	assert.True(t, strings.HasPrefix(events[len(events)-1].Details, "Ingestion failed after retries"))

	inspector := asynq.NewInspector(p.queueOpt)
	t.Cleanup(func() { inspector.Close() })
	dead := queue.NewInspector(inspector)

	assert.Eventually(t, func() bool {
		tasks, err := dead.Dead(queue.LaneEmbedding, 10)
		return err == nil && len(tasks) == 1 && tasks[0].BatchID == id && tasks[0].Retried == 1
	}, 10*time.Second, 200*time.Millisecond)

	stats, err := dead.Stats(queue.LaneEmbedding)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)
}
