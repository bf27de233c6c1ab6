package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"

	"github.com/ragscale/api/internal/auth"
	"github.com/ragscale/api/internal/config"
	"github.com/ragscale/api/internal/handler"
	"github.com/ragscale/api/internal/middleware"
	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/progress"
	"github.com/ragscale/api/internal/queue"
	"github.com/ragscale/api/internal/service"
	"github.com/ragscale/api/internal/tracker"
	ws "github.com/ragscale/api/internal/websocket"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (s *memoryStore) Put(_ context.Context, bucket, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+key] = data
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []model.ChunkingJob
}

func (q *recordingQueue) EnqueueChunking(_ context.Context, job model.ChunkingJob) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return "chunk:" + job.BatchID + ":" + job.ObjectKey, nil
}

func (q *recordingQueue) EnqueueCleanup(_ context.Context, job model.CleanupJob, _ time.Duration) (string, error) {
	return "cleanup:" + job.BatchID, nil
}

func (q *recordingQueue) all() []model.ChunkingJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.ChunkingJob(nil), q.jobs...)
}

type fakeInspector struct {
	dead map[string][]model.DeadTask
}

func (f *fakeInspector) Dead(lane string, limit int) ([]model.DeadTask, error) {
	if _, ok := queue.Lanes[lane]; !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrUnknownLane, lane)
	}
	tasks := f.dead[lane]
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	if tasks == nil {
		tasks = []model.DeadTask{}
	}
	return tasks, nil
}

func (f *fakeInspector) Stats(lane string) (model.LaneStats, error) {
	if _, ok := queue.Lanes[lane]; !ok {
		return model.LaneStats{}, fmt.Errorf("%w: %s", queue.ErrUnknownLane, lane)
	}
	return model.LaneStats{Queue: lane, Archived: len(f.dead[lane])}, nil
}

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	mr      *miniredis.Miniredis
	tracker *tracker.Tracker
	channel *progress.Channel
	store   *memoryStore
	queue   *recordingQueue
	dead    *fakeInspector
}

type testOptions struct {
	maxFiles    int
	maxFileSize int64
	llm         llms.Model
}

// setupApp mounts the same routes as cmd/server over in-process Redis and
// in-memory collaborators.
func setupApp(t *testing.T, opts ...func(*testOptions)) *testApp {
	t.Helper()

	o := testOptions{
		maxFiles:    5,
		maxFileSize: 1 << 20,
		llm:         fake.NewFakeLLM([]string{"NORMAL", "Hello from the model."}),
	}
	for _, fn := range opts {
		fn(&o)
	}

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	ta := &testApp{
		mr:      mr,
		tracker: tracker.New(redisClient, time.Hour),
		channel: progress.NewChannel(redisClient, discard),
		store:   &memoryStore{objects: make(map[string][]byte)},
		queue:   &recordingQueue{},
		dead:    &fakeInspector{dead: map[string][]model.DeadTask{}},
	}

	ingestService, err := service.NewIngestService(ta.tracker, ta.store, ta.queue, ta.channel, service.IngestConfig{
		Bucket:      "uploads",
		MaxFiles:    o.maxFiles,
		Concurrency: 2,
		Resync:      20 * time.Millisecond,
	}, discard)
	if err != nil {
		t.Fatalf("failed to create ingest service: %v", err)
	}
	t.Cleanup(ingestService.Release)

	hubCtx, stopHub := context.WithCancel(context.Background())
	t.Cleanup(stopHub)
	hub := ws.NewHub(ingestService, discard)
	go hub.Run(hubCtx)

	chatService := service.NewChatService(o.llm, nil, nil, nil, service.ChatConfig{}, discard)

	routes := handler.Routes{
		Auth:        middleware.NewAuthMiddleware(testJWTSecret).Authenticate(),
		RateLimiter: middleware.NewRateLimiter(redisClient, discard),
		// Use very high rate limits so tests don't get blocked
		Limits: config.RateLimitConfig{UploadPerHour: 10000, ChatPerMin: 10000},
		Verify: handler.NewAuthHandler(testJWTSecret),
		Health: handler.NewHealthHandler(ta.tracker, hub.Connections, map[string]bool{"auth": true}),
		Ingest: handler.NewIngestHandler(ingestService, hub, o.maxFiles, o.maxFileSize, discard),
		Chat:   handler.NewChatHandler(chatService, validator.New(), discard),
		Admin:  handler.NewAdminHandler(ta.dead, discard),
	}

	ta.app = handler.NewApp(50 * 1024 * 1024)
	routes.Mount(ta.app)
	return ta
}

// generateToken creates an HMAC JWT for userID.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken(userID, "test@example.com", testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs a request as the default test user.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, testUserID),
	})
}

type upload struct {
	name        string
	contentType string
	data        []byte
}

func pdf(name string) upload {
	return upload{name: name, contentType: "application/pdf", data: []byte("%PDF-1.4 " + name)}
}

// uploadRequest builds a multipart/form-data request with the given files.
func uploadRequest(t *testing.T, token string, files ...upload) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, f := range files {
		partHeader := make(textproto.MIMEHeader)
		partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.name))
		partHeader.Set("Content-Type", f.contentType)
		part, err := writer.CreatePart(partHeader)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		_, _ = part.Write(f.data)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "/ingest/upload", &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// sseData returns the data payloads of an event stream body
func sseData(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// completeBatch drives a batch to SUCCESS directly through the tracker.
func completeBatch(t *testing.T, tr *tracker.Tracker, batchID string, files, chunks int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < files; i++ {
		if _, err := tr.RecordChunkedFile(ctx, batchID, fmt.Sprintf("f%d", i), chunks/files); err != nil {
			t.Fatalf("record chunked: %v", err)
		}
	}
	if _, err := tr.RecordEmbedded(ctx, batchID, "all", chunks); err != nil {
		t.Fatalf("record embedded: %v", err)
	}
	if _, err := tr.UpdateStatus(ctx, batchID, model.BatchStatusSuccess); err != nil {
		t.Fatalf("update status: %v", err)
	}
}
