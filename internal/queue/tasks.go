// Package queue wraps asynq into the ingestion work queue: typed jobs,
// validated at the boundary, on three named lanes.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/ragscale/api/internal/model"
)

// Lanes
const (
	LaneChunking    = "chunking"
	LaneEmbedding   = "embedding"
	LaneMaintenance = "maintenance"
)

// Task types
const (
	TypeChunk   = "ingest:chunk"
	TypeEmbed   = "ingest:embed"
	TypeCleanup = "ingest:cleanup"
)

// Lanes lists every lane with its asynq priority weight
var Lanes = map[string]int{
	LaneEmbedding:   6,
	LaneChunking:    3,
	LaneMaintenance: 1,
}

var ErrInvalidJob = errors.New("invalid job")

var validate = validator.New()

// Validate checks a job's struct tags
func Validate(job any) error {
	if err := validate.Struct(job); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return nil
}

func newTask(typename string, job any) (*asynq.Task, error) {
	if err := Validate(job); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", typename, err)
	}
	return asynq.NewTask(typename, payload), nil
}

func decode[T any](t *asynq.Task, want string) (T, error) {
	var job T
	if t.Type() != want {
		return job, fmt.Errorf("%w: task type %q, want %q", ErrInvalidJob, t.Type(), want)
	}
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return job, fmt.Errorf("%w: failed to unmarshal task payload: %v", ErrInvalidJob, err)
	}
	if err := Validate(job); err != nil {
		return job, err
	}
	return job, nil
}

// DecodeChunking parses and validates a chunking task
func DecodeChunking(t *asynq.Task) (model.ChunkingJob, error) {
	return decode[model.ChunkingJob](t, TypeChunk)
}

// DecodeEmbedding parses and validates an embedding task
func DecodeEmbedding(t *asynq.Task) (model.EmbeddingJob, error) {
	return decode[model.EmbeddingJob](t, TypeEmbed)
}

// DecodeCleanup parses and validates a cleanup task
func DecodeCleanup(t *asynq.Task) (model.CleanupJob, error) {
	return decode[model.CleanupJob](t, TypeCleanup)
}

// BatchRef is the part of every ingestion payload that names its batch.
type BatchRef struct {
	UserID  string `json:"user_id"`
	BatchID string `json:"batch_id"`
}

// RefOf extracts the batch reference without full validation, so even a
// malformed task can be attributed to its batch when it dies.
func RefOf(payload []byte) (BatchRef, bool) {
	var ref BatchRef
	if err := json.Unmarshal(payload, &ref); err != nil || ref.BatchID == "" {
		return BatchRef{}, false
	}
	return ref, true
}
