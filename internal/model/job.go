package model

// ChunkingJob asks a chunking worker to split one uploaded file
type ChunkingJob struct {
	UserID     string `json:"user_id" validate:"required"`
	BatchID    string `json:"batch_id" validate:"required"`
	ObjectKey  string `json:"object_key" validate:"required"`
	BucketName string `json:"bucket_name" validate:"required"`
}

// ChunkRecord is one chunk of extracted text with its provenance
type ChunkRecord struct {
	Text     string         `json:"text" validate:"required"`
	Metadata map[string]any `json:"metadata"`
}

// EmbeddingJob carries a bounded sub-batch of chunks to embed.
// JobKey identifies the sub-batch within its batch so redelivery is not
// double counted.
type EmbeddingJob struct {
	UserID  string        `json:"user_id" validate:"required"`
	BatchID string        `json:"batch_id" validate:"required"`
	JobKey  string        `json:"job_key" validate:"required"`
	Payload []ChunkRecord `json:"payload" validate:"required,min=1,dive"`
}

// CleanupJob removes the uploaded objects of a finished batch
type CleanupJob struct {
	BatchID    string `json:"batch_id" validate:"required"`
	BucketName string `json:"bucket_name" validate:"required"`
}

// Chunk metadata keys
const (
	MetaUserID     = "user_id"
	MetaBatchID    = "batch_id"
	MetaSource     = "source"
	MetaChunkIndex = "chunk_index"
)
