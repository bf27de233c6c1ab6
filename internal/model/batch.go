package model

import "fmt"

// BatchStatus is the lifecycle state of an upload batch
type BatchStatus string

const (
	BatchStatusPending BatchStatus = "PENDING"
	BatchStatusSuccess BatchStatus = "SUCCESS"
	BatchStatusFailed  BatchStatus = "FAILED"
	// BatchStatusNone is reported when no batch record exists
	BatchStatusNone BatchStatus = "NONE"
)

// IsTerminal reports whether no further transitions are allowed
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusSuccess || s == BatchStatusFailed
}

// BatchField names a counter of the batch record
type BatchField string

const (
	FieldFilesChunked   BatchField = "files_chunked"
	FieldTotalChunks    BatchField = "total_chunks"
	FieldChunksEmbedded BatchField = "chunks_embedded"
)

// Valid reports whether f is one of the mutable counters
func (f BatchField) Valid() bool {
	switch f {
	case FieldFilesChunked, FieldTotalChunks, FieldChunksEmbedded:
		return true
	}
	return false
}

// Batch is a snapshot of one user upload operation
type Batch struct {
	ID             string      `json:"batch_id"`
	UserID         string      `json:"user_id"`
	TotalFiles     int         `json:"total_files"`
	FilesChunked   int         `json:"files_chunked"`
	TotalChunks    int         `json:"total_chunks"`
	ChunksEmbedded int         `json:"chunks_embedded"`
	Status         BatchStatus `json:"status"`
}

// Complete reports whether every file is chunked and every known chunk embedded.
func (b *Batch) Complete() bool {
	return b.FilesChunked == b.TotalFiles && b.ChunksEmbedded == b.TotalChunks
}

// Progress returns floor(chunks_embedded / total_chunks * 100), 0 when nothing
// is known yet, capped at 100.
func (b *Batch) Progress() int {
	if b.TotalChunks <= 0 {
		return 0
	}
	p := b.ChunksEmbedded * 100 / b.TotalChunks
	if p > 100 {
		p = 100
	}
	return p
}

// Details renders the human-readable counters summary
func (b *Batch) Details() string {
	return fmt.Sprintf("Chunked %d/%d files, embedded %d/%d chunks.",
		b.FilesChunked, b.TotalFiles, b.ChunksEmbedded, b.TotalChunks)
}

// Summary is the details string of a successful batch
func (b *Batch) Summary() string {
	return fmt.Sprintf("Ingestion complete: %d files processed, %d chunks embedded.",
		b.TotalFiles, b.TotalChunks)
}

// Event converts the snapshot into the progress event a status stream emits.
func (b *Batch) Event() ProgressEvent {
	switch b.Status {
	case BatchStatusSuccess:
		return ProgressEvent{UserID: b.UserID, Status: b.Status, Progress: 100, Details: b.Summary()}
	case BatchStatusFailed:
		return ProgressEvent{UserID: b.UserID, Status: b.Status, Progress: 0, Details: "Ingestion failed."}
	default:
		return ProgressEvent{UserID: b.UserID, Status: b.Status, Progress: b.Progress(), Details: b.Details()}
	}
}
