package model

import "io"

// UploadFile is one file of a multipart upload
type UploadFile struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// UploadResponse is returned once a batch was accepted
type UploadResponse struct {
	Message string `json:"message"`
	BatchID string `json:"batch_id"`
}

// DeadTask describes a task that exhausted its retries
type DeadTask struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Queue    string `json:"queue"`
	BatchID  string `json:"batch_id,omitempty"`
	Retried  int    `json:"retried"`
	MaxRetry int    `json:"max_retry"`
	LastErr  string `json:"last_error"`
	FailedAt string `json:"last_failed_at,omitempty"`
}

// LaneStats summarizes one queue lane
type LaneStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
}
