package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/ragscale/api/internal/middleware"
	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/service"
	wshub "github.com/ragscale/api/internal/websocket"
	"github.com/ragscale/api/pkg/response"
)

// Ingestor is the ingest service surface used by the HTTP layer
type Ingestor interface {
	Upload(ctx context.Context, userID string, files []model.UploadFile) (string, error)
	Lookup(ctx context.Context, userID, batchID string) (*model.Batch, error)
	Stream(ctx context.Context, userID, batchID string, emit func(model.ProgressEvent) error) error
}

type IngestHandler struct {
	service     Ingestor
	hub         *wshub.Hub
	maxFiles    int
	maxFileSize int64
	logger      *slog.Logger
}

func NewIngestHandler(svc Ingestor, hub *wshub.Hub, maxFiles int, maxFileSize int64, logger *slog.Logger) *IngestHandler {
	return &IngestHandler{
		service:     svc,
		hub:         hub,
		maxFiles:    maxFiles,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

func isPDF(fh *multipart.FileHeader) bool {
	if strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		return true
	}
	ct := fh.Header.Get("Content-Type")
	return ct == "application/pdf" || ct == "application/x-pdf"
}

// Upload handles POST /ingest/upload
func (h *IngestHandler) Upload(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return response.ValidationError(c, "Multipart form with files is required", nil)
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		return response.ValidationError(c, "At least one file is required", nil)
	}
	if len(headers) > h.maxFiles {
		return response.ValidationError(c, "Too many files", fiber.Map{
			"maxFiles": h.maxFiles,
			"files":    len(headers),
		})
	}

	for _, fh := range headers {
		if fh.Size > h.maxFileSize {
			return response.TooLarge(c, "File exceeds size limit", fiber.Map{
				"file":     fh.Filename,
				"maxSize":  h.maxFileSize,
				"fileSize": fh.Size,
			})
		}
		if !isPDF(fh) {
			return response.ValidationError(c, "Only PDF files are supported", fiber.Map{
				"file":        fh.Filename,
				"contentType": fh.Header.Get("Content-Type"),
			})
		}
	}

	files := make([]model.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return response.ServiceError(c, "Failed to open file")
		}
		defer f.Close()

		files = append(files, model.UploadFile{
			Filename:    fh.Filename,
			ContentType: "application/pdf",
			Size:        fh.Size,
			Body:        f,
		})
	}

	batchID, err := h.service.Upload(c.Context(), middleware.GetUserID(c), files)
	switch {
	case errors.Is(err, service.ErrNoFiles), errors.Is(err, service.ErrTooManyFiles):
		return response.ValidationError(c, err.Error(), nil)
	case err != nil:
		h.logger.Error("upload failed", "error", err)
		return response.ServiceError(c, "Failed to start ingestion")
	}

	return response.Accepted(c, model.UploadResponse{
		Message: "Files uploaded, processing started.",
		BatchID: batchID,
	})
}

// lookup answers 404 for unknown or foreign batches
func (h *IngestHandler) lookup(c *fiber.Ctx) (string, string, bool, error) {
	userID := middleware.GetUserID(c)
	batchID := utils.CopyString(c.Params("batchId"))

	_, err := h.service.Lookup(c.Context(), userID, batchID)
	if errors.Is(err, service.ErrBatchNotFound) {
		return "", "", false, response.NotFound(c, "Batch not found")
	}
	if err != nil {
		h.logger.Error("batch lookup failed", "batch_id", batchID, "error", err)
		return "", "", false, response.Unavailable(c, "Batch tracker unavailable")
	}
	return userID, batchID, true, nil
}

// Status handles GET /ingest/status/:batchId as a server-sent event stream
func (h *IngestHandler) Status(c *fiber.Ctx) error {
	userID, batchID, ok, err := h.lookup(c)
	if !ok {
		return err
	}

	streamSSE(c, func(ctx context.Context, emit func(model.ProgressEvent) error) error {
		return h.service.Stream(ctx, userID, batchID, emit)
	}, func(err error) interface{} {
		h.logger.Error("status stream failed", "batch_id", batchID, "error", err)
		return fiber.Map{"error": "Status stream interrupted"}
	})
	return nil
}

// StatusUpgrade authorizes GET /ws/ingest/:batchId before the websocket
// handshake so unknown batches get a plain 404.
func (h *IngestHandler) StatusUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	userID, batchID, ok, err := h.lookup(c)
	if !ok {
		return err
	}
	c.Locals("batchId", batchID)
	c.Locals("userId", userID)
	return c.Next()
}

// StatusSocket relays the status stream over the upgraded connection
func (h *IngestHandler) StatusSocket() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userId").(string)
		batchID, _ := conn.Locals("batchId").(string)
		h.hub.HandleConnection(conn, userID, batchID)
	})
}
