package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ragscale/api/internal/middleware"
	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/service"
	"github.com/ragscale/api/pkg/response"
)

const maxAudioSize = 25 * 1024 * 1024

// Chatter is the chat service surface used by the HTTP layer
type Chatter interface {
	Chat(ctx context.Context, userID, query string, emit func(model.ChatEvent) error) (string, error)
	VoiceChat(ctx context.Context, userID string, audio model.UploadFile, emit func(model.ChatEvent) error) error
}

type ChatHandler struct {
	service   Chatter
	validator *validator.Validate
	logger    *slog.Logger
}

func NewChatHandler(svc Chatter, v *validator.Validate, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

func (h *ChatHandler) errorEvent(err error) interface{} {
	h.logger.Error("chat failed", "error", err)
	msg := "Something went wrong while answering."
	if errors.Is(err, service.ErrSpeechUnavailable) {
		msg = "Voice chat is not available."
	}
	return model.ChatEvent{Type: model.ChatEventError, Content: msg}
}

// Text handles POST /api/chat/text
func (h *ChatHandler) Text(c *fiber.Ctx) error {
	var req model.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	userID := middleware.GetUserID(c)
	streamSSE(c, func(ctx context.Context, emit func(model.ChatEvent) error) error {
		_, err := h.service.Chat(ctx, userID, req.Query, emit)
		return err
	}, h.errorEvent)
	return nil
}

// Voice handles POST /api/chat/voice (multipart field "audio")
func (h *ChatHandler) Voice(c *fiber.Ctx) error {
	fh, err := c.FormFile("audio")
	if err != nil {
		return response.ValidationError(c, "Audio file is required", nil)
	}
	if fh.Size > maxAudioSize {
		return response.TooLarge(c, "Audio exceeds size limit", fiber.Map{
			"maxSize":  maxAudioSize,
			"fileSize": fh.Size,
		})
	}

	// the stream outlives this handler, so the body is read now
	f, err := fh.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	data := make([]byte, fh.Size)
	_, err = io.ReadFull(f, data)
	f.Close()
	if err != nil {
		return response.ServiceError(c, "Failed to read file")
	}

	audio := model.UploadFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        bytes.NewReader(data),
	}
	userID := middleware.GetUserID(c)
	streamSSE(c, func(ctx context.Context, emit func(model.ChatEvent) error) error {
		return h.service.VoiceChat(ctx, userID, audio, emit)
	}, h.errorEvent)
	return nil
}
