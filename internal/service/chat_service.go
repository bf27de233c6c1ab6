package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/ragscale/api/internal/client"
	"github.com/ragscale/api/internal/model"
)

var ErrSpeechUnavailable = errors.New("speech service is not configured")

const (
	classifyPrompt = `Decide whether answering the user's message needs their uploaded documents.
Reply with exactly one word: RETRIEVAL if it asks about document content, NORMAL otherwise.

Message: %s`

	systemPrompt = `You are a helpful assistant. Answer concisely.`

	contextPrompt = `Use the following excerpts from the user's documents to answer. If they do not contain the answer, say so.

%s`
)

// Retriever finds the user's chunks closest to a query
type Retriever interface {
	Search(ctx context.Context, userID, query string, n int) ([]schema.Document, error)
}

// AudioStore holds voice inputs and synthesized replies
type AudioStore interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, contentType string) error
	Presign(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, bucket, key string) error
}

type ChatConfig struct {
	AudioBucket   string
	PresignExpiry time.Duration
	TopK          int
}

// ChatService answers text and voice queries, optionally grounded on the
// user's ingested documents.
type ChatService struct {
	llm       llms.Model
	retriever Retriever
	speech    client.SpeechProcessor
	audio     AudioStore
	cfg       ChatConfig
	logger    *slog.Logger
}

func NewChatService(llm llms.Model, retriever Retriever, speech client.SpeechProcessor, audio AudioStore, cfg ChatConfig, logger *slog.Logger) *ChatService {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}
	return &ChatService{
		llm:       llm,
		retriever: retriever,
		speech:    speech,
		audio:     audio,
		cfg:       cfg,
		logger:    logger,
	}
}

// Classify routes a query. Anything but a clear RETRIEVAL answer is NORMAL.
func (s *ChatService) Classify(ctx context.Context, query string) model.QueryType {
	out, err := llms.GenerateFromSinglePrompt(ctx, s.llm, fmt.Sprintf(classifyPrompt, query), llms.WithTemperature(0))
	if err != nil {
		s.logger.Warn("query classification failed", "error", err)
		return model.QueryNormal
	}
	word := strings.ToUpper(strings.Trim(strings.TrimSpace(out), `"'.`))
	if word == string(model.QueryRetrieval) {
		return model.QueryRetrieval
	}
	return model.QueryNormal
}

// Chat streams an answer to a text query as text events and returns the
// full answer.
func (s *ChatService) Chat(ctx context.Context, userID, query string, emit func(model.ChatEvent) error) (string, error) {
	if err := emit(model.ChatEvent{Type: model.ChatEventStatus, Content: "Thinking..."}); err != nil {
		return "", err
	}

	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt)}
	if s.Classify(ctx, query) == model.QueryRetrieval {
		if excerpt := s.retrieve(ctx, userID, query); excerpt != "" {
			messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, fmt.Sprintf(contextPrompt, excerpt)))
		}
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, query))

	streamed := false
	resp, err := s.llm.GenerateContent(ctx, messages, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		streamed = true
		return emit(model.ChatEvent{Type: model.ChatEventText, Content: string(chunk)})
	}))
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}

	answer := resp.Choices[0].Content
	if !streamed && answer != "" {
		if err := emit(model.ChatEvent{Type: model.ChatEventText, Content: answer}); err != nil {
			return "", err
		}
	}
	return answer, nil
}

func (s *ChatService) retrieve(ctx context.Context, userID, query string) string {
	if s.retriever == nil {
		return ""
	}
	docs, err := s.retriever.Search(ctx, userID, query, s.cfg.TopK)
	if err != nil {
		s.logger.Warn("retrieval failed, answering without context", "user_id", userID, "error", err)
		return ""
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if text := strings.TrimSpace(d.PageContent); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// VoiceChat transcribes the recording, answers it and returns the answer as
// a presigned audio link. The input recording is removed once transcribed.
func (s *ChatService) VoiceChat(ctx context.Context, userID string, audio model.UploadFile, emit func(model.ChatEvent) error) error {
	if s.speech == nil || !s.speech.IsConfigured() || s.audio == nil {
		return ErrSpeechUnavailable
	}

	if err := emit(model.ChatEvent{Type: model.ChatEventStatus, Content: "Transcribing audio..."}); err != nil {
		return err
	}

	inputKey := fmt.Sprintf("input/%s/%s_%s", userID, uuid.NewString(), path.Base(audio.Filename))
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.audio.Put(ctx, s.cfg.AudioBucket, inputKey, audio.Body, contentType); err != nil {
		return fmt.Errorf("failed to store recording: %w", err)
	}
	defer func() {
		if err := s.audio.Delete(context.WithoutCancel(ctx), s.cfg.AudioBucket, inputKey); err != nil {
			s.logger.Warn("failed to delete recording", "key", inputKey, "error", err)
		}
	}()

	inputURL, err := s.audio.Presign(ctx, s.cfg.AudioBucket, inputKey, s.cfg.PresignExpiry)
	if err != nil {
		return fmt.Errorf("failed to presign recording: %w", err)
	}

	transcript, err := s.speech.Transcribe(ctx, inputURL)
	if err != nil {
		return fmt.Errorf("failed to transcribe: %w", err)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return errors.New("no speech detected")
	}
	if err := emit(model.ChatEvent{Type: model.ChatEventTranscription, Content: transcript}); err != nil {
		return err
	}

	answer, err := s.Chat(ctx, userID, transcript, emit)
	if err != nil {
		return err
	}

	if err := emit(model.ChatEvent{Type: model.ChatEventStatus, Content: "Generating audio..."}); err != nil {
		return err
	}
	speech, err := s.speech.Synthesize(ctx, answer)
	if err != nil {
		return fmt.Errorf("failed to synthesize: %w", err)
	}

	outputKey := fmt.Sprintf("output/%s/%s.mp3", userID, uuid.NewString())
	if err := s.audio.Put(ctx, s.cfg.AudioBucket, outputKey, bytes.NewReader(speech), "audio/mpeg"); err != nil {
		return fmt.Errorf("failed to store reply audio: %w", err)
	}
	outputURL, err := s.audio.Presign(ctx, s.cfg.AudioBucket, outputKey, s.cfg.PresignExpiry)
	if err != nil {
		return fmt.Errorf("failed to presign reply audio: %w", err)
	}
	return emit(model.ChatEvent{Type: model.ChatEventAudio, Content: outputURL})
}
