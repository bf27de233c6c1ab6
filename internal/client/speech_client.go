package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/ragscale/api/internal/config"
)

// SpeechProcessor defines the speech-to-text / text-to-speech operations
type SpeechProcessor interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
	IsConfigured() bool
}

// SpeechClient implements SpeechProcessor against the ElevenLabs HTTP API
type SpeechClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	voiceID    string
	sttModel   string
	ttsModel   string
}

var _ SpeechProcessor = (*SpeechClient)(nil)

type transcriptionResponse struct {
	Text string `json:"text"`
}

type synthesisRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// NewSpeechClient creates a new speech client
func NewSpeechClient(cfg *config.SpeechConfig) *SpeechClient {
	return &SpeechClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		voiceID:    cfg.VoiceID,
		sttModel:   cfg.STTModel,
		ttsModel:   cfg.TTSModel,
	}
}

// Transcribe converts the audio at audioURL (usually a presigned link) to text
func (c *SpeechClient) Transcribe(ctx context.Context, audioURL string) (string, error) {
	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	fields := map[string]string{
		"model_id":          c.sttModel,
		"cloud_storage_url": audioURL,
		"tag_audio_events":  "false",
		"language_code":     "en",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build form: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/speech-to-text", w.FormDataContentType(), &form)
	if err != nil {
		return "", err
	}

	var result transcriptionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return result.Text, nil
}

// Synthesize returns mp3 audio for text
func (c *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(synthesisRequest{Text: text, ModelID: c.ttsModel})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := "/v1/text-to-speech/" + url.PathEscape(c.voiceID) + "?output_format=mp3_44100_128"
	return c.do(ctx, http.MethodPost, endpoint, "application/json", bytes.NewReader(body))
}

// do sends a request and returns the raw response body
func (c *SpeechClient) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("speech service error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *SpeechClient) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != ""
}
