package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragscale/api/internal/config"
)

func newSpeech(url string) *SpeechClient {
	return NewSpeechClient(&config.SpeechConfig{
		APIKey:   "key",
		BaseURL:  url,
		VoiceID:  "voice-1",
		STTModel: "scribe_v2",
		TTSModel: "eleven_multilingual_v2",
	})
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speech-to-text", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "scribe_v2", r.FormValue("model_id"))
		assert.Equal(t, "https://bucket/audio.webm", r.FormValue("cloud_storage_url"))
		w.Write([]byte(`{"text":"what is in my notes"}`))
	}))
	defer srv.Close()

	text, err := newSpeech(srv.URL).Transcribe(context.Background(), "https://bucket/audio.webm")
	require.NoError(t, err)
	assert.Equal(t, "what is in my notes", text)
}

func TestSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "mp3_44100_128", r.URL.Query().Get("output_format"))

		var body synthesisRequest
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, "hello", body.Text)
		assert.Equal(t, "eleven_multilingual_v2", body.ModelID)
		w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	audio, err := newSpeech(srv.URL).Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-audio"), audio)
}

func TestSpeechErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newSpeech(srv.URL).Synthesize(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSpeechIsConfigured(t *testing.T) {
	assert.True(t, newSpeech("http://x").IsConfigured())
	assert.False(t, NewSpeechClient(&config.SpeechConfig{BaseURL: "http://x"}).IsConfigured())
}
