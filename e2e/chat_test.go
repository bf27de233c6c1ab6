package e2e

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/tmc/langchaingo/llms/fake"

	"github.com/ragscale/api/internal/model"
)

func TestChatText(t *testing.T) {
	ta := setupApp(t, func(o *testOptions) {
		o.llm = fake.NewFakeLLM([]string{"NORMAL", "Paris is the capital of France."})
	})

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/chat/text", `{"query":"What is the capital of France?"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	var events []model.ChatEvent
	for _, data := range sseData(readBody(t, resp)) {
		var ev model.ChatEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("bad event %q: %v", data, err)
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("expected status and text events, got %+v", events)
	}
	if events[0].Type != model.ChatEventStatus {
		t.Errorf("expected status first, got %+v", events[0])
	}
	if events[1] != (model.ChatEvent{Type: model.ChatEventText, Content: "Paris is the capital of France."}) {
		t.Errorf("unexpected answer %+v", events[1])
	}
}

func TestChatText_EmptyQuery(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/chat/text", `{"query":""}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)

	body := parseJSON(t, resp)
	errBody, _ := body["error"].(map[string]interface{})
	if errBody["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", body)
	}
}

func TestChatVoice_MissingAudio(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/chat/voice", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestChat_NoAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/chat/text", `{"query":"hi"}`, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}
