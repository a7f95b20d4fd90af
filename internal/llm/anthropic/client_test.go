package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"keygate-sdk/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestCompleteSuccess(t *testing.T) {
	var captured struct {
		APIKey  string
		Version string
		Path    string
		Body    messagesRequest
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.APIKey = r.Header.Get("x-api-key")
		captured.Version = r.Header.Get("anthropic-version")
		captured.Path = r.URL.Path
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":       "claude-3-sonnet-20240229",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": "<function>get_balance</function>"}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/", Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	resp, err := client.Complete(context.Background(), llm.Request{
		System:   "You are ICP Assistant",
		Messages: []llm.Message{llm.UserMessage("what is my balance?")},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "<function>get_balance</function>" || resp.StopReason != "end_turn" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if captured.APIKey != "sk-test" || captured.Version != defaultAPIVersion || captured.Path != "/v1/messages" {
		t.Fatalf("unexpected request %+v", captured)
	}
	if captured.Body.Model != defaultModelName || captured.Body.MaxTokens != 1024 || captured.Body.System != "You are ICP Assistant" {
		t.Fatalf("unexpected body %+v", captured.Body)
	}
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	client, _ := NewClient(Config{APIKey: "bad", BaseURL: srv.URL})
	client.httpClient = srv.Client()
	_, err := client.Complete(context.Background(), llm.Request{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err == nil || !strings.Contains(err.Error(), "invalid x-api-key") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestCompleteRequiresMessages(t *testing.T) {
	client, _ := NewClient(Config{APIKey: "k"})
	if _, err := client.Complete(context.Background(), llm.Request{}); err == nil {
		t.Fatalf("expected error for empty messages")
	}
}
