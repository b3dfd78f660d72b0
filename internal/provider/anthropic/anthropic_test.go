package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/provider"
)

func TestBackend_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["max_tokens"] != float64(defaultMaxTokens) {
			t.Errorf("expected default max_tokens, got %v", body["max_tokens"])
		}
		if _, ok := body["system"]; !ok {
			t.Error("expected system instruction")
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "part one "}, {"type": "text", "text": "part two"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	b := New(Config{APIKey: "sk-ant-test", BaseURL: server.URL, HTTPClient: server.Client()})

	completion, err := b.Complete(context.Background(), provider.Call{
		Model:       "claude-3-5-haiku-latest",
		Prompt:      "hi",
		Instruction: "be brief",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Text != "part one part two" {
		t.Errorf("unexpected text %q", completion.Text)
	}
	if completion.TokensUsed != 7 {
		t.Errorf("expected 7 tokens, got %d", completion.TokensUsed)
	}
}

func TestBackend_AuthErrorIsConfiguration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`))
	}))
	defer server.Close()

	b := New(Config{APIKey: "sk-ant-revoked", BaseURL: server.URL, HTTPClient: server.Client()})

	_, err := b.Complete(context.Background(), provider.Call{Model: "claude-3-5-haiku-latest", Prompt: "hi"})
	if !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestBackend_Unconfigured(t *testing.T) {
	b := New(Config{APIKey: "<anthropic-key>"})
	if b.Configured() {
		t.Error("expected placeholder key to be rejected")
	}
}
