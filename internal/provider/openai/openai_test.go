package openai

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
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test-123" {
			t.Errorf("unexpected auth header %q", got)
		}

		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-4o-mini" {
			t.Errorf("unexpected model %v", body["model"])
		}
		if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
			t.Errorf("expected system and user messages, got %d", len(msgs))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`))
	}))
	defer server.Close()

	b := New(Config{APIKey: "sk-test-123", BaseURL: server.URL, HTTPClient: server.Client()})

	completion, err := b.Complete(context.Background(), provider.Call{
		Model:       "gpt-4o-mini",
		Prompt:      "hi",
		Instruction: "be brief",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Text != "hello" || completion.TokensUsed != 7 {
		t.Errorf("unexpected completion %+v", completion)
	}
}

func TestBackend_RateLimit(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
	}))
	defer server.Close()

	b := New(Config{APIKey: "sk-test-123", BaseURL: server.URL, HTTPClient: server.Client()})

	_, err := b.Complete(context.Background(), provider.Call{Model: "gpt-4o-mini", Prompt: "hi"})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected SDK retries to be disabled, got %d calls", calls)
	}
}

func TestBackend_Unconfigured(t *testing.T) {
	b := New(Config{APIKey: ""})

	if b.Configured() {
		t.Error("expected unconfigured backend")
	}
	if _, err := b.Complete(context.Background(), provider.Call{Model: "gpt-4o"}); !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestBackend_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object": "list", "data": [
			{"id": "gpt-4o-mini", "object": "model", "created": 1, "owned_by": "openai"},
			{"id": "text-embedding-3-small", "object": "model", "created": 1, "owned_by": "openai"},
			{"id": "o3-mini", "object": "model", "created": 1, "owned_by": "openai"}
		]}`))
	}))
	defer server.Close()

	b := New(Config{APIKey: "sk-test-123", BaseURL: server.URL, HTTPClient: server.Client()})

	models, err := b.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 chat models, got %d: %+v", len(models), models)
	}
	if models[0].Name != "gpt-4o-mini" || models[1].Name != "o3-mini" {
		t.Errorf("unexpected models %+v", models)
	}
}
