package gemini

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/provider"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	b, err := New(context.Background(), Config{
		APIKey:     "test-key-123",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestBackend_Complete(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "gemini-2.5-flash:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"analysis\": \"ok\"}"}]}}],
			"usageMetadata": {"totalTokenCount": 42}
		}`))
	})

	completion, err := b.Complete(context.Background(), provider.Call{
		Model:           "gemini-2.5-flash",
		Prompt:          "hello",
		Instruction:     "answer as JSON",
		MaxOutputTokens: 256,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completion.Text != `{"analysis": "ok"}` {
		t.Errorf("unexpected text %q", completion.Text)
	}
	if completion.TokensUsed != 42 {
		t.Errorf("expected 42 tokens, got %d", completion.TokensUsed)
	}
}

func TestBackend_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.ErrorKind
	}{
		{"code in body", http.StatusTooManyRequests, `{"error": {"code": 429, "message": "quota"}}`, domain.KindRateLimit},
		{"status name only", http.StatusTooManyRequests, `{"error": {"code": 0, "message": "quota", "status": "RESOURCE_EXHAUSTED"}}`, domain.KindRateLimit},
		{"permission denied", http.StatusForbidden, `{"error": {"message": "denied", "status": "PERMISSION_DENIED"}}`, domain.KindConfiguration},
		{"unauthenticated", http.StatusUnauthorized, `{"error": {"message": "bad key", "status": "UNAUTHENTICATED"}}`, domain.KindConfiguration},
		{"rate limit from http status", http.StatusTooManyRequests, `{"error": {"code": 0, "message": "nope"}}`, domain.KindRateLimit},
		{"forbidden from http status", http.StatusForbidden, `{"error": {"code": 0, "message": "nope"}}`, domain.KindConfiguration},
		{"server error", http.StatusInternalServerError, `{"error": {"code": 0, "message": "nope"}}`, domain.KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := b.Complete(context.Background(), provider.Call{Model: "gemini-2.5-flash", Prompt: "hi"})

			var pe *domain.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProviderError, got %v", err)
			}
			if pe.Kind != tt.want {
				t.Errorf("expected kind %v, got %v", tt.want, pe.Kind)
			}
			if pe.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, pe.StatusCode)
			}
		})
	}
}

func TestBackend_Unconfigured(t *testing.T) {
	b, err := New(context.Background(), Config{APIKey: "your-api-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Configured() {
		t.Error("placeholder key must leave the backend unconfigured")
	}

	_, err = b.Complete(context.Background(), provider.Call{Model: "gemini-2.5-flash"})
	if !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := b.ListModels(context.Background()); !errors.Is(err, domain.ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials from ListModels, got %v", err)
	}
}

func TestBackend_ListModels(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"models": [
			{"name": "models/gemini-2.5-flash", "displayName": "Gemini 2.5 Flash", "inputTokenLimit": 1048576, "outputTokenLimit": 65536, "supportedGenerationMethods": ["generateContent", "countTokens"]},
			{"name": "models/text-embedding-004", "supportedGenerationMethods": ["embedContent"]}
		]}`))
	})

	models, err := b.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if models[0].Name != "models/gemini-2.5-flash" || models[0].InputTokenLimit != 1048576 {
		t.Errorf("unexpected first model %+v", models[0])
	}
	if models[0].Provider != Name {
		t.Errorf("expected provider %s, got %s", Name, models[0].Provider)
	}
}
