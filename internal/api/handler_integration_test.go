//go:build integration

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felipepmaragno/model-router/internal/api"
	"github.com/felipepmaragno/model-router/internal/cache"
	"github.com/felipepmaragno/model-router/internal/circuitbreaker"
	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/metrics"
	"github.com/felipepmaragno/model-router/internal/provider"
	"github.com/felipepmaragno/model-router/internal/registry"
	"github.com/felipepmaragno/model-router/internal/router"
)

type stubProvider struct {
	id    string
	calls *atomic.Int32
	fail  bool
}

func (p *stubProvider) ID() string { return p.id }

func (p *stubProvider) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	p.calls.Add(1)
	if p.fail {
		return nil, provider.NewStatusError(p.id, http.StatusTooManyRequests, nil)
	}
	return &domain.GenerationResult{
		AnalysisText: "answer from " + p.id,
		Metadata:     domain.ResultMetadata{ModelUsed: p.id, TokensUsed: 7},
	}, nil
}

func setupIntegrationServer(t *testing.T, failing map[string]bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	lister := registry.ListerFunc(func(ctx context.Context) ([]domain.DiscoveredModel, error) {
		return []domain.DiscoveredModel{
			{Name: "models/gemini-2.5-flash", Provider: "gemini", SupportedActions: []string{domain.ActionGenerateContent}},
			{Name: "models/gemini-2.5-pro", Provider: "gemini", SupportedActions: []string{domain.ActionGenerateContent}},
			{Name: "models/text-embedding-004", Provider: "gemini", SupportedActions: []string{"embedContent"}},
		}, nil
	})
	reg := registry.New(lister)

	calls := &atomic.Int32{}
	factory := func(m domain.ModelDescriptor) router.Provider {
		return &stubProvider{id: m.ID, calls: calls, fail: failing[m.ID]}
	}

	cfg := router.DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	cfg.MaxJitter = 0

	r := router.New(reg, factory,
		router.WithCache(cache.NewInMemoryCache(10)),
		router.WithBreakers(circuitbreaker.NewManager(circuitbreaker.DefaultConfig())),
		router.WithEventSink(metrics.NewRecorder()),
		router.WithConfig(cfg),
	)

	handler := api.NewHandler(api.HandlerConfig{Router: r, Models: reg})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return server, calls
}

func generate(t *testing.T, url, prompt string) (*http.Response, domain.GenerationResult) {
	t.Helper()

	body, _ := json.Marshal(domain.GenerationRequest{Prompt: prompt})
	resp, err := http.Post(url+"/v1/generate", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/generate: %v", err)
	}
	defer resp.Body.Close()

	var result domain.GenerationResult
	json.NewDecoder(resp.Body).Decode(&result)
	return resp, result
}

func TestIntegration_GenerateAndCache(t *testing.T) {
	server, calls := setupIntegrationServer(t, nil)

	resp, result := generate(t, server.URL, "Explain closures")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Cache") != "MISS" || result.Metadata.ModelUsed == "" {
		t.Errorf("unexpected first response: %s %+v", resp.Header.Get("X-Cache"), result.Metadata)
	}

	resp, result = generate(t, server.URL, "Explain closures")
	if resp.Header.Get("X-Cache") != "HIT" || !result.Metadata.CacheHit {
		t.Errorf("second call should hit the cache")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls.Load())
	}
}

func TestIntegration_FailoverOnRateLimit(t *testing.T) {
	server, _ := setupIntegrationServer(t, map[string]bool{"gemini-2.5-flash": true})

	resp, result := generate(t, server.URL, "Explain interfaces")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if result.Metadata.ModelUsed != "gemini-2.5-pro" {
		t.Errorf("ModelUsed = %q, want fallback gemini-2.5-pro", result.Metadata.ModelUsed)
	}
}

func TestIntegration_AllRateLimited(t *testing.T) {
	server, _ := setupIntegrationServer(t, map[string]bool{"gemini-2.5-pro": true, "gemini-2.5-flash": true})

	resp, _ := generate(t, server.URL, "Explain channels")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestIntegration_ListModels(t *testing.T) {
	server, _ := setupIntegrationServer(t, nil)

	resp, err := http.Get(server.URL + "/v1/models")
	if err != nil {
		t.Fatalf("GET /v1/models: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Data []domain.ModelDescriptor `json:"data"`
	}
	json.NewDecoder(resp.Body).Decode(&body)

	if len(body.Data) != 2 {
		t.Fatalf("expected 2 text models, got %d", len(body.Data))
	}
	if body.Data[0].ID != "gemini-2.5-flash" {
		t.Errorf("primary = %s, want gemini-2.5-flash", body.Data[0].ID)
	}
}
