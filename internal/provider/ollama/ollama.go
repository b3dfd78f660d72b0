package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/httputil"
	"github.com/felipepmaragno/model-router/internal/provider"
)

const Name = "ollama"

// Backend talks to a local Ollama server. It needs no credentials; an empty
// base URL leaves it unconfigured.
type Backend struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, client *http.Client) *Backend {
	if client == nil {
		client = httputil.DefaultClient()
	}
	return &Backend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

func (b *Backend) Name() string {
	return Name
}

func (b *Backend) Configured() bool {
	return b.baseURL != ""
}

func (b *Backend) Complete(ctx context.Context, call provider.Call) (*provider.Completion, error) {
	if !b.Configured() {
		return nil, provider.NewError(domain.KindConfiguration, call.Model, domain.ErrMissingCredentials)
	}

	req := ollamaChatRequest{Model: call.Model}
	if call.Instruction != "" {
		req.Messages = append(req.Messages, ollamaMessage{Role: "system", Content: call.Instruction})
	}
	req.Messages = append(req.Messages, ollamaMessage{Role: "user", Content: call.Prompt})
	if call.MaxOutputTokens > 0 {
		req.Options = &ollamaOptions{NumPredict: call.MaxOutputTokens}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, provider.NewError(domain.KindTransient, call.Model, fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, provider.NewStatusError(call.Model, resp.StatusCode,
			fmt.Errorf("ollama error: status=%d body=%s", resp.StatusCode, string(bodyBytes)))
	}

	var ollamaResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, provider.NewError(domain.KindMalformed, call.Model, fmt.Errorf("decode response: %w", err))
	}

	return &provider.Completion{
		Text:       ollamaResp.Message.Content,
		TokensUsed: ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
	}, nil
}

// ListModels reports locally pulled models. Ollama exposes no capability
// list, so every model is treated as a text generator.
func (b *Backend) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	if !b.Configured() {
		return nil, domain.ErrMissingCredentials
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama error: status=%d", resp.StatusCode)
	}

	var tagsResp ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tagsResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	models := make([]domain.DiscoveredModel, len(tagsResp.Models))
	for i, m := range tagsResp.Models {
		models[i] = domain.DiscoveredModel{
			Name:             m.Name,
			Provider:         Name,
			SupportedActions: []string{domain.ActionGenerateContent},
		}
	}

	return models, nil
}

// HealthCheck pings the tags endpoint.
func (b *Backend) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama unhealthy: status=%d", resp.StatusCode)
	}

	return nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	NumPredict int `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

type ollamaTagsResponse struct {
	Models []ollamaModel `json:"models"`
}

type ollamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
}
