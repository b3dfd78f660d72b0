package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/provider"
	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const Name = "openai"

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type Backend struct {
	client     openaisdk.Client
	configured bool
}

// New builds the backend. SDK retries are disabled; the router owns retrying.
func New(cfg Config) *Backend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Backend{
		client:     openaisdk.NewClient(opts...),
		configured: !provider.IsPlaceholderKey(cfg.APIKey),
	}
}

func (b *Backend) Name() string {
	return Name
}

func (b *Backend) Configured() bool {
	return b.configured
}

func (b *Backend) Complete(ctx context.Context, call provider.Call) (*provider.Completion, error) {
	if !b.configured {
		return nil, provider.NewError(domain.KindConfiguration, call.Model, domain.ErrMissingCredentials)
	}

	var messages []openaisdk.ChatCompletionMessageParamUnion
	if call.Instruction != "" {
		messages = append(messages, openaisdk.SystemMessage(call.Instruction))
	}
	messages = append(messages, openaisdk.UserMessage(call.Prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(call.Model),
		Messages: messages,
	}
	if call.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(call.MaxOutputTokens))
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(call.Model, err)
	}

	if len(resp.Choices) == 0 {
		return nil, provider.NewError(domain.KindMalformed, call.Model, errors.New("no choices in response"))
	}

	return &provider.Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

// ListModels lists chat-capable models. OpenAI does not report supported
// actions, so every listed model is marked as generating content and the
// registry's exclusion list removes embedding, audio and image models.
func (b *Backend) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	if !b.configured {
		return nil, domain.ErrMissingCredentials
	}

	var models []domain.DiscoveredModel
	iter := b.client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		m := iter.Current()
		if !isChatModel(m.ID) {
			continue
		}
		models = append(models, domain.DiscoveredModel{
			Name:             m.ID,
			Provider:         Name,
			SupportedActions: []string{domain.ActionGenerateContent},
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list openai models: %w", classify("", err))
	}
	return models, nil
}

var chatPrefixes = []string{"gpt-", "chatgpt-", "o1", "o3", "o4"}

func isChatModel(id string) bool {
	for _, p := range chatPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

func classify(model string, err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return provider.NewStatusError(model, apiErr.StatusCode, err)
	}
	return provider.NewError(domain.KindTransient, model, err)
}
