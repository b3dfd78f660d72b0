package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/provider"
)

const (
	Name = "anthropic"

	defaultMaxTokens = 4096
)

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

type Backend struct {
	client     anthropicsdk.Client
	configured bool
}

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
		client:     anthropicsdk.NewClient(opts...),
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

	maxTokens := call.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(call.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(call.Prompt)),
		},
	}
	if call.Instruction != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: call.Instruction}}
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(call.Model, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &provider.Completion{
		Text:       text.String(),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

func (b *Backend) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	if !b.configured {
		return nil, domain.ErrMissingCredentials
	}

	var models []domain.DiscoveredModel
	iter := b.client.Models.ListAutoPaging(ctx, anthropicsdk.ModelListParams{})
	for iter.Next() {
		m := iter.Current()
		models = append(models, domain.DiscoveredModel{
			Name:             m.ID,
			DisplayName:      m.DisplayName,
			Provider:         Name,
			SupportedActions: []string{domain.ActionGenerateContent},
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list anthropic models: %w", classify("", err))
	}
	return models, nil
}

func classify(model string, err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return provider.NewStatusError(model, apiErr.StatusCode, err)
	}
	return provider.NewError(domain.KindTransient, model, err)
}
