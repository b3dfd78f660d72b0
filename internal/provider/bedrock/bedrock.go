package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/provider"
)

const (
	Name = "bedrock"

	anthropicVersion = "bedrock-2023-05-31"
	defaultMaxTokens = 4096
)

// ModelInvoker is the slice of the Bedrock runtime client the backend uses.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Backend invokes Anthropic models hosted on Bedrock.
// Bedrock has no listing endpoint for invokable models here, so the models
// it offers are given at construction.
type Backend struct {
	client ModelInvoker
	models []string
}

func New(ctx context.Context, region string, models ...string) (*Backend, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithConfig(cfg, models...), nil
}

func NewWithConfig(cfg aws.Config, models ...string) *Backend {
	return NewWithClient(bedrockruntime.NewFromConfig(cfg), models...)
}

func NewWithClient(client ModelInvoker, models ...string) *Backend {
	return &Backend{client: client, models: models}
}

func (b *Backend) Name() string {
	return Name
}

// Configured is true once a client exists; AWS credentials resolve lazily
// through the default chain and surface as AccessDenied on first use.
func (b *Backend) Configured() bool {
	return b.client != nil
}

func (b *Backend) Complete(ctx context.Context, call provider.Call) (*provider.Completion, error) {
	maxTokens := call.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        maxTokens,
		System:           call.Instruction,
		Messages:         []bedrockMessage{{Role: "user", Content: call.Prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(MapModelID(call.Model)),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classify(call.Model, err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, provider.NewError(domain.KindMalformed, call.Model, fmt.Errorf("unmarshal response: %w", err))
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &provider.Completion{
		Text:       text.String(),
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// ListModels reports the configured models as text generators.
func (b *Backend) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	models := make([]domain.DiscoveredModel, 0, len(b.models))
	for _, id := range b.models {
		models = append(models, domain.DiscoveredModel{
			Name:             id,
			Provider:         Name,
			SupportedActions: []string{domain.ActionGenerateContent},
		})
	}
	return models, nil
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
	System           string           `json:"system,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      bedrockUsage   `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type bedrockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MapModelID expands short Claude names to Bedrock model IDs. Unknown names
// pass through unchanged.
func MapModelID(model string) string {
	modelMap := map[string]string{
		"claude-3-5-sonnet": "anthropic.claude-3-5-sonnet-20241022-v2:0",
		"claude-3-5-haiku":  "anthropic.claude-3-5-haiku-20241022-v1:0",
		"claude-3-opus":     "anthropic.claude-3-opus-20240229-v1:0",
		"claude-3-sonnet":   "anthropic.claude-3-sonnet-20240229-v1:0",
		"claude-3-haiku":    "anthropic.claude-3-haiku-20240307-v1:0",
	}

	if mapped, ok := modelMap[model]; ok {
		return mapped
	}
	return model
}

func classify(model string, err error) error {
	var throttled *types.ThrottlingException
	var quota *types.ServiceQuotaExceededException
	if errors.As(err, &throttled) || errors.As(err, &quota) {
		return provider.NewError(domain.KindRateLimit, model, err)
	}

	var denied *types.AccessDeniedException
	var notFound *types.ResourceNotFoundException
	var invalid *types.ValidationException
	if errors.As(err, &denied) || errors.As(err, &notFound) || errors.As(err, &invalid) {
		return provider.NewError(domain.KindConfiguration, model, err)
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return provider.NewStatusError(model, respErr.HTTPStatusCode(), err)
	}

	return provider.NewError(domain.KindTransient, model, err)
}
