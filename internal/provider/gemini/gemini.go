package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/felipepmaragno/model-router/internal/domain"
	"github.com/felipepmaragno/model-router/internal/provider"
	"google.golang.org/genai"
)

const Name = "gemini"

type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Backend calls the Gemini API through the genai SDK.
type Backend struct {
	client *genai.Client
}

// New builds the backend. A missing or placeholder key yields an unconfigured
// backend rather than an error, so discovery and routing can still fall back.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if provider.IsPlaceholderKey(cfg.APIKey) {
		return &Backend{}, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: withStatusRecorder(cfg.HTTPClient),
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Backend{client: client}, nil
}

func (b *Backend) Name() string {
	return Name
}

func (b *Backend) Configured() bool {
	return b.client != nil
}

func (b *Backend) Complete(ctx context.Context, call provider.Call) (*provider.Completion, error) {
	if b.client == nil {
		return nil, provider.NewError(domain.KindConfiguration, call.Model, domain.ErrMissingCredentials)
	}

	config := &genai.GenerateContentConfig{}
	if call.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(call.MaxOutputTokens)
	}
	if call.Instruction != "" {
		config.SystemInstruction = genai.NewContentFromText(call.Instruction, genai.RoleUser)
	}

	ctx, status := recordStatus(ctx)
	resp, err := b.client.Models.GenerateContent(ctx, call.Model, genai.Text(call.Prompt), config)
	if err != nil {
		return nil, classify(call.Model, status.code, err)
	}

	completion := &provider.Completion{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		completion.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return completion, nil
}

// ListModels lists Gemini models with their supported actions.
func (b *Backend) ListModels(ctx context.Context) ([]domain.DiscoveredModel, error) {
	if b.client == nil {
		return nil, domain.ErrMissingCredentials
	}

	ctx, status := recordStatus(ctx)
	var models []domain.DiscoveredModel
	for m, err := range b.client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list gemini models: %w", classify("", status.code, err))
		}
		models = append(models, domain.DiscoveredModel{
			Name:             m.Name,
			DisplayName:      m.DisplayName,
			Provider:         Name,
			InputTokenLimit:  int(m.InputTokenLimit),
			OutputTokenLimit: int(m.OutputTokenLimit),
			SupportedActions: m.SupportedActions,
		})
	}
	return models, nil
}

// classify maps an SDK error to a provider error. The SDK copies the code
// from the JSON error body, which may be zero, so the gRPC status name and
// then the HTTP status of the response are used as fallbacks.
func classify(model string, httpStatus int, err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return provider.NewError(domain.KindTransient, model, err)
	}

	code := apiErr.Code
	if code == 0 {
		code = statusCodes[apiErr.Status]
	}
	if code == 0 {
		code = httpStatus
	}
	return provider.NewStatusError(model, code, err)
}

// statusCodes maps google.rpc.Code names to their HTTP equivalents.
var statusCodes = map[string]int{
	"RESOURCE_EXHAUSTED": http.StatusTooManyRequests,
	"PERMISSION_DENIED":  http.StatusForbidden,
	"UNAUTHENTICATED":    http.StatusUnauthorized,
	"INVALID_ARGUMENT":   http.StatusBadRequest,
	"NOT_FOUND":          http.StatusNotFound,
	"INTERNAL":           http.StatusInternalServerError,
	"UNAVAILABLE":        http.StatusServiceUnavailable,
	"DEADLINE_EXCEEDED":  http.StatusGatewayTimeout,
}

type statusKey struct{}

type responseStatus struct {
	code int
}

func recordStatus(ctx context.Context) (context.Context, *responseStatus) {
	status := &responseStatus{}
	return context.WithValue(ctx, statusKey{}, status), status
}

// statusRecorder notes the HTTP status of each response in the holder
// carried by the request context.
type statusRecorder struct {
	base http.RoundTripper
}

func (t *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if resp != nil {
		if status, ok := req.Context().Value(statusKey{}).(*responseStatus); ok {
			status.code = resp.StatusCode
		}
	}
	return resp, err
}

func withStatusRecorder(client *http.Client) *http.Client {
	c := &http.Client{}
	if client != nil {
		*c = *client
	}
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.Transport = &statusRecorder{base: base}
	return c
}
