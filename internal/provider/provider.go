// Package provider binds one model to the backend that serves it and turns
// raw completions into generation results.
//
// Backends speak to a provider family (Gemini, OpenAI, Anthropic, Bedrock,
// Ollama) and report failures as *domain.ProviderError. An Adapter wraps one
// backend for exactly one model ID; the router only ever talks to adapters.
package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/felipepmaragno/model-router/internal/domain"
)

// Call is a single completion request against one model.
type Call struct {
	Model           string
	Prompt          string
	Instruction     string
	MaxOutputTokens int
}

// Completion is the raw upstream answer.
type Completion struct {
	Text       string
	TokensUsed int
}

// Backend is an upstream provider family.
type Backend interface {
	Name() string
	// Configured reports whether credentials are present and not placeholders.
	Configured() bool
	Complete(ctx context.Context, call Call) (*Completion, error)
}

// ClassifyStatus maps an upstream HTTP status onto an error kind.
func ClassifyStatus(status int) domain.ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.KindConfiguration
	case http.StatusTooManyRequests:
		return domain.KindRateLimit
	default:
		return domain.KindTransient
	}
}

// NewStatusError builds a provider error classified from an HTTP status.
func NewStatusError(model string, status int, err error) *domain.ProviderError {
	return &domain.ProviderError{
		Kind:       ClassifyStatus(status),
		Model:      model,
		StatusCode: status,
		Err:        err,
	}
}

// NewError builds a provider error of an explicit kind.
func NewError(kind domain.ErrorKind, model string, err error) *domain.ProviderError {
	return &domain.ProviderError{Kind: kind, Model: model, Err: err}
}

var placeholderKeys = []string{
	"changeme",
	"change-me",
	"placeholder",
	"replace-me",
	"todo",
	"none",
	"null",
}

// IsPlaceholderKey reports whether key is empty or an obvious stand-in value.
func IsPlaceholderKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return true
	}
	if strings.HasPrefix(k, "<") && strings.HasSuffix(k, ">") {
		return true
	}
	if strings.Contains(k, "your-") || strings.Contains(k, "your_") {
		return true
	}
	for _, p := range placeholderKeys {
		if k == p {
			return true
		}
	}
	return strings.Trim(k, "x*.-") == ""
}

// Adapter invokes one model through its backend.
type Adapter struct {
	model      domain.ModelDescriptor
	backend    Backend
	strategies []ParseStrategy
	now        func() time.Time
}

func NewAdapter(model domain.ModelDescriptor, backend Backend) *Adapter {
	return &Adapter{
		model:      model,
		backend:    backend,
		strategies: DefaultStrategies(),
		now:        time.Now,
	}
}

func (a *Adapter) ID() string {
	return a.model.ID
}

// Available reports whether the backend can be called at all.
func (a *Adapter) Available() bool {
	return a.backend != nil && a.backend.Configured()
}

// Generate performs one attempt. It never retries.
func (a *Adapter) Generate(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if !a.Available() {
		return nil, NewError(domain.KindConfiguration, a.model.ID, domain.ErrMissingCredentials)
	}

	start := a.now()
	completion, err := a.backend.Complete(ctx, Call{
		Model:           a.model.ID,
		Prompt:          req.Prompt,
		Instruction:     req.Instruction,
		MaxOutputTokens: a.outputTokens(req.MaxOutputTokens),
	})
	if err != nil {
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, NewError(domain.KindTransient, a.model.ID, err)
	}

	if strings.TrimSpace(completion.Text) == "" {
		return nil, NewError(domain.KindMalformed, a.model.ID, errors.New("empty completion"))
	}

	analysis, fields := Parse(completion.Text, a.strategies)

	return &domain.GenerationResult{
		AnalysisText:     analysis,
		StructuredFields: fields,
		Metadata: domain.ResultMetadata{
			ModelUsed:  a.model.ID,
			TokensUsed: completion.TokensUsed,
			LatencyMs:  a.now().Sub(start).Milliseconds(),
			Timestamp:  a.now(),
		},
	}, nil
}

func (a *Adapter) outputTokens(requested int) int {
	limit := a.model.OutputTokenLimit
	if requested <= 0 {
		return limit
	}
	if limit > 0 && requested > limit {
		return limit
	}
	return requested
}
