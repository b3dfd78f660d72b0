package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestProviderError_Is(t *testing.T) {
	tests := []struct {
		kind   ErrorKind
		target error
	}{
		{KindConfiguration, ErrMissingCredentials},
		{KindRateLimit, ErrRateLimited},
		{KindMalformed, ErrMalformedResponse},
		{KindTransient, ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &ProviderError{Kind: tt.kind, Model: "m"})
			if !errors.Is(err, tt.target) {
				t.Errorf("expected %v to match %v", err, tt.target)
			}
			if errors.Is(err, ErrCircuitBreakerOpen) {
				t.Error("unexpected match for unrelated sentinel")
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindTransient {
		t.Errorf("unknown error should be transient, got %v", got)
	}

	err := errors.Join(&ProviderError{Kind: KindRateLimit}, errors.New("context canceled"))
	if got := KindOf(err); got != KindRateLimit {
		t.Errorf("expected rate_limit, got %v", got)
	}

	if KindRateLimit.Retryable() || KindConfiguration.Retryable() {
		t.Error("rate limit and configuration errors must not be retryable")
	}
	if !KindTransient.Retryable() || !KindMalformed.Retryable() {
		t.Error("transient and malformed errors must be retryable")
	}
}

func TestRoutingFailure(t *testing.T) {
	tests := []struct {
		name           string
		failure        RoutingFailure
		rateLimited    bool
		noneConfigured bool
		circuitOpen    bool
	}{
		{
			name: "all rate limited",
			failure: RoutingFailure{Failures: []CandidateFailure{
				{Model: "a", Kind: "rate_limit"},
				{Model: "b", Kind: "rate_limit"},
			}},
			rateLimited: true,
		},
		{
			name: "mixed",
			failure: RoutingFailure{Failures: []CandidateFailure{
				{Model: "a", Kind: "rate_limit"},
				{Model: "b", Kind: "transient"},
			}},
		},
		{
			name:           "nothing configured",
			failure:        RoutingFailure{Skipped: 3},
			noneConfigured: true,
		},
		{
			name:        "every circuit open",
			failure:     RoutingFailure{CircuitSkipped: 2},
			circuitOpen: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.failure
			if !errors.Is(&f, ErrAllCandidatesFailed) {
				t.Error("expected ErrAllCandidatesFailed")
			}
			if got := f.AllRateLimited(); got != tt.rateLimited {
				t.Errorf("AllRateLimited = %v, want %v", got, tt.rateLimited)
			}
			if got := f.NoneConfigured(); got != tt.noneConfigured {
				t.Errorf("NoneConfigured = %v, want %v", got, tt.noneConfigured)
			}
			if got := f.AllCircuitOpen(); got != tt.circuitOpen {
				t.Errorf("AllCircuitOpen = %v, want %v", got, tt.circuitOpen)
			}
		})
	}
}
