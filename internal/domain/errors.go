package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrCircuitBreakerOpen  = errors.New("circuit breaker open")
	ErrMissingCredentials  = errors.New("missing credentials")
	ErrRateLimited         = errors.New("rate limited")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrUpstream            = errors.New("upstream error")
	ErrAllCandidatesFailed = errors.New("all candidate models failed")
	ErrBackendNotFound     = errors.New("backend not found")
)

// ErrorKind is the closed set of provider failure classes. The router's retry
// policy depends only on the kind.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindMalformed
	KindRateLimit
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformed:
		return "malformed_response"
	case KindRateLimit:
		return "rate_limit"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt against the same model may help.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindMalformed
}

// ProviderError is a failed call against a single model.
type ProviderError struct {
	Kind       ErrorKind
	Model      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Model, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrMissingCredentials:
		return e.Kind == KindConfiguration
	case ErrRateLimited:
		return e.Kind == KindRateLimit
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	case ErrUpstream:
		return e.Kind == KindTransient
	}
	return false
}

// KindOf extracts the error kind, treating unknown errors as transient.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}

// CandidateFailure records why one candidate was given up on.
type CandidateFailure struct {
	Model    string `json:"model"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// RoutingFailure is returned when no candidate produced a result.
// Candidates skipped because their circuit was open are counted in
// CircuitSkipped; candidates with no provider at all are counted in Skipped.
// Neither appears in Failures. A provider that lacks credentials is attempted
// and shows up in Failures with KindConfiguration.
type RoutingFailure struct {
	Failures       []CandidateFailure
	CircuitSkipped int
	Skipped        int
}

func (e *RoutingFailure) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("%s: no candidate attempted (%d circuit open, %d unavailable)",
			ErrAllCandidatesFailed, e.CircuitSkipped, e.Skipped)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s [%s after %d attempts]: %s", f.Model, f.Kind, f.Attempts, f.Message))
	}
	return fmt.Sprintf("%s: %s", ErrAllCandidatesFailed, strings.Join(parts, "; "))
}

func (e *RoutingFailure) Unwrap() error {
	return ErrAllCandidatesFailed
}

// AllRateLimited reports whether every attempted candidate was rate limited.
func (e *RoutingFailure) AllRateLimited() bool {
	return e.allKind(KindRateLimit)
}

// NoneConfigured reports whether no candidate could be called because
// credentials are missing everywhere.
func (e *RoutingFailure) NoneConfigured() bool {
	if len(e.Failures) == 0 {
		return e.Skipped > 0 && e.CircuitSkipped == 0
	}
	return e.allKind(KindConfiguration)
}

// AllCircuitOpen reports whether every candidate was skipped by its breaker.
func (e *RoutingFailure) AllCircuitOpen() bool {
	return len(e.Failures) == 0 && e.Skipped == 0 && e.CircuitSkipped > 0
}

func (e *RoutingFailure) allKind(k ErrorKind) bool {
	if len(e.Failures) == 0 {
		return false
	}
	for _, f := range e.Failures {
		if f.Kind != k.String() {
			return false
		}
	}
	return true
}
