// Package secrets resolves upstream API keys and connection strings from a
// secret store so they need not live in the process environment.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

var ErrSecretNotFound = errors.New("secret not found")

type Store interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

const DefaultCacheTTL = 5 * time.Minute

// AWSSecretsManager reads secrets from AWS Secrets Manager and keeps each
// value for a TTL.
type AWSSecretsManager struct {
	client SecretsManagerAPI
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	values map[string]cachedValue
}

type cachedValue struct {
	value     string
	fetchedAt time.Time
}

func NewAWSSecretsManager(ctx context.Context, region string) (*AWSSecretsManager, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewAWSSecretsManagerWithClient(secretsmanager.NewFromConfig(cfg), DefaultCacheTTL), nil
}

func NewAWSSecretsManagerWithClient(client SecretsManagerAPI, ttl time.Duration) *AWSSecretsManager {
	return &AWSSecretsManager{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		values: make(map[string]cachedValue),
	}
}

func (s *AWSSecretsManager) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	cached, ok := s.values[name]
	s.mu.Unlock()
	if ok && s.now().Sub(cached.fetchedAt) < s.ttl {
		return cached.value, nil
	}

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = aws.ToString(out.SecretString)
	case len(out.SecretBinary) > 0:
		value = string(out.SecretBinary)
	default:
		return "", fmt.Errorf("%w: %s has no value", ErrSecretNotFound, name)
	}

	s.mu.Lock()
	s.values[name] = cachedValue{value: value, fetchedAt: s.now()}
	s.mu.Unlock()

	return value, nil
}

// Invalidate drops the cached value so the next read goes upstream, e.g.
// after a key rotation.
func (s *AWSSecretsManager) Invalidate(name string) {
	s.mu.Lock()
	delete(s.values, name)
	s.mu.Unlock()
}

// StaticStore serves secrets from a fixed map. Used for local runs.
type StaticStore map[string]string

func (s StaticStore) GetSecret(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// Credentials is the JSON document stored under the configured secret name.
// Absent fields stay empty and leave the environment value in place.
type Credentials struct {
	GeminiAPIKey    string `json:"gemini_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key"`
	RedisURL        string `json:"redis_url"`
	DatabaseURL     string `json:"database_url"`
}

// Providers names the upstream providers that have a key, for logging
// without exposing values.
func (c Credentials) Providers() []string {
	var names []string
	if c.GeminiAPIKey != "" {
		names = append(names, "gemini")
	}
	if c.OpenAIAPIKey != "" {
		names = append(names, "openai")
	}
	if c.AnthropicAPIKey != "" {
		names = append(names, "anthropic")
	}
	return names
}

func LoadCredentials(ctx context.Context, store Store, name string) (Credentials, error) {
	var creds Credentials

	raw, err := store.GetSecret(ctx, name)
	if err != nil {
		return creds, err
	}

	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return creds, fmt.Errorf("decode secret %s: %w", name, err)
	}

	return creds, nil
}
