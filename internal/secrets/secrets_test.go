package secrets

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type mockSecretsManager struct {
	calls              int
	GetSecretValueFunc func(name string) (*secretsmanager.GetSecretValueOutput, error)
}

func (m *mockSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	m.calls++
	return m.GetSecretValueFunc(aws.ToString(params.SecretId))
}

func TestAWSSecretsManager_CachesUntilTTL(t *testing.T) {
	client := &mockSecretsManager{
		GetSecretValueFunc: func(name string) (*secretsmanager.GetSecretValueOutput, error) {
			if name != "model-router/keys" {
				t.Errorf("unexpected secret %s", name)
			}
			return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"gemini_api_key": "AIza-123"}`)}, nil
		},
	}
	sm := NewAWSSecretsManagerWithClient(client, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := sm.GetSecret(ctx, "model-router/keys"); err != nil {
			t.Fatalf("GetSecret() error = %v", err)
		}
	}
	if client.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", client.calls)
	}

	now = now.Add(time.Minute)
	sm.GetSecret(ctx, "model-router/keys")
	if client.calls != 2 {
		t.Errorf("expected a refetch after the TTL, got %d calls", client.calls)
	}

	sm.Invalidate("model-router/keys")
	sm.GetSecret(ctx, "model-router/keys")
	if client.calls != 3 {
		t.Errorf("expected a refetch after Invalidate, got %d calls", client.calls)
	}
}

func TestAWSSecretsManager_BinaryAndEmpty(t *testing.T) {
	sm := NewAWSSecretsManagerWithClient(&mockSecretsManager{
		GetSecretValueFunc: func(name string) (*secretsmanager.GetSecretValueOutput, error) {
			if name == "binary" {
				return &secretsmanager.GetSecretValueOutput{SecretBinary: []byte(`{"openai_api_key":"sk-1"}`)}, nil
			}
			return &secretsmanager.GetSecretValueOutput{}, nil
		},
	}, time.Minute)
	ctx := context.Background()

	value, err := sm.GetSecret(ctx, "binary")
	if err != nil {
		t.Fatalf("GetSecret() error = %v", err)
	}
	if value != `{"openai_api_key":"sk-1"}` {
		t.Errorf("value = %q", value)
	}

	if _, err := sm.GetSecret(ctx, "empty"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestAWSSecretsManager_Error(t *testing.T) {
	sm := NewAWSSecretsManagerWithClient(&mockSecretsManager{
		GetSecretValueFunc: func(name string) (*secretsmanager.GetSecretValueOutput, error) {
			return nil, errors.New("access denied")
		},
	}, time.Minute)

	if _, err := sm.GetSecret(context.Background(), "x"); err == nil {
		t.Error("expected error")
	}
}

func TestStaticStore_NotFound(t *testing.T) {
	_, err := StaticStore{}.GetSecret(context.Background(), "nonexistent")
	if !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	store := StaticStore{
		"keys":   `{"gemini_api_key": "AIza-1", "openai_api_key": "sk-2", "redis_url": "redis://cache:6379"}`,
		"broken": `not json`,
	}
	ctx := context.Background()

	creds, err := LoadCredentials(ctx, store, "keys")
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds.GeminiAPIKey != "AIza-1" || creds.OpenAIAPIKey != "sk-2" || creds.AnthropicAPIKey != "" {
		t.Errorf("unexpected credentials %+v", creds)
	}
	if creds.RedisURL != "redis://cache:6379" {
		t.Errorf("RedisURL = %q", creds.RedisURL)
	}
	if got := creds.Providers(); !slices.Equal(got, []string{"gemini", "openai"}) {
		t.Errorf("Providers() = %v", got)
	}

	if _, err := LoadCredentials(ctx, store, "broken"); err == nil {
		t.Error("expected decode error")
	}
	if _, err := LoadCredentials(ctx, store, "missing"); err == nil {
		t.Error("expected not found error")
	}
}
