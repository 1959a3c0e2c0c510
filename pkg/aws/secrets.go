package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used by SecretsClient.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

type SecretsClient struct {
	client SecretsAPI
	cache  map[string]string
	mu     sync.RWMutex
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return NewSecretsClientWithAPI(secretsmanager.NewFromConfig(cfg))
}

func NewSecretsClientWithAPI(api SecretsAPI) *SecretsClient {
	return &SecretsClient{
		client: api,
		cache:  make(map[string]string),
	}
}

func (s *SecretsClient) GetSecret(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}

	s.mu.Lock()
	s.cache[name] = *out.SecretString
	s.mu.Unlock()

	return *out.SecretString, nil
}

// Overlay reads a JSON object secret and copies each non-empty value whose key
// appears in targets into the pointed-to string.
func (s *SecretsClient) Overlay(ctx context.Context, name string, targets map[string]*string) error {
	raw, err := s.GetSecret(ctx, name)
	if err != nil {
		return err
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return fmt.Errorf("secret %s is not a JSON object: %w", name, err)
	}
	for key, dst := range targets {
		if v, ok := values[key]; ok && v != "" {
			*dst = v
		}
	}
	return nil
}
