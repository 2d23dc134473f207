package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/conceptstore/pkg/clients"
	"github.com/beam-cloud/conceptstore/pkg/types"
)

var ErrNotConfigured = errors.New("oauth client credentials not configured")

// OAuthClient is the GitHub OAuth app's id and secret
type OAuthClient struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Store looks up the OAuth client credentials
type Store interface {
	OAuthClient(ctx context.Context) (*OAuthClient, error)
}

// NewStore picks the backend named by config.Secrets.Backend
func NewStore(ctx context.Context, config types.AppConfig) (Store, error) {
	switch config.Secrets.Backend {
	case "", types.SecretsBackendConfig:
		return NewConfigStore(config.GitHub.OAuth), nil
	case types.SecretsBackendS3:
		client, err := clients.NewS3Client(ctx, config.Secrets.S3)
		if err != nil {
			return nil, fmt.Errorf("secrets s3 client: %w", err)
		}
		return NewS3Store(client, config.Secrets.S3.Bucket, config.Secrets.S3Key), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", config.Secrets.Backend)
	}
}

// ConfigStore serves credentials from the loaded configuration
type ConfigStore struct {
	client OAuthClient
}

func NewConfigStore(cfg types.GitHubOAuthConfig) *ConfigStore {
	return &ConfigStore{client: OAuthClient{ClientID: cfg.ClientID, ClientSecret: cfg.ClientSecret}}
}

func (s *ConfigStore) OAuthClient(ctx context.Context) (*OAuthClient, error) {
	if s.client.ClientID == "" || s.client.ClientSecret == "" {
		return nil, ErrNotConfigured
	}
	client := s.client
	return &client, nil
}

// ObjectGetter is the part of the S3 API the secret store needs
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store reads a JSON secret object once and keeps it for the process
// lifetime
type S3Store struct {
	client ObjectGetter
	bucket string
	key    string

	mu     sync.Mutex
	cached *OAuthClient
}

func NewS3Store(client ObjectGetter, bucket, key string) *S3Store {
	return &S3Store{client: client, bucket: bucket, key: key}
}

func (s *S3Store) OAuthClient(ctx context.Context) (*OAuthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		client := *s.cached
		return &client, nil
	}
	if s.bucket == "" || s.key == "" {
		return nil, ErrNotConfigured
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if clients.IsS3NotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s missing", ErrNotConfigured, s.bucket, s.key)
		}
		return nil, fmt.Errorf("fetch secret: %w", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read secret: %w", err)
	}

	var client OAuthClient
	if err := json.Unmarshal(raw, &client); err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if client.ClientID == "" || client.ClientSecret == "" {
		return nil, fmt.Errorf("%w: secret is missing client_id or client_secret", ErrNotConfigured)
	}

	log.Info().Str("bucket", s.bucket).Str("key", s.key).Msg("loaded oauth client secret")
	s.cached = &client
	result := client
	return &result, nil
}
