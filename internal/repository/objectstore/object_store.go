// Package objectstore provides backend storage repository implementations
// and the factory that builds them per provider.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"
)

// ObjectInfo describes a stored object for integrity checks.
type ObjectInfo struct {
	ETag string
	Size int64
}

// ObjectRepository defines the interface for object storage operations
// against one physical bucket.
type ObjectRepository interface {
	Upload(ctx context.Context, key string, r io.Reader, quiet bool) (string, error)
	Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Head(ctx context.Context, key string) (ObjectInfo, error)
	CreateBucket(ctx context.Context, tags map[string]string) error
	DeleteBucket(ctx context.Context) error
	GetBucketName() string
	GetStorageType() string
}

// Backend binds a provider's client set to one zone. Repositories created
// from it share the underlying clients, which are safe for concurrent use.
type Backend interface {
	ID() string
	Repository(bucketName string) ObjectRepository
}

// RepositoryType represents the type of object storage
type RepositoryType string

const (
	S3Type  RepositoryType = "s3"
	GCSType RepositoryType = "gcs"
	// Add more types as needed
)

// BackendConfig holds configuration for one storage backend.
type BackendConfig struct {
	ID   string
	Type RepositoryType
	Zone string
	// Credentials optionally carries backend-specific credentials: for S3,
	// "access-key-id:secret-access-key[:session-token]"; for GCS, a service
	// account JSON document. Empty falls back to the shared provider clients.
	Credentials string
}

// BackendFactory creates backend instances from shared provider clients.
type BackendFactory struct {
	awsConfig aws.Config
	gcsClient *storage.Client
	// Add other provider configs as needed
}

// NewBackendFactory creates a new factory
func NewBackendFactory(awsConfig aws.Config, gcsClient *storage.Client) *BackendFactory {
	return &BackendFactory{
		awsConfig: awsConfig,
		gcsClient: gcsClient,
	}
}

// CreateBackend creates a backend based on its configuration. A backend with
// its own credentials gets a dedicated client; the rest share the provider
// clients the factory was built with.
func (f *BackendFactory) CreateBackend(ctx context.Context, config BackendConfig) (Backend, error) {
	switch config.Type {
	case S3Type:
		awsConfig := f.awsConfig
		if config.Credentials != "" {
			provider, err := parseStaticCredentials(config.Credentials)
			if err != nil {
				return nil, fmt.Errorf("backend %s: %w", config.ID, err)
			}
			awsConfig.Credentials = provider
		}
		return NewS3Backend(config.ID, s3.NewFromConfig(awsConfig)), nil
	case GCSType:
		if config.Credentials != "" {
			client, err := storage.NewClient(ctx, option.WithCredentialsJSON([]byte(config.Credentials)))
			if err != nil {
				return nil, fmt.Errorf("backend %s: %w", config.ID, err)
			}
			return NewGCSBackend(config.ID, client), nil
		}
		if f.gcsClient == nil {
			return nil, fmt.Errorf("GCS client not configured")
		}
		return NewGCSBackend(config.ID, f.gcsClient), nil
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// parseStaticCredentials parses "access-key-id:secret[:session-token]" into a
// static credentials provider.
func parseStaticCredentials(creds string) (aws.CredentialsProvider, error) {
	parts := strings.SplitN(creds, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("credentials must be <access-key-id>:<secret-access-key>[:<session-token>]")
	}
	token := ""
	if len(parts) == 3 {
		token = parts[2]
	}
	return credentials.NewStaticCredentialsProvider(parts[0], parts[1], token), nil
}

// S3Backend is an S3-compatible provider endpoint.
type S3Backend struct {
	id       string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Backend creates an S3 backend sharing one client across repositories.
func NewS3Backend(id string, client *s3.Client) *S3Backend {
	return &S3Backend{
		id:       id,
		client:   client,
		uploader: manager.NewUploader(client),
	}
}

func (b *S3Backend) ID() string {
	return b.id
}

func (b *S3Backend) Repository(bucketName string) ObjectRepository {
	repo := NewS3ObjectRepository(b.client, b.uploader, bucketName)
	return &repo
}

// GCSBackend is a Google Cloud Storage endpoint.
type GCSBackend struct {
	id     string
	client *storage.Client
}

// NewGCSBackend creates a GCS backend sharing one client across repositories.
func NewGCSBackend(id string, client *storage.Client) *GCSBackend {
	return &GCSBackend{
		id:     id,
		client: client,
	}
}

func (b *GCSBackend) ID() string {
	return b.id
}

func (b *GCSBackend) Repository(bucketName string) ObjectRepository {
	repo := NewGCSObjectRepository(b.client, bucketName)
	return &repo
}

// ParseBackendConfig parses a backend declaration from string.
// Formats: "s3://backend-id@zone", "gs://backend-id@zone", or
// "backend-id@zone" (defaults to S3).
func ParseBackendConfig(backendStr string) (BackendConfig, error) {
	backendStr = strings.TrimSpace(backendStr)

	repoType := S3Type
	if strings.Contains(backendStr, "://") {
		parts := strings.SplitN(backendStr, "://", 2)
		scheme := strings.ToLower(strings.TrimSpace(parts[0]))
		backendStr = strings.TrimSpace(parts[1])

		switch scheme {
		case "s3":
			repoType = S3Type
		case "gs":
			repoType = GCSType
		default:
			return BackendConfig{}, fmt.Errorf("unsupported scheme: %s", scheme)
		}
	}

	parts := strings.SplitN(backendStr, "@", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return BackendConfig{}, fmt.Errorf("backend declaration %q must be <backend-id>@<zone>", backendStr)
	}

	return BackendConfig{
		ID:   strings.TrimSpace(parts[0]),
		Type: repoType,
		Zone: strings.TrimSpace(parts[1]),
	}, nil
}
