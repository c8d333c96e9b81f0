package runner

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArtifactStore publishes a work unit's result blob.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// S3ArtifactStore publishes results to S3 under prefix/<key>.
type S3ArtifactStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3ArtifactStore builds a store for the given bucket using the default
// AWS credential chain.
func NewS3ArtifactStore(ctx context.Context, region, bucket, prefix string) (*S3ArtifactStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3ArtifactStore{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Put uploads the blob. Re-uploading the same key overwrites with identical
// content, so retried cycles stay idempotent.
func (s *S3ArtifactStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("publish artifact %q: %w", key, err)
	}
	return nil
}

// MemoryArtifactStore collects artifacts in memory for tests and the dev
// backend.
type MemoryArtifactStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemoryArtifactStore returns an empty in-memory store.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{blobs: make(map[string][]byte)}
}

// Put records the blob.
func (m *MemoryArtifactStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

// Get returns a stored blob, for test assertions.
func (m *MemoryArtifactStore) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	return b, ok
}
