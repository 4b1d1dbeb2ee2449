// Package archive stores snapshots of completed drafts in S3-compatible
// object storage. Downstream posting adapters consume these snapshots; this
// service only writes them and treats the store as a fallible remote.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Snapshot struct {
	DraftID     string            `json:"draftId"`
	Title       string            `json:"title"`
	Platform    string            `json:"platform"`
	CompletedAt time.Time         `json:"completedAt"`
	Segments    []SnapshotSegment `json:"segments"`
}

type SnapshotSegment struct {
	Order         int       `json:"order"`
	AuthorDisplay string    `json:"authorDisplay"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"createdAt"`
}

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// StoreSnapshot uploads the snapshot as JSON and returns the object key.
func (s *Service) StoreSnapshot(ctx context.Context, snapshot Snapshot) (string, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	key := ObjectKey(snapshot.DraftID, snapshot.CompletedAt)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return key, nil
}

// ObjectKey is the storage path for a draft snapshot.
func ObjectKey(draftID string, completedAt time.Time) string {
	return fmt.Sprintf("drafts/%s/%d.json", draftID, completedAt.UTC().Unix())
}
