// Package service contains the business logic layer.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	appconfig "github.com/trawlhq/trawl-api/internal/config"
)

// ErrObjectNotFound is returned when a storage key has no object behind it.
var ErrObjectNotFound = errors.New("object not found")

// StorageService handles object storage (Tigris/S3-compatible). Page and map
// cache payloads, screenshots, and archived crawl results all live here;
// the database holds only metadata and object keys.
type StorageService struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, logger *slog.Logger) (*StorageService, error) {
	if !cfg.StorageEnabled {
		logger.Info("storage service disabled - no bucket configured")
		return &StorageService{
			enabled: false,
			logger:  logger,
		}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoint for S3-compatible storage (Tigris, MinIO, etc.)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true // Required for some S3-compatible services
	})

	logger.Info("storage service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return &StorageService{
		client:  client,
		bucket:  cfg.StorageBucket,
		enabled: true,
		logger:  logger,
	}, nil
}

// IsEnabled returns whether storage is configured and available.
func (s *StorageService) IsEnabled() bool {
	return s.enabled
}

// Client exposes the underlying S3 client for components that manage their
// own objects, such as the S3-backed config loaders.
func (s *StorageService) Client() *s3.Client {
	return s.client
}

// PutJSON marshals v and stores it under key.
func (s *StorageService) PutJSON(ctx context.Context, key string, v interface{}) error {
	if !s.enabled {
		return nil // Silently skip if storage is disabled
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", key, err)
	}
	return s.PutObject(ctx, key, data, "application/json")
}

// GetJSON fetches key and unmarshals it into out. Missing objects return
// ErrObjectNotFound.
func (s *StorageService) GetJSON(ctx context.Context, key string, out interface{}) error {
	data, err := s.GetObject(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal payload for %s: %w", key, err)
	}
	return nil
}

// PutObject stores raw bytes under key.
func (s *StorageService) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if !s.enabled {
		return nil
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to store object %s: %w", key, err)
	}

	s.logger.Debug("stored object", "key", key, "size_bytes", len(data))
	return nil
}

// GetObject fetches the raw bytes under key.
func (s *StorageService) GetObject(ctx context.Context, key string) ([]byte, error) {
	if !s.enabled {
		return nil, ErrObjectNotFound
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// Exists checks whether an object is present under key.
func (s *StorageService) Exists(ctx context.Context, key string) (bool, error) {
	if !s.enabled {
		return false, nil
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Delete removes the object under key.
func (s *StorageService) Delete(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	s.logger.Debug("deleted object", "key", key)
	return nil
}

// PresignedURL returns a presigned download URL for key, valid for expiry
// (default 1 hour).
func (s *StorageService) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("storage is not enabled")
	}
	if expiry == 0 {
		expiry = 1 * time.Hour
	}

	presignClient := s3.NewPresignClient(s.client)
	presignedReq, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignedReq.URL, nil
}

// DeleteOlderThan deletes objects under prefix whose last modification is
// older than maxAge. Returns the number of deleted objects.
func (s *StorageService) DeleteOlderThan(ctx context.Context, prefix string, maxAge time.Duration) (int, error) {
	if !s.enabled {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
					Bucket: aws.String(s.bucket),
					Key:    obj.Key,
				})
				if err != nil {
					s.logger.Warn("failed to delete old object",
						"key", *obj.Key,
						"error", err,
					)
					continue
				}
				deleted++
			}
		}
	}

	s.logger.Info("storage cleanup completed",
		"prefix", prefix,
		"deleted_count", deleted,
		"max_age", maxAge.String(),
	)

	return deleted, nil
}
