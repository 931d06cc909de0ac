package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"voxmeet/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const defaultRegion = "ru-central1"

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	// Prefix is prepended to every object key
	Prefix string
}

// S3Storage keeps chunk audio in an S3-compatible bucket (Yandex Object Storage by default)
type S3Storage struct {
	client   *s3.Client
	bucket   string
	prefix   string
	endpoint string
}

// NewS3Storage creates a new S3 storage client
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	logger.Info("S3 storage initialized", zap.String("bucket", cfg.Bucket))

	return &S3Storage{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

// ChunkKey builds the object key for a meeting chunk
func (s *S3Storage) ChunkKey(meetingID, chunkID, extension string) string {
	return path.Join(s.prefix, "meetings", meetingID, chunkID+extension)
}

// URL returns the path-style object URL SpeechKit reads from
func (s *S3Storage) URL(key string) string {
	endpoint := s.endpoint
	if endpoint == "" {
		endpoint = "https://storage.yandexcloud.net"
	}
	return fmt.Sprintf("%s/%s/%s", endpoint, s.bucket, key)
}

// UploadFile uploads a file to S3 and returns its URL
func (s *S3Storage) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	url := s.URL(key)

	logger.Debug("File uploaded to S3",
		zap.String("key", key),
		zap.Int("size", len(data)))

	return url, nil
}

// DownloadFile downloads a file from S3
func (s *S3Storage) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	logger.Debug("File downloaded from S3",
		zap.String("key", key),
		zap.Int("size", len(data)))

	return data, nil
}

// DeleteFile deletes a file from S3
func (s *S3Storage) DeleteFile(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	logger.Debug("File deleted from S3", zap.String("key", key))

	return nil
}
