package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// contentTypes maps export formats to their MIME types.
var contentTypes = map[Format]string{
	FormatCSV:  "text/csv",
	FormatJSON: "application/json",
}

// ServiceConfig holds configuration for the settlement export service.
type ServiceConfig struct {
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// Service lists settled payments and uploads settlement files to object storage.
type Service struct {
	lister     SettledLister
	s3Client   *s3.Client
	bucketName string
	logger     *slog.Logger
}

// NewService creates a settlement export service with the given configuration.
func NewService(lister SettledLister, cfg ServiceConfig, logger *slog.Logger) (*Service, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	// S3-compatible storage with static credentials and path-style addressing
	s3Client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Service{
		lister:     lister,
		s3Client:   s3Client,
		bucketName: cfg.BucketName,
		logger:     logger,
	}, nil
}

// Export builds a settlement file for [from, to) and uploads it.
// Returns the object key of the uploaded file.
func (s *Service) Export(ctx context.Context, from, to time.Time, format Format) (string, error) {
	if !from.Before(to) {
		return "", ErrInvalidRange
	}

	payments, err := s.lister.ListSettledBetween(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("list settled payments: %w", err)
	}

	data, err := BuildSettlementFile(payments, format)
	if err != nil {
		return "", err
	}

	key := ObjectKey(from, to, format)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypes[format]),
	})
	if err != nil {
		return "", fmt.Errorf("upload settlement file: %w", err)
	}

	s.logger.Info("settlement file exported",
		"key", key,
		"payments", len(payments),
		"bytes", len(data),
		"format", string(format),
	)
	return key, nil
}
