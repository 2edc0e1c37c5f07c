package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"agent-market/internal/domain"
)

// s3API is the subset of the S3 client used by S3Store, kept narrow so tests
// can substitute a fake.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps blobs as objects in one bucket. The object ETag is the
// version; conditional writes use If-Match / If-None-Match.
type S3Store struct {
	client s3API
	bucket string
	logger *slog.Logger
}

// NewS3Store creates an S3-backed store using the default AWS credential chain.
func NewS3Store(ctx context.Context, bucket, region string, logger *slog.Logger) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return newS3StoreWithClient(s3.NewFromConfig(cfg), bucket, logger), nil
}

func newS3StoreWithClient(client s3API, bucket string, logger *slog.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, logger: logger}
}

func (s *S3Store) Name() string { return "s3" }

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", s.mapError("get", key, err)
	}
	defer out.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, "", fmt.Errorf("read s3 object %s: %w", key, err)
	}
	return buf.Bytes(), aws.ToString(out.ETag), nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, ifVersion string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}
	if ifVersion == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(ifVersion)
	}
	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		return "", s.mapError("put", key, err)
	}
	s.logger.Debug("s3 blob written", "bucket", s.bucket, "key", key, "bytes", len(data))
	return aws.ToString(out.ETag), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	mapped := s.mapError("delete", key, err)
	if errors.Is(mapped, domain.ErrBlobNotFound) {
		return nil
	}
	return mapped
}

// mapError converts S3 errors to domain errors.
func (s *S3Store) mapError(op, key string, err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
		case http.StatusPreconditionFailed, http.StatusConflict:
			return fmt.Errorf("%w: %s", domain.ErrVersionConflict, key)
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %s", domain.ErrVersionConflict, key)
		case "SlowDown", "ThrottlingException":
			return fmt.Errorf("%w: s3 %s %s: %s", domain.ErrRateLimit, op, key, apiErr.ErrorMessage())
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: s3 %s %s: %s", domain.ErrAuthInvalid, op, key, apiErr.ErrorMessage())
		}
	}
	return fmt.Errorf("s3 %s %s: %w", op, key, err)
}
