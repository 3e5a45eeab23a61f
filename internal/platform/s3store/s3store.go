// Package s3store implements artifact.Store on Amazon S3 or an
// S3-compatible object store.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/phrazzld/cutout/internal/artifact"
)

// objectAPI is the subset of the S3 client used by Store.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds the bucket location. Endpoint is set for S3-compatible
// services and switches the client to path-style addressing.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// Store keeps artifacts as objects named <prefix>/<locator>.
type Store struct {
	client objectAPI
	bucket string
	prefix string
}

var _ artifact.Store = (*Store)(nil)

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket cannot be empty")
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient creates a Store around an existing client.
func NewWithClient(client objectAPI, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *Store) key(locator string) (string, error) {
	if err := artifact.ValidateLocator(locator); err != nil {
		return "", err
	}
	if s.prefix == "" {
		return locator, nil
	}
	return s.prefix + "/" + locator, nil
}

// Put implements artifact.Store.
func (s *Store) Put(ctx context.Context, taskID string, data []byte) (string, error) {
	locator := artifact.Locator(taskID)
	key, err := s.key(locator)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("image/png"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: put %s: %v", artifact.ErrStorage, key, err)
	}
	return locator, nil
}

// Get implements artifact.Store.
func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	key, err := s.key(locator)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.mapError("get", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", artifact.ErrStorage, key, err)
	}
	return data, nil
}

// Delete implements artifact.Store. S3 deletes succeed for missing keys, so
// the object is checked first to report ErrNotFound.
func (s *Store) Delete(ctx context.Context, locator string) error {
	key, err := s.key(locator)
	if err != nil {
		return err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.mapError("head", key, err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.mapError("delete", key, err)
	}
	return nil
}

func (s *Store) mapError(op, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", artifact.ErrNotFound, key)
	}
	return fmt.Errorf("%w: %s %s: %v", artifact.ErrStorage, op, key, err)
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
