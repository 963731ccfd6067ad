// ABOUTME: S3-backed AttachmentStore using aws-sdk-go-v2
// ABOUTME: Objects are public-read under a bucket prefix; URLs are virtual-hosted unless an endpoint is set

package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/2389/realty-inbox/internal/store"
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Options configures an S3Store.
type S3Options struct {
	Bucket          string
	Region          string
	Prefix          string
	AccessKeyID     string // empty uses the default credential chain
	SecretAccessKey string
	// Endpoint points at an S3-compatible service (MinIO, R2). Path-style
	// addressing is used when set.
	Endpoint     string
	MaxSizeBytes int64
}

// S3Store uploads attachments to a bucket.
type S3Store struct {
	client  s3API
	bucket  string
	prefix  string
	baseURL string
	maxSize int64
	logger  *slog.Logger
}

// NewS3Store loads AWS configuration and builds the client.
func NewS3Store(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3Store, error) {
	if opts.Bucket == "" || opts.Region == "" {
		return nil, fmt.Errorf("s3 bucket and region are required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, opts, logger), nil
}

func newS3Store(client s3API, opts S3Options, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
	if opts.Endpoint != "" {
		baseURL = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
	}
	return &S3Store{
		client:  client,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		baseURL: baseURL,
		maxSize: sizeLimit(opts.MaxSizeBytes),
		logger:  logger.With("component", "attachments", "backend", "s3", "bucket", opts.Bucket),
	}
}

// Upload implements Store. The body is buffered so the request can be
// signed and retried.
func (s *S3Store) Upload(ctx context.Context, name string, r io.Reader) (store.Attachment, error) {
	mime, body, err := sniff(r)
	if err != nil {
		return store.Attachment{}, fmt.Errorf("%w: reading %s: %w", ErrUpload, name, err)
	}
	data, err := readLimited(body, s.maxSize)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return store.Attachment{}, err
		}
		return store.Attachment{}, fmt.Errorf("%w: reading %s: %w", ErrUpload, name, err)
	}

	key := objectKey(s.prefix, name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(mime),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return store.Attachment{}, fmt.Errorf("%w: putting %s: %w", ErrUpload, key, err)
	}

	s.logger.Debug("stored attachment", "key", key, "type", mime, "size", len(data))

	return store.Attachment{
		URL:  s.baseURL + "/" + key,
		Name: sanitizeName(name),
		Type: mime,
		Size: int64(len(data)),
	}, nil
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, url string) error {
	key, err := s.keyFor(url)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// Exists implements Store.
func (s *S3Store) Exists(ctx context.Context, url string) (bool, error) {
	key, err := s.keyFor(url)
	if errors.Is(err, ErrForeignURL) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("head %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) keyFor(url string) (string, error) {
	key, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok || key == "" {
		return "", ErrForeignURL
	}
	if s.prefix != "" && !strings.HasPrefix(key, s.prefix+"/") {
		return "", ErrForeignURL
	}
	return key, nil
}
