// Package s3 provides a record.BlobStore backed by AWS S3 or any
// S3-compatible service (MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/warp/record-intake/record"
)

var (
	_ record.BlobStore           = (*Store)(nil)
	_ record.ConditionalUploader = (*Store)(nil)
)

// DefaultLinkExpiry is the lifetime of presigned download links (SigV4 maximum).
const DefaultLinkExpiry = 7 * 24 * time.Hour

// Store uploads attachments into a single bucket. Object keys are the
// attachment names, optionally under a key prefix.
type Store struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucket     string
	keyPrefix  string
	publicURL  *url.URL
	linkExpiry time.Duration
}

// Config holds explicit construction parameters.
type Config struct {
	Region          string
	Bucket          string
	KeyPrefix       string // e.g. "attachments/"
	Endpoint        string // optional; custom endpoint (MinIO)
	PathStyle       bool
	PublicURL       string        // optional; links become PublicURL/key instead of presigned
	LinkExpiry      time.Duration // presigned link lifetime, default DefaultLinkExpiry
	AccessKeyID     string        // optional (falls back to default credentials chain)
	SecretAccessKey string
	SessionToken    string
	HTTPClient      *http.Client // optional; tests inject a fake transport
}

// Environment variables:
//   RECORDS_S3_BUCKET=<bucket> (required)
//   RECORDS_S3_REGION=<region> (default us-east-1)
//   RECORDS_S3_ENDPOINT=<url> (optional, for MinIO)
//   RECORDS_S3_PATH_STYLE=true|false (default false)
//   RECORDS_S3_PREFIX=<key prefix> (optional)
//   RECORDS_S3_PUBLIC_URL=<base url> (optional)
//   AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// New creates an S3 blob store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})

	s := &Store{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		keyPrefix:  cfg.KeyPrefix,
		linkExpiry: cfg.LinkExpiry,
	}
	if s.linkExpiry <= 0 {
		s.linkExpiry = DefaultLinkExpiry
	}
	if cfg.PublicURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.PublicURL, "/"))
		if err != nil {
			return nil, fmt.Errorf("public url: %w", err)
		}
		s.publicURL = u
	}
	return s, nil
}

// OpenFromEnv constructs an S3 store from process environment.
func OpenFromEnv(ctx context.Context) (*Store, error) {
	bucket := os.Getenv("RECORDS_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("RECORDS_S3_BUCKET required for s3 blob store")
	}
	return New(ctx, Config{
		Bucket:    bucket,
		Region:    os.Getenv("RECORDS_S3_REGION"),
		KeyPrefix: os.Getenv("RECORDS_S3_PREFIX"),
		Endpoint:  os.Getenv("RECORDS_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("RECORDS_S3_PATH_STYLE"), "true"),
		PublicURL: os.Getenv("RECORDS_S3_PUBLIC_URL"),
	})
}

// Upload puts the attachment and returns a download link. An existing
// object under the same key is overwritten.
func (s *Store) Upload(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	return s.put(ctx, name, r, contentType, false)
}

// UploadIfAbsent puts the attachment with If-None-Match: * so an existing
// object is never replaced. S3 answers 412 when the key is taken.
func (s *Store) UploadIfAbsent(ctx context.Context, name string, r io.Reader, contentType string) (string, error) {
	return s.put(ctx, name, r, contentType, true)
}

func (s *Store) put(ctx context.Context, name string, r io.Reader, contentType string, ifAbsent bool) (string, error) {
	// Buffer so the SDK gets a seekable body it can checksum and retry.
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read attachment: %w", err)
	}
	key := s.keyPrefix + name
	input := &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if ifAbsent {
		input.IfNoneMatch = aws.String("*")
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		var re *awshttp.ResponseError
		if ifAbsent && errors.As(err, &re) && re.HTTPStatusCode() == http.StatusPreconditionFailed {
			return "", fmt.Errorf("%s: %w", key, record.ErrAttachmentExists)
		}
		return "", err
	}
	return s.link(ctx, key)
}

func (s *Store) link(ctx context.Context, key string) (string, error) {
	if s.publicURL != nil {
		u := *s.publicURL
		u.Path = u.Path + "/" + key
		return u.String(), nil
	}
	out, err := s.presign.PresignGetObject(ctx,
		&s3.GetObjectInput{Bucket: &s.bucket, Key: &key},
		func(po *s3.PresignOptions) { po.Expires = s.linkExpiry },
	)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return out.URL, nil
}
