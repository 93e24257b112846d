package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the subset of *s3.Client the archive needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives each result, and the raw retry payload when one was
// observed, under <prefix>/<run>/<scenario>.
type S3Sink struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3Sink loads the default AWS configuration chain.
func NewS3Sink(ctx context.Context, bucket, prefix string) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("results/s3: load aws config: %w", err)
	}
	return newS3Sink(s3.NewFromConfig(awsCfg), bucket, prefix)
}

func newS3Sink(client S3Client, bucket, prefix string) (*S3Sink, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
	}
	return &S3Sink{client: client, bucket: bucket, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}, nil
}

func (s *S3Sink) Name() string { return DriverS3 }

func (s *S3Sink) key(r Result, file string) string {
	key := r.RunID + "/" + r.Scenario + "/" + file
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Sink) Record(ctx context.Context, r Result) error {
	body, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("results/s3: encode: %w", err)
	}
	if err := s.put(ctx, s.key(r, "result.json"), body, "application/json", map[string]string{
		"outcome": string(r.Outcome),
	}); err != nil {
		return err
	}

	if r.Retry == nil || len(r.Retry.Payload) == 0 {
		return nil
	}
	return s.put(ctx, s.key(r, "retry.bin"), r.Retry.Payload, "application/octet-stream", map[string]string{
		"kind":     r.Retry.Kind,
		"sequence": fmt.Sprintf("%d", r.Retry.Sequence),
	})
}

func (s *S3Sink) put(ctx context.Context, key string, body []byte, contentType string, meta map[string]string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("results/s3: put %q: %w", key, err)
	}
	return nil
}

func (s *S3Sink) Close() error { return nil }
