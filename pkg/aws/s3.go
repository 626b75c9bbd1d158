package aws

import (
	"bytes"
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectWriter stores small documents in a bucket.
type ObjectWriter interface {
	PutJSON(ctx context.Context, key string, body []byte) error
}

// S3Archive writes JSON documents under a fixed bucket.
type S3Archive struct {
	client *s3.Client
	bucket string
}

// NewS3Client creates a new S3 client from AWS config. Path-style addressing
// is used when a custom endpoint is configured.
func NewS3Client(cfg sdkaws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.BaseEndpoint != nil
	})
}

func NewS3Archive(cfg sdkaws.Config, bucket string) *S3Archive {
	return &S3Archive{client: NewS3Client(cfg), bucket: bucket}
}

func (a *S3Archive) PutJSON(ctx context.Context, key string, body []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(a.bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", a.bucket, key, err)
	}
	return nil
}
