package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the part of *s3.Client the archive needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures an S3-compatible archive (AWS or MinIO).
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string
	User     string
	Password string
}

// NewS3Client builds a client with static credentials. An empty Endpoint
// keeps the AWS default resolver.
func NewS3Client(ctx context.Context, o S3Options) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(o.Region)}
	if o.User != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.User, o.Password, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	}), nil
}

type s3Backend struct {
	client ObjectPutter
	bucket string
}

// NewS3 stores every event as its own JSON object.
func NewS3(client ObjectPutter, bucket string) Auditor {
	return &s3Backend{client: client, bucket: bucket}
}

// ObjectKey is audit/YYYY/MM/DD/{action}/{id}.json.
func ObjectKey(ev Event) string {
	t := ev.Time.UTC()
	return fmt.Sprintf("audit/%04d/%02d/%02d/%s/%s.json", t.Year(), t.Month(), t.Day(), ev.Action, ev.ID)
}

func (b *s3Backend) Export(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(ObjectKey(ev)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put: %w", err)
	}
	return nil
}
