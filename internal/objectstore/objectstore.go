// Package objectstore wraps the S3-compatible bucket that holds
// downloaded media assets. The teacher has no analog for durable binary
// storage (it proxies media rather than persisting it), so this package
// is built directly against github.com/aws/aws-sdk-go's S3 client, the
// one object-storage dependency anywhere in the example pack
// (pulumi-pulumi's go.mod).
package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// maxBatchDeleteKeys is S3's hard limit on keys per DeleteObjects call.
const maxBatchDeleteKeys = 1000

// Store is the interface the ingest pipeline depends on, so tests can
// supply an in-memory fake without touching a real bucket.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (publicURL string, err error)
	Delete(ctx context.Context, key string) error
	DeleteBatch(ctx context.Context, keys []string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config carries the bucket's connection details. Endpoint/Region/
// ForcePathStyle together support both AWS S3 and S3-compatible
// providers (MinIO, R2, etc.) the way the teacher's env-driven config
// supports swapping backing services.
type Config struct {
	Bucket           string
	Region           string
	Endpoint         string
	ForcePathStyle   bool
	PublicURLBase    string
	AccessKeyID      string
	SecretAccessKey  string
}

// S3Store is the production Store backed by aws-sdk-go's S3 client.
type S3Store struct {
	client        *s3.S3
	bucket        string
	publicURLBase string
}

// New constructs an S3Store from cfg. Credentials fall back to the
// SDK's default chain (env vars, shared config, instance profile) when
// AccessKeyID/SecretAccessKey are empty.
func New(cfg Config) (*S3Store, error) {
	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithS3ForcePathStyle(cfg.ForcePathStyle)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("objectstore: new session: %w", err)
	}

	return &S3Store{
		client:        s3.New(sess),
		bucket:        cfg.Bucket,
		publicURLBase: cfg.PublicURLBase,
	}, nil
}

// Put uploads body under key and returns the public URL the worker
// records on the Media row.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}
	if _, err := s.client.PutObjectWithContext(ctx, input); err != nil {
		return "", fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return s.publicURL(key), nil
}

// Delete removes a single key. Deleting an already-absent key is not an
// error, matching S3's own semantics.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", key, err)
	}
	return nil
}

// DeleteBatch removes many keys, chunking into S3's 1000-key-per-call
// limit transparently.
func (s *S3Store) DeleteBatch(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxBatchDeleteKeys {
		end := start + maxBatchDeleteKeys
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		objs := make([]*s3.ObjectIdentifier, 0, len(chunk))
		for _, k := range chunk {
			objs = append(objs, &s3.ObjectIdentifier{Key: aws.String(k)})
		}

		_, err := s.client.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3.Delete{Objects: objs, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("objectstore: delete batch [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// List returns every key under prefix, paging through ListObjectsV2 as
// needed.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: list %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *S3Store) publicURL(key string) string {
	if s.publicURLBase != "" {
		return fmt.Sprintf("%s/%s", trimTrailingSlash(s.publicURLBase), key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
