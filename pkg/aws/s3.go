package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrObjectNotFound is returned when a key does not exist in the bucket.
	ErrObjectNotFound = errors.New("s3 object not found")
	// ErrObjectExists is returned by PutJSONIfAbsent when the key is taken.
	ErrObjectExists = errors.New("s3 object already exists")
)

// S3API is the subset of the S3 client used by ObjectStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// NewS3Client creates a new S3 client from AWS config. Path-style addressing
// is enabled when a custom endpoint is configured.
func NewS3Client(cfg sdkaws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if ep := ServiceEndpoint("s3"); ep != "" {
			o.BaseEndpoint = sdkaws.String(ep)
		}
		if o.BaseEndpoint != nil || cfg.BaseEndpoint != nil {
			o.UsePathStyle = true
		}
	})
}

// ObjectStore stores small JSON documents in one bucket.
type ObjectStore struct {
	client S3API
	bucket string
}

func NewObjectStore(client S3API, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// PutJSON writes body under key with an application/json content type.
func (o *ObjectStore) PutJSON(ctx context.Context, key string, body []byte) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &o.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s failed: %w", key, err)
	}
	return nil
}

// PutJSONIfAbsent writes body only if key does not exist yet.
func (o *ObjectStore) PutJSONIfAbsent(ctx context.Context, key string, body []byte) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &o.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String("application/json"),
		IfNoneMatch: sdkaws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "PreconditionFailed", "ConditionalRequestConflict":
				return ErrObjectExists
			}
		}
		return fmt.Errorf("s3 put %s failed: %w", key, err)
	}
	return nil
}

// Get returns the object body, or ErrObjectNotFound.
func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &o.bucket, Key: &key})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("s3 get %s failed: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Exists reports whether key is present in the bucket.
func (o *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &o.bucket, Key: &key})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head %s failed: %w", key, err)
}

// GeneratePresignedGetURL generates a presigned GET URL for the provided bucket/key.
func GeneratePresignedGetURL(ctx context.Context, client *s3.Client, bucket, key string, expiry time.Duration) (string, error) {
	presigner := s3.NewPresignClient(client)

	presigned, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(o *s3.PresignOptions) {
		o.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign get object: %w", err)
	}
	return presigned.URL, nil
}
