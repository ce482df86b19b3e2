package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ObjectStore wraps the S3 operations the stager and the trigger use.
type ObjectStore interface {
	// Put writes body under bucket/key.
	Put(ctx context.Context, bucket, key string, body []byte) error

	// Get reads bucket/key. The boolean reports whether the object exists.
	Get(ctx context.Context, bucket, key string) ([]byte, bool, error)
}

type s3Service struct {
	client *s3.Client
}

// NewObjectStore creates the S3 adapter.
func NewObjectStore(client *s3.Client) ObjectStore {
	return &s3Service{client: client}
}

func (s *s3Service) Put(ctx context.Context, bucket, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("failed to put s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *s3Service) Get(ctx context.Context, bucket, key string) ([]byte, bool, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return body, true, nil
}
