package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KeyResolver resolves the landing-zone KMS alias to a key id for
// SecureString parameter writes.
type KeyResolver interface {
	ResolveAlias(ctx context.Context, alias string) (string, error)
}

type kmsService struct {
	client *kms.Client
}

// NewKeyResolver creates the KMS adapter.
func NewKeyResolver(client *kms.Client) KeyResolver {
	return &kmsService{client: client}
}

func (s *kmsService) ResolveAlias(ctx context.Context, alias string) (string, error) {
	result, err := s.client.DescribeKey(ctx, &kms.DescribeKeyInput{
		KeyId: aws.String(alias),
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve kms alias %s: %w", alias, err)
	}
	return aws.ToString(result.KeyMetadata.KeyId), nil
}
