package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
)

// RoleTrust updates the trust policy of the cross-account execution role in a
// target account. This is the only cross-account mutation the core performs
// directly; callers must serialize invocations against the same account.
type RoleTrust interface {
	UpdateAssumeRolePolicy(ctx context.Context, cfg aws.Config, roleName string, principalARNs []string) error
}

type roleTrustService struct{}

// NewRoleTrust creates the trust-policy mutator.
func NewRoleTrust() RoleTrust {
	return &roleTrustService{}
}

func (s *roleTrustService) UpdateAssumeRolePolicy(ctx context.Context, cfg aws.Config, roleName string, principalARNs []string) error {
	document, err := trustPolicyDocument(principalARNs)
	if err != nil {
		return err
	}

	client := iam.NewFromConfig(cfg)
	_, err = client.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
		RoleName:       aws.String(roleName),
		PolicyDocument: aws.String(document),
	})
	if err != nil {
		return fmt.Errorf("failed to update assume role policy on %s: %w", roleName, err)
	}
	return nil
}

func trustPolicyDocument(principalARNs []string) (string, error) {
	policy := map[string]any{
		"Version": "2012-10-17",
		"Statement": []map[string]any{
			{
				"Effect":    "Allow",
				"Principal": map[string]any{"AWS": principalARNs},
				"Action":    "sts:AssumeRole",
			},
		},
	}
	data, err := json.Marshal(policy)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trust policy: %w", err)
	}
	return string(data), nil
}
