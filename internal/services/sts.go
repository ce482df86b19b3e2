package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AdminRoleName is the cross-account execution role the organization's
// deployment machinery assumes in member accounts.
const AdminRoleName = "AWSCloudFormationStackSetExecutionRole"

// CrossAccount builds per-account, per-region AWS configs by assuming the
// execution role in the target account. Used for the account-initialization
// gate, output export, and the lockdown mutation.
type CrossAccount interface {
	// Config returns an aws.Config whose credentials come from assuming the
	// execution role in the target account.
	Config(ctx context.Context, accountID, region string) (aws.Config, error)

	// CanAssume reports whether the execution role in the target account is
	// assumable yet. A false result with nil error means the account is still
	// initializing.
	CanAssume(ctx context.Context, accountID string) (bool, error)
}

type crossAccountService struct {
	base      aws.Config
	stsClient *sts.Client
	roleName  string
}

// NewCrossAccount creates the cross-account config factory.
func NewCrossAccount(base aws.Config, stsClient *sts.Client) CrossAccount {
	return &crossAccountService{
		base:      base,
		stsClient: stsClient,
		roleName:  AdminRoleName,
	}
}

func roleARN(accountID, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}

func (s *crossAccountService) Config(ctx context.Context, accountID, region string) (aws.Config, error) {
	provider := stscreds.NewAssumeRoleProvider(s.stsClient, roleARN(accountID, s.roleName))

	cfg := s.base.Copy()
	cfg.Credentials = aws.NewCredentialsCache(provider)
	if region != "" {
		cfg.Region = region
	}
	return cfg, nil
}

func (s *crossAccountService) CanAssume(ctx context.Context, accountID string) (bool, error) {
	_, err := s.stsClient.AssumeRole(ctx, assumeRoleInput(roleARN(accountID, s.roleName)))
	if err != nil {
		// any failure here is treated as "not ready yet"; the state machine
		// retries through its wait state
		return false, nil
	}
	return true, nil
}

func assumeRoleInput(arn string) *sts.AssumeRoleInput {
	return &sts.AssumeRoleInput{
		RoleArn:         aws.String(arn),
		RoleSessionName: aws.String("landing-zone-readiness-check"),
	}
}
