package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/guardduty/types"
)

// GuardDutyMember is one member account as seen from the master detector.
type GuardDutyMember struct {
	AccountId          string
	RelationshipStatus string // Created, Invited, Enabled, Resigned, ...
}

// GuardDuty wraps the detector/master/member invitation surface. Constructed
// per account from a CrossAccount config.
type GuardDuty interface {
	ListDetectors(ctx context.Context) ([]string, error)
	CreateDetector(ctx context.Context) (string, error)
	ListMembers(ctx context.Context, detectorID string) ([]GuardDutyMember, error)
	CreateMembers(ctx context.Context, detectorID, accountID, email string) ([]string, error)
	InviteMembers(ctx context.Context, detectorID, accountID string) ([]string, error)
	ListInvitations(ctx context.Context) (invitationID, masterAccountID string, err error)
	AcceptInvitation(ctx context.Context, detectorID, masterAccountID, invitationID string) error
	MasterRelationshipStatus(ctx context.Context, detectorID string) (string, error)
	DeleteMembers(ctx context.Context, detectorID, accountID string) error
	DeleteDetector(ctx context.Context, detectorID string) error
}

type guardDutyService struct {
	client *guardduty.Client
}

// NewGuardDuty creates the GuardDuty adapter from an aws.Config.
func NewGuardDuty(cfg aws.Config) GuardDuty {
	return &guardDutyService{client: guardduty.NewFromConfig(cfg)}
}

func (s *guardDutyService) ListDetectors(ctx context.Context) ([]string, error) {
	result, err := s.client.ListDetectors(ctx, &guardduty.ListDetectorsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list detectors: %w", err)
	}
	return result.DetectorIds, nil
}

func (s *guardDutyService) CreateDetector(ctx context.Context) (string, error) {
	result, err := s.client.CreateDetector(ctx, &guardduty.CreateDetectorInput{
		Enable: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create detector: %w", err)
	}
	return aws.ToString(result.DetectorId), nil
}

func (s *guardDutyService) ListMembers(ctx context.Context, detectorID string) ([]GuardDutyMember, error) {
	var members []GuardDutyMember
	paginator := guardduty.NewListMembersPaginator(s.client, &guardduty.ListMembersInput{
		DetectorId:     aws.String(detectorID),
		OnlyAssociated: aws.String("false"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list members for detector %s: %w", detectorID, err)
		}
		for _, m := range page.Members {
			members = append(members, GuardDutyMember{
				AccountId:          aws.ToString(m.AccountId),
				RelationshipStatus: aws.ToString(m.RelationshipStatus),
			})
		}
	}
	return members, nil
}

func (s *guardDutyService) CreateMembers(ctx context.Context, detectorID, accountID, email string) ([]string, error) {
	result, err := s.client.CreateMembers(ctx, &guardduty.CreateMembersInput{
		DetectorId: aws.String(detectorID),
		AccountDetails: []types.AccountDetail{
			{AccountId: aws.String(accountID), Email: aws.String(email)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create member %s on detector %s: %w", accountID, detectorID, err)
	}
	return unprocessed(result.UnprocessedAccounts), nil
}

func (s *guardDutyService) InviteMembers(ctx context.Context, detectorID, accountID string) ([]string, error) {
	result, err := s.client.InviteMembers(ctx, &guardduty.InviteMembersInput{
		DetectorId:               aws.String(detectorID),
		AccountIds:               []string{accountID},
		DisableEmailNotification: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to invite member %s: %w", accountID, err)
	}
	return unprocessed(result.UnprocessedAccounts), nil
}

func (s *guardDutyService) ListInvitations(ctx context.Context) (string, string, error) {
	result, err := s.client.ListInvitations(ctx, &guardduty.ListInvitationsInput{})
	if err != nil {
		return "", "", fmt.Errorf("failed to list invitations: %w", err)
	}
	if len(result.Invitations) == 0 {
		return "", "", nil
	}
	inv := result.Invitations[0]
	return aws.ToString(inv.InvitationId), aws.ToString(inv.AccountId), nil
}

func (s *guardDutyService) AcceptInvitation(ctx context.Context, detectorID, masterAccountID, invitationID string) error {
	_, err := s.client.AcceptAdministratorInvitation(ctx, &guardduty.AcceptAdministratorInvitationInput{
		DetectorId:      aws.String(detectorID),
		AdministratorId: aws.String(masterAccountID),
		InvitationId:    aws.String(invitationID),
	})
	if err != nil {
		return fmt.Errorf("failed to accept invitation %s: %w", invitationID, err)
	}
	return nil
}

func (s *guardDutyService) MasterRelationshipStatus(ctx context.Context, detectorID string) (string, error) {
	result, err := s.client.GetAdministratorAccount(ctx, &guardduty.GetAdministratorAccountInput{
		DetectorId: aws.String(detectorID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get administrator account for detector %s: %w", detectorID, err)
	}
	if result.Administrator == nil {
		return "", nil
	}
	return aws.ToString(result.Administrator.RelationshipStatus), nil
}

func (s *guardDutyService) DeleteMembers(ctx context.Context, detectorID, accountID string) error {
	_, err := s.client.DeleteMembers(ctx, &guardduty.DeleteMembersInput{
		DetectorId: aws.String(detectorID),
		AccountIds: []string{accountID},
	})
	if err != nil {
		return fmt.Errorf("failed to delete member %s: %w", accountID, err)
	}
	return nil
}

func (s *guardDutyService) DeleteDetector(ctx context.Context, detectorID string) error {
	_, err := s.client.DeleteDetector(ctx, &guardduty.DeleteDetectorInput{
		DetectorId: aws.String(detectorID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete detector %s: %w", detectorID, err)
	}
	return nil
}

func unprocessed(accounts []types.UnprocessedAccount) []string {
	var out []string
	for _, a := range accounts {
		out = append(out, fmt.Sprintf("%s: %s", aws.ToString(a.AccountId), aws.ToString(a.Result)))
	}
	return out
}
