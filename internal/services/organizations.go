package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
)

// OrgUnit is the adapter-level view of an organizational unit.
type OrgUnit struct {
	Id   string
	Name string
}

// OrgAccount is the adapter-level view of a member account.
type OrgAccount struct {
	Id     string
	Name   string
	Email  string
	Status string // ACTIVE, SUSPENDED, PENDING_CLOSURE
}

// OrgPolicy is the adapter-level view of a service control policy.
type OrgPolicy struct {
	Id          string
	Name        string
	Description string
}

// CreateAccountResult reports the terminal state of an account creation
// request. FailureReason carries the service reason code verbatim
// (ACCOUNT_LIMIT_EXCEEDED, EMAIL_ALREADY_EXISTS, ...).
type CreateAccountResult struct {
	State         string // IN_PROGRESS, SUCCEEDED, FAILED
	AccountId     string
	FailureReason string
}

// Organizations wraps the AWS Organizations control plane. Eventually
// consistent races are classified into sentinel errors at this boundary so
// handlers convert them to retry tokens instead of unwinding.
type Organizations interface {
	ListRoots(ctx context.Context) ([]OrgUnit, error)
	DescribeOrganization(ctx context.Context) (masterAccountId, masterEmail string, err error)
	ListOrganizationalUnits(ctx context.Context, parentID string) ([]OrgUnit, error)
	CreateOrganizationalUnit(ctx context.Context, parentID, name string) (OrgUnit, error)
	DeleteOrganizationalUnit(ctx context.Context, ouID string) error
	ListAccountsForParent(ctx context.Context, parentID string) ([]OrgAccount, error)
	ListAccountsPage(ctx context.Context, nextToken string) ([]OrgAccount, string, error)
	ListParents(ctx context.Context, childID string) ([]string, error)
	CreateAccount(ctx context.Context, name, email string) (requestID string, err error)
	DescribeCreateAccountStatus(ctx context.Context, requestID string) (CreateAccountResult, error)
	MoveAccount(ctx context.Context, accountID, sourceParentID, destinationParentID string) error

	ListPolicies(ctx context.Context) ([]OrgPolicy, error)
	CreatePolicy(ctx context.Context, name, description, document string) (string, error)
	UpdatePolicy(ctx context.Context, policyID, name, description, document string) error
	DeletePolicy(ctx context.Context, policyID string) error
	EnablePolicyType(ctx context.Context, rootID string) error
	AttachPolicy(ctx context.Context, policyID, targetID string) error
	DetachPolicy(ctx context.Context, policyID, targetID string) error
	ListTargetsForPolicy(ctx context.Context, policyID string) ([]string, error)
}

type organizationsService struct {
	client *organizations.Client
}

// NewOrganizations creates the Organizations adapter.
func NewOrganizations(client *organizations.Client) Organizations {
	return &organizationsService{client: client}
}

func (s *organizationsService) ListRoots(ctx context.Context) ([]OrgUnit, error) {
	result, err := s.client.ListRoots(ctx, &organizations.ListRootsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to list roots: %w", err)
	}
	var roots []OrgUnit
	for _, r := range result.Roots {
		roots = append(roots, OrgUnit{Id: aws.ToString(r.Id), Name: aws.ToString(r.Name)})
	}
	return roots, nil
}

func (s *organizationsService) DescribeOrganization(ctx context.Context) (string, string, error) {
	result, err := s.client.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	if err != nil {
		return "", "", fmt.Errorf("failed to describe organization: %w", err)
	}
	org := result.Organization
	return aws.ToString(org.MasterAccountId), aws.ToString(org.MasterAccountEmail), nil
}

func (s *organizationsService) ListOrganizationalUnits(ctx context.Context, parentID string) ([]OrgUnit, error) {
	var units []OrgUnit
	paginator := organizations.NewListOrganizationalUnitsForParentPaginator(s.client,
		&organizations.ListOrganizationalUnitsForParentInput{ParentId: aws.String(parentID)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list OUs under %s: %w", parentID, err)
		}
		for _, ou := range page.OrganizationalUnits {
			units = append(units, OrgUnit{Id: aws.ToString(ou.Id), Name: aws.ToString(ou.Name)})
		}
	}
	return units, nil
}

func (s *organizationsService) CreateOrganizationalUnit(ctx context.Context, parentID, name string) (OrgUnit, error) {
	result, err := s.client.CreateOrganizationalUnit(ctx, &organizations.CreateOrganizationalUnitInput{
		ParentId: aws.String(parentID),
		Name:     aws.String(name),
	})
	if err != nil {
		var dup *types.DuplicateOrganizationalUnitException
		if errors.As(err, &dup) {
			// the caller re-lists and adopts the existing OU
			return OrgUnit{}, fmt.Errorf("ou %s already exists under %s: %w", name, parentID, err)
		}
		return OrgUnit{}, fmt.Errorf("failed to create ou %s: %w", name, err)
	}
	return OrgUnit{Id: aws.ToString(result.OrganizationalUnit.Id), Name: name}, nil
}

// IsDuplicateOU reports whether the error is the duplicate-name race on
// concurrent OU creation.
func IsDuplicateOU(err error) bool {
	var dup *types.DuplicateOrganizationalUnitException
	return errors.As(err, &dup)
}

func (s *organizationsService) DeleteOrganizationalUnit(ctx context.Context, ouID string) error {
	_, err := s.client.DeleteOrganizationalUnit(ctx, &organizations.DeleteOrganizationalUnitInput{
		OrganizationalUnitId: aws.String(ouID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete ou %s: %w", ouID, err)
	}
	return nil
}

func (s *organizationsService) ListAccountsForParent(ctx context.Context, parentID string) ([]OrgAccount, error) {
	var accounts []OrgAccount
	paginator := organizations.NewListAccountsForParentPaginator(s.client,
		&organizations.ListAccountsForParentInput{ParentId: aws.String(parentID)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list accounts under %s: %w", parentID, err)
		}
		for _, a := range page.Accounts {
			accounts = append(accounts, newOrgAccount(a))
		}
	}
	return accounts, nil
}

// ListAccountsPage returns a single page so the state machine can carry the
// NextToken across steps instead of polling in-step.
func (s *organizationsService) ListAccountsPage(ctx context.Context, nextToken string) ([]OrgAccount, string, error) {
	input := &organizations.ListAccountsInput{}
	if nextToken != "" {
		input.NextToken = aws.String(nextToken)
	}
	result, err := s.client.ListAccounts(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list accounts: %w", err)
	}
	var accounts []OrgAccount
	for _, a := range result.Accounts {
		accounts = append(accounts, newOrgAccount(a))
	}
	return accounts, aws.ToString(result.NextToken), nil
}

func (s *organizationsService) ListParents(ctx context.Context, childID string) ([]string, error) {
	result, err := s.client.ListParents(ctx, &organizations.ListParentsInput{
		ChildId: aws.String(childID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list parents of %s: %w", childID, err)
	}
	var parents []string
	for _, p := range result.Parents {
		parents = append(parents, aws.ToString(p.Id))
	}
	return parents, nil
}

func (s *organizationsService) CreateAccount(ctx context.Context, name, email string) (string, error) {
	result, err := s.client.CreateAccount(ctx, &organizations.CreateAccountInput{
		AccountName: aws.String(name),
		Email:       aws.String(email),
	})
	if err != nil {
		var finalizing *types.FinalizingOrganizationException
		if errors.As(err, &finalizing) {
			return "", lzerrors.ErrOrganizationInitializing
		}
		return "", fmt.Errorf("failed to create account %s: %w", name, err)
	}
	return aws.ToString(result.CreateAccountStatus.Id), nil
}

func (s *organizationsService) DescribeCreateAccountStatus(ctx context.Context, requestID string) (CreateAccountResult, error) {
	result, err := s.client.DescribeCreateAccountStatus(ctx, &organizations.DescribeCreateAccountStatusInput{
		CreateAccountRequestId: aws.String(requestID),
	})
	if err != nil {
		return CreateAccountResult{}, fmt.Errorf("failed to describe create account status %s: %w", requestID, err)
	}
	status := result.CreateAccountStatus
	return CreateAccountResult{
		State:         string(status.State),
		AccountId:     aws.ToString(status.AccountId),
		FailureReason: string(status.FailureReason),
	}, nil
}

func (s *organizationsService) MoveAccount(ctx context.Context, accountID, sourceParentID, destinationParentID string) error {
	_, err := s.client.MoveAccount(ctx, &organizations.MoveAccountInput{
		AccountId:           aws.String(accountID),
		SourceParentId:      aws.String(sourceParentID),
		DestinationParentId: aws.String(destinationParentID),
	})
	if err != nil {
		return fmt.Errorf("failed to move account %s from %s to %s: %w",
			accountID, sourceParentID, destinationParentID, err)
	}
	return nil
}

func (s *organizationsService) ListPolicies(ctx context.Context) ([]OrgPolicy, error) {
	var policies []OrgPolicy
	paginator := organizations.NewListPoliciesPaginator(s.client, &organizations.ListPoliciesInput{
		Filter: types.PolicyTypeServiceControlPolicy,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list policies: %w", err)
		}
		for _, p := range page.Policies {
			policies = append(policies, OrgPolicy{
				Id:          aws.ToString(p.Id),
				Name:        aws.ToString(p.Name),
				Description: aws.ToString(p.Description),
			})
		}
	}
	return policies, nil
}

func (s *organizationsService) CreatePolicy(ctx context.Context, name, description, document string) (string, error) {
	result, err := s.client.CreatePolicy(ctx, &organizations.CreatePolicyInput{
		Name:        aws.String(name),
		Description: aws.String(description),
		Content:     aws.String(document),
		Type:        types.PolicyTypeServiceControlPolicy,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create policy %s: %w", name, err)
	}
	return aws.ToString(result.Policy.PolicySummary.Id), nil
}

func (s *organizationsService) UpdatePolicy(ctx context.Context, policyID, name, description, document string) error {
	_, err := s.client.UpdatePolicy(ctx, &organizations.UpdatePolicyInput{
		PolicyId:    aws.String(policyID),
		Name:        aws.String(name),
		Description: aws.String(description),
		Content:     aws.String(document),
	})
	if err != nil {
		return fmt.Errorf("failed to update policy %s: %w", policyID, err)
	}
	return nil
}

func (s *organizationsService) DeletePolicy(ctx context.Context, policyID string) error {
	_, err := s.client.DeletePolicy(ctx, &organizations.DeletePolicyInput{
		PolicyId: aws.String(policyID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete policy %s: %w", policyID, err)
	}
	return nil
}

func (s *organizationsService) EnablePolicyType(ctx context.Context, rootID string) error {
	_, err := s.client.EnablePolicyType(ctx, &organizations.EnablePolicyTypeInput{
		RootId:     aws.String(rootID),
		PolicyType: types.PolicyTypeServiceControlPolicy,
	})
	if err != nil {
		var already *types.PolicyTypeAlreadyEnabledException
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("failed to enable SCP policy type on root %s: %w", rootID, err)
	}
	return nil
}

func (s *organizationsService) AttachPolicy(ctx context.Context, policyID, targetID string) error {
	_, err := s.client.AttachPolicy(ctx, &organizations.AttachPolicyInput{
		PolicyId: aws.String(policyID),
		TargetId: aws.String(targetID),
	})
	if err != nil {
		var dup *types.DuplicatePolicyAttachmentException
		if errors.As(err, &dup) {
			return nil
		}
		return fmt.Errorf("failed to attach policy %s to %s: %w", policyID, targetID, err)
	}
	return nil
}

func (s *organizationsService) DetachPolicy(ctx context.Context, policyID, targetID string) error {
	_, err := s.client.DetachPolicy(ctx, &organizations.DetachPolicyInput{
		PolicyId: aws.String(policyID),
		TargetId: aws.String(targetID),
	})
	if err != nil {
		var notAttached *types.PolicyNotAttachedException
		if errors.As(err, &notAttached) {
			return nil
		}
		return fmt.Errorf("failed to detach policy %s from %s: %w", policyID, targetID, err)
	}
	return nil
}

func (s *organizationsService) ListTargetsForPolicy(ctx context.Context, policyID string) ([]string, error) {
	var targets []string
	paginator := organizations.NewListTargetsForPolicyPaginator(s.client,
		&organizations.ListTargetsForPolicyInput{PolicyId: aws.String(policyID)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list targets for policy %s: %w", policyID, err)
		}
		for _, t := range page.Targets {
			targets = append(targets, aws.ToString(t.TargetId))
		}
	}
	return targets, nil
}

func newOrgAccount(a types.Account) OrgAccount {
	return OrgAccount{
		Id:     aws.ToString(a.Id),
		Name:   aws.ToString(a.Name),
		Email:  aws.ToString(a.Email),
		Status: string(a.Status),
	}
}
