package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/aws/smithy-go"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
)

// StackInstanceStatus is one stack instance in the account x region matrix.
type StackInstanceStatus struct {
	Account      string
	Region       string
	Status       string // CURRENT, OUTDATED, INOPERABLE
	StatusReason string
}

// StackSetOperationResult describes one per-region outcome of an operation.
type StackSetOperationResult struct {
	Account      string
	Region       string
	Status       string
	StatusReason string
}

// StackSetDescription is the live stack set state the no-op comparison reads.
type StackSetDescription struct {
	TemplateBody string
	Parameters   map[string]string
}

// StackSets wraps CloudFormation's stack-set surface. OperationInProgress and
// StackInstanceNotFound races surface as sentinel errors.
type StackSets interface {
	DescribeStackSet(ctx context.Context, name string) (*StackSetDescription, bool, error)
	ListStackInstancesPage(ctx context.Context, name, account, nextToken string) ([]StackInstanceStatus, string, error)
	CreateStackSet(ctx context.Context, name, templateURL string, params map[string]string, capabilities string) error
	UpdateStackSet(ctx context.Context, name, templateURL string, params map[string]string, capabilities string) (operationID string, err error)
	CreateStackInstances(ctx context.Context, name string, accounts, regions []string, failedTolerance, maxConcurrent int) (string, error)
	UpdateStackInstances(ctx context.Context, name string, accounts, regions []string, overrides map[string]string, failedTolerance, maxConcurrent int) (string, error)
	DeleteStackInstances(ctx context.Context, name string, accounts, regions []string, failedTolerance, maxConcurrent int) (string, error)
	DescribeStackSetOperation(ctx context.Context, name, operationID string) (status string, err error)
	ListStackSetOperationResults(ctx context.Context, name, operationID string) ([]StackSetOperationResult, error)
}

type stackSetService struct {
	client *cloudformation.Client
}

// NewStackSets creates the CloudFormation stack-set adapter.
func NewStackSets(client *cloudformation.Client) StackSets {
	return &stackSetService{client: client}
}

func (s *stackSetService) DescribeStackSet(ctx context.Context, name string) (*StackSetDescription, bool, error) {
	result, err := s.client.DescribeStackSet(ctx, &cloudformation.DescribeStackSetInput{
		StackSetName: aws.String(name),
	})
	if err != nil {
		var notFound *types.StackSetNotFoundException
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to describe stack set %s: %w", name, err)
	}

	params := map[string]string{}
	for _, p := range result.StackSet.Parameters {
		params[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}

	return &StackSetDescription{
		TemplateBody: aws.ToString(result.StackSet.TemplateBody),
		Parameters:   params,
	}, true, nil
}

func (s *stackSetService) ListStackInstancesPage(ctx context.Context, name, account, nextToken string) ([]StackInstanceStatus, string, error) {
	input := &cloudformation.ListStackInstancesInput{
		StackSetName:         aws.String(name),
		StackInstanceAccount: aws.String(account),
	}
	if nextToken != "" {
		input.NextToken = aws.String(nextToken)
	}

	result, err := s.client.ListStackInstances(ctx, input)
	if err != nil {
		var notFound *types.StackSetNotFoundException
		if errors.As(err, &notFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("failed to list stack instances for %s: %w", name, err)
	}

	var instances []StackInstanceStatus
	for _, summary := range result.Summaries {
		inst := StackInstanceStatus{
			Account: aws.ToString(summary.Account),
			Region:  aws.ToString(summary.Region),
			Status:  string(summary.Status),
		}
		if summary.StatusReason != nil {
			inst.StatusReason = *summary.StatusReason
		}
		instances = append(instances, inst)
	}
	return instances, aws.ToString(result.NextToken), nil
}

func (s *stackSetService) CreateStackSet(ctx context.Context, name, templateURL string, params map[string]string, capabilities string) error {
	input := &cloudformation.CreateStackSetInput{
		StackSetName: aws.String(name),
		TemplateURL:  aws.String(templateURL),
		Parameters:   toParameters(params),
		Capabilities: toCapabilities(capabilities),
		Tags: []types.Tag{
			{Key: aws.String("ManagedBy"), Value: aws.String("landing-zone")},
		},
	}

	if _, err := s.client.CreateStackSet(ctx, input); err != nil {
		var exists *types.NameAlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create stack set %s: %w", name, err)
	}
	return nil
}

func (s *stackSetService) UpdateStackSet(ctx context.Context, name, templateURL string, params map[string]string, capabilities string) (string, error) {
	result, err := s.client.UpdateStackSet(ctx, &cloudformation.UpdateStackSetInput{
		StackSetName: aws.String(name),
		TemplateURL:  aws.String(templateURL),
		Parameters:   toParameters(params),
		Capabilities: toCapabilities(capabilities),
	})
	if err != nil {
		if isOperationInProgress(err) {
			return "", lzerrors.ErrOperationInProgress
		}
		return "", fmt.Errorf("failed to update stack set %s: %w", name, err)
	}
	return aws.ToString(result.OperationId), nil
}

func (s *stackSetService) CreateStackInstances(ctx context.Context, name string, accounts, regions []string, failedTolerance, maxConcurrent int) (string, error) {
	result, err := s.client.CreateStackInstances(ctx, &cloudformation.CreateStackInstancesInput{
		StackSetName:         aws.String(name),
		Accounts:             accounts,
		Regions:              regions,
		OperationPreferences: operationPreferences(failedTolerance, maxConcurrent),
	})
	if err != nil {
		if isOperationInProgress(err) {
			return "", lzerrors.ErrOperationInProgress
		}
		return "", fmt.Errorf("failed to create stack instances for %s: %w", name, err)
	}
	return aws.ToString(result.OperationId), nil
}

func (s *stackSetService) UpdateStackInstances(ctx context.Context, name string, accounts, regions []string, overrides map[string]string, failedTolerance, maxConcurrent int) (string, error) {
	result, err := s.client.UpdateStackInstances(ctx, &cloudformation.UpdateStackInstancesInput{
		StackSetName:         aws.String(name),
		Accounts:             accounts,
		Regions:              regions,
		ParameterOverrides:   toParameters(overrides),
		OperationPreferences: operationPreferences(failedTolerance, maxConcurrent),
	})
	if err != nil {
		if isOperationInProgress(err) {
			return "", lzerrors.ErrOperationInProgress
		}
		return "", fmt.Errorf("failed to update stack instances for %s: %w", name, err)
	}
	return aws.ToString(result.OperationId), nil
}

func (s *stackSetService) DeleteStackInstances(ctx context.Context, name string, accounts, regions []string, failedTolerance, maxConcurrent int) (string, error) {
	result, err := s.client.DeleteStackInstances(ctx, &cloudformation.DeleteStackInstancesInput{
		StackSetName:         aws.String(name),
		Accounts:             accounts,
		Regions:              regions,
		RetainStacks:         aws.Bool(false),
		OperationPreferences: operationPreferences(failedTolerance, maxConcurrent),
	})
	if err != nil {
		if isOperationInProgress(err) {
			return "", lzerrors.ErrOperationInProgress
		}
		return "", fmt.Errorf("failed to delete stack instances for %s: %w", name, err)
	}
	return aws.ToString(result.OperationId), nil
}

func (s *stackSetService) DescribeStackSetOperation(ctx context.Context, name, operationID string) (string, error) {
	result, err := s.client.DescribeStackSetOperation(ctx, &cloudformation.DescribeStackSetOperationInput{
		StackSetName: aws.String(name),
		OperationId:  aws.String(operationID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe operation %s on %s: %w", operationID, name, err)
	}
	return string(result.StackSetOperation.Status), nil
}

func (s *stackSetService) ListStackSetOperationResults(ctx context.Context, name, operationID string) ([]StackSetOperationResult, error) {
	var results []StackSetOperationResult
	paginator := cloudformation.NewListStackSetOperationResultsPaginator(s.client,
		&cloudformation.ListStackSetOperationResultsInput{
			StackSetName: aws.String(name),
			OperationId:  aws.String(operationID),
		})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list operation results for %s: %w", name, err)
		}
		for _, r := range page.Summaries {
			results = append(results, StackSetOperationResult{
				Account:      aws.ToString(r.Account),
				Region:       aws.ToString(r.Region),
				Status:       string(r.Status),
				StatusReason: aws.ToString(r.StatusReason),
			})
		}
	}
	return results, nil
}

// IsStackInstanceNotFound reports whether a failed delete raced with policy
// detachment and lost the instance underneath it.
func IsStackInstanceNotFound(reason string) bool {
	return strings.Contains(reason, "StackInstanceNotFoundException")
}

func isOperationInProgress(err error) bool {
	var inProgress *types.OperationInProgressException
	if errors.As(err, &inProgress) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "OperationInProgressException"
}

func operationPreferences(failedTolerance, maxConcurrent int) *types.StackSetOperationPreferences {
	return &types.StackSetOperationPreferences{
		FailureTolerancePercentage: aws.Int32(int32(failedTolerance)),
		MaxConcurrentPercentage:    aws.Int32(int32(maxConcurrent)),
	}
}

func toParameters(params map[string]string) []types.Parameter {
	var out []types.Parameter
	for k, v := range params {
		out = append(out, types.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(v),
		})
	}
	return out
}

func toCapabilities(capabilities string) []types.Capability {
	if capabilities == "" {
		return nil
	}
	var out []types.Capability
	for _, c := range strings.Split(capabilities, ",") {
		out = append(out, types.Capability(strings.TrimSpace(c)))
	}
	return out
}
