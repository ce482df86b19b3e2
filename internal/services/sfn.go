package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

// ExecutionStatus is the terminal-or-not state of one execution.
type ExecutionStatus struct {
	Arn    string
	Status string // RUNNING, SUCCEEDED, FAILED, TIMED_OUT, ABORTED
}

// IsTerminal reports whether the execution has finished, in any outcome.
func (s ExecutionStatus) IsTerminal() bool {
	return s.Status != "RUNNING"
}

// StateMachines wraps Step Functions execution submission and polling.
type StateMachines interface {
	StartExecution(ctx context.Context, stateMachineARN, name string, input any) (string, error)
	DescribeExecution(ctx context.Context, executionARN string) (ExecutionStatus, error)
}

type stateMachineService struct {
	client *sfn.Client
}

// NewStateMachines creates the Step Functions adapter.
func NewStateMachines(client *sfn.Client) StateMachines {
	return &stateMachineService{client: client}
}

func (s *stateMachineService) StartExecution(ctx context.Context, stateMachineARN, name string, input any) (string, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state machine input: %w", err)
	}

	result, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(stateMachineARN),
		Name:            aws.String(name),
		Input:           aws.String(string(inputJSON)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start execution %s: %w", name, err)
	}
	return aws.ToString(result.ExecutionArn), nil
}

func (s *stateMachineService) DescribeExecution(ctx context.Context, executionARN string) (ExecutionStatus, error) {
	result, err := s.client.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(executionARN),
	})
	if err != nil {
		return ExecutionStatus{}, fmt.Errorf("failed to describe execution %s: %w", executionARN, err)
	}
	return ExecutionStatus{
		Arn:    executionARN,
		Status: string(result.Status),
	}, nil
}
