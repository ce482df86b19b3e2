package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
)

// StackReader reads individual stacks, possibly in another account. Used by
// the output-export step and the AVM parameter lookup.
type StackReader interface {
	// StackOutputs finds the first stack whose name starts with prefix and
	// returns its outputs.
	StackOutputs(ctx context.Context, cfg aws.Config, prefix string) (map[string]string, error)

	// StackParameters returns the parameters of the stack backing the given
	// physical resource id (a stack ARN or name).
	StackParameters(ctx context.Context, cfg aws.Config, stackID string) (map[string]string, error)
}

type stackReaderService struct{}

// NewStackReader creates the stack reader.
func NewStackReader() StackReader {
	return &stackReaderService{}
}

func (s *stackReaderService) StackOutputs(ctx context.Context, cfg aws.Config, prefix string) (map[string]string, error) {
	client := cloudformation.NewFromConfig(cfg)

	paginator := cloudformation.NewDescribeStacksPaginator(client, &cloudformation.DescribeStacksInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe stacks: %w", err)
		}
		for _, stack := range page.Stacks {
			if !strings.HasPrefix(aws.ToString(stack.StackName), prefix) {
				continue
			}
			outputs := map[string]string{}
			for _, o := range stack.Outputs {
				outputs[aws.ToString(o.OutputKey)] = aws.ToString(o.OutputValue)
			}
			return outputs, nil
		}
	}
	return nil, fmt.Errorf("no stack with prefix %s found", prefix)
}

func (s *stackReaderService) StackParameters(ctx context.Context, cfg aws.Config, stackID string) (map[string]string, error) {
	client := cloudformation.NewFromConfig(cfg)

	result, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe stack %s: %w", stackID, err)
	}
	if len(result.Stacks) == 0 {
		return nil, fmt.Errorf("stack %s not found", stackID)
	}

	params := map[string]string{}
	for _, p := range result.Stacks[0].Parameters {
		params[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	return params, nil
}
