package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
)

// PipelineJob reports the outcome of a pipeline task back to CodePipeline.
type PipelineJob interface {
	PutJobSuccess(ctx context.Context, jobID string) error
	PutJobFailure(ctx context.Context, jobID, message string) error

	// ContinueLater re-arms the job with the continuation token so the
	// pipeline re-invokes the trigger after its poll interval.
	ContinueLater(ctx context.Context, jobID, continuationToken string) error
}

type pipelineJobService struct {
	client *codepipeline.Client
}

// NewPipelineJob creates the CodePipeline adapter.
func NewPipelineJob(client *codepipeline.Client) PipelineJob {
	return &pipelineJobService{client: client}
}

func (s *pipelineJobService) PutJobSuccess(ctx context.Context, jobID string) error {
	_, err := s.client.PutJobSuccessResult(ctx, &codepipeline.PutJobSuccessResultInput{
		JobId: aws.String(jobID),
	})
	if err != nil {
		return fmt.Errorf("failed to put job success for %s: %w", jobID, err)
	}
	return nil
}

func (s *pipelineJobService) PutJobFailure(ctx context.Context, jobID, message string) error {
	// FailureDetails.Message caps at 5000 characters
	if len(message) > 5000 {
		message = message[:5000]
	}

	_, err := s.client.PutJobFailureResult(ctx, &codepipeline.PutJobFailureResultInput{
		JobId: aws.String(jobID),
		FailureDetails: &types.FailureDetails{
			Type:    types.FailureTypeJobFailed,
			Message: aws.String(message),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put job failure for %s: %w", jobID, err)
	}
	return nil
}

func (s *pipelineJobService) ContinueLater(ctx context.Context, jobID, continuationToken string) error {
	_, err := s.client.PutJobSuccessResult(ctx, &codepipeline.PutJobSuccessResultInput{
		JobId:             aws.String(jobID),
		ContinuationToken: aws.String(continuationToken),
	})
	if err != nil {
		return fmt.Errorf("failed to continue job %s: %w", jobID, err)
	}
	return nil
}
