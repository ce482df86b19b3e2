package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// Notifier publishes operator notifications, e.g. after an add-on merge.
type Notifier interface {
	Publish(ctx context.Context, topicARN, subject, message string) error
}

type snsService struct {
	client *sns.Client
}

// NewNotifier creates the SNS adapter.
func NewNotifier(client *sns.Client) Notifier {
	return &snsService{client: client}
}

func (s *snsService) Publish(ctx context.Context, topicARN, subject, message string) error {
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topicARN, err)
	}
	return nil
}
