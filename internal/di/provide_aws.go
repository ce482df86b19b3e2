package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/directoryservice"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
)

// maxRetryAttempts covers the transient Organizations and Service Catalog
// throttles seen when many executions run at once.
const maxRetryAttempts = 4

// ProvideContext returns a background context carrying the container's logger,
// so providers that log do so through the same sink as the handlers.
func ProvideContext(logger zerolog.Logger) context.Context {
	return logger.WithContext(context.Background())
}

func ProvideAWSConfig(ctx context.Context) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRetryMaxAttempts(maxRetryAttempts))
}

func ProvideSSMClient(cfg aws.Config) *ssm.Client {
	return ssm.NewFromConfig(cfg)
}

func ProvideS3Client(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

func ProvideStepFunctionsClient(cfg aws.Config) *sfn.Client {
	return sfn.NewFromConfig(cfg)
}

func ProvideCodePipelineClient(cfg aws.Config) *codepipeline.Client {
	return codepipeline.NewFromConfig(cfg)
}

func ProvideOrganizationsClient(cfg aws.Config) *organizations.Client {
	return organizations.NewFromConfig(cfg)
}

func ProvideCloudFormationClient(cfg aws.Config) *cloudformation.Client {
	return cloudformation.NewFromConfig(cfg)
}

func ProvideServiceCatalogClient(cfg aws.Config) *servicecatalog.Client {
	return servicecatalog.NewFromConfig(cfg)
}

func ProvideSTSClient(cfg aws.Config) *sts.Client {
	return sts.NewFromConfig(cfg)
}

func ProvideKMSClient(cfg aws.Config) *kms.Client {
	return kms.NewFromConfig(cfg)
}

func ProvideDynamoDBClient(cfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg)
}

func ProvideSNSClient(cfg aws.Config) *sns.Client {
	return sns.NewFromConfig(cfg)
}

func ProvideDirectoryServiceClient(cfg aws.Config) *directoryservice.Client {
	return directoryservice.NewFromConfig(cfg)
}
