package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cloudkeel/landingzone/internal/di"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/trigger"
)

// defaultMasterAccountName matches the account the manifest names for the
// organization's management account.
const defaultMasterAccountName = "primary"

// userParameters is the JSON document configured on the pipeline action.
type userParameters struct {
	Artifact          string `json:"artifact"`
	PipelineStage     string `json:"pipeline_stage"`
	ExecMode          string `json:"exec_mode"`
	MasterAccountName string `json:"master_account_name"`
}

func parseRequest(evt events.CodePipelineJobEvent) (trigger.Request, error) {
	job := evt.CodePipelineJob

	var params userParameters
	if err := json.Unmarshal([]byte(job.Data.ActionConfiguration.Configuration.UserParameters), &params); err != nil {
		return trigger.Request{}, fmt.Errorf("failed to parse user parameters: %w", err)
	}
	if params.MasterAccountName == "" {
		params.MasterAccountName = os.Getenv("master_account_name")
	}
	if params.MasterAccountName == "" {
		params.MasterAccountName = defaultMasterAccountName
	}

	req := trigger.Request{
		JobID:             job.ID,
		Token:             job.Data.ContinuationToken,
		Stage:             params.PipelineStage,
		Mode:              params.ExecMode,
		MasterAccountName: params.MasterAccountName,
	}

	for _, artifact := range job.Data.InputArtifacts {
		if artifact.Name == params.Artifact {
			req.ArtifactBucket = artifact.Location.S3Location.BucketName
			req.ArtifactKey = artifact.Location.S3Location.ObjectKey
			break
		}
	}
	if req.ArtifactBucket == "" {
		return trigger.Request{}, fmt.Errorf("input artifact %q not found on pipeline job", params.Artifact)
	}

	return req, nil
}

func newContainer(env string) (di.Container, error) {
	return di.New(env,
		di.WithProviders(
			di.ProvideStackSetHandler,
			di.ProvideResolver,
			di.ProvidePolicyValidator,
			di.ProvideDocumentLinter,
			di.ProvideRunRecorder,
			di.ProvideNoOpTester,
			di.ProvideTrigger,
		),
	)
}

// registerLambdaArn publishes this function's ARN to SSM so add-on stacks can
// invoke the trigger directly. A failure is advisory.
func registerLambdaArn(ctx context.Context, store services.ParameterStore, paramName string) {
	if paramName == "" {
		return
	}
	lc, ok := lambdacontext.FromContext(ctx)
	if !ok || lc.InvokedFunctionArn == "" {
		return
	}
	if err := store.PutParameter(ctx, paramName, lc.InvokedFunctionArn, ""); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("name", paramName).Msg("failed to register lambda ARN")
	}
}

func lambdaAction(c *cli.Context) error {
	container, err := newContainer(c.String("env"))
	if err != nil {
		return err
	}

	var (
		logger = di.MustGet[zerolog.Logger](container).With().Str("lambda", "pipeline-trigger").Logger()
		tr     = di.MustGet[*trigger.Trigger](container)
		store  = di.MustGet[services.ParameterStore](container)
		cfg    = di.MustGet[*services.Config](container)
	)

	handler := func(ctx context.Context, evt events.CodePipelineJobEvent) error {
		ctx = logger.WithContext(ctx)
		registerLambdaArn(ctx, store, cfg.LambdaArnParamName)
		req, err := parseRequest(evt)
		if err != nil {
			logger.Error().Err(err).Msg("rejecting pipeline job")
			return err
		}
		return tr.Handle(ctx, req)
	}

	lambda.Start(handler)
	return nil
}

func runAction(c *cli.Context) error {
	container, err := newContainer(c.String("env"))
	if err != nil {
		return err
	}

	var (
		logger = di.MustGet[zerolog.Logger](container).With().Str("lambda", "pipeline-trigger").Logger()
		tr     = di.MustGet[*trigger.Trigger](container)
	)

	// CLI mode for testing: the manifest comes from a local path, not an
	// artifact zip, and the stage runs to completion in parallel mode.
	req := trigger.Request{
		Stage:             c.String("stage"),
		ManifestPath:      c.String("manifest"),
		MasterAccountName: c.String("master-account-name"),
	}

	ctx := logger.WithContext(context.Background())
	failed, err := tr.RunLocal(ctx, req)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d executions failed: %v", len(failed), failed)
	}

	logger.Info().Str("stage", req.Stage).Msg("stage completed")
	return nil
}

func main() {
	app := &cli.App{
		Name:           "pipeline-trigger",
		Usage:          "Start and resume landing-zone pipeline stages",
		DefaultCommand: "lambda",
		Commands: []*cli.Command{
			{
				Name:  "lambda",
				Usage: "Start Lambda handler",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "env",
						Usage:   "Environment",
						EnvVars: []string{"ENV"},
					},
				},
				Action: lambdaAction,
			},
			{
				Name:  "run",
				Usage: "Run a single stage locally for testing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "env",
						Usage:   "Environment",
						EnvVars: []string{"ENV"},
					},
					&cli.StringFlag{
						Name:     "stage",
						Usage:    "Pipeline stage name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "manifest",
						Usage:    "Path to a local manifest file",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "master-account-name",
						Usage: "Manifest name of the management account",
						Value: defaultMasterAccountName,
					},
				},
				Action: runAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
