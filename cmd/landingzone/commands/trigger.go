package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cloudkeel/landingzone/internal/di"
	"github.com/cloudkeel/landingzone/internal/trigger"
)

const triggerUsage = "<log_level> <wait_time> <manifest_path> <sm_arn> <staging_bucket> <stage_name> <kms_key_alias>"

// TriggerCommand returns the trigger command, which runs one pipeline stage to
// completion from a local manifest.
func TriggerCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "trigger",
		Usage:     "Run one pipeline stage to completion",
		ArgsUsage: triggerUsage,
		Description: `Submits every state-machine execution the named stage calls for and polls
until all of them are terminal.

Exit codes:
  0  every execution succeeded
  1  one or more executions failed after submission
  2  usage error

Example:
  landingzone trigger info 10 ./manifest.yaml arn:aws:states:...:stateMachine/stack-set my-staging-bucket core_resources alias/landing-zone`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment",
				EnvVars: []string{"ENV"},
			},
			&cli.StringFlag{
				Name:  "master-account-name",
				Usage: "Manifest name of the management account",
				Value: "primary",
			},
		},
		Action: func(c *cli.Context) error {
			return triggerAction(c, logger)
		},
	}
}

func triggerAction(c *cli.Context, logger *zerolog.Logger) error {
	if c.NArg() != 7 {
		return cli.Exit(fmt.Sprintf("usage: landingzone trigger %s", triggerUsage), 2)
	}
	args := c.Args().Slice()

	level, err := zerolog.ParseLevel(args[0])
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid log_level %q", args[0]), 2)
	}
	if _, err := strconv.Atoi(args[1]); err != nil {
		return cli.Exit(fmt.Sprintf("invalid wait_time %q", args[1]), 2)
	}
	stage := args[5]

	smVar, ok := stateMachineVarFor(stage)
	if !ok {
		return cli.Exit(fmt.Sprintf("unknown stage_name %q", stage), 2)
	}

	// The argv contract predates the environment contract; map the argv onto
	// the environment so the shared providers see the same settings the
	// Lambda entrypoints do.
	for key, value := range map[string]string{
		"log_level":          args[0],
		"wait_time":          args[1],
		smVar:                args[3],
		"staging_bucket":     args[4],
		"kms_key_alias_name": args[6],
	} {
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	container, err := di.New(c.String("env"),
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
	if err != nil {
		return err
	}

	log := logger.Level(level)
	ctx := log.WithContext(c.Context)

	tr := di.MustGet[*trigger.Trigger](container)
	failed, err := tr.RunLocal(ctx, trigger.Request{
		Stage:             stage,
		ManifestPath:      args[2],
		MasterAccountName: c.String("master-account-name"),
	})
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return cli.Exit(fmt.Sprintf("%d executions failed: %v", len(failed), failed), 1)
	}

	log.Info().Str("stage", stage).Msg("stage completed")
	return nil
}

func stateMachineVarFor(stage string) (string, bool) {
	switch stage {
	case trigger.StageCoreAccounts:
		return "sm_arn_account", true
	case trigger.StageCoreResources, trigger.StageBaseline:
		return "sm_arn_stack_set", true
	case trigger.StageSCP:
		return "sm_arn_service_control_policy", true
	case trigger.StageCatalog:
		return "sm_arn_service_catalog", true
	}
	return "", false
}
