package commands

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cloudkeel/landingzone/internal/di"
	"github.com/cloudkeel/landingzone/internal/manifest"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/vending"
)

// VendCommand returns the vend command, which launches the account-vending
// product for every account configured under the manifest's OUs.
func VendCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "vend",
		Usage: "Launch the account-vending product for every configured OU",
		Description: `Reads the manifest, finds every OU that opts into a baseline product, and
submits one account-vending execution per member account, in paced batches.
Suspended accounts are moved back to the organization root and skipped.

Exit codes:
  0  every execution succeeded
  1  one or more executions failed`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment",
				EnvVars: []string{"ENV"},
			},
			&cli.StringFlag{
				Name:     "manifest",
				Aliases:  []string{"m"},
				Usage:    "Path to the manifest file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "avm-arn",
				Usage:   "Account-vending state machine ARN (defaults to sm_arn_account_vending_machine)",
				EnvVars: []string{"sm_arn_account_vending_machine"},
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Aliases: []string{"b"},
				Usage:   "Executions submitted per batch",
				Value:   vending.DefaultBatchSize,
			},
		},
		Action: func(c *cli.Context) error {
			return vendAction(c, logger)
		},
	}
}

func vendAction(c *cli.Context, logger *zerolog.Logger) error {
	path := c.String("manifest")
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}

	container, err := di.New(c.String("env"))
	if err != nil {
		return err
	}

	var (
		org      = di.MustGet[services.Organizations](container)
		machines = di.MustGet[services.StateMachines](container)
		cfg      = di.MustGet[*services.Config](container)
	)

	avmARN := c.String("avm-arn")
	if avmARN == "" {
		avmARN = cfg.AVMStateMachineArn
	}
	if avmARN == "" {
		return cli.Exit("account-vending state machine ARN is required", 2)
	}

	launcher := vending.New(org, machines, avmARN, filepath.Dir(path))
	launcher.BatchSize = c.Int("batch-size")
	if cfg.WaitTime > 0 {
		launcher.WaitTime = cfg.WaitTime
	}

	ctx := logger.WithContext(c.Context)
	failed, err := launcher.Run(ctx, m)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return cli.Exit(fmt.Sprintf("%d executions failed: %v", len(failed), failed), 1)
	}

	logger.Info().Msg("account vending completed")
	return nil
}
