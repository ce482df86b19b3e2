package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/cloudkeel/landingzone/cmd/landingzone/commands"
	"github.com/cloudkeel/landingzone/internal/di"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "landingzone",
		Usage: "Landing-zone pipeline operations toolkit",
		Description: `Operator commands for the multi-account landing zone.

This tool provides commands for:
  - Running a pipeline stage to completion from a local manifest
  - Launching the account-vending product for every configured OU
  - Validating a manifest before committing it
  - Merging an add-on manifest into the master manifest`,
		Commands: []*cli.Command{
			commands.TriggerCommand(&logger),
			commands.VendCommand(&logger),
			commands.ValidateCommand(&logger),
			commands.MergeAddonCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
