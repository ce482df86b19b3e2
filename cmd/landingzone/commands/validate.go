package commands

import (
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cloudkeel/landingzone/internal/manifest"
)

// ValidateCommand returns the validate command, which checks a manifest
// without touching any AWS service.
func ValidateCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a manifest file",
		ArgsUsage: "<manifest_path>",
		Description: `Parses the manifest and runs the full schema and cross-reference checks.
All violations are reported at once rather than stopping at the first.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "master-account-name",
				Usage: "Manifest name of the management account",
				Value: "primary",
			},
		},
		Action: func(c *cli.Context) error {
			return validateAction(c, logger)
		},
	}
}

func validateAction(c *cli.Context, logger *zerolog.Logger) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: landingzone validate <manifest_path>", 2)
	}
	path := c.Args().First()

	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	if err := m.Validate(c.String("master-account-name")); err != nil {
		return err
	}

	logger.Info().
		Str("manifest", path).
		Str("version", m.Version).
		Int("organizational_units", len(m.OrganizationalUnits)).
		Msg("manifest is valid")
	return nil
}
