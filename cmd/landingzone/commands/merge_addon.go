package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/cloudkeel/landingzone/internal/di"
	"github.com/cloudkeel/landingzone/internal/manifest"
	"github.com/cloudkeel/landingzone/internal/services"
)

// MergeAddonCommand returns the merge-addon command, which folds an add-on
// manifest into the master manifest and announces the result.
func MergeAddonCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "merge-addon",
		Usage: "Merge an add-on manifest into the master manifest",
		Description: `Merges the add-on's OUs, accounts, resources, portfolios, products, and
policies into the master manifest, deduplicating by name, and writes the
merged manifest. When an add-on topic is configured (AddonTopic), a
notification naming the add-on and the manifest version is published.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment",
				EnvVars: []string{"ENV"},
			},
			&cli.StringFlag{
				Name:     "manifest",
				Aliases:  []string{"m"},
				Usage:    "Path to the master manifest",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "addon",
				Aliases:  []string{"a"},
				Usage:    "Path to the add-on manifest",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Path for the merged manifest (defaults to overwriting the master)",
			},
			&cli.BoolFlag{
				Name:  "no-notify",
				Usage: "Skip the add-on topic notification",
			},
		},
		Action: func(c *cli.Context) error {
			return mergeAddonAction(c, logger)
		},
	}
}

func mergeAddonAction(c *cli.Context, logger *zerolog.Logger) error {
	master, err := manifest.Load(c.String("manifest"))
	if err != nil {
		return err
	}
	addon, err := manifest.Load(c.String("addon"))
	if err != nil {
		return err
	}

	merged := manifest.Merge(master, addon)

	output := c.String("output")
	if output == "" {
		output = c.String("manifest")
	}
	raw, err := yaml.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal merged manifest: %w", err)
	}
	if err := os.WriteFile(output, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write merged manifest: %w", err)
	}

	addonName := strings.TrimSuffix(filepath.Base(c.String("addon")), filepath.Ext(c.String("addon")))
	logger.Info().
		Str("addon", addonName).
		Str("output", output).
		Str("version", merged.Version).
		Msg("add-on merged")

	if c.Bool("no-notify") {
		return nil
	}

	container, err := di.New(c.String("env"))
	if err != nil {
		return err
	}
	var (
		notifier = di.MustGet[services.Notifier](container)
		cfg      = di.MustGet[*services.Config](container)
	)
	if cfg.AddonTopicArn == "" {
		logger.Warn().Msg("no add-on topic configured, skipping notification")
		return nil
	}

	ctx := logger.WithContext(c.Context)
	subject := fmt.Sprintf("Add-on %s merged", addonName)
	message := fmt.Sprintf("Add-on %s was merged into manifest version %s.", addonName, merged.Version)
	if cfg.AddonTemplate != "" {
		message += fmt.Sprintf("\nTemplate: %s", cfg.AddonTemplate)
	}
	if cfg.AddonStack != "" {
		message += fmt.Sprintf("\nStack: %s", cfg.AddonStack)
	}
	if cfg.ReleaseNotes != "" {
		message += fmt.Sprintf("\nRelease notes: %s", cfg.ReleaseNotes)
	}
	if err := notifier.Publish(ctx, cfg.AddonTopicArn, subject, message); err != nil {
		return err
	}

	logger.Info().Str("topic", cfg.AddonTopicArn).Msg("add-on notification published")
	return nil
}
