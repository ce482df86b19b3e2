package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/cloudkeel/landingzone/internal/di"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/router"
)

func lambdaAction(c *cli.Context) error {
	container, err := di.New(c.String("env"),
		di.WithProviders(
			di.ProvideOrgHandler,
			di.ProvideStackSetHandler,
			di.ProvideCatalogHandler,
			di.ProvideSCPHandler,
			di.ProvideAVMHandler,
			di.ProvideADConnectorHandler,
			di.ProvideHandshakeEngine,
			di.ProvideResponseSender,
			di.ProvideRouter,
		),
	)
	if err != nil {
		return err
	}

	var (
		logger = di.MustGet[zerolog.Logger](container).With().Str("lambda", "state-machine-router").Logger()
		rtr    = di.MustGet[*router.Router](container)
	)

	dispatch := rtr.Dispatch
	dispatch = withLogger(dispatch, logger)

	lambda.Start(dispatch)
	return nil
}

type HandlerFunc func(context.Context, *event.Event) (*event.Event, error)

func withLogger(handler HandlerFunc, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, evt *event.Event) (*event.Event, error) {
		ctx = logger.WithContext(ctx)
		return handler(ctx, evt)
	}
}

func runAction(c *cli.Context) error {
	container, err := di.New(c.String("env"),
		di.WithProviders(
			di.ProvideOrgHandler,
			di.ProvideStackSetHandler,
			di.ProvideCatalogHandler,
			di.ProvideSCPHandler,
			di.ProvideAVMHandler,
			di.ProvideADConnectorHandler,
			di.ProvideHandshakeEngine,
			di.ProvideResponseSender,
			di.ProvideRouter,
		),
	)
	if err != nil {
		return err
	}

	var (
		logger = di.MustGet[zerolog.Logger](container).With().Str("lambda", "state-machine-router").Logger()
		rtr    = di.MustGet[*router.Router](container)
	)

	// CLI mode for testing: the event is read from a JSON file
	raw, err := os.ReadFile(c.String("event"))
	if err != nil {
		return fmt.Errorf("failed to read event file: %w", err)
	}
	var evt event.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return fmt.Errorf("failed to parse event file: %w", err)
	}

	ctx := logger.WithContext(context.Background())
	out, err := rtr.Dispatch(ctx, &evt)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func main() {
	app := &cli.App{
		Name:           "state-machine-router",
		Usage:          "Dispatch state-machine steps to resource handlers",
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
				Usage: "Dispatch a single event locally for testing",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "env",
						Usage:   "Environment",
						EnvVars: []string{"ENV"},
					},
					&cli.StringFlag{
						Name:     "event",
						Usage:    "Path to a JSON event file",
						Required: true,
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
