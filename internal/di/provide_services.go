package di

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"github.com/cloudkeel/landingzone/internal/services"
)

// ProvideParameterStore provides the SSM-backed ParameterStore shared by the
// resolver, the continuation store, and the export lookups.
func ProvideParameterStore(client *ssm.Client) services.ParameterStore {
	return services.NewSSMParameterStore(client)
}

// ProvideAppConfig loads application configuration from the environment.
func ProvideAppConfig(ctx context.Context) *services.Config {
	cfg := services.LoadConfig()

	zerolog.Ctx(ctx).Info().
		Str("staging_bucket", cfg.StagingBucket).
		Dur("wait_time", cfg.WaitTime).
		Bool("has_run_history_table", cfg.RunHistoryTable != "").
		Msg("Configuration loaded")

	return cfg
}
