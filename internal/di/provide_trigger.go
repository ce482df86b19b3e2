package di

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/cloudkeel/landingzone/internal/dao/rundao"
	"github.com/cloudkeel/landingzone/internal/handlers"
	"github.com/cloudkeel/landingzone/internal/params"
	"github.com/cloudkeel/landingzone/internal/policy"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/stager"
	"github.com/cloudkeel/landingzone/internal/trigger"
)

func ProvideResolver(store services.ParameterStore, cross services.CrossAccount, keys services.KeyResolver, cfg *services.Config) *params.Resolver {
	return params.NewResolver(store, cross, keys, cfg.KMSKeyAlias)
}

func ProvidePolicyValidator() (*policy.Validator, error) {
	return policy.NewValidator()
}

func ProvideDocumentLinter(v *policy.Validator) stager.DocumentLinter {
	return v
}

// ProvideRunRecorder returns the run-history DAO, or nil when no table is
// configured. The trigger treats a nil recorder as disabled.
func ProvideRunRecorder(client *dynamodb.Client, cfg *services.Config) trigger.Recorder {
	if cfg.RunHistoryTable == "" {
		return nil
	}
	return rundao.New(client, cfg.RunHistoryTable)
}

func ProvideNoOpTester(stackSet *handlers.StackSetHandler) trigger.NoOpTester {
	return stackSet
}

func ProvideTrigger(
	org services.Organizations,
	store services.ParameterStore,
	objects services.ObjectStore,
	machines services.StateMachines,
	pipeline services.PipelineJob,
	resolver *params.Resolver,
	noop trigger.NoOpTester,
	runs trigger.Recorder,
	linter stager.DocumentLinter,
	cfg *services.Config,
) *trigger.Trigger {
	return trigger.New(org, store, objects, machines, pipeline, resolver, noop, runs, linter, cfg)
}
