// Package router dispatches state-machine steps to handler methods by
// ClassName and FunctionName.
package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cloudkeel/landingzone/internal/cfnresponse"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/handlers"
	"github.com/cloudkeel/landingzone/internal/handshake"
)

// HandlerFunc is one dispatchable step.
type HandlerFunc func(context.Context, *event.Event) (*event.Event, error)

// Router performs the two-level ClassName -> FunctionName dispatch. Unknown
// names return a diagnostic event instead of an error so the state machine
// catches them as design-level mistakes rather than retryable faults.
type Router struct {
	routes map[string]map[string]HandlerFunc
	sink   *cfnresponse.Sender
}

// New wires every handler's methods into the dispatch table.
func New(
	org *handlers.OrgHandler,
	stackSet *handlers.StackSetHandler,
	catalog *handlers.CatalogHandler,
	scp *handlers.SCPHandler,
	avm *handlers.AVMHandler,
	adConnector *handlers.ADConnectorHandler,
	engine *handshake.Engine,
	sink *cfnresponse.Sender,
) *Router {
	return &Router{
		sink: sink,
		routes: map[string]map[string]HandlerFunc{
			"Organizations": {
				"list_roots":                   org.ListRoots,
				"describe_organization":        org.DescribeOrganization,
				"check_organization_unit":      org.CheckOrganizationUnit,
				"create_organization_unit":     org.CreateOrganizationUnit,
				"delete_organization_unit":     org.DeleteOrganizationUnit,
				"list_accounts_for_parent":     org.ListAccountsForParent,
				"list_accounts":                org.ListAccounts,
				"list_parents":                 org.ListParents,
				"create_account":               org.CreateAccount,
				"describe_account_status":      org.DescribeAccountStatus,
				"move_account":                 org.MoveAccount,
				"account_initialization_check": org.AccountInitializationCheck,
				"lock_down_stack_sets_role":    org.LockDownStackSetsRole,
			},
			"StackSet": {
				"describe_stack_set":           stackSet.DescribeStackSet,
				"list_stack_instances":         stackSet.ListStackInstances,
				"create_stack_set":             stackSet.CreateStackSet,
				"update_stack_set":             stackSet.UpdateStackSet,
				"create_stack_instances":       stackSet.CreateStackInstances,
				"update_stack_instances":       stackSet.UpdateStackInstances,
				"delete_stack_instances":       stackSet.DeleteStackInstances,
				"describe_stack_set_operation": stackSet.DescribeStackSetOperation,
				"export_cfn_output":            stackSet.ExportCFNOutput,
			},
			"ServiceCatalog": {
				"list_portfolios":                       catalog.ListPortfolios,
				"create_portfolio":                      catalog.CreatePortfolio,
				"update_portfolio":                      catalog.UpdatePortfolio,
				"list_principals_for_portfolio":         catalog.ListPrincipalsForPortfolio,
				"associate_principal_with_portfolio":    catalog.AssociatePrincipalWithPortfolio,
				"disassociate_principal_from_portfolio": catalog.DisassociatePrincipalFromPortfolio,
				"search_products_as_admin":              catalog.SearchProductsAsAdmin,
				"create_product":                        catalog.CreateProduct,
				"update_product":                        catalog.UpdateProduct,
				"associate_product_with_portfolio":      catalog.AssociateProductWithPortfolio,
				"disassociate_product_from_portfolio":   catalog.DisassociateProductFromPortfolio,
				"delete_product":                        catalog.DeleteProduct,
				"list_constraints_for_portfolio":        catalog.ListConstraintsForPortfolio,
				"create_launch_constraint":              catalog.CreateLaunchConstraint,
				"describe_constraint":                   catalog.DescribeConstraint,
				"create_template_constraint":            catalog.CreateTemplateConstraint,
				"delete_constraint":                     catalog.DeleteConstraint,
				"list_provisioning_artifacts":           catalog.ListProvisioningArtifacts,
				"compare_product_templates":             catalog.CompareProductTemplates,
				"create_provisioning_artifact":          catalog.CreateProvisioningArtifact,
				"update_provisioning_artifact":          catalog.UpdateProvisioningArtifact,
				"delete_provisioning_artifact":          catalog.DeleteProvisioningArtifact,
			},
			"ServiceControlPolicy": {
				"list_policies":                   scp.ListPolicies,
				"create_policy":                   scp.CreatePolicy,
				"update_policy":                   scp.UpdatePolicy,
				"delete_policy":                   scp.DeletePolicy,
				"enable_policy_type":              scp.EnablePolicyType,
				"configure_count":                 scp.ConfigureCount,
				"iterator":                        scp.Iterator,
				"attach_policy":                   scp.AttachPolicy,
				"detach_policy":                   scp.DetachPolicy,
				"detach_policy_from_all_accounts": scp.DetachPolicyFromAllAccounts,
			},
			"AVM": {
				"configure_count":               avm.ConfigureCount,
				"iterator":                      avm.Iterator,
				"search_provisioned_products":   avm.SearchProvisionedProducts,
				"provision_product":             avm.ProvisionProduct,
				"update_provisioned_product":    avm.UpdateProvisionedProduct,
				"terminate_provisioned_product": avm.TerminateProvisionedProduct,
				"describe_record":               avm.DescribeRecord,
			},
			"ADConnector": {
				"describe_directory":        adConnector.DescribeDirectory,
				"connect_directory":         adConnector.ConnectDirectory,
				"check_ad_connector_status": adConnector.CheckADConnectorStatus,
				"delete_directory":          adConnector.DeleteDirectory,
			},
			"Handshake": {
				"describe_resources":      engine.DescribeResources,
				"create_resources":        engine.CreateResources,
				"send_invitation":         engine.SendInvitation,
				"check_invitation_status": engine.CheckInvitationStatus,
				"accept_invitation":       engine.AcceptInvitation,
				"delete_resources":        engine.DeleteResources,
			},
		},
	}
}

// Dispatch routes one step. Handler failures go through the custom-resource
// failure sink before propagating so upstream catches fire.
func (r *Router) Dispatch(ctx context.Context, evt *event.Event) (*event.Event, error) {
	logger := zerolog.Ctx(ctx).With().
		Str("class_name", evt.Params.ClassName).
		Str("function_name", evt.Params.FunctionName).
		Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Interface("event", evt).Msg("dispatching step")

	if _, err := event.ParseRequestType(evt.RequestType); err != nil {
		logger.Error().Err(err).Msg("rejecting step")
		r.sink.SendFailure(ctx, evt, err.Error())
		return nil, err
	}

	functions, ok := r.routes[evt.Params.ClassName]
	if !ok {
		evt.Message = fmt.Sprintf("unknown class name %q", evt.Params.ClassName)
		logger.Warn().Msg(evt.Message)
		return evt, nil
	}
	fn, ok := functions[evt.Params.FunctionName]
	if !ok {
		evt.Message = fmt.Sprintf("unknown function name %q in class %q",
			evt.Params.FunctionName, evt.Params.ClassName)
		logger.Warn().Msg(evt.Message)
		return evt, nil
	}

	out, err := fn(ctx, evt)
	if err != nil {
		logger.Error().Err(err).Msg("step failed")
		reason := evt.StateMachineArn
		if reason == "" {
			reason = err.Error()
		}
		r.sink.SendFailure(ctx, evt, reason)
		return nil, err
	}
	return out, nil
}
