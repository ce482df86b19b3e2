package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `
region: us-east-1
version: 2020-01-01
lock_down_stack_sets_role: true
nested_ou_delimiter: ":"

organizational_units:
  - name: core
    include_in_baseline_products:
      - AWS-Landing-Zone-Account-Vending-Machine
    core_accounts:
      - name: security
        email: security@example.com
        ssm_parameters:
          - name: /org/member/security/account_id
            value: "$[AccountId]"
        core_resources:
          - name: SecurityRoles
            template_file: templates/core_accounts/aws-landing-zone-security.template
            parameter_file: parameters/core_accounts/aws-landing-zone-security.json
            deploy_method: stack_set
            regions:
              - us-east-1

organization_policies:
  - name: protect-cloudtrail
    description: Deny CloudTrail mutations
    policy_file: policies/protect-cloudtrail.json
    apply_to_accounts_in_ou:
      - core

portfolios:
  - name: AWS Landing Zone - Baseline
    description: Baseline products
    owner: Cloud Platform
    principal_role: $[alfred_ssm_/org/primary/service_catalog/principal/role_arn]
    products:
      - name: AWS-Landing-Zone-Account-Vending-Machine
        description: Account baseline
        skeleton_file: templates/aws_baseline/aws-landing-zone-avm.template.j2
        parameter_file: parameters/aws_baseline/aws-landing-zone-avm.json
        launch_constraint_role: $[alfred_ssm_/org/primary/service_catalog/constraint/role_arn]
        product_type: baseline
        hide_old_versions: true

baseline_resources:
  - name: EnableNotifications
    baseline_products:
      - AWS-Landing-Zone-Account-Vending-Machine
    template_file: templates/aws_baseline/aws-landing-zone-notifications.template
    parameter_file: parameters/aws_baseline/aws-landing-zone-notifications.json
    deploy_method: stack_set
    regions:
      - us-east-1
      - us-west-2
`

func TestParseManifest(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", m.Region)
	assert.Equal(t, ":", m.NestedOUDelimiter)
	assert.True(t, m.LockDownStackSetsRole)

	require.Len(t, m.OrganizationalUnits, 1)
	assert.Equal(t, "core", m.OrganizationalUnits[0].Name)
	require.Len(t, m.OrganizationalUnits[0].IncludeInBaselineProducts, 1)
	assert.Equal(t, "AWS-Landing-Zone-Account-Vending-Machine",
		m.OrganizationalUnits[0].IncludeInBaselineProducts[0])

	require.Len(t, m.Portfolios, 1)
	require.Len(t, m.Portfolios[0].Products, 1)
	assert.True(t, m.Portfolios[0].Products[0].HideOldVersions)

	require.Len(t, m.BaselineResources, 1)
	assert.Equal(t, []string{"us-east-1", "us-west-2"}, m.BaselineResources[0].Regions)
}

func TestParseDefaultsDelimiter(t *testing.T) {
	m, err := Parse([]byte("region: us-east-1\nversion: v1\n"))
	require.NoError(t, err)
	assert.Equal(t, ":", m.NestedOUDelimiter)
}

func TestValidateSuccess(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	assert.NoError(t, m.Validate("primary"))
}

func TestValidateAggregatesErrors(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	m.OrganizationalUnits[0].CoreAccounts[0].Email = ""
	m.OrganizationalUnits[0].CoreAccounts[0].SSMParameters = nil
	m.OrganizationalUnits[0].IncludeInBaselineProducts = []string{"no-such-product"}
	m.NestedOUDelimiter = "::"

	err = m.Validate("primary")
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 4)
}

func TestValidateMasterAccountExemptions(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	// the master account needs neither email nor account id export
	m.OrganizationalUnits[0].CoreAccounts = append(m.OrganizationalUnits[0].CoreAccounts, Account{
		Name: "primary",
	})
	assert.NoError(t, m.Validate("primary"))
}

func TestValidateSkeletonUniqueness(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	m.Portfolios[0].Products = append(m.Portfolios[0].Products, Product{
		Name:         "Second-Baseline",
		SkeletonFile: m.Portfolios[0].Products[0].SkeletonFile,
		ProductType:  "baseline",
	})

	err = m.Validate("primary")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share skeleton_file")
}

func TestValidatePolicyOUPrefix(t *testing.T) {
	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	m.OrganizationalUnits[0].Name = "core:security"
	m.OrganizationPolicies[0].ApplyToAccountsInOU = []string{"core"}
	assert.NoError(t, m.Validate("primary"), "prefix of a nested OU path is a vaild target")

	m.OrganizationPolicies[0].ApplyToAccountsInOU = []string{"workloads"}
	assert.Error(t, m.Validate("primary"))
}
