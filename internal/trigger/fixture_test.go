package trigger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const fixtureManifest = `
region: us-east-1
version: 2026-01-15
nested_ou_delimiter: ":"
lock_down_stack_sets_role: true
organizational_units:
  - name: core
    include_in_baseline_products:
      - AWS-Landing-Zone-Account-Vending-Machine
    core_accounts:
      - name: primary
      - name: security
        email: security@example.com
        ssm_parameters:
          - name: /org/member/security/account_id
            value: "$[AccountId]"
        core_resources:
          - name: iam-baseline
            template_file: templates/security.template
            parameter_file: parameters/security.json
            deploy_method: stack_set
  - name: applications
    include_in_baseline_products:
      - AWS-Landing-Zone-Account-Vending-Machine
organization_policies:
  - name: protect-core
    description: deny changes outside core
    policy_file: policies/protect.json
    apply_to_accounts_in_ou:
      - core
portfolios:
  - name: management
    description: landing zone management
    owner: platform
    principal_role: /org/primary/principal_role_arn
    products:
      - name: AWS-Landing-Zone-Account-Vending-Machine
        description: vends member accounts
        skeleton_file: templates/avm-skeleton.template
        product_type: baseline
        hide_old_versions: true
baseline_resources:
  - name: security-baseline
    template_file: templates/security.template
    parameter_file: parameters/security.json
    deploy_method: stack_set
    baseline_products:
      - AWS-Landing-Zone-Account-Vending-Machine
    regions:
      - us-east-1
      - us-west-2
  - name: logging-baseline
    template_file: templates/security.template
    deploy_method: stack_set
    baseline_products:
      - AWS-Landing-Zone-Account-Vending-Machine
`

// writeFixture lays out an extracted configuration artifact and returns its
// root directory.
func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	files := map[string]string{
		"manifest.yaml":                   fixtureManifest,
		"templates/security.template":     "Resources:\n  Placeholder:\n    Type: AWS::SNS::Topic\n",
		"parameters/security.json":        `[{"ParameterKey":"VPCCidr","ParameterValue":"10.0.0.0/16"}]`,
		"policies/protect.json":           `{"Version":"2012-10-17","Statement":[{"Effect":"Deny","Action":"*","Resource":"*"}]}`,
		"templates/avm-skeleton.template": "BaselineTemplate: {{index .Templates \"security-baseline\"}}\nRegion: {{.Region}}\n",
	}
	for name, body := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return root
}
