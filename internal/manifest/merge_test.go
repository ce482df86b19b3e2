package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAddsNewSections(t *testing.T) {
	master, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	addon := &Manifest{
		OrganizationalUnits: []OrganizationalUnit{
			{Name: "workloads", IncludeInBaselineProducts: []string{"AWS-Landing-Zone-Account-Vending-Machine"}},
		},
		OrganizationPolicies: []Policy{
			{Name: "deny-regions", PolicyFile: "policies/deny-regions.json"},
		},
		BaselineResources: []Resource{
			{Name: "CentralizedLogging", DeployMethod: "stack_set"},
		},
	}

	merged := Merge(master, addon)
	assert.Len(t, merged.OrganizationalUnits, 2)
	assert.Len(t, merged.OrganizationPolicies, 2)
	assert.Len(t, merged.BaselineResources, 2)
}

func TestMergeDeduplicatesByName(t *testing.T) {
	master, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	addon := &Manifest{
		OrganizationalUnits: []OrganizationalUnit{
			{Name: "core", IncludeInBaselineProducts: []string{"something-else"}},
		},
		OrganizationPolicies: []Policy{
			{Name: "protect-cloudtrail", PolicyFile: "policies/other.json"},
		},
	}

	merged := Merge(master, addon)
	assert.Len(t, merged.OrganizationalUnits, 1)
	assert.Len(t, merged.OrganizationPolicies, 1)
	// the master entry wins on conflict
	assert.Equal(t, "policies/protect-cloudtrail.json", merged.OrganizationPolicies[0].PolicyFile)
	assert.Equal(t, []string{"AWS-Landing-Zone-Account-Vending-Machine"},
		merged.OrganizationalUnits[0].IncludeInBaselineProducts)
}

func TestMergeRecursesIntoMatchedOU(t *testing.T) {
	master, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	addon := &Manifest{
		OrganizationalUnits: []OrganizationalUnit{
			{
				Name: "core",
				CoreAccounts: []Account{
					{
						Name:  "security",
						Email: "conflicting@example.com",
						CoreResources: []Resource{
							{Name: "ExtraAlarms", DeployMethod: "stack_set"},
						},
					},
					{Name: "logging", Email: "logging@example.com"},
				},
			},
		},
	}

	merged := Merge(master, addon)
	require.Len(t, merged.OrganizationalUnits, 1)
	accounts := merged.OrganizationalUnits[0].CoreAccounts
	require.Len(t, accounts, 2)

	// existing account keeps its email but gains the new core resource
	assert.Equal(t, "security@example.com", accounts[0].Email)
	assert.Len(t, accounts[0].CoreResources, 2)
	assert.Equal(t, "logging", accounts[1].Name)
}

func TestMergePortfolioProducts(t *testing.T) {
	master, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	addon := &Manifest{
		Portfolios: []Portfolio{
			{
				Name: "AWS Landing Zone - Baseline",
				Products: []Product{
					{Name: "AWS-Landing-Zone-Account-Vending-Machine", ProductType: "baseline"},
					{Name: "Optional-VPC", ProductType: "optional", TemplateFile: "templates/vpc.template"},
				},
			},
		},
	}

	merged := Merge(master, addon)
	require.Len(t, merged.Portfolios, 1)
	assert.Len(t, merged.Portfolios[0].Products, 2)
}
