// Package manifest holds the in-memory model of the declarative landing-zone
// manifest, its loader, the schema and cross-reference validator, and the
// add-on merge used when publishing add-on manifests into the master manifest.
package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/savaki/gox/slicex"
	"gopkg.in/yaml.v3"
)

// DefaultNestedOUDelimiter separates segments of a nested OU path when the
// manifest does not declare one.
const DefaultNestedOUDelimiter = ":"

// AccountIDExport is the placeholder an account's ssm_parameters must export
// so downstream stages can resolve the created account id.
const AccountIDExport = "$[AccountId]"

// Manifest is the root of the declarative model. Field names mirror the YAML
// schema the pipeline consumes.
type Manifest struct {
	Region                string `yaml:"region"`
	Version               string `yaml:"version"`
	LockDownStackSetsRole bool   `yaml:"lock_down_stack_sets_role"`
	NestedOUDelimiter     string `yaml:"nested_ou_delimiter"`

	OrganizationalUnits  []OrganizationalUnit `yaml:"organizational_units"`
	OrganizationPolicies []Policy             `yaml:"organization_policies"`
	Portfolios           []Portfolio          `yaml:"portfolios"`
	BaselineResources    []Resource           `yaml:"baseline_resources"`
}

type OrganizationalUnit struct {
	Name                      string    `yaml:"name"`
	IncludeInBaselineProducts []string  `yaml:"include_in_baseline_products"`
	CoreAccounts              []Account `yaml:"core_accounts"`
}

type Account struct {
	Name          string         `yaml:"name"`
	Email         string         `yaml:"email"`
	SSMParameters []SSMParameter `yaml:"ssm_parameters"`
	CoreResources []Resource     `yaml:"core_resources"`
}

type SSMParameter struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type Resource struct {
	Name              string         `yaml:"name"`
	TemplateFile      string         `yaml:"template_file"`
	ParameterFile     string         `yaml:"parameter_file"`
	DeployMethod      string         `yaml:"deploy_method"`
	ParameterOverride string         `yaml:"parameter_override"`
	BaselineProducts  []string       `yaml:"baseline_products"`
	Regions           []string       `yaml:"regions"`
	SSMParameters     []SSMParameter `yaml:"ssm_parameters"`
	DependsOn         []string       `yaml:"depends_on"`
}

type Portfolio struct {
	Name          string    `yaml:"name"`
	Description   string    `yaml:"description"`
	Owner         string    `yaml:"owner"`
	PrincipalRole string    `yaml:"principal_role"`
	Products      []Product `yaml:"products"`
}

type Product struct {
	Name                        string   `yaml:"name"`
	Description                 string   `yaml:"description"`
	TemplateFile                string   `yaml:"template_file"`
	SkeletonFile                string   `yaml:"skeleton_file"`
	ParameterFile               string   `yaml:"parameter_file"`
	HideOldVersions             bool     `yaml:"hide_old_versions"`
	ApplyBaselineToAccountsInOU []string `yaml:"apply_baseline_to_accounts_in_ou"`
	LaunchConstraintRole        string   `yaml:"launch_constraint_role"`
	ProductType                 string   `yaml:"product_type"` // baseline or optional
	RulesFile                   string   `yaml:"rules_file"`
}

type Policy struct {
	Name                string   `yaml:"name"`
	PolicyFile          string   `yaml:"policy_file"`
	Description         string   `yaml:"description"`
	ApplyToAccountsInOU []string `yaml:"apply_to_accounts_in_ou"`
}

// Load reads and parses a manifest file, applying defaults. Validation is a
// separate step so callers can aggregate errors before aborting.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses manifest bytes and applies defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if m.NestedOUDelimiter == "" {
		m.NestedOUDelimiter = DefaultNestedOUDelimiter
	}
	return &m, nil
}

// OUNames returns the declared top-level OU names in manifest order.
func (m *Manifest) OUNames() []string {
	return slicex.Map(m.OrganizationalUnits, func(ou OrganizationalUnit) string { return ou.Name })
}

// BaselineProduct returns the product a given OU's baseline reference names,
// or nil if no portfolio declares it.
func (m *Manifest) BaselineProduct(name string) *Product {
	for pi := range m.Portfolios {
		for i := range m.Portfolios[pi].Products {
			p := &m.Portfolios[pi].Products[i]
			if p.Name == name {
				return p
			}
		}
	}
	return nil
}

// SplitOUPath splits a possibly nested OU name into its path segments.
func (m *Manifest) SplitOUPath(name string) []string {
	if m.NestedOUDelimiter == "" {
		return []string{name}
	}
	return strings.Split(name, m.NestedOUDelimiter)
}
