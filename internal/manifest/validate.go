package manifest

import (
	"fmt"
	"strings"
)

// allowedDelimiters is the closed set of one-character nested OU delimiters.
var allowedDelimiters = map[string]struct{}{
	".": {}, ":": {}, "-": {}, "_": {}, ",": {}, ";": {}, "#": {}, "|": {},
}

// ValidationErrors aggregates every rule failure found in one pass so the
// operator sees the full list before any cloud mutation.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return fmt.Sprintf("manifest validation failed with %d error(s):\n  %s",
		len(v), strings.Join(v, "\n  "))
}

// Validate runs schema-level checks plus the cross-reference rules. The
// master account is exempt from the email and $[AccountId] export rules.
func (m *Manifest) Validate(masterAccountName string) error {
	var errs ValidationErrors

	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if m.Region == "" {
		add("region is required")
	}
	if m.Version == "" {
		add("version is required")
	}
	if m.NestedOUDelimiter != "" {
		if _, ok := allowedDelimiters[m.NestedOUDelimiter]; !ok {
			add("nested_ou_delimiter %q is not one of . : - _ , ; # |", m.NestedOUDelimiter)
		}
	}

	baselineProducts := map[string]bool{} // name -> is product_type baseline
	skeletons := map[string]string{}      // skeleton_file -> product name
	for _, pf := range m.Portfolios {
		if pf.Name == "" {
			add("portfolio with empty name")
		}
		for _, p := range pf.Products {
			if p.Name == "" {
				add("portfolio %q declares a product with empty name", pf.Name)
				continue
			}
			switch p.ProductType {
			case "baseline", "optional":
			case "":
				add("product %q is missing product_type", p.Name)
			default:
				add("product %q has invalid product_type %q", p.Name, p.ProductType)
			}
			if p.TemplateFile == "" && p.SkeletonFile == "" {
				add("product %q needs template_file or skeleton_file", p.Name)
			}
			baselineProducts[p.Name] = p.ProductType == "baseline"
			if p.ProductType == "baseline" && p.SkeletonFile != "" {
				if other, dup := skeletons[p.SkeletonFile]; dup {
					add("baseline products %q and %q share skeleton_file %q", other, p.Name, p.SkeletonFile)
				}
				skeletons[p.SkeletonFile] = p.Name
			}
		}
	}

	for _, ou := range m.OrganizationalUnits {
		if ou.Name == "" {
			add("organizational unit with empty name")
			continue
		}
		if len(ou.IncludeInBaselineProducts) != 1 {
			add("ou %q must reference exactly one baseline product, got %d",
				ou.Name, len(ou.IncludeInBaselineProducts))
		}
		for _, bp := range ou.IncludeInBaselineProducts {
			isBaseline, exists := baselineProducts[bp]
			if !exists {
				add("ou %q references unknown baseline product %q", ou.Name, bp)
			} else if !isBaseline {
				add("ou %q references product %q which is not product_type baseline", ou.Name, bp)
			}
		}
		for _, acct := range ou.CoreAccounts {
			m.validateAccount(ou.Name, acct, masterAccountName, add)
		}
	}

	for _, res := range m.BaselineResources {
		if res.DeployMethod != "stack_set" {
			add("baseline resource %q has unsupported deploy_method %q", res.Name, res.DeployMethod)
		}
		for _, bp := range res.BaselineProducts {
			if _, exists := baselineProducts[bp]; !exists {
				add("baseline resource %q references unknown product %q", res.Name, bp)
			}
		}
	}

	ouNames := m.OUNames()
	for _, pol := range m.OrganizationPolicies {
		if pol.Name == "" {
			add("organization policy with empty name")
		}
		if pol.PolicyFile == "" {
			add("organization policy %q is missing policy_file", pol.Name)
		}
		for _, target := range pol.ApplyToAccountsInOU {
			if !matchesDeclaredOU(target, ouNames, m.NestedOUDelimiter) {
				add("policy %q targets %q which matches no declared organizational unit", pol.Name, target)
			}
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (m *Manifest) validateAccount(ouName string, acct Account, master string, add func(string, ...any)) {
	if acct.Name == "" {
		add("ou %q declares an account with empty name", ouName)
		return
	}
	if acct.Name == master {
		return
	}
	if acct.Email == "" {
		add("account %q in ou %q has no email", acct.Name, ouName)
	}
	exported := false
	for _, p := range acct.SSMParameters {
		if p.Value == AccountIDExport {
			exported = true
			break
		}
	}
	if !exported {
		add("account %q in ou %q does not export %s via ssm_parameters", acct.Name, ouName, AccountIDExport)
	}
}

// matchesDeclaredOU reports whether target equals a declared OU name or is a
// path prefix of one (policies may attach at any level of a nested path).
func matchesDeclaredOU(target string, declared []string, delim string) bool {
	for _, name := range declared {
		if target == name {
			return true
		}
		if delim != "" && strings.HasPrefix(name, target+delim) {
			return true
		}
	}
	return false
}
