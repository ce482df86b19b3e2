package manifest

// Merge folds an add-on manifest into the master manifest. Every list is
// deduplicated by name: an add-on entry is appended only when the master does
// not already carry an entry with the same decision key. Nested lists under a
// matched entry are merged recursively by the same rule.
func Merge(master, addon *Manifest) *Manifest {
	for _, ou := range addon.OrganizationalUnits {
		idx := indexOf(master.OrganizationalUnits, ou.Name, func(o OrganizationalUnit) string { return o.Name })
		if idx < 0 {
			master.OrganizationalUnits = append(master.OrganizationalUnits, ou)
			continue
		}
		mergeOU(&master.OrganizationalUnits[idx], ou)
	}

	for _, pf := range addon.Portfolios {
		idx := indexOf(master.Portfolios, pf.Name, func(p Portfolio) string { return p.Name })
		if idx < 0 {
			master.Portfolios = append(master.Portfolios, pf)
			continue
		}
		for _, product := range pf.Products {
			if indexOf(master.Portfolios[idx].Products, product.Name, func(p Product) string { return p.Name }) < 0 {
				master.Portfolios[idx].Products = append(master.Portfolios[idx].Products, product)
			}
		}
	}

	for _, pol := range addon.OrganizationPolicies {
		if indexOf(master.OrganizationPolicies, pol.Name, func(p Policy) string { return p.Name }) < 0 {
			master.OrganizationPolicies = append(master.OrganizationPolicies, pol)
		}
	}

	for _, res := range addon.BaselineResources {
		if indexOf(master.BaselineResources, res.Name, func(r Resource) string { return r.Name }) < 0 {
			master.BaselineResources = append(master.BaselineResources, res)
		}
	}

	return master
}

func mergeOU(dst *OrganizationalUnit, src OrganizationalUnit) {
	for _, acct := range src.CoreAccounts {
		idx := indexOf(dst.CoreAccounts, acct.Name, func(a Account) string { return a.Name })
		if idx < 0 {
			dst.CoreAccounts = append(dst.CoreAccounts, acct)
			continue
		}
		for _, res := range acct.CoreResources {
			if indexOf(dst.CoreAccounts[idx].CoreResources, res.Name, func(r Resource) string { return r.Name }) < 0 {
				dst.CoreAccounts[idx].CoreResources = append(dst.CoreAccounts[idx].CoreResources, res)
			}
		}
	}
}

func indexOf[T any](items []T, name string, key func(T) string) int {
	for i, item := range items {
		if key(item) == name {
			return i
		}
	}
	return -1
}
