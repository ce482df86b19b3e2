package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/manifest"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/stager"
	"github.com/cloudkeel/landingzone/internal/utils"
)

// Pipeline stage names, one per state machine family.
const (
	StageCoreAccounts  = "core_accounts"
	StageCoreResources = "core_resources"
	StageSCP           = "service_control_policy"
	StageCatalog       = "service_catalog"
	StageBaseline      = "baseline_resources"
)

const stackSetNamePrefix = "AWS-Landing-Zone-"

// skeletonData is the rendering context for product skeleton templates.
// Skeletons reference staged baseline templates by resource name through
// the Templates map.
type skeletonData struct {
	Region        string
	StagingBucket string
	Templates     map[string]string
}

// InputBuilder walks the manifest and produces one state-machine input per
// unit of work in a pipeline stage. Template and policy references are
// staged as a side effect, keyed by the continuation token.
type InputBuilder struct {
	manifest *manifest.Manifest
	stager   *stager.Stager
	store    services.ParameterStore
	org      services.Organizations
	root     string // directory the manifest was extracted to
	master   string // master account name, exempt from email lookup
	bucket   string
}

// NewInputBuilder creates a builder rooted at the extracted manifest
// directory.
func NewInputBuilder(m *manifest.Manifest, st *stager.Stager, store services.ParameterStore, org services.Organizations, root, masterAccountName, stagingBucket string) *InputBuilder {
	return &InputBuilder{
		manifest: m,
		stager:   st,
		store:    store,
		org:      org,
		root:     root,
		master:   masterAccountName,
		bucket:   stagingBucket,
	}
}

// Build returns the inputs for one stage in manifest order.
func (b *InputBuilder) Build(ctx context.Context, stage, token string) ([]*event.Event, error) {
	switch stage {
	case StageCoreAccounts:
		return b.coreAccounts(ctx)
	case StageCoreResources:
		return b.coreResources(ctx, token)
	case StageSCP:
		return b.serviceControlPolicies(ctx, token)
	case StageCatalog:
		return b.serviceCatalog(ctx, token)
	case StageBaseline:
		return b.baselineResources(ctx, token)
	}
	return nil, fmt.Errorf("unknown pipeline stage %q", stage)
}

// coreAccounts emits one input per (OU, account) pair. The master account's
// email is never declared in the manifest; it is read live from the
// organization. An OU without accounts still emits one input so the OU
// itself gets created.
func (b *InputBuilder) coreAccounts(ctx context.Context) ([]*event.Event, error) {
	var inputs []*event.Event
	masterID, masterEmail := "", ""

	for _, ou := range b.manifest.OrganizationalUnits {
		if len(ou.CoreAccounts) == 0 {
			inputs = append(inputs, b.accountInput(ou.Name, manifest.Account{}, "", ""))
			continue
		}
		for _, acct := range ou.CoreAccounts {
			accountID, email := "", acct.Email
			if acct.Name == b.master {
				if masterID == "" {
					var err error
					masterID, masterEmail, err = b.org.DescribeOrganization(ctx)
					if err != nil {
						return nil, err
					}
				}
				accountID, email = masterID, masterEmail
			}
			inputs = append(inputs, b.accountInput(ou.Name, acct, accountID, email))
		}
	}
	return inputs, nil
}

func (b *InputBuilder) accountInput(ouName string, acct manifest.Account, accountID, email string) *event.Event {
	props := &event.ResourceProperties{
		OUName:            ouName,
		OUNameDelimiter:   b.manifest.NestedOUDelimiter,
		AccountName:       acct.Name,
		AccountEmail:      email,
		AccountId:         accountID,
		LockStackSetsRole: b.manifest.LockDownStackSetsRole,
		RegionList:        []string{b.manifest.Region},
		SSMParameters:     ssmParameterMap(acct.SSMParameters),
	}
	return &event.Event{
		RequestType:        string(event.RequestTypeCreate),
		ResourceProperties: props,
	}
}

// coreResources emits one StackSet input per (account, resource) for every
// account whose id is already exported to the parameter store. Accounts not
// yet vended are skipped; the next pipeline run picks them up.
func (b *InputBuilder) coreResources(ctx context.Context, token string) ([]*event.Event, error) {
	var inputs []*event.Event

	for _, ou := range b.manifest.OrganizationalUnits {
		for _, acct := range ou.CoreAccounts {
			accountID, ok, err := b.accountID(ctx, acct)
			if err != nil {
				return nil, err
			}
			if !ok {
				zerolog.Ctx(ctx).Info().
					Str("account", acct.Name).
					Msg("skipping core resources, account id not exported yet")
				continue
			}
			for _, res := range acct.CoreResources {
				name := stackSetNamePrefix + utils.SanitizeName(acct.Name, false, '-') + "-" + res.Name
				evt, err := b.stackSetInput(ctx, token, name, res, []string{accountID})
				if err != nil {
					return nil, err
				}
				inputs = append(inputs, evt)
			}
		}
	}
	return inputs, nil
}

// serviceControlPolicies emits one input per policy, carrying the full
// attach/detach partition of the declared OUs.
func (b *InputBuilder) serviceControlPolicies(ctx context.Context, token string) ([]*event.Event, error) {
	allOUs := b.manifest.OUNames()
	delim := b.manifest.NestedOUDelimiter

	var inputs []*event.Event
	for _, pol := range b.manifest.OrganizationPolicies {
		policyURL, err := b.stager.StagePolicy(ctx, pol.PolicyFile, token)
		if err != nil {
			return nil, err
		}

		var ouList []event.OUOperation
		for _, ou := range allOUs {
			op := "Detach"
			for _, target := range pol.ApplyToAccountsInOU {
				if ou == target || (delim != "" && strings.HasPrefix(ou, target+delim)) {
					op = "Attach"
					break
				}
			}
			ouList = append(ouList, event.OUOperation{OUName: ou, Operation: op})
		}

		inputs = append(inputs, &event.Event{
			RequestType: string(event.RequestTypeCreate),
			ResourceProperties: &event.ResourceProperties{
				PolicyName:        pol.Name,
				PolicyDescription: pol.Description,
				PolicyURL:         policyURL,
				OUList:            ouList,
				OUNameDelimiter:   delim,
			},
		})
	}
	return inputs, nil
}

// serviceCatalog emits one input per (portfolio, product). Products built
// from a skeleton get their template rendered against the staged baseline
// templates; the portfolio principal is resolved from the parameter store.
func (b *InputBuilder) serviceCatalog(ctx context.Context, token string) ([]*event.Event, error) {
	var inputs []*event.Event

	for _, pf := range b.manifest.Portfolios {
		principalARN := pf.PrincipalRole
		if !strings.HasPrefix(principalARN, "arn:") {
			resolved, err := b.store.GetParameter(ctx, pf.PrincipalRole)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve portfolio principal %s: %w", pf.PrincipalRole, err)
			}
			principalARN = resolved
		}

		for _, product := range pf.Products {
			templateURL, err := b.productTemplateURL(ctx, token, product)
			if err != nil {
				return nil, err
			}

			props := &event.ResourceProperties{
				PortfolioName:        pf.Name,
				PortfolioDescription: pf.Description,
				PortfolioProvider:    pf.Owner,
				PrincipalArn:         principalARN,
				ProductName:          product.Name,
				ProductDescription:   product.Description,
				ProductOwner:         pf.Owner,
				TemplateURL:          templateURL,
				LaunchConstraintRole: product.LaunchConstraintRole,
			}
			if product.HideOldVersions {
				props.HideOldVersions = "yes"
			}
			if product.RulesFile != "" {
				rules, err := os.ReadFile(filepath.Join(b.root, product.RulesFile))
				if err != nil {
					return nil, fmt.Errorf("failed to read rules file %s: %w", product.RulesFile, err)
				}
				props.TemplateRules = string(rules)
			}
			if product.ParameterFile != "" {
				params, err := b.loadParameterFile(product.ParameterFile)
				if err != nil {
					return nil, err
				}
				props.Parameters = params
			}

			inputs = append(inputs, &event.Event{
				RequestType:        string(event.RequestTypeCreate),
				ResourceProperties: props,
			})
		}
	}
	return inputs, nil
}

// baselineResources emits one StackSet input per baseline resource. The
// target accounts come from flipping ou -> baseline product and joining it
// with the accounts vended under each OU.
func (b *InputBuilder) baselineResources(ctx context.Context, token string) ([]*event.Event, error) {
	var inputs []*event.Event

	for _, res := range b.manifest.BaselineResources {
		wanted := map[string]bool{}
		for _, bp := range res.BaselineProducts {
			wanted[bp] = true
		}

		var accounts []string
		for _, ou := range b.manifest.OrganizationalUnits {
			included := false
			for _, bp := range ou.IncludeInBaselineProducts {
				if wanted[bp] {
					included = true
					break
				}
			}
			if !included {
				continue
			}
			for _, acct := range ou.CoreAccounts {
				accountID, ok, err := b.accountID(ctx, acct)
				if err != nil {
					return nil, err
				}
				if ok {
					accounts = append(accounts, accountID)
				}
			}
		}

		evt, err := b.stackSetInput(ctx, token, stackSetNamePrefix+res.Name, res, accounts)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, evt)
	}
	return inputs, nil
}

func (b *InputBuilder) stackSetInput(ctx context.Context, token, name string, res manifest.Resource, accounts []string) (*event.Event, error) {
	if res.DeployMethod != "stack_set" {
		return nil, fmt.Errorf("%w: resource %s declares %q", lzerrors.ErrUnsupportedDeployMethod, res.Name, res.DeployMethod)
	}

	templateURL, err := b.stager.StageFile(ctx, res.TemplateFile, token)
	if err != nil {
		return nil, err
	}

	props := &event.ResourceProperties{
		StackSetName:      name,
		TemplateURL:       templateURL,
		AccountList:       accounts,
		RegionList:        res.Regions,
		ParameterOverride: res.ParameterOverride,
		Capabilities:      "CAPABILITY_NAMED_IAM",
		SSMParameters:     ssmParameterMap(res.SSMParameters),
	}
	if len(props.RegionList) == 0 {
		props.RegionList = []string{b.manifest.Region}
	}
	if res.ParameterFile != "" {
		params, err := b.loadParameterFile(res.ParameterFile)
		if err != nil {
			return nil, err
		}
		props.Parameters = params
	}

	return &event.Event{
		RequestType:        string(event.RequestTypeCreate),
		ResourceProperties: props,
	}, nil
}

// productTemplateURL stages either the product's literal template or its
// rendered skeleton.
func (b *InputBuilder) productTemplateURL(ctx context.Context, token string, product manifest.Product) (string, error) {
	if product.SkeletonFile == "" {
		return b.stager.StageFile(ctx, product.TemplateFile, token)
	}

	templates := map[string]string{}
	for _, res := range b.manifest.BaselineResources {
		url, err := b.stager.StageFile(ctx, res.TemplateFile, token)
		if err != nil {
			return "", err
		}
		templates[res.Name] = url
	}
	return b.stager.StageSkeleton(ctx, product.SkeletonFile, token, skeletonData{
		Region:        b.manifest.Region,
		StagingBucket: b.bucket,
		Templates:     templates,
	})
}

// accountID looks up the account's exported id. ok is false when the
// account declares no export or the parameter does not exist yet.
func (b *InputBuilder) accountID(ctx context.Context, acct manifest.Account) (string, bool, error) {
	if acct.Name == b.master {
		masterID, _, err := b.org.DescribeOrganization(ctx)
		if err != nil {
			return "", false, err
		}
		return masterID, true, nil
	}

	for _, p := range acct.SSMParameters {
		if p.Value != manifest.AccountIDExport {
			continue
		}
		id, err := b.store.GetParameter(ctx, p.Name)
		if err != nil {
			if errors.Is(err, lzerrors.ErrParameterNotFound) {
				return "", false, nil
			}
			return "", false, err
		}
		return id, true, nil
	}
	return "", false, nil
}

// loadParameterFile reads a CloudFormation-style parameter file relative to
// the manifest root and flattens it to a key/value map.
func (b *InputBuilder) loadParameterFile(ref string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(b.root, ref))
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file %s: %w", ref, err)
	}

	var entries []struct {
		ParameterKey   string `json:"ParameterKey"`
		ParameterValue string `json:"ParameterValue"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file %s: %w", ref, err)
	}

	params := make(map[string]string, len(entries))
	for _, e := range entries {
		params[e.ParameterKey] = e.ParameterValue
	}
	return params, nil
}

func ssmParameterMap(declared []manifest.SSMParameter) map[string]string {
	if len(declared) == 0 {
		return nil
	}
	out := make(map[string]string, len(declared))
	for _, p := range declared {
		out[p.Name] = p.Value
	}
	return out
}
