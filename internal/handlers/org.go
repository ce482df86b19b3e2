// Package handlers implements the state-machine step handlers. Each handler
// receives the full event, performs one step, and returns the event with new
// fields set so the state machine can route on them.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/manifest"
	"github.com/cloudkeel/landingzone/internal/services"
)

// OUNotFound is the sentinel the state machines branch on when an OU path
// does not resolve.
const OUNotFound = "None"

// OrgHandler implements the organization and account lifecycle steps.
type OrgHandler struct {
	org   services.Organizations
	cross services.CrossAccount
	store services.ParameterStore
	trust services.RoleTrust
	cfg   services.Config
}

// NewOrgHandler creates the organization handler.
func NewOrgHandler(org services.Organizations, cross services.CrossAccount, store services.ParameterStore, trust services.RoleTrust, cfg services.Config) *OrgHandler {
	return &OrgHandler{
		org:   org,
		cross: cross,
		store: store,
		trust: trust,
		cfg:   cfg,
	}
}

func (h *OrgHandler) ListRoots(ctx context.Context, evt *event.Event) (*event.Event, error) {
	roots, err := h.org.ListRoots(ctx)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("organization has no root")
	}
	evt.RootId = roots[0].Id
	return evt, nil
}

func (h *OrgHandler) DescribeOrganization(ctx context.Context, evt *event.Event) (*event.Event, error) {
	masterID, _, err := h.org.DescribeOrganization(ctx)
	if err != nil {
		return nil, err
	}
	evt.MasterAccountId = masterID
	return evt, nil
}

// CheckOrganizationUnit resolves a delimited OU path against the live tree,
// writing the last-level OU id or the OUNotFound sentinel.
func (h *OrgHandler) CheckOrganizationUnit(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	rootID, err := h.rootID(ctx, evt)
	if err != nil {
		return nil, err
	}

	ouID, err := h.resolveOUPath(ctx, rootID, props.OUName, props.OUNameDelimiter)
	if err != nil {
		return nil, err
	}
	evt.OrganizationalUnitId = ouID
	return evt, nil
}

// CreateOrganizationUnit walks the OU path, creating each missing segment.
// A duplicate-name race on create is resolved by re-listing and adopting the
// winner's id as the parent for the next segment.
func (h *OrgHandler) CreateOrganizationUnit(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	parentID, err := h.rootID(ctx, evt)
	if err != nil {
		return nil, err
	}

	for _, segment := range splitOUPath(props.OUName, props.OUNameDelimiter) {
		existing, err := h.findOU(ctx, parentID, segment)
		if err != nil {
			return nil, err
		}
		if existing != "" {
			parentID = existing
			continue
		}

		created, err := h.org.CreateOrganizationalUnit(ctx, parentID, segment)
		if err != nil {
			if !services.IsDuplicateOU(err) {
				return nil, err
			}
			adopted, ferr := h.findOU(ctx, parentID, segment)
			if ferr != nil {
				return nil, ferr
			}
			if adopted == "" {
				return nil, err
			}
			zerolog.Ctx(ctx).Info().
				Str("ou", segment).
				Str("ou_id", adopted).
				Msg("adopted concurrently created OU")
			parentID = adopted
			continue
		}
		parentID = created.Id
	}

	evt.OrganizationalUnitId = parentID
	return evt, nil
}

func (h *OrgHandler) DeleteOrganizationUnit(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if evt.OrganizationalUnitId == "" || evt.OrganizationalUnitId == OUNotFound {
		return evt, nil
	}
	if err := h.org.DeleteOrganizationalUnit(ctx, evt.OrganizationalUnitId); err != nil {
		return nil, err
	}
	return evt, nil
}

func (h *OrgHandler) ListAccountsForParent(ctx context.Context, evt *event.Event) (*event.Event, error) {
	accounts, err := h.org.ListAccountsForParent(ctx, evt.OrganizationalUnitId)
	if err != nil {
		return nil, err
	}
	evt.Accounts = appendSummaries(evt.Accounts, accounts)
	return evt, nil
}

// ListAccounts reads one page per step, carrying NextToken in the event until
// the pagination completes.
func (h *OrgHandler) ListAccounts(ctx context.Context, evt *event.Event) (*event.Event, error) {
	accounts, nextToken, err := h.org.ListAccountsPage(ctx, evt.NextToken)
	if err != nil {
		return nil, err
	}
	evt.Accounts = appendSummaries(evt.Accounts, accounts)
	evt.NextToken = nextToken
	evt.Complete = nextToken == ""
	return evt, nil
}

func (h *OrgHandler) ListParents(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	parents, err := h.org.ListParents(ctx, props.AccountId)
	if err != nil {
		return nil, err
	}
	if len(parents) > 0 {
		props.SourceParentId = parents[0]
	}
	return evt, nil
}

// CreateAccount starts account creation. While the organization is still
// finalizing, the event is marked OrganizationInitializing=yes so the state
// machine backs off and retries instead of failing.
func (h *OrgHandler) CreateAccount(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	requestID, err := h.org.CreateAccount(ctx, props.AccountName, props.AccountEmail)
	if err != nil {
		if errors.Is(err, lzerrors.ErrOrganizationInitializing) {
			evt.OrganizationInitializing = "yes"
			return evt, nil
		}
		return nil, err
	}
	evt.OrganizationInitializing = ""
	evt.CreateAccountRequestId = requestID
	return evt, nil
}

// DescribeAccountStatus polls the creation request. On success the account id
// is promoted into the event and the manifest's $[AccountId] SSM exports are
// written.
func (h *OrgHandler) DescribeAccountStatus(ctx context.Context, evt *event.Event) (*event.Event, error) {
	result, err := h.org.DescribeCreateAccountStatus(ctx, evt.CreateAccountRequestId)
	if err != nil {
		return nil, err
	}
	evt.AccountStatus = result.State
	evt.FailureReason = result.FailureReason

	if result.State == "SUCCEEDED" {
		evt.AccountId = result.AccountId
		for name, value := range evt.Properties().SSMParameters {
			if value != manifest.AccountIDExport {
				continue
			}
			if err := h.store.PutParameter(ctx, name, result.AccountId, ""); err != nil {
				return nil, err
			}
		}
	}
	return evt, nil
}

// MoveAccount is a no-op when the account already sits under the destination.
func (h *OrgHandler) MoveAccount(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	if props.SourceParentId == props.DestinationParentId {
		return evt, nil
	}
	parents, err := h.org.ListParents(ctx, props.AccountId)
	if err != nil {
		return nil, err
	}
	for _, p := range parents {
		if p == props.DestinationParentId {
			return evt, nil
		}
	}
	if err := h.org.MoveAccount(ctx, props.AccountId, props.SourceParentId, props.DestinationParentId); err != nil {
		return nil, err
	}
	return evt, nil
}

// AccountInitializationCheck gates downstream deployment on the execution
// role in the new account becoming assumable.
func (h *OrgHandler) AccountInitializationCheck(ctx context.Context, evt *event.Event) (*event.Event, error) {
	ok, err := h.cross.CanAssume(ctx, evt.AccountId)
	if err != nil {
		return nil, err
	}
	evt.AccountInitialized = ok
	return evt, nil
}

// LockDownStackSetsRole rewrites the execution role trust policy in the
// target account. Locked mode reads the principal list from SSM; unlocked
// mode uses the configured unlock ARNs so account vending can assume in.
func (h *OrgHandler) LockDownStackSetsRole(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()

	var principals []string
	if props.LockStackSetsRole {
		raw, err := h.store.GetParameter(ctx, h.cfg.SSMKeyForLockDownRoles)
		if err != nil {
			return nil, err
		}
		principals = splitARNList(raw)
	} else {
		principals = splitARNList(h.cfg.UnlockRoleArns)
	}
	if len(principals) == 0 {
		return nil, fmt.Errorf("no principal ARNs configured for role lockdown")
	}

	region := "us-east-1"
	if len(props.RegionList) > 0 {
		region = props.RegionList[0]
	}
	cfg, err := h.cross.Config(ctx, props.AccountId, region)
	if err != nil {
		return nil, err
	}

	roleName := props.ExecutionRoleName
	if roleName == "" {
		roleName = services.AdminRoleName
	}
	if err := h.trust.UpdateAssumeRolePolicy(ctx, cfg, roleName, principals); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("account_id", props.AccountId).
		Str("role", roleName).
		Bool("locked", props.LockStackSetsRole).
		Msg("updated execution role trust policy")

	return evt, nil
}

func (h *OrgHandler) rootID(ctx context.Context, evt *event.Event) (string, error) {
	if evt.RootId != "" {
		return evt.RootId, nil
	}
	roots, err := h.org.ListRoots(ctx)
	if err != nil {
		return "", err
	}
	if len(roots) == 0 {
		return "", fmt.Errorf("organization has no root")
	}
	evt.RootId = roots[0].Id
	return evt.RootId, nil
}

func (h *OrgHandler) resolveOUPath(ctx context.Context, parentID, path, delimiter string) (string, error) {
	current := parentID
	for _, segment := range splitOUPath(path, delimiter) {
		id, err := h.findOU(ctx, current, segment)
		if err != nil {
			return "", err
		}
		if id == "" {
			return OUNotFound, nil
		}
		current = id
	}
	return current, nil
}

func (h *OrgHandler) findOU(ctx context.Context, parentID, name string) (string, error) {
	units, err := h.org.ListOrganizationalUnits(ctx, parentID)
	if err != nil {
		return "", err
	}
	for _, ou := range units {
		if ou.Name == name {
			return ou.Id, nil
		}
	}
	return "", nil
}

func splitOUPath(path, delimiter string) []string {
	if delimiter == "" {
		delimiter = manifest.DefaultNestedOUDelimiter
	}
	var segments []string
	for _, s := range strings.Split(path, delimiter) {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

func splitARNList(raw string) []string {
	var arns []string
	for _, a := range strings.Split(raw, ",") {
		if a = strings.TrimSpace(a); a != "" {
			arns = append(arns, a)
		}
	}
	return arns
}

func appendSummaries(existing []event.AccountSummary, accounts []services.OrgAccount) []event.AccountSummary {
	for _, a := range accounts {
		existing = append(existing, event.AccountSummary{
			AccountId:    a.Id,
			AccountName:  a.Name,
			AccountEmail: a.Email,
			Status:       a.Status,
		})
	}
	return existing
}
