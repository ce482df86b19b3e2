package handlers

import (
	"context"
	"fmt"
	"testing"

	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
)

// fakeOrg is an in-memory organization tree. Only the methods the tests
// exercise are implemented; the embedded interface panics on the rest.
type fakeOrg struct {
	services.Organizations

	roots    []services.OrgUnit
	children map[string][]services.OrgUnit // parent id -> OUs
	accounts map[string][]services.OrgAccount
	parents  map[string][]string
	pages    map[string]struct {
		accounts []services.OrgAccount
		next     string
	}

	created       []string
	moved         []string
	finalizing    bool
	createStatus  services.CreateAccountResult
	duplicateOnce map[string]bool
}

func newFakeOrg() *fakeOrg {
	return &fakeOrg{
		roots:    []services.OrgUnit{{Id: "r-1", Name: "Root"}},
		children: map[string][]services.OrgUnit{},
		accounts: map[string][]services.OrgAccount{},
		parents:  map[string][]string{},
		pages: map[string]struct {
			accounts []services.OrgAccount
			next     string
		}{},
		duplicateOnce: map[string]bool{},
	}
}

func (f *fakeOrg) ListRoots(context.Context) ([]services.OrgUnit, error) { return f.roots, nil }

func (f *fakeOrg) ListOrganizationalUnits(_ context.Context, parentID string) ([]services.OrgUnit, error) {
	return f.children[parentID], nil
}

func (f *fakeOrg) CreateOrganizationalUnit(_ context.Context, parentID, name string) (services.OrgUnit, error) {
	if f.duplicateOnce[name] {
		delete(f.duplicateOnce, name)
		// simulate losing the create race: the OU appears under the parent
		ou := services.OrgUnit{Id: "ou-race-" + name, Name: name}
		f.children[parentID] = append(f.children[parentID], ou)
		return services.OrgUnit{}, fmt.Errorf("create raced: %w", &orgtypes.DuplicateOrganizationalUnitException{})
	}
	ou := services.OrgUnit{Id: fmt.Sprintf("ou-%s", name), Name: name}
	f.children[parentID] = append(f.children[parentID], ou)
	f.created = append(f.created, name)
	return ou, nil
}

func (f *fakeOrg) ListAccountsPage(_ context.Context, nextToken string) ([]services.OrgAccount, string, error) {
	page := f.pages[nextToken]
	return page.accounts, page.next, nil
}

func (f *fakeOrg) ListParents(_ context.Context, childID string) ([]string, error) {
	return f.parents[childID], nil
}

func (f *fakeOrg) CreateAccount(_ context.Context, name, email string) (string, error) {
	if f.finalizing {
		return "", lzerrors.ErrOrganizationInitializing
	}
	return "car-" + name, nil
}

func (f *fakeOrg) DescribeCreateAccountStatus(context.Context, string) (services.CreateAccountResult, error) {
	return f.createStatus, nil
}

func (f *fakeOrg) MoveAccount(_ context.Context, accountID, source, destination string) error {
	f.moved = append(f.moved, fmt.Sprintf("%s:%s->%s", accountID, source, destination))
	return nil
}

func newOrgHandler(org services.Organizations, store services.ParameterStore) *OrgHandler {
	return NewOrgHandler(org, nil, store, nil, services.Config{})
}

func TestCheckOrganizationUnit(t *testing.T) {
	org := newFakeOrg()
	org.children["r-1"] = []services.OrgUnit{{Id: "ou-core", Name: "core"}}
	org.children["ou-core"] = []services.OrgUnit{{Id: "ou-apps", Name: "applications"}}
	h := newOrgHandler(org, nil)

	evt := &event.Event{ResourceProperties: &event.ResourceProperties{
		OUName:          "core:applications",
		OUNameDelimiter: ":",
	}}
	out, err := h.CheckOrganizationUnit(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "ou-apps", out.OrganizationalUnitId)

	evt = &event.Event{ResourceProperties: &event.ResourceProperties{
		OUName:          "core:missing",
		OUNameDelimiter: ":",
	}}
	out, err = h.CheckOrganizationUnit(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, OUNotFound, out.OrganizationalUnitId)
}

func TestCreateOrganizationUnit_Nested(t *testing.T) {
	org := newFakeOrg()
	h := newOrgHandler(org, nil)

	evt := &event.Event{ResourceProperties: &event.ResourceProperties{
		OUName:          "core:applications:web",
		OUNameDelimiter: ":",
	}}
	out, err := h.CreateOrganizationUnit(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "ou-web", out.OrganizationalUnitId)
	assert.Equal(t, []string{"core", "applications", "web"}, org.created)
}

func TestCreateOrganizationUnit_AdoptsDuplicate(t *testing.T) {
	org := newFakeOrg()
	org.duplicateOnce["core"] = true
	h := newOrgHandler(org, nil)

	evt := &event.Event{ResourceProperties: &event.ResourceProperties{
		OUName: "core:sub",
	}}
	out, err := h.CreateOrganizationUnit(context.Background(), evt)
	require.NoError(t, err)
	// the raced segment is adopted, the child is created under it
	assert.Equal(t, "ou-sub", out.OrganizationalUnitId)
	assert.Equal(t, []string{"sub"}, org.created)
}

func TestListAccounts_Pagination(t *testing.T) {
	org := newFakeOrg()
	org.pages[""] = struct {
		accounts []services.OrgAccount
		next     string
	}{accounts: []services.OrgAccount{{Id: "111122223333", Name: "one"}}, next: "page2"}
	org.pages["page2"] = struct {
		accounts []services.OrgAccount
		next     string
	}{accounts: []services.OrgAccount{{Id: "444455556666", Name: "two"}}}
	h := newOrgHandler(org, nil)

	evt := &event.Event{}
	out, err := h.ListAccounts(context.Background(), evt)
	require.NoError(t, err)
	assert.False(t, out.Complete)
	assert.Equal(t, "page2", out.NextToken)
	require.Len(t, out.Accounts, 1)

	out, err = h.ListAccounts(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, out.Complete)
	assert.Empty(t, out.NextToken)
	require.Len(t, out.Accounts, 2)
	assert.Equal(t, "444455556666", out.Accounts[1].AccountId)
}

func TestCreateAccount_OrganizationInitializing(t *testing.T) {
	org := newFakeOrg()
	org.finalizing = true
	h := newOrgHandler(org, nil)

	evt := &event.Event{ResourceProperties: &event.ResourceProperties{
		AccountName:  "shared-services",
		AccountEmail: "shared@example.com",
	}}
	out, err := h.CreateAccount(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "yes", out.OrganizationInitializing)
	assert.Empty(t, out.CreateAccountRequestId)

	org.finalizing = false
	out, err = h.CreateAccount(context.Background(), out)
	require.NoError(t, err)
	assert.Empty(t, out.OrganizationInitializing)
	assert.Equal(t, "car-shared-services", out.CreateAccountRequestId)
}

func TestDescribeAccountStatus_WritesAccountIdExport(t *testing.T) {
	org := newFakeOrg()
	org.createStatus = services.CreateAccountResult{State: "SUCCEEDED", AccountId: "111122223333"}
	store := newMemParams()
	h := newOrgHandler(org, store)

	evt := &event.Event{
		CreateAccountRequestId: "car-1",
		ResourceProperties: &event.ResourceProperties{
			SSMParameters: map[string]string{
				"/org/member/shared/account_id": "$[AccountId]",
				"/org/member/shared/email":      "shared@example.com",
			},
		},
	}
	out, err := h.DescribeAccountStatus(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "SUCCEEDED", out.AccountStatus)
	assert.Equal(t, "111122223333", out.AccountId)
	assert.Equal(t, "111122223333", store.values["/org/member/shared/account_id"])
	_, ok := store.values["/org/member/shared/email"]
	assert.False(t, ok, "only the AccountId export is written by this step")
}

func TestMoveAccount_NoOpWhenAlreadyInDestination(t *testing.T) {
	org := newFakeOrg()
	org.parents["111122223333"] = []string{"ou-dest"}
	h := newOrgHandler(org, nil)

	evt := &event.Event{ResourceProperties: &event.ResourceProperties{
		AccountId:           "111122223333",
		SourceParentId:      "r-1",
		DestinationParentId: "ou-dest",
	}}
	_, err := h.MoveAccount(context.Background(), evt)
	require.NoError(t, err)
	assert.Empty(t, org.moved)
}
