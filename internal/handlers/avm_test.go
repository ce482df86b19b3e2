package handlers

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
)

type fakeAVMCatalog struct {
	services.ServiceCatalog

	artifacts []services.ProvisioningArtifact
	pages     map[string]struct {
		products []services.ProvisionedProduct
		next     string
	}
	record      services.RecordDetail
	provisioned []services.ProvisionInput
	updated     []services.ProvisionInput
}

func (f *fakeAVMCatalog) ListProvisioningArtifacts(context.Context, string) ([]services.ProvisioningArtifact, error) {
	return f.artifacts, nil
}

func (f *fakeAVMCatalog) SearchProvisionedProductsPage(_ context.Context, _, pageToken string) ([]services.ProvisionedProduct, string, error) {
	page := f.pages[pageToken]
	return page.products, page.next, nil
}

func (f *fakeAVMCatalog) ProvisionProduct(_ context.Context, input services.ProvisionInput) (string, error) {
	f.provisioned = append(f.provisioned, input)
	return "rec-1", nil
}

func (f *fakeAVMCatalog) UpdateProvisionedProduct(_ context.Context, input services.ProvisionInput) (string, error) {
	f.updated = append(f.updated, input)
	return "rec-2", nil
}

func (f *fakeAVMCatalog) DescribeRecord(context.Context, string) (services.RecordDetail, error) {
	return f.record, nil
}

type fakeReader struct {
	parameters map[string]map[string]string // stack id -> params
}

func (f *fakeReader) StackOutputs(context.Context, aws.Config, string) (map[string]string, error) {
	return nil, nil
}

func (f *fakeReader) StackParameters(_ context.Context, _ aws.Config, stackID string) (map[string]string, error) {
	return f.parameters[stackID], nil
}

func TestAVMIterator(t *testing.T) {
	h := NewAVMHandler(&fakeAVMCatalog{}, &fakeReader{}, aws.Config{})
	evt := &event.Event{ResourceProperties: &event.ResourceProperties{
		ProvisioningParametersList: []map[string]string{
			{"AccountName": "one", "AccountEmail": "one@example.com"},
			{"AccountName": "two", "AccountEmail": "two@example.com"},
		},
	}}

	out, err := h.ConfigureCount(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, "0", out.NextPageToken)

	out, err = h.Iterator(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, out.Continue)
	assert.Equal(t, "one", out.ProdParams["AccountName"])
	assert.Equal(t, 1, out.Index)

	// per-account search state is reset between iterations
	out.ProvisionedProductExists = true
	out.ProvisionedProductId = "pp-stale"
	out, err = h.Iterator(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, out.Continue)
	assert.Equal(t, "two", out.ProdParams["AccountName"])
	assert.False(t, out.ProvisionedProductExists)
	assert.Empty(t, out.ProvisionedProductId)

	out, err = h.Iterator(context.Background(), out)
	require.NoError(t, err)
	assert.False(t, out.Continue)
}

func TestSearchProvisionedProducts(t *testing.T) {
	catalog := &fakeAVMCatalog{pages: map[string]struct {
		products []services.ProvisionedProduct
		next     string
	}{
		"0": {products: []services.ProvisionedProduct{
			{Id: "pp-err", Status: "ERROR", PhysicalId: "stack-err"},
			{Id: "pp-other", Status: "AVAILABLE", PhysicalId: "stack-other"},
		}, next: "p2"},
		"p2": {products: []services.ProvisionedProduct{
			{Id: "pp-match", Status: "AVAILABLE", PhysicalId: "stack-match"},
		}},
	}}
	reader := &fakeReader{parameters: map[string]map[string]string{
		"stack-other": {"AccountEmail": "other@example.com"},
		"stack-match": {"AccountEmail": "target@example.com", "OrgUnitName": "core", "AccountName": "tgt"},
	}}
	h := NewAVMHandler(catalog, reader, aws.Config{})

	evt := &event.Event{
		NextPageToken: "0",
		ProdParams:    map[string]string{"AccountEmail": "target@example.com"},
		ResourceProperties: &event.ResourceProperties{
			ProductId: "prod-1",
		},
	}
	out, err := h.SearchProvisionedProducts(context.Background(), evt)
	require.NoError(t, err)
	assert.False(t, out.ProvisionedProductExists)
	assert.Equal(t, "p2", out.NextPageToken)

	out, err = h.SearchProvisionedProducts(context.Background(), out)
	require.NoError(t, err)
	assert.True(t, out.ProvisionedProductExists)
	assert.Equal(t, "pp-match", out.ProvisionedProductId)
	assert.Equal(t, []string{"AccountEmail", "AccountName", "OrgUnitName"}, out.ExistingParameterKeys)
	assert.Equal(t, "0", out.NextPageToken)
}

func TestUpdateProvisionedProduct_UsePreviousValueExceptOrgUnit(t *testing.T) {
	catalog := &fakeAVMCatalog{artifacts: []services.ProvisioningArtifact{
		{Id: "pa-3", Name: "v3", Active: true},
		{Id: "pa-4", Name: "v4", Active: false},
	}}
	h := NewAVMHandler(catalog, &fakeReader{}, aws.Config{})

	evt := &event.Event{
		ProvisionedProductId:  "pp-1",
		ExistingParameterKeys: []string{"AccountEmail", "AccountName", "OrgUnitName"},
		ProdParams: map[string]string{
			"AccountEmail": "target@example.com",
			"AccountName":  "tgt",
			"OrgUnitName":  "applications",
			"VpcCidr":      "10.0.0.0/16",
		},
		ResourceProperties: &event.ResourceProperties{ProductId: "prod-1"},
	}
	out, err := h.UpdateProvisionedProduct(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "rec-2", out.RecordId)

	require.Len(t, catalog.updated, 1)
	input := catalog.updated[0]
	// inactive v4 is skipped; v3 is the latest usable artifact
	assert.Equal(t, "pa-3", input.ProvisioningArtifactId)

	byKey := map[string]services.ProvisionParameter{}
	for _, p := range input.Parameters {
		byKey[p.Key] = p
	}
	assert.True(t, byKey["AccountEmail"].UsePreviousValue)
	assert.True(t, byKey["AccountName"].UsePreviousValue)
	// OU moves must propagate, so OrgUnitName always re-sends its value
	assert.False(t, byKey["OrgUnitName"].UsePreviousValue)
	assert.Equal(t, "applications", byKey["OrgUnitName"].Value)
	// a key the live product never had carries its value
	assert.False(t, byKey["VpcCidr"].UsePreviousValue)
}

func TestDescribeRecord_ThrottledUpdateRetries(t *testing.T) {
	catalog := &fakeAVMCatalog{record: services.RecordDetail{
		Status:        "FAILED",
		StatusMessage: "UpdateStack failed: Throttling: Rate exceeded",
	}}
	h := NewAVMHandler(catalog, &fakeReader{}, aws.Config{})

	evt := &event.Event{RecordId: "rec-1"}
	out, err := h.DescribeRecord(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "RETRY", out.ProvisioningStatus)

	catalog.record = services.RecordDetail{Status: "FAILED", StatusMessage: "Access denied"}
	out, err = h.DescribeRecord(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", out.ProvisioningStatus)
	assert.Equal(t, "Access denied", out.FailureReason)
}
