package handlers

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
)

type fakeCatalog struct {
	services.ServiceCatalog

	artifacts        []services.ProvisioningArtifact
	template         string
	createdArtifacts []string
	deactivated      []string
	deletedArtifacts []string
}

func (f *fakeCatalog) ListProvisioningArtifacts(context.Context, string) ([]services.ProvisioningArtifact, error) {
	return f.artifacts, nil
}

func (f *fakeCatalog) ProvisioningArtifactTemplate(context.Context, string, string) (string, error) {
	return f.template, nil
}

func (f *fakeCatalog) CreateProvisioningArtifact(_ context.Context, _, name, _ string) (string, error) {
	f.createdArtifacts = append(f.createdArtifacts, name)
	return "pa-new", nil
}

func (f *fakeCatalog) SetProvisioningArtifactActive(_ context.Context, _, artifactID string, active bool) error {
	if !active {
		f.deactivated = append(f.deactivated, artifactID)
	}
	return nil
}

func (f *fakeCatalog) DeleteProvisioningArtifact(_ context.Context, _, artifactID string) error {
	f.deletedArtifacts = append(f.deletedArtifacts, artifactID)
	return nil
}

func TestListProvisioningArtifacts_NumericOrdering(t *testing.T) {
	// v9 > v10 lexically; numeric ordering must win
	catalog := &fakeCatalog{artifacts: []services.ProvisioningArtifact{
		{Id: "pa-9", Name: "v9", Active: true},
		{Id: "pa-10", Name: "v10", Active: true},
		{Id: "pa-2", Name: "v2", Active: true},
	}}
	h := NewCatalogHandler(catalog, newMemObjects())

	evt := &event.Event{ProductId: "prod-1", ResourceProperties: &event.ResourceProperties{}}
	out, err := h.ListProvisioningArtifacts(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "v2", out.MinVersionName)
	assert.Equal(t, "v10", out.MaxVersionName)
	assert.Equal(t, "pa-10", out.ProvisioningArtifactId)
	assert.Empty(t, out.DeleteOldestArtifact)
}

func TestListProvisioningArtifacts_VersionCap(t *testing.T) {
	var artifacts []services.ProvisioningArtifact
	for i := 1; i <= artifactVersionCap; i++ {
		artifacts = append(artifacts, services.ProvisioningArtifact{
			Id:     fmt.Sprintf("pa-%d", i),
			Name:   fmt.Sprintf("v%d", i),
			Active: true,
		})
	}
	catalog := &fakeCatalog{artifacts: artifacts}
	h := NewCatalogHandler(catalog, newMemObjects())

	evt := &event.Event{ProductId: "prod-1", ResourceProperties: &event.ResourceProperties{
		HideOldVersions: "yes",
	}}
	out, err := h.ListProvisioningArtifacts(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "yes", out.DeleteOldestArtifact)
	assert.Equal(t, "pa-1", out.OldestArtifactId)
	assert.Equal(t, "pa-50", out.HideArtifactId)
}

func TestCompareProductTemplates(t *testing.T) {
	objects := newMemObjects()
	objects.objects["staging/_aws_landing_zone_templates_staging/tok_avm.template"] =
		[]byte("Description: baseline\n  key: aaa111\nResources: {}\n")
	catalog := &fakeCatalog{template: "Description: baseline\n  key: bbb222\nResources: {}\n"}
	h := NewCatalogHandler(catalog, objects)

	evt := &event.Event{
		ProductId:              "prod-1",
		ProvisioningArtifactId: "pa-10",
		ResourceProperties: &event.ResourceProperties{
			TemplateURL: "https://staging.s3.amazonaws.com/_aws_landing_zone_templates_staging/tok_avm.template",
		},
	}
	out, err := h.CompareProductTemplates(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "no", out.CreateNewArtifact)

	catalog.template = "Description: changed\nResources: {}\n"
	out, err = h.CompareProductTemplates(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, "yes", out.CreateNewArtifact)
}

func TestCreateProvisioningArtifact_NamesNextVersion(t *testing.T) {
	catalog := &fakeCatalog{}
	h := NewCatalogHandler(catalog, newMemObjects())

	evt := &event.Event{
		ProductId:      "prod-1",
		MaxVersionName: "v10",
		ResourceProperties: &event.ResourceProperties{
			TemplateURL: "https://staging.s3.amazonaws.com/t.template",
		},
	}
	out, err := h.CreateProvisioningArtifact(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, []string{"v11"}, catalog.createdArtifacts)
	assert.Equal(t, "pa-new", out.ProvisioningArtifactId)

	// a product with no prior versions starts at v1
	evt = &event.Event{ProductId: "prod-1", ResourceProperties: &event.ResourceProperties{}}
	_, err = h.CreateProvisioningArtifact(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, []string{"v11", "v1"}, catalog.createdArtifacts)
}

func TestUpdateAndDeleteProvisioningArtifact(t *testing.T) {
	catalog := &fakeCatalog{}
	h := NewCatalogHandler(catalog, newMemObjects())

	evt := &event.Event{ProductId: "prod-1", HideArtifactId: "pa-10"}
	out, err := h.UpdateProvisioningArtifact(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, []string{"pa-10"}, catalog.deactivated)
	assert.Empty(t, out.HideArtifactId)

	evt = &event.Event{ProductId: "prod-1", DeleteOldestArtifact: "yes", OldestArtifactId: "pa-1"}
	out, err = h.DeleteProvisioningArtifact(context.Background(), evt)
	require.NoError(t, err)
	assert.Equal(t, []string{"pa-1"}, catalog.deletedArtifacts)
	assert.Empty(t, out.DeleteOldestArtifact)

	// nothing flagged, nothing deleted
	evt = &event.Event{ProductId: "prod-1"}
	_, err = h.DeleteProvisioningArtifact(context.Background(), evt)
	require.NoError(t, err)
	assert.Len(t, catalog.deletedArtifacts, 1)
}
