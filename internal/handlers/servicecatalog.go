package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/utils"
)

// artifactVersionCap is the service limit on provisioning artifacts per
// product. At the cap the oldest version is deleted before a new one is
// created.
const artifactVersionCap = 50

// CatalogHandler implements the Service Catalog portfolio/product steps.
type CatalogHandler struct {
	catalog services.ServiceCatalog
	objects services.ObjectStore
}

// NewCatalogHandler creates the Service Catalog handler.
func NewCatalogHandler(catalog services.ServiceCatalog, objects services.ObjectStore) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, objects: objects}
}

func (h *CatalogHandler) ListPortfolios(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	portfolios, err := h.catalog.ListPortfolios(ctx)
	if err != nil {
		return nil, err
	}
	evt.PortfolioExist = false
	for _, p := range portfolios {
		if p.Name == props.PortfolioName {
			evt.PortfolioExist = true
			evt.PortfolioId = p.Id
			break
		}
	}
	return evt, nil
}

func (h *CatalogHandler) CreatePortfolio(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	id, err := h.catalog.CreatePortfolio(ctx, props.PortfolioName, props.PortfolioDescription, props.PortfolioProvider)
	if err != nil {
		return nil, err
	}
	evt.PortfolioExist = true
	evt.PortfolioId = id
	return evt, nil
}

func (h *CatalogHandler) UpdatePortfolio(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	if err := h.catalog.UpdatePortfolio(ctx, evt.PortfolioId, props.PortfolioName, props.PortfolioDescription, props.PortfolioProvider); err != nil {
		return nil, err
	}
	return evt, nil
}

func (h *CatalogHandler) ListPrincipalsForPortfolio(ctx context.Context, evt *event.Event) (*event.Event, error) {
	principals, err := h.catalog.ListPrincipalsForPortfolio(ctx, evt.PortfolioId)
	if err != nil {
		return nil, err
	}
	evt.PrincipalAssociated = false
	for _, p := range principals {
		if p == evt.Properties().PrincipalArn {
			evt.PrincipalAssociated = true
			break
		}
	}
	return evt, nil
}

func (h *CatalogHandler) AssociatePrincipalWithPortfolio(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if err := h.catalog.AssociatePrincipal(ctx, evt.PortfolioId, evt.Properties().PrincipalArn); err != nil {
		return nil, err
	}
	evt.PrincipalAssociated = true
	return evt, nil
}

func (h *CatalogHandler) DisassociatePrincipalFromPortfolio(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if err := h.catalog.DisassociatePrincipal(ctx, evt.PortfolioId, evt.Properties().PrincipalArn); err != nil {
		return nil, err
	}
	evt.PrincipalAssociated = false
	return evt, nil
}

func (h *CatalogHandler) SearchProductsAsAdmin(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	products, err := h.catalog.SearchProductsAsAdmin(ctx, evt.PortfolioId)
	if err != nil {
		return nil, err
	}
	evt.ProductExist = false
	for _, p := range products {
		if p.Name == props.ProductName {
			evt.ProductExist = true
			evt.ProductId = p.Id
			break
		}
	}
	return evt, nil
}

func (h *CatalogHandler) CreateProduct(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	productID, artifactID, err := h.catalog.CreateProduct(ctx, services.CatalogProduct{
		Name:        props.ProductName,
		Description: props.ProductDescription,
		Owner:       props.ProductOwner,
	}, props.TemplateURL)
	if err != nil {
		return nil, err
	}
	evt.ProductExist = true
	evt.ProductId = productID
	evt.ProvisioningArtifactId = artifactID
	return evt, nil
}

func (h *CatalogHandler) UpdateProduct(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	err := h.catalog.UpdateProduct(ctx, evt.ProductId, services.CatalogProduct{
		Name:        props.ProductName,
		Description: props.ProductDescription,
		Owner:       props.ProductOwner,
	})
	if err != nil {
		return nil, err
	}
	return evt, nil
}

func (h *CatalogHandler) AssociateProductWithPortfolio(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if err := h.catalog.AssociateProduct(ctx, evt.ProductId, evt.PortfolioId); err != nil {
		return nil, err
	}
	return evt, nil
}

func (h *CatalogHandler) DisassociateProductFromPortfolio(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if err := h.catalog.DisassociateProduct(ctx, evt.ProductId, evt.PortfolioId); err != nil {
		return nil, err
	}
	return evt, nil
}

func (h *CatalogHandler) DeleteProduct(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if err := h.catalog.DeleteProduct(ctx, evt.ProductId); err != nil {
		return nil, err
	}
	evt.ProductExist = false
	return evt, nil
}

// ListConstraintsForPortfolio records the existing LAUNCH and TEMPLATE
// constraint ids for the (portfolio, product) pair.
func (h *CatalogHandler) ListConstraintsForPortfolio(ctx context.Context, evt *event.Event) (*event.Event, error) {
	constraints, err := h.catalog.ListConstraintsForPortfolio(ctx, evt.PortfolioId, evt.ProductId)
	if err != nil {
		return nil, err
	}
	evt.ConstraintExist = false
	evt.TemplateConstraintExist = false
	for _, c := range constraints {
		switch c.Type {
		case "LAUNCH":
			evt.ConstraintExist = true
			evt.ConstraintId = c.Id
		case "TEMPLATE":
			evt.TemplateConstraintExist = true
			evt.TemplateConstraintId = c.Id
		}
	}
	return evt, nil
}

func (h *CatalogHandler) CreateLaunchConstraint(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	parameters, err := json.Marshal(map[string]string{"RoleArn": props.LaunchConstraintRole})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal launch constraint: %w", err)
	}
	id, err := h.catalog.CreateConstraint(ctx, evt.PortfolioId, evt.ProductId, "LAUNCH", string(parameters))
	if err != nil {
		return nil, err
	}
	evt.ConstraintExist = true
	evt.ConstraintId = id
	return evt, nil
}

// DescribeConstraint compares the live launch-constraint role against the
// manifest's. A mismatch clears ConstraintExist so the state machine deletes
// and recreates it.
func (h *CatalogHandler) DescribeConstraint(ctx context.Context, evt *event.Event) (*event.Event, error) {
	parameters, err := h.catalog.DescribeConstraint(ctx, evt.ConstraintId)
	if err != nil {
		return nil, err
	}
	var current struct {
		RoleArn string `json:"RoleArn"`
	}
	if err := json.Unmarshal([]byte(parameters), &current); err != nil {
		return nil, fmt.Errorf("failed to parse constraint parameters: %w", err)
	}
	if current.RoleArn != evt.Properties().LaunchConstraintRole {
		evt.ConstraintExist = false
	}
	return evt, nil
}

func (h *CatalogHandler) CreateTemplateConstraint(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	if props.TemplateRules == "" {
		return evt, nil
	}
	id, err := h.catalog.CreateConstraint(ctx, evt.PortfolioId, evt.ProductId, "TEMPLATE", props.TemplateRules)
	if err != nil {
		return nil, err
	}
	evt.TemplateConstraintExist = true
	evt.TemplateConstraintId = id
	return evt, nil
}

func (h *CatalogHandler) DeleteConstraint(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if err := h.catalog.DeleteConstraint(ctx, evt.ConstraintId); err != nil {
		return nil, err
	}
	evt.ConstraintExist = false
	return evt, nil
}

// ListProvisioningArtifacts inventories the product's versions. Version names
// are v<N> ordered numerically. At the version cap the oldest is flagged for
// deletion; with hide_old_versions the current latest is flagged for hiding
// once a new version lands.
func (h *CatalogHandler) ListProvisioningArtifacts(ctx context.Context, evt *event.Event) (*event.Event, error) {
	artifacts, err := h.catalog.ListProvisioningArtifacts(ctx, evt.ProductId)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return evt, nil
	}

	var (
		minVersion, maxVersion       = -1, -1
		minArtifactID, maxArtifactID string
	)
	for _, a := range artifacts {
		n, err := artifactVersion(a.Name)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Str("artifact", a.Name).Msg("skipping artifact with unversioned name")
			continue
		}
		if minVersion == -1 || n < minVersion {
			minVersion, minArtifactID = n, a.Id
		}
		if n > maxVersion {
			maxVersion, maxArtifactID = n, a.Id
		}
	}
	if maxVersion == -1 {
		return evt, nil
	}

	evt.MinVersionName = fmt.Sprintf("v%d", minVersion)
	evt.MaxVersionName = fmt.Sprintf("v%d", maxVersion)
	if len(artifacts) >= artifactVersionCap {
		evt.DeleteOldestArtifact = "yes"
		evt.OldestArtifactId = minArtifactID
	}
	if evt.Properties().HideOldVersions == "yes" {
		evt.HideArtifactId = maxArtifactID
	}
	evt.ProvisioningArtifactId = maxArtifactID
	return evt, nil
}

// CompareProductTemplates byte-compares the live latest template against the
// staged one after stripping generated-key lines. A match sets
// CreateNewArtifact=no so no version churn happens on identical uploads.
func (h *CatalogHandler) CompareProductTemplates(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	evt.CreateNewArtifact = "yes"
	if evt.ProvisioningArtifactId == "" {
		return evt, nil
	}

	live, err := h.catalog.ProvisioningArtifactTemplate(ctx, evt.ProductId, evt.ProvisioningArtifactId)
	if err != nil {
		return nil, err
	}
	staged, err := h.fetchStaged(ctx, props.TemplateURL)
	if err != nil {
		return nil, err
	}
	if utils.StripKeyLines(staged, templateKeyMarker) == utils.StripKeyLines(live, templateKeyMarker) {
		evt.CreateNewArtifact = "no"
	}
	return evt, nil
}

// CreateProvisioningArtifact names the new version one past the current max.
func (h *CatalogHandler) CreateProvisioningArtifact(ctx context.Context, evt *event.Event) (*event.Event, error) {
	next := 1
	if evt.MaxVersionName != "" {
		n, err := artifactVersion(evt.MaxVersionName)
		if err != nil {
			return nil, err
		}
		next = n + 1
	}
	id, err := h.catalog.CreateProvisioningArtifact(ctx, evt.ProductId, fmt.Sprintf("v%d", next), evt.Properties().TemplateURL)
	if err != nil {
		return nil, err
	}
	evt.ProvisioningArtifactId = id
	return evt, nil
}

// UpdateProvisioningArtifact hides the previous latest version when the
// hide_old_versions policy is in effect.
func (h *CatalogHandler) UpdateProvisioningArtifact(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if evt.HideArtifactId == "" {
		return evt, nil
	}
	if err := h.catalog.SetProvisioningArtifactActive(ctx, evt.ProductId, evt.HideArtifactId, false); err != nil {
		return nil, err
	}
	evt.HideArtifactId = ""
	return evt, nil
}

// DeleteProvisioningArtifact removes the oldest version so the new one stays
// under the service cap.
func (h *CatalogHandler) DeleteProvisioningArtifact(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if evt.DeleteOldestArtifact != "yes" || evt.OldestArtifactId == "" {
		return evt, nil
	}
	if err := h.catalog.DeleteProvisioningArtifact(ctx, evt.ProductId, evt.OldestArtifactId); err != nil {
		return nil, err
	}
	evt.DeleteOldestArtifact = ""
	evt.OldestArtifactId = ""
	return evt, nil
}

func (h *CatalogHandler) fetchStaged(ctx context.Context, httpURL string) (string, error) {
	s3URL, err := utils.ConvertHTTPURLToS3URL(httpURL)
	if err != nil {
		return "", err
	}
	bucket, key, err := splitS3URL(s3URL)
	if err != nil {
		return "", err
	}
	body, found, err := h.objects.Get(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("staged template %s not found", httpURL)
	}
	return string(body), nil
}

// artifactVersion extracts N from a v<N> version name.
func artifactVersion(name string) (int, error) {
	trimmed := strings.TrimPrefix(name, "v")
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("malformed artifact version %q: %w", name, err)
	}
	return n, nil
}
