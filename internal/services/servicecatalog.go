package services

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog"
	"github.com/aws/aws-sdk-go-v2/service/servicecatalog/types"
)

// CatalogPortfolio is the adapter-level view of a portfolio.
type CatalogPortfolio struct {
	Id          string
	Name        string
	Description string
}

// CatalogProduct is the adapter-level view of a product.
type CatalogProduct struct {
	Id          string
	Name        string
	Description string
	Owner       string
}

// CatalogConstraint is the adapter-level view of a launch or template
// constraint.
type CatalogConstraint struct {
	Id   string
	Type string // LAUNCH or TEMPLATE
}

// ProvisioningArtifact is one version of a product's template.
type ProvisioningArtifact struct {
	Id     string
	Name   string // v<N>
	Active bool
}

// ProvisionedProduct is one launched instance of a product.
type ProvisionedProduct struct {
	Id         string
	Name       string
	Status     string // AVAILABLE, ERROR, UNDER_CHANGE, TAINTED
	PhysicalId string // backing CloudFormation stack ARN
	ProductId  string
}

// RecordDetail reports the progress of a provisioning operation.
type RecordDetail struct {
	RecordId      string
	Status        string // CREATED, IN_PROGRESS, IN_PROGRESS_IN_ERROR, SUCCEEDED, FAILED
	StatusMessage string
}

// ProvisionInput carries the parameters of a provision or update call.
type ProvisionInput struct {
	ProductId              string
	ProvisioningArtifactId string
	ProvisionedProductName string
	ProvisionedProductId   string // update/terminate only
	Parameters             []ProvisionParameter
}

// ProvisionParameter is one provisioning parameter. UsePreviousValue and Value
// are mutually exclusive.
type ProvisionParameter struct {
	Key              string
	Value            string
	UsePreviousValue bool
}

// ServiceCatalog wraps the Service Catalog admin and consumer surfaces.
type ServiceCatalog interface {
	ListPortfolios(ctx context.Context) ([]CatalogPortfolio, error)
	CreatePortfolio(ctx context.Context, name, description, provider string) (string, error)
	UpdatePortfolio(ctx context.Context, portfolioID, name, description, provider string) error

	ListPrincipalsForPortfolio(ctx context.Context, portfolioID string) ([]string, error)
	AssociatePrincipal(ctx context.Context, portfolioID, principalARN string) error
	DisassociatePrincipal(ctx context.Context, portfolioID, principalARN string) error

	SearchProductsAsAdmin(ctx context.Context, portfolioID string) ([]CatalogProduct, error)
	CreateProduct(ctx context.Context, product CatalogProduct, templateURL string) (productID, artifactID string, err error)
	UpdateProduct(ctx context.Context, productID string, product CatalogProduct) error
	AssociateProduct(ctx context.Context, productID, portfolioID string) error
	DisassociateProduct(ctx context.Context, productID, portfolioID string) error
	DeleteProduct(ctx context.Context, productID string) error

	ListConstraintsForPortfolio(ctx context.Context, portfolioID, productID string) ([]CatalogConstraint, error)
	CreateConstraint(ctx context.Context, portfolioID, productID, constraintType, parameters string) (string, error)
	DescribeConstraint(ctx context.Context, constraintID string) (parameters string, err error)
	DeleteConstraint(ctx context.Context, constraintID string) error

	ListProvisioningArtifacts(ctx context.Context, productID string) ([]ProvisioningArtifact, error)
	CreateProvisioningArtifact(ctx context.Context, productID, name, templateURL string) (string, error)
	SetProvisioningArtifactActive(ctx context.Context, productID, artifactID string, active bool) error
	DeleteProvisioningArtifact(ctx context.Context, productID, artifactID string) error
	ProvisioningArtifactTemplate(ctx context.Context, productID, artifactID string) (string, error)

	SearchProvisionedProductsPage(ctx context.Context, productID, pageToken string) ([]ProvisionedProduct, string, error)
	ProvisionProduct(ctx context.Context, input ProvisionInput) (recordID string, err error)
	UpdateProvisionedProduct(ctx context.Context, input ProvisionInput) (recordID string, err error)
	TerminateProvisionedProduct(ctx context.Context, provisionedProductID string) (recordID string, err error)
	DescribeRecord(ctx context.Context, recordID string) (RecordDetail, error)
}

type serviceCatalogService struct {
	client *servicecatalog.Client
}

// NewServiceCatalog creates the Service Catalog adapter.
func NewServiceCatalog(client *servicecatalog.Client) ServiceCatalog {
	return &serviceCatalogService{client: client}
}

func (s *serviceCatalogService) ListPortfolios(ctx context.Context) ([]CatalogPortfolio, error) {
	var portfolios []CatalogPortfolio
	paginator := servicecatalog.NewListPortfoliosPaginator(s.client, &servicecatalog.ListPortfoliosInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list portfolios: %w", err)
		}
		for _, p := range page.PortfolioDetails {
			portfolios = append(portfolios, CatalogPortfolio{
				Id:          aws.ToString(p.Id),
				Name:        aws.ToString(p.DisplayName),
				Description: aws.ToString(p.Description),
			})
		}
	}
	return portfolios, nil
}

func (s *serviceCatalogService) CreatePortfolio(ctx context.Context, name, description, provider string) (string, error) {
	result, err := s.client.CreatePortfolio(ctx, &servicecatalog.CreatePortfolioInput{
		DisplayName:      aws.String(name),
		Description:      aws.String(description),
		ProviderName:     aws.String(provider),
		IdempotencyToken: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create portfolio %s: %w", name, err)
	}
	return aws.ToString(result.PortfolioDetail.Id), nil
}

func (s *serviceCatalogService) UpdatePortfolio(ctx context.Context, portfolioID, name, description, provider string) error {
	_, err := s.client.UpdatePortfolio(ctx, &servicecatalog.UpdatePortfolioInput{
		Id:           aws.String(portfolioID),
		DisplayName:  aws.String(name),
		Description:  aws.String(description),
		ProviderName: aws.String(provider),
	})
	if err != nil {
		return fmt.Errorf("failed to update portfolio %s: %w", portfolioID, err)
	}
	return nil
}

func (s *serviceCatalogService) ListPrincipalsForPortfolio(ctx context.Context, portfolioID string) ([]string, error) {
	var principals []string
	paginator := servicecatalog.NewListPrincipalsForPortfolioPaginator(s.client,
		&servicecatalog.ListPrincipalsForPortfolioInput{PortfolioId: aws.String(portfolioID)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list principals for portfolio %s: %w", portfolioID, err)
		}
		for _, p := range page.Principals {
			principals = append(principals, aws.ToString(p.PrincipalARN))
		}
	}
	return principals, nil
}

func (s *serviceCatalogService) AssociatePrincipal(ctx context.Context, portfolioID, principalARN string) error {
	_, err := s.client.AssociatePrincipalWithPortfolio(ctx, &servicecatalog.AssociatePrincipalWithPortfolioInput{
		PortfolioId:   aws.String(portfolioID),
		PrincipalARN:  aws.String(principalARN),
		PrincipalType: types.PrincipalTypeIam,
	})
	if err != nil {
		return fmt.Errorf("failed to associate principal with portfolio %s: %w", portfolioID, err)
	}
	return nil
}

func (s *serviceCatalogService) DisassociatePrincipal(ctx context.Context, portfolioID, principalARN string) error {
	_, err := s.client.DisassociatePrincipalFromPortfolio(ctx, &servicecatalog.DisassociatePrincipalFromPortfolioInput{
		PortfolioId:  aws.String(portfolioID),
		PrincipalARN: aws.String(principalARN),
	})
	if err != nil {
		return fmt.Errorf("failed to disassociate principal from portfolio %s: %w", portfolioID, err)
	}
	return nil
}

func (s *serviceCatalogService) SearchProductsAsAdmin(ctx context.Context, portfolioID string) ([]CatalogProduct, error) {
	input := &servicecatalog.SearchProductsAsAdminInput{}
	if portfolioID != "" {
		input.PortfolioId = aws.String(portfolioID)
	}

	var products []CatalogProduct
	paginator := servicecatalog.NewSearchProductsAsAdminPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to search products: %w", err)
		}
		for _, detail := range page.ProductViewDetails {
			summary := detail.ProductViewSummary
			if summary == nil {
				continue
			}
			products = append(products, CatalogProduct{
				Id:          aws.ToString(summary.ProductId),
				Name:        aws.ToString(summary.Name),
				Description: aws.ToString(summary.ShortDescription),
				Owner:       aws.ToString(summary.Owner),
			})
		}
	}
	return products, nil
}

func (s *serviceCatalogService) CreateProduct(ctx context.Context, product CatalogProduct, templateURL string) (string, string, error) {
	result, err := s.client.CreateProduct(ctx, &servicecatalog.CreateProductInput{
		Name:             aws.String(product.Name),
		Description:      aws.String(product.Description),
		Owner:            aws.String(product.Owner),
		ProductType:      types.ProductTypeCloudFormationTemplate,
		IdempotencyToken: aws.String(product.Name),
		ProvisioningArtifactParameters: &types.ProvisioningArtifactProperties{
			Name: aws.String("v1"),
			Type: types.ProvisioningArtifactTypeCloudFormationTemplate,
			Info: map[string]string{"LoadTemplateFromURL": templateURL},
		},
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create product %s: %w", product.Name, err)
	}
	return aws.ToString(result.ProductViewDetail.ProductViewSummary.ProductId),
		aws.ToString(result.ProvisioningArtifactDetail.Id), nil
}

func (s *serviceCatalogService) UpdateProduct(ctx context.Context, productID string, product CatalogProduct) error {
	_, err := s.client.UpdateProduct(ctx, &servicecatalog.UpdateProductInput{
		Id:          aws.String(productID),
		Name:        aws.String(product.Name),
		Description: aws.String(product.Description),
		Owner:       aws.String(product.Owner),
	})
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", productID, err)
	}
	return nil
}

func (s *serviceCatalogService) AssociateProduct(ctx context.Context, productID, portfolioID string) error {
	_, err := s.client.AssociateProductWithPortfolio(ctx, &servicecatalog.AssociateProductWithPortfolioInput{
		ProductId:   aws.String(productID),
		PortfolioId: aws.String(portfolioID),
	})
	if err != nil {
		return fmt.Errorf("failed to associate product %s with portfolio %s: %w", productID, portfolioID, err)
	}
	return nil
}

func (s *serviceCatalogService) DisassociateProduct(ctx context.Context, productID, portfolioID string) error {
	_, err := s.client.DisassociateProductFromPortfolio(ctx, &servicecatalog.DisassociateProductFromPortfolioInput{
		ProductId:   aws.String(productID),
		PortfolioId: aws.String(portfolioID),
	})
	if err != nil {
		return fmt.Errorf("failed to disassociate product %s from portfolio %s: %w", productID, portfolioID, err)
	}
	return nil
}

func (s *serviceCatalogService) DeleteProduct(ctx context.Context, productID string) error {
	_, err := s.client.DeleteProduct(ctx, &servicecatalog.DeleteProductInput{
		Id: aws.String(productID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", productID, err)
	}
	return nil
}

func (s *serviceCatalogService) ListConstraintsForPortfolio(ctx context.Context, portfolioID, productID string) ([]CatalogConstraint, error) {
	input := &servicecatalog.ListConstraintsForPortfolioInput{
		PortfolioId: aws.String(portfolioID),
	}
	if productID != "" {
		input.ProductId = aws.String(productID)
	}

	var constraints []CatalogConstraint
	paginator := servicecatalog.NewListConstraintsForPortfolioPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list constraints for portfolio %s: %w", portfolioID, err)
		}
		for _, c := range page.ConstraintDetails {
			constraints = append(constraints, CatalogConstraint{
				Id:   aws.ToString(c.ConstraintId),
				Type: aws.ToString(c.Type),
			})
		}
	}
	return constraints, nil
}

func (s *serviceCatalogService) CreateConstraint(ctx context.Context, portfolioID, productID, constraintType, parameters string) (string, error) {
	result, err := s.client.CreateConstraint(ctx, &servicecatalog.CreateConstraintInput{
		PortfolioId:      aws.String(portfolioID),
		ProductId:        aws.String(productID),
		Type:             aws.String(constraintType),
		Parameters:       aws.String(parameters),
		IdempotencyToken: aws.String(fmt.Sprintf("%s-%s-%s", portfolioID, productID, constraintType)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create %s constraint on product %s: %w", constraintType, productID, err)
	}
	return aws.ToString(result.ConstraintDetail.ConstraintId), nil
}

func (s *serviceCatalogService) DescribeConstraint(ctx context.Context, constraintID string) (string, error) {
	result, err := s.client.DescribeConstraint(ctx, &servicecatalog.DescribeConstraintInput{
		Id: aws.String(constraintID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe constraint %s: %w", constraintID, err)
	}
	return aws.ToString(result.ConstraintParameters), nil
}

func (s *serviceCatalogService) DeleteConstraint(ctx context.Context, constraintID string) error {
	_, err := s.client.DeleteConstraint(ctx, &servicecatalog.DeleteConstraintInput{
		Id: aws.String(constraintID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete constraint %s: %w", constraintID, err)
	}
	return nil
}

func (s *serviceCatalogService) ListProvisioningArtifacts(ctx context.Context, productID string) ([]ProvisioningArtifact, error) {
	result, err := s.client.ListProvisioningArtifacts(ctx, &servicecatalog.ListProvisioningArtifactsInput{
		ProductId: aws.String(productID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list provisioning artifacts for %s: %w", productID, err)
	}
	var artifacts []ProvisioningArtifact
	for _, d := range result.ProvisioningArtifactDetails {
		artifacts = append(artifacts, ProvisioningArtifact{
			Id:     aws.ToString(d.Id),
			Name:   aws.ToString(d.Name),
			Active: aws.ToBool(d.Active),
		})
	}
	return artifacts, nil
}

func (s *serviceCatalogService) CreateProvisioningArtifact(ctx context.Context, productID, name, templateURL string) (string, error) {
	result, err := s.client.CreateProvisioningArtifact(ctx, &servicecatalog.CreateProvisioningArtifactInput{
		ProductId:        aws.String(productID),
		IdempotencyToken: aws.String(fmt.Sprintf("%s-%s", productID, name)),
		Parameters: &types.ProvisioningArtifactProperties{
			Name: aws.String(name),
			Type: types.ProvisioningArtifactTypeCloudFormationTemplate,
			Info: map[string]string{"LoadTemplateFromURL": templateURL},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create provisioning artifact %s on %s: %w", name, productID, err)
	}
	return aws.ToString(result.ProvisioningArtifactDetail.Id), nil
}

func (s *serviceCatalogService) SetProvisioningArtifactActive(ctx context.Context, productID, artifactID string, active bool) error {
	_, err := s.client.UpdateProvisioningArtifact(ctx, &servicecatalog.UpdateProvisioningArtifactInput{
		ProductId:              aws.String(productID),
		ProvisioningArtifactId: aws.String(artifactID),
		Active:                 aws.Bool(active),
	})
	if err != nil {
		return fmt.Errorf("failed to update provisioning artifact %s: %w", artifactID, err)
	}
	return nil
}

func (s *serviceCatalogService) DeleteProvisioningArtifact(ctx context.Context, productID, artifactID string) error {
	_, err := s.client.DeleteProvisioningArtifact(ctx, &servicecatalog.DeleteProvisioningArtifactInput{
		ProductId:              aws.String(productID),
		ProvisioningArtifactId: aws.String(artifactID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete provisioning artifact %s: %w", artifactID, err)
	}
	return nil
}

func (s *serviceCatalogService) ProvisioningArtifactTemplate(ctx context.Context, productID, artifactID string) (string, error) {
	result, err := s.client.DescribeProvisioningArtifact(ctx, &servicecatalog.DescribeProvisioningArtifactInput{
		ProductId:              aws.String(productID),
		ProvisioningArtifactId: aws.String(artifactID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to describe provisioning artifact %s: %w", artifactID, err)
	}
	return result.Info["TemplateBody"], nil
}

func (s *serviceCatalogService) SearchProvisionedProductsPage(ctx context.Context, productID, pageToken string) ([]ProvisionedProduct, string, error) {
	input := &servicecatalog.SearchProvisionedProductsInput{
		AccessLevelFilter: &types.AccessLevelFilter{
			Key:   types.AccessLevelFilterKeyAccount,
			Value: aws.String("self"),
		},
		Filters: map[string][]string{
			"SearchQuery": {fmt.Sprintf("productId:%s", productID)},
		},
	}
	if pageToken != "" && pageToken != "0" {
		input.PageToken = aws.String(pageToken)
	}

	result, err := s.client.SearchProvisionedProducts(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("failed to search provisioned products of %s: %w", productID, err)
	}

	var products []ProvisionedProduct
	for _, p := range result.ProvisionedProducts {
		products = append(products, ProvisionedProduct{
			Id:         aws.ToString(p.Id),
			Name:       aws.ToString(p.Name),
			Status:     string(p.Status),
			PhysicalId: aws.ToString(p.PhysicalId),
			ProductId:  aws.ToString(p.ProductId),
		})
	}
	return products, aws.ToString(result.NextPageToken), nil
}

func (s *serviceCatalogService) ProvisionProduct(ctx context.Context, input ProvisionInput) (string, error) {
	result, err := s.client.ProvisionProduct(ctx, &servicecatalog.ProvisionProductInput{
		ProductId:              aws.String(input.ProductId),
		ProvisioningArtifactId: aws.String(input.ProvisioningArtifactId),
		ProvisionedProductName: aws.String(input.ProvisionedProductName),
		ProvisionToken:         aws.String(input.ProvisionedProductName),
		ProvisioningParameters: toProvisioningParameters(input.Parameters),
	})
	if err != nil {
		return "", fmt.Errorf("failed to provision product %s: %w", input.ProductId, err)
	}
	return aws.ToString(result.RecordDetail.RecordId), nil
}

func (s *serviceCatalogService) UpdateProvisionedProduct(ctx context.Context, input ProvisionInput) (string, error) {
	result, err := s.client.UpdateProvisionedProduct(ctx, &servicecatalog.UpdateProvisionedProductInput{
		ProductId:              aws.String(input.ProductId),
		ProvisioningArtifactId: aws.String(input.ProvisioningArtifactId),
		ProvisionedProductId:   aws.String(input.ProvisionedProductId),
		UpdateToken:            aws.String(input.ProvisionedProductId),
		ProvisioningParameters: toUpdateProvisioningParameters(input.Parameters),
	})
	if err != nil {
		return "", fmt.Errorf("failed to update provisioned product %s: %w", input.ProvisionedProductId, err)
	}
	return aws.ToString(result.RecordDetail.RecordId), nil
}

func (s *serviceCatalogService) TerminateProvisionedProduct(ctx context.Context, provisionedProductID string) (string, error) {
	result, err := s.client.TerminateProvisionedProduct(ctx, &servicecatalog.TerminateProvisionedProductInput{
		ProvisionedProductId: aws.String(provisionedProductID),
		TerminateToken:       aws.String(provisionedProductID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to terminate provisioned product %s: %w", provisionedProductID, err)
	}
	return aws.ToString(result.RecordDetail.RecordId), nil
}

func (s *serviceCatalogService) DescribeRecord(ctx context.Context, recordID string) (RecordDetail, error) {
	result, err := s.client.DescribeRecord(ctx, &servicecatalog.DescribeRecordInput{
		Id: aws.String(recordID),
	})
	if err != nil {
		return RecordDetail{}, fmt.Errorf("failed to describe record %s: %w", recordID, err)
	}

	detail := RecordDetail{
		RecordId: aws.ToString(result.RecordDetail.RecordId),
		Status:   string(result.RecordDetail.Status),
	}
	for _, e := range result.RecordDetail.RecordErrors {
		if e.Description != nil {
			detail.StatusMessage += *e.Description
		}
	}
	return detail, nil
}

func toProvisioningParameters(params []ProvisionParameter) []types.ProvisioningParameter {
	var out []types.ProvisioningParameter
	for _, p := range params {
		out = append(out, types.ProvisioningParameter{
			Key:   aws.String(p.Key),
			Value: aws.String(p.Value),
		})
	}
	return out
}

func toUpdateProvisioningParameters(params []ProvisionParameter) []types.UpdateProvisioningParameter {
	var out []types.UpdateProvisioningParameter
	for _, p := range params {
		up := types.UpdateProvisioningParameter{
			Key:              aws.String(p.Key),
			UsePreviousValue: p.UsePreviousValue,
		}
		if !p.UsePreviousValue {
			up.Value = aws.String(p.Value)
		}
		out = append(out, up)
	}
	return out
}
