package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/utils"
)

// provisionedProductNameLimit is the Service Catalog cap on provisioned
// product names.
const provisionedProductNameLimit = 128

// AVMHandler implements the account-vending steps: iterate per-account
// parameter sets and drive the baseline product through Service Catalog.
type AVMHandler struct {
	catalog services.ServiceCatalog
	reader  services.StackReader
	homeCfg aws.Config
}

// NewAVMHandler creates the account-vending handler. homeCfg targets the
// management account where the baseline products are provisioned.
func NewAVMHandler(catalog services.ServiceCatalog, reader services.StackReader, homeCfg aws.Config) *AVMHandler {
	return &AVMHandler{
		catalog: catalog,
		reader:  reader,
		homeCfg: homeCfg,
	}
}

// ConfigureCount arms the iterator over the per-account parameter sets.
func (h *AVMHandler) ConfigureCount(ctx context.Context, evt *event.Event) (*event.Event, error) {
	evt.Count = len(evt.Properties().ProvisioningParametersList)
	evt.Index = 0
	evt.NextPageToken = "0"
	return evt, nil
}

// Iterator emits the next per-account parameter set and resets the
// per-account search state. Continue=false ends the loop.
func (h *AVMHandler) Iterator(ctx context.Context, evt *event.Event) (*event.Event, error) {
	list := evt.Properties().ProvisioningParametersList
	if evt.Index >= len(list) {
		evt.Continue = false
		evt.ProdParams = nil
		return evt, nil
	}

	evt.ProdParams = list[evt.Index]
	evt.Index++
	evt.Continue = true
	evt.NextPageToken = "0"
	evt.Complete = false
	evt.ProvisionedProductExists = false
	evt.ProvisionedProductId = ""
	evt.ExistingParameterKeys = nil
	evt.RecordId = ""
	evt.ProvisioningStatus = ""
	return evt, nil
}

// SearchProvisionedProducts pages through the product's provisioned
// instances looking for one whose backing stack was launched for the target
// account email. ERROR and UNDER_CHANGE candidates are skipped.
func (h *AVMHandler) SearchProvisionedProducts(ctx context.Context, evt *event.Event) (*event.Event, error) {
	targetEmail := evt.ProdParams["AccountEmail"]

	products, nextToken, err := h.catalog.SearchProvisionedProductsPage(ctx, evt.Properties().ProductId, evt.NextPageToken)
	if err != nil {
		return nil, err
	}
	for _, pp := range products {
		if pp.Status == "ERROR" || pp.Status == "UNDER_CHANGE" {
			continue
		}
		parameters, err := h.reader.StackParameters(ctx, h.homeCfg, pp.PhysicalId)
		if err != nil {
			return nil, err
		}
		if parameters["AccountEmail"] != targetEmail {
			continue
		}

		evt.ProvisionedProductExists = true
		evt.ProvisionedProductId = pp.Id
		evt.ExistingParameterKeys = sortedKeys(parameters)
		evt.NextPageToken = "0"
		evt.Complete = true
		return evt, nil
	}

	if nextToken == "" {
		evt.NextPageToken = "0"
		evt.Complete = true
	} else {
		evt.NextPageToken = nextToken
		evt.Complete = false
	}
	return evt, nil
}

func (h *AVMHandler) ProvisionProduct(ctx context.Context, evt *event.Event) (*event.Event, error) {
	artifactID, err := h.latestArtifact(ctx, evt.Properties().ProductId)
	if err != nil {
		return nil, err
	}

	recordID, err := h.catalog.ProvisionProduct(ctx, services.ProvisionInput{
		ProductId:              evt.Properties().ProductId,
		ProvisioningArtifactId: artifactID,
		ProvisionedProductName: provisionedProductName(evt.ProdParams),
		Parameters:             provisionParameters(evt.ProdParams, nil),
	})
	if err != nil {
		return nil, err
	}
	evt.RecordId = recordID
	return evt, nil
}

// UpdateProvisionedProduct re-sends every parameter. Keys already present on
// the live product ride along as use-previous-value, except OrgUnitName which
// always carries the manifest value so OU moves propagate.
func (h *AVMHandler) UpdateProvisionedProduct(ctx context.Context, evt *event.Event) (*event.Event, error) {
	artifactID, err := h.latestArtifact(ctx, evt.Properties().ProductId)
	if err != nil {
		return nil, err
	}

	recordID, err := h.catalog.UpdateProvisionedProduct(ctx, services.ProvisionInput{
		ProductId:              evt.Properties().ProductId,
		ProvisioningArtifactId: artifactID,
		ProvisionedProductId:   evt.ProvisionedProductId,
		Parameters:             provisionParameters(evt.ProdParams, evt.ExistingParameterKeys),
	})
	if err != nil {
		return nil, err
	}
	evt.RecordId = recordID
	return evt, nil
}

func (h *AVMHandler) TerminateProvisionedProduct(ctx context.Context, evt *event.Event) (*event.Event, error) {
	recordID, err := h.catalog.TerminateProvisionedProduct(ctx, evt.ProvisionedProductId)
	if err != nil {
		return nil, err
	}
	evt.RecordId = recordID
	return evt, nil
}

// DescribeRecord reports provisioning status. A FAILED update whose status
// message points at CloudFormation throttling is rewritten to RETRY so the
// state machine re-submits after a backoff.
func (h *AVMHandler) DescribeRecord(ctx context.Context, evt *event.Event) (*event.Event, error) {
	record, err := h.catalog.DescribeRecord(ctx, evt.RecordId)
	if err != nil {
		return nil, err
	}
	evt.ProvisioningStatus = record.Status

	if record.Status == "FAILED" {
		message := strings.ToLower(record.StatusMessage)
		if strings.Contains(message, "updatestack") && strings.Contains(message, "throttling") {
			evt.ProvisioningStatus = "RETRY"
			return evt, nil
		}
		evt.FailureReason = record.StatusMessage
	}
	return evt, nil
}

func (h *AVMHandler) latestArtifact(ctx context.Context, productID string) (string, error) {
	artifacts, err := h.catalog.ListProvisioningArtifacts(ctx, productID)
	if err != nil {
		return "", err
	}
	maxVersion, artifactID := -1, ""
	for _, a := range artifacts {
		if !a.Active {
			continue
		}
		n, err := artifactVersion(a.Name)
		if err != nil {
			continue
		}
		if n > maxVersion {
			maxVersion, artifactID = n, a.Id
		}
	}
	if artifactID == "" {
		return "", fmt.Errorf("product %s has no active provisioning artifact", productID)
	}
	return artifactID, nil
}

func provisionedProductName(prodParams map[string]string) string {
	name := utils.SanitizeName(prodParams["AccountName"], false, '-')
	return utils.TrimLength(name, provisionedProductNameLimit)
}

func provisionParameters(prodParams map[string]string, existingKeys []string) []services.ProvisionParameter {
	existing := map[string]bool{}
	for _, k := range existingKeys {
		existing[k] = true
	}

	var parameters []services.ProvisionParameter
	for _, k := range sortedKeys(prodParams) {
		p := services.ProvisionParameter{Key: k, Value: prodParams[k]}
		if existing[k] && k != "OrgUnitName" {
			p.Value = ""
			p.UsePreviousValue = true
		}
		parameters = append(parameters, p)
	}
	return parameters
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
