package handlers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/params"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/utils"
)

// templateKeyMarker marks generated-UUID lines that are stripped before
// template bodies are compared.
const templateKeyMarker = "key:"

// OperationInProgressSentinel is placed in OperationId when a concurrent
// stack-set operation blocks the request; the state machine recognizes it and
// loops back through the wait state instead of failing the execution.
const OperationInProgressSentinel = "OperationInProgressException"

// StackSetHandler implements the stack-set deployment steps.
type StackSetHandler struct {
	stackSets services.StackSets
	store     services.ParameterStore
	objects   services.ObjectStore
	cross     services.CrossAccount
	reader    services.StackReader
	cfg       services.Config
}

// NewStackSetHandler creates the stack-set handler.
func NewStackSetHandler(stackSets services.StackSets, store services.ParameterStore, objects services.ObjectStore, cross services.CrossAccount, reader services.StackReader, cfg services.Config) *StackSetHandler {
	return &StackSetHandler{
		stackSets: stackSets,
		store:     store,
		objects:   objects,
		cross:     cross,
		reader:    reader,
		cfg:       cfg,
	}
}

func (h *StackSetHandler) DescribeStackSet(ctx context.Context, evt *event.Event) (*event.Event, error) {
	_, exists, err := h.stackSets.DescribeStackSet(ctx, evt.Properties().StackSetName)
	if err != nil {
		return nil, err
	}
	evt.StackSetExist = exists
	return evt, nil
}

// ListStackInstances reads one page of instances for the first account in
// AccountList, accumulating the regions where an instance already exists.
// When the pagination completes it computes the add/delete region deltas.
func (h *StackSetHandler) ListStackInstances(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	if len(props.AccountList) == 0 {
		evt.Complete = true
		return evt, nil
	}

	instances, nextToken, err := h.stackSets.ListStackInstancesPage(ctx, props.StackSetName, props.AccountList[0], evt.NextToken)
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		evt.InstanceExist = true
		evt.ExistingRegionList = appendUnique(evt.ExistingRegionList, inst.Region)
	}
	evt.NextToken = nextToken
	evt.Complete = nextToken == ""

	if evt.Complete {
		evt.AddRegionList = difference(props.RegionList, evt.ExistingRegionList)
		// the delete delta only applies to baseline-style inputs, which
		// carry no template of their own
		if props.TemplateURL == "" {
			evt.DeleteRegionList = difference(evt.ExistingRegionList, props.RegionList)
		}
		evt.CreateInstance = len(evt.AddRegionList) > 0
		evt.DeleteInstance = len(evt.DeleteRegionList) > 0
	}
	return evt, nil
}

func (h *StackSetHandler) CreateStackSet(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	parameters, err := h.resolvedParameters(ctx, props)
	if err != nil {
		return nil, err
	}
	if err := h.stackSets.CreateStackSet(ctx, props.StackSetName, props.TemplateURL, parameters, props.Capabilities); err != nil {
		return nil, err
	}
	evt.StackSetExist = true
	return evt, nil
}

func (h *StackSetHandler) UpdateStackSet(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	parameters, err := h.resolvedParameters(ctx, props)
	if err != nil {
		return nil, err
	}
	operationID, err := h.stackSets.UpdateStackSet(ctx, props.StackSetName, props.TemplateURL, parameters, props.Capabilities)
	if errors.Is(err, lzerrors.ErrOperationInProgress) {
		evt.OperationId = OperationInProgressSentinel
		return evt, nil
	}
	if err != nil {
		return nil, err
	}
	evt.OperationId = operationID
	return evt, nil
}

func (h *StackSetHandler) CreateStackInstances(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	regions := evt.AddRegionList
	if len(regions) == 0 {
		regions = props.RegionList
	}
	operationID, err := h.stackSets.CreateStackInstances(ctx, props.StackSetName, props.AccountList, regions,
		h.cfg.FailedTolerancePercent, h.cfg.MaxConcurrentPercent)
	if errors.Is(err, lzerrors.ErrOperationInProgress) {
		evt.OperationId = OperationInProgressSentinel
		return evt, nil
	}
	if err != nil {
		return nil, err
	}
	evt.OperationId = operationID
	return evt, nil
}

func (h *StackSetHandler) UpdateStackInstances(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	overrides, err := parseParameterOverride(props.ParameterOverride)
	if err != nil {
		return nil, err
	}
	if overrides != nil {
		if overrides, err = params.ExpandSecrets(ctx, h.store, overrides); err != nil {
			return nil, err
		}
	}
	operationID, err := h.stackSets.UpdateStackInstances(ctx, props.StackSetName, props.AccountList, props.RegionList,
		overrides, h.cfg.FailedTolerancePercent, h.cfg.MaxConcurrentPercent)
	if errors.Is(err, lzerrors.ErrOperationInProgress) {
		evt.OperationId = OperationInProgressSentinel
		return evt, nil
	}
	if err != nil {
		return nil, err
	}
	evt.OperationId = operationID
	return evt, nil
}

func (h *StackSetHandler) DeleteStackInstances(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	regions := evt.DeleteRegionList
	if len(regions) == 0 {
		regions = props.RegionList
	}
	evt.RetryDeleteFlag = false
	operationID, err := h.stackSets.DeleteStackInstances(ctx, props.StackSetName, props.AccountList, regions,
		h.cfg.FailedTolerancePercent, h.cfg.MaxConcurrentPercent)
	if errors.Is(err, lzerrors.ErrOperationInProgress) {
		evt.OperationId = OperationInProgressSentinel
		return evt, nil
	}
	if err != nil {
		return nil, err
	}
	evt.OperationId = operationID
	return evt, nil
}

// DescribeStackSetOperation polls the running operation. A FAILED delete
// whose per-region reason is the stack-instance-not-found race flips
// RetryDeleteFlag so the state machine re-routes back to delete.
func (h *StackSetHandler) DescribeStackSetOperation(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	status, err := h.stackSets.DescribeStackSetOperation(ctx, props.StackSetName, evt.OperationId)
	if err != nil {
		return nil, err
	}
	evt.OperationStatus = status
	if status != "FAILED" {
		return evt, nil
	}

	results, err := h.stackSets.ListStackSetOperationResults(ctx, props.StackSetName, evt.OperationId)
	if err != nil {
		return nil, err
	}

	var reasons []string
	for _, r := range results {
		if r.Status != "FAILED" {
			continue
		}
		if evt.DeleteInstance && services.IsStackInstanceNotFound(r.StatusReason) {
			evt.RetryDeleteFlag = true
			continue
		}
		reasons = append(reasons, fmt.Sprintf("%s/%s: %s", r.Account, r.Region, r.StatusReason))
	}
	if evt.RetryDeleteFlag && len(reasons) == 0 {
		zerolog.Ctx(ctx).Info().
			Str("stack_set", props.StackSetName).
			Str("operation_id", evt.OperationId).
			Msg("delete raced with instance removal, retrying")
		return evt, nil
	}
	if len(reasons) > 0 {
		return nil, fmt.Errorf("stack set operation %s failed: %s", evt.OperationId, strings.Join(reasons, "; "))
	}
	return evt, nil
}

// ExportCFNOutput reads one representative stack's outputs from the first
// target account/region and promotes them as output_<key> event fields.
func (h *StackSetHandler) ExportCFNOutput(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	if len(props.AccountList) == 0 || len(props.RegionList) == 0 {
		return evt, nil
	}

	cfg, err := h.cross.Config(ctx, props.AccountList[0], props.RegionList[0])
	if err != nil {
		return nil, err
	}
	outputs, err := h.reader.StackOutputs(ctx, cfg, "StackSet-"+props.StackSetName)
	if err != nil {
		return nil, err
	}

	if evt.Outputs == nil {
		evt.Outputs = map[string]string{}
	}
	for k, v := range outputs {
		evt.Outputs["output_"+k] = v
	}
	return evt, nil
}

// NoOp reports whether the requested deployment matches the live stack set:
// same template body (after stripping generated-key lines), same parameters,
// and the requested regions already covered by CURRENT instances. The trigger
// calls this before submitting a state machine.
func (h *StackSetHandler) NoOp(ctx context.Context, evt *event.Event) (bool, error) {
	props := evt.Properties()
	desc, exists, err := h.stackSets.DescribeStackSet(ctx, props.StackSetName)
	if err != nil || !exists {
		return false, err
	}

	if props.TemplateURL != "" {
		staged, err := h.fetchTemplate(ctx, props.TemplateURL)
		if err != nil {
			return false, err
		}
		if utils.StripKeyLines(staged, templateKeyMarker) != utils.StripKeyLines(desc.TemplateBody, templateKeyMarker) {
			return false, nil
		}
	}

	parameters, err := h.resolvedParameters(ctx, props)
	if err != nil {
		return false, err
	}
	if !sameParameters(parameters, desc.Parameters) {
		return false, nil
	}

	if len(props.AccountList) == 0 {
		return true, nil
	}
	current := map[string]bool{}
	nextToken := ""
	for {
		instances, token, err := h.stackSets.ListStackInstancesPage(ctx, props.StackSetName, props.AccountList[0], nextToken)
		if err != nil {
			return false, err
		}
		for _, inst := range instances {
			if inst.Status != "CURRENT" {
				// any drifted instance forces the update through
				return false, nil
			}
			current[inst.Region] = true
		}
		if token == "" {
			break
		}
		nextToken = token
	}
	for _, region := range props.RegionList {
		if !current[region] {
			return false, nil
		}
	}
	return true, nil
}

func (h *StackSetHandler) resolvedParameters(ctx context.Context, props *event.ResourceProperties) (map[string]string, error) {
	return params.ExpandSecrets(ctx, h.store, props.Parameters)
}

func (h *StackSetHandler) fetchTemplate(ctx context.Context, httpURL string) (string, error) {
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

func splitS3URL(s3URL string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(s3URL, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 url %s", s3URL)
	}
	return bucket, key, nil
}

func parseParameterOverride(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	overrides := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed parameter override %q", pair)
		}
		overrides[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return overrides, nil
}

func sameParameters(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

func difference(a, b []string) []string {
	seen := map[string]bool{}
	for _, v := range b {
		seen[v] = true
	}
	var out []string
	for _, v := range a {
		if !seen[v] {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
