package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/utils"
)

// SCPHandler implements the service-control-policy steps.
type SCPHandler struct {
	org     services.Organizations
	objects services.ObjectStore
}

// NewSCPHandler creates the SCP handler.
func NewSCPHandler(org services.Organizations, objects services.ObjectStore) *SCPHandler {
	return &SCPHandler{org: org, objects: objects}
}

func (h *SCPHandler) ListPolicies(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	policies, err := h.org.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	evt.PolicyExist = false
	for _, p := range policies {
		if p.Name == props.PolicyName {
			evt.PolicyExist = true
			evt.PolicyId = p.Id
			break
		}
	}
	return evt, nil
}

func (h *SCPHandler) CreatePolicy(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	document, err := h.fetchDocument(ctx, props.PolicyURL)
	if err != nil {
		return nil, err
	}
	id, err := h.org.CreatePolicy(ctx, props.PolicyName, props.PolicyDescription, document)
	if err != nil {
		return nil, err
	}
	evt.PolicyExist = true
	evt.PolicyId = id
	return evt, nil
}

func (h *SCPHandler) UpdatePolicy(ctx context.Context, evt *event.Event) (*event.Event, error) {
	props := evt.Properties()
	document, err := h.fetchDocument(ctx, props.PolicyURL)
	if err != nil {
		return nil, err
	}
	if err := h.org.UpdatePolicy(ctx, evt.PolicyId, props.PolicyName, props.PolicyDescription, document); err != nil {
		return nil, err
	}
	return evt, nil
}

func (h *SCPHandler) DeletePolicy(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if err := h.org.DeletePolicy(ctx, evt.PolicyId); err != nil {
		return nil, err
	}
	evt.PolicyExist = false
	return evt, nil
}

func (h *SCPHandler) EnablePolicyType(ctx context.Context, evt *event.Event) (*event.Event, error) {
	rootID := evt.RootId
	if rootID == "" {
		roots, err := h.org.ListRoots(ctx)
		if err != nil {
			return nil, err
		}
		if len(roots) == 0 {
			return nil, fmt.Errorf("organization has no root")
		}
		rootID = roots[0].Id
		evt.RootId = rootID
	}
	if err := h.org.EnablePolicyType(ctx, rootID); err != nil {
		return nil, err
	}
	return evt, nil
}

// ConfigureCount arms the iterator over the per-policy OU operation list.
func (h *SCPHandler) ConfigureCount(ctx context.Context, evt *event.Event) (*event.Event, error) {
	evt.Count = len(evt.Properties().OUList)
	evt.Index = 0
	return evt, nil
}

// Iterator emits the next (OU, Attach|Detach) pair.
func (h *SCPHandler) Iterator(ctx context.Context, evt *event.Event) (*event.Event, error) {
	list := evt.Properties().OUList
	if evt.Index >= len(list) {
		evt.Continue = false
		return evt, nil
	}
	pair := list[evt.Index]
	evt.Index++
	evt.Continue = true
	evt.Properties().OUName = pair.OUName
	evt.PolicyOperation = pair.Operation
	return evt, nil
}

// AttachPolicy attaches the policy to the current target: an OU resolved by
// path, or an explicit account id.
func (h *SCPHandler) AttachPolicy(ctx context.Context, evt *event.Event) (*event.Event, error) {
	targetID, err := h.targetID(ctx, evt)
	if err != nil {
		return nil, err
	}
	if err := h.org.AttachPolicy(ctx, evt.PolicyId, targetID); err != nil {
		return nil, err
	}
	return evt, nil
}

func (h *SCPHandler) DetachPolicy(ctx context.Context, evt *event.Event) (*event.Event, error) {
	targetID, err := h.targetID(ctx, evt)
	if err != nil {
		return nil, err
	}
	if err := h.org.DetachPolicy(ctx, evt.PolicyId, targetID); err != nil {
		return nil, err
	}
	return evt, nil
}

// DetachPolicyFromAllAccounts enumerates the policy's live targets and
// detaches each one, used before policy deletion.
func (h *SCPHandler) DetachPolicyFromAllAccounts(ctx context.Context, evt *event.Event) (*event.Event, error) {
	targets, err := h.org.ListTargetsForPolicy(ctx, evt.PolicyId)
	if err != nil {
		return nil, err
	}
	for _, target := range targets {
		if err := h.org.DetachPolicy(ctx, evt.PolicyId, target); err != nil {
			return nil, err
		}
	}
	return evt, nil
}

func (h *SCPHandler) targetID(ctx context.Context, evt *event.Event) (string, error) {
	props := evt.Properties()
	if props.AccountId != "" {
		return props.AccountId, nil
	}

	roots, err := h.org.ListRoots(ctx)
	if err != nil {
		return "", err
	}
	if len(roots) == 0 {
		return "", fmt.Errorf("organization has no root")
	}

	current := roots[0].Id
	for _, segment := range splitOUPath(props.OUName, props.OUNameDelimiter) {
		units, err := h.org.ListOrganizationalUnits(ctx, current)
		if err != nil {
			return "", err
		}
		found := ""
		for _, ou := range units {
			if ou.Name == segment {
				found = ou.Id
				break
			}
		}
		if found == "" {
			return "", fmt.Errorf("ou %s not found while resolving policy target %s", segment, props.OUName)
		}
		current = found
	}
	return current, nil
}

// fetchDocument loads the staged policy JSON and whitespace-normalizes it so
// the organizations API receives a compact, escaped document.
func (h *SCPHandler) fetchDocument(ctx context.Context, policyURL string) (string, error) {
	s3URL, err := utils.ConvertHTTPURLToS3URL(policyURL)
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
		return "", fmt.Errorf("staged policy %s not found", policyURL)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return "", fmt.Errorf("malformed policy document %s: %w", policyURL, err)
	}
	return compact.String(), nil
}
