// Package vending launches the account-vending state machine for every
// account declared under the manifest's organizational units, one execution
// per batch of accounts.
package vending

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/manifest"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/utils"
)

// DefaultBatchSize bounds how many accounts one state-machine execution
// provisions.
const DefaultBatchSize = 5

const executionUnitLimit = 50

// Launcher walks the manifest OUs and submits one AVM execution per batch
// of accounts.
type Launcher struct {
	org      services.Organizations
	machines services.StateMachines
	avmARN   string
	root     string // directory the manifest was extracted to

	BatchSize int
	WaitTime  time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a launcher rooted at the extracted manifest directory.
func New(org services.Organizations, machines services.StateMachines, avmARN, root string) *Launcher {
	return &Launcher{
		org:       org,
		machines:  machines,
		avmARN:    avmARN,
		root:      root,
		BatchSize: DefaultBatchSize,
		WaitTime:  10 * time.Second,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Run submits every batch and polls until all executions are terminal. It
// returns the ARNs of executions that did not succeed.
func (l *Launcher) Run(ctx context.Context, m *manifest.Manifest) (failed []string, err error) {
	arns, err := l.launch(ctx, m)
	if err != nil {
		return nil, err
	}

	pending := arns
	for len(pending) > 0 {
		var still []string
		for _, arn := range pending {
			status, err := l.machines.DescribeExecution(ctx, arn)
			if err != nil {
				return nil, err
			}
			if !status.IsTerminal() {
				still = append(still, arn)
				continue
			}
			if status.Status != "SUCCEEDED" {
				failed = append(failed, arn)
			}
		}
		pending = still
		if len(pending) > 0 {
			l.sleep(l.WaitTime)
		}
	}
	return failed, nil
}

func (l *Launcher) launch(ctx context.Context, m *manifest.Manifest) ([]string, error) {
	roots, err := l.org.ListRoots(ctx)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("organization has no root")
	}
	rootID := roots[0].Id

	var arns []string
	for _, ou := range m.OrganizationalUnits {
		if len(ou.IncludeInBaselineProducts) == 0 {
			continue
		}
		productName := ou.IncludeInBaselineProducts[0]
		product := m.BaselineProduct(productName)
		if product == nil {
			return nil, fmt.Errorf("ou %s references unknown baseline product %s", ou.Name, productName)
		}

		baseParams, err := l.loadParameterFile(product.ParameterFile)
		if err != nil {
			return nil, err
		}

		ouID, err := l.resolveOU(ctx, rootID, m.SplitOUPath(ou.Name))
		if err != nil {
			return nil, err
		}

		accounts, err := l.org.ListAccountsForParent(ctx, ouID)
		if err != nil {
			return nil, err
		}

		var batch []map[string]string
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			arn, err := l.submitBatch(ctx, ou.Name, product.Name, batch, len(arns))
			if err != nil {
				return err
			}
			arns = append(arns, arn)
			batch = nil
			l.sleep(l.WaitTime)
			return nil
		}

		for _, acct := range accounts {
			if acct.Status == "SUSPENDED" {
				zerolog.Ctx(ctx).Warn().
					Str("account", acct.Name).
					Str("ou", ou.Name).
					Msg("moving suspended account back to the root")
				if err := l.org.MoveAccount(ctx, acct.Id, ouID, rootID); err != nil {
					return nil, err
				}
				continue
			}

			params := make(map[string]string, len(baseParams)+3)
			for k, v := range baseParams {
				params[k] = v
			}
			params["AccountEmail"] = acct.Email
			params["AccountName"] = acct.Name
			params["OrgUnitName"] = ou.Name

			batch = append(batch, params)
			if len(batch) >= l.BatchSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		}
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return arns, nil
}

func (l *Launcher) submitBatch(ctx context.Context, ouName, productName string, batch []map[string]string, sequence int) (string, error) {
	evt := &event.Event{
		RequestType: string(event.RequestTypeCreate),
		ResourceProperties: &event.ResourceProperties{
			OUName:                     ouName,
			ProductName:                productName,
			ProvisioningParametersList: batch,
		},
	}

	unit := utils.TrimLength(utils.SanitizeName(ouName, false, '-'), executionUnitLimit)
	name := fmt.Sprintf("AVM-%s-%d-%s", unit, sequence, l.now().UTC().Format("20060102T150405Z"))

	arn, err := l.machines.StartExecution(ctx, l.avmARN, name, evt)
	if err != nil {
		return "", err
	}
	zerolog.Ctx(ctx).Info().
		Str("ou", ouName).
		Int("accounts", len(batch)).
		Str("arn", arn).
		Msg("started account vending batch")
	return arn, nil
}

// resolveOU walks the live OU tree from the root down the manifest path.
func (l *Launcher) resolveOU(ctx context.Context, rootID string, path []string) (string, error) {
	parent := rootID
	for _, segment := range path {
		units, err := l.org.ListOrganizationalUnits(ctx, parent)
		if err != nil {
			return "", err
		}
		found := ""
		for _, unit := range units {
			if unit.Name == segment {
				found = unit.Id
				break
			}
		}
		if found == "" {
			return "", fmt.Errorf("organizational unit %s not found under %s", segment, parent)
		}
		parent = found
	}
	return parent, nil
}

func (l *Launcher) loadParameterFile(ref string) (map[string]string, error) {
	if ref == "" {
		return map[string]string{}, nil
	}
	data, err := os.ReadFile(filepath.Join(l.root, ref))
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
