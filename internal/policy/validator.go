// Package policy lints service control policy documents before they are
// staged, so malformed guardrails fail the pipeline instead of the
// organizations API.
package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed scp.rego
var scpPolicy string

// Validator evaluates SCP documents against the embedded guardrail rules.
type Validator struct {
	allow      rego.PreparedEvalQuery
	violations rego.PreparedEvalQuery
}

// NewValidator prepares the policy queries once for reuse.
func NewValidator() (*Validator, error) {
	allow, err := rego.New(
		rego.Query("data.scp.allow"),
		rego.Module("scp.rego", scpPolicy),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy query: %w", err)
	}

	violations, err := rego.New(
		rego.Query("data.scp.violations"),
		rego.Module("scp.rego", scpPolicy),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare violations query: %w", err)
	}

	return &Validator{
		allow:      allow,
		violations: violations,
	}, nil
}

// LintSCP validates one policy document. The stager calls this before any
// local policy file is uploaded.
func (v *Validator) LintSCP(ctx context.Context, document []byte) error {
	input, err := normalize(document)
	if err != nil {
		return err
	}

	results, err := v.allow.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) > 0 {
		if allowed, ok := results[0].Expressions[0].Value.(bool); ok && allowed {
			return nil
		}
	}

	found, err := v.findViolations(ctx, input)
	if err != nil {
		return err
	}
	return fmt.Errorf("policy document rejected: %s", strings.Join(found, "; "))
}

func (v *Validator) findViolations(ctx context.Context, input map[string]any) ([]string, error) {
	results, err := v.violations.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate violations: %w", err)
	}
	if len(results) == 0 {
		return []string{"unknown policy violation"}, nil
	}

	var found []string
	switch value := results[0].Expressions[0].Value.(type) {
	case []any:
		for _, violation := range value {
			if s, ok := violation.(string); ok {
				found = append(found, s)
			}
		}
	case map[string]any:
		for violation := range value {
			found = append(found, violation)
		}
	}
	if len(found) == 0 {
		return []string{"unknown policy violation"}, nil
	}
	return found, nil
}

// normalize parses the document and wraps a bare Statement object into the
// list form the rules expect.
func normalize(document []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(document, &doc); err != nil {
		return nil, fmt.Errorf("policy document is not valid JSON: %w", err)
	}
	if stmt, ok := doc["Statement"].(map[string]any); ok {
		doc["Statement"] = []any{stmt}
	}
	return doc, nil
}
