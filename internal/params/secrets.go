package params

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudkeel/landingzone/internal/services"
)

const (
	// SecureStringPrefix marks a value whose cleartext lives in the
	// control-plane parameter store under the trailing name.
	SecureStringPrefix = "_get_ssm_secure_string_"

	// DecapsulationPrefix transports a literal string that happens to look
	// like a placeholder; the prefix is stripped and the rest passes through
	// verbatim.
	DecapsulationPrefix = "_alfred_decapsulation_"
)

// ExpandSecret resolves the secret sentinels in a single value just before a
// cloud mutation needs the cleartext. A secure-string sentinel whose backing
// parameter is missing is an error, never a silent substitution.
func ExpandSecret(ctx context.Context, store services.ParameterStore, value string) (string, error) {
	switch {
	case strings.HasPrefix(value, DecapsulationPrefix):
		return strings.TrimPrefix(value, DecapsulationPrefix), nil

	case strings.HasPrefix(value, SecureStringPrefix):
		name := strings.TrimPrefix(value, SecureStringPrefix)
		v, err := store.GetParameter(ctx, name)
		if err != nil {
			return "", fmt.Errorf("failed to expand secure string %s: %w", name, err)
		}
		return v, nil
	}
	return value, nil
}

// ExpandSecrets applies ExpandSecret to every value in params, returning a
// new map.
func ExpandSecrets(ctx context.Context, store services.ParameterStore, params map[string]string) (map[string]string, error) {
	expanded := make(map[string]string, len(params))
	for k, v := range params {
		e, err := ExpandSecret(ctx, store, v)
		if err != nil {
			return nil, err
		}
		expanded[k] = e
	}
	return expanded, nil
}
