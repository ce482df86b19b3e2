package utils

import (
	"maps"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
)

// MergeParameters merges multiple parameter maps with later maps having higher
// precedence and returns a CloudFormation parameter list sorted by key.
func MergeParameters(pp ...map[string]string) []types.Parameter {
	m := map[string]string{}
	for _, p := range pp {
		maps.Copy(m, p)
	}

	var results []types.Parameter
	for _, k := range slices.Sorted(maps.Keys(m)) {
		v := m[k]
		results = append(results, types.Parameter{
			ParameterKey:   aws.String(k),
			ParameterValue: aws.String(v),
		})
	}

	return results
}

// ParameterMap flattens a CloudFormation parameter list back into a map.
func ParameterMap(params []types.Parameter) map[string]string {
	m := make(map[string]string, len(params))
	for _, p := range params {
		m[aws.ToString(p.ParameterKey)] = aws.ToString(p.ParameterValue)
	}
	return m
}

// StripKeyLines removes every line containing the marker from body. Skeleton
// templates carry generated UUIDs on `key:` lines; both sides of a template
// comparison drop them so regenerated templates still compare equal.
func StripKeyLines(body, marker string) string {
	if marker == "" {
		return body
	}
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		if strings.Contains(line, marker) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
