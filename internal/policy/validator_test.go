package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLintSCPValidDocument(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	doc := `{
		"Version": "2012-10-17",
		"Statement": [
			{"Effect": "Deny", "Action": "cloudtrail:StopLogging", "Resource": "*"}
		]
	}`
	assert.NoError(t, v.LintSCP(context.Background(), []byte(doc)))
}

func TestLintSCPBareStatementObject(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	doc := `{
		"Version": "2012-10-17",
		"Statement": {"Effect": "Deny", "Action": "s3:DeleteBucket", "Resource": "*"}
	}`
	assert.NoError(t, v.LintSCP(context.Background(), []byte(doc)))
}

func TestLintSCPWrongVersion(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	doc := `{
		"Version": "2008-10-17",
		"Statement": [{"Effect": "Deny", "Action": "*", "Resource": "*"}]
	}`
	err = v.LintSCP(context.Background(), []byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2012-10-17")
}

func TestLintSCPMissingPieces(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "no statements",
			doc:  `{"Version": "2012-10-17", "Statement": []}`,
			want: "no statements",
		},
		{
			name: "invalid effect",
			doc:  `{"Version": "2012-10-17", "Statement": [{"Effect": "Maybe", "Action": "*", "Resource": "*"}]}`,
			want: "invalid Effect",
		},
		{
			name: "missing action",
			doc:  `{"Version": "2012-10-17", "Statement": [{"Effect": "Deny", "Resource": "*"}]}`,
			want: "Action or NotAction",
		},
		{
			name: "missing resource",
			doc:  `{"Version": "2012-10-17", "Statement": [{"Effect": "Deny", "Action": "*"}]}`,
			want: "Resource or NotResource",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.LintSCP(context.Background(), []byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLintSCPInvalidJSON(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	err = v.LintSCP(context.Background(), []byte("not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}
