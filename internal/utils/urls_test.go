package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertS3URLToHTTPURL(t *testing.T) {
	got, err := ConvertS3URLToHTTPURL("s3://my-staging/_aws_landing_zone_templates_staging/abc_vpc.template")
	require.NoError(t, err)
	assert.Equal(t, "https://my-staging.s3.amazonaws.com/_aws_landing_zone_templates_staging/abc_vpc.template", got)

	_, err = ConvertS3URLToHTTPURL("https://example.com/foo")
	assert.Error(t, err)

	_, err = ConvertS3URLToHTTPURL("s3://bucket-only")
	assert.Error(t, err)
}

func TestConvertHTTPURLToS3URL(t *testing.T) {
	got, err := ConvertHTTPURLToS3URL("https://my-staging.s3.amazonaws.com/templates/vpc.template")
	require.NoError(t, err)
	assert.Equal(t, "s3://my-staging/templates/vpc.template", got)

	_, err = ConvertHTTPURLToS3URL("https://example.com/foo")
	assert.Error(t, err)
}

func TestURLConversionRoundTrip(t *testing.T) {
	urls := []string{
		"s3://bucket/key",
		"s3://bucket/deep/path/to/key.yaml",
	}
	for _, u := range urls {
		httpURL, err := ConvertS3URLToHTTPURL(u)
		require.NoError(t, err)
		back, err := ConvertHTTPURLToS3URL(httpURL)
		require.NoError(t, err)
		assert.Equal(t, u, back)
	}
}

func TestStripKeyLines(t *testing.T) {
	body := "Resources:\n  key: 7f9c0a\n  Bucket:\n    key: 11aa22\n    Type: AWS::S3::Bucket"
	got := StripKeyLines(body, "key:")
	assert.Equal(t, "Resources:\n  Bucket:\n    Type: AWS::S3::Bucket", got)

	assert.Equal(t, body, StripKeyLines(body, ""))
}
