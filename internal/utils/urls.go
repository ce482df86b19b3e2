package utils

import (
	"fmt"
	"strings"
)

const s3HostSuffix = ".s3.amazonaws.com"

// ConvertS3URLToHTTPURL converts an s3://bucket/key reference to the
// virtual-hosted HTTPS form the CloudFormation and Service Catalog APIs accept.
func ConvertS3URLToHTTPURL(s3URL string) (string, error) {
	rest, ok := strings.CutPrefix(s3URL, "s3://")
	if !ok {
		return "", fmt.Errorf("not an s3 url: %s", s3URL)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", fmt.Errorf("malformed s3 url: %s", s3URL)
	}
	return fmt.Sprintf("https://%s%s/%s", bucket, s3HostSuffix, key), nil
}

// ConvertHTTPURLToS3URL is the inverse of ConvertS3URLToHTTPURL.
func ConvertHTTPURLToS3URL(httpURL string) (string, error) {
	rest, ok := strings.CutPrefix(httpURL, "https://")
	if !ok {
		return "", fmt.Errorf("not an https url: %s", httpURL)
	}
	host, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", fmt.Errorf("malformed s3 http url: %s", httpURL)
	}
	bucket, ok := strings.CutSuffix(host, s3HostSuffix)
	if !ok || bucket == "" {
		return "", fmt.Errorf("host %q is not a virtual-hosted s3 endpoint", host)
	}
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

// IsS3URL reports whether the reference uses the s3:// scheme.
func IsS3URL(ref string) bool {
	return strings.HasPrefix(ref, "s3://")
}
