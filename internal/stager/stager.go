// Package stager resolves manifest file references to HTTP URLs the cloud
// APIs can fetch, uploading local files to the staging bucket on the way.
package stager

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/utils"
)

// StagingPrefix is the key prefix every staged object lands under.
const StagingPrefix = "_aws_landing_zone_templates_staging/"

// DocumentLinter checks a policy document before it is staged. The OPA
// guardrail validator implements this.
type DocumentLinter interface {
	LintSCP(ctx context.Context, document []byte) error
}

// Stager uploads local manifest files to the staging bucket and converts
// object-store references to HTTP URLs.
type Stager struct {
	store  services.ObjectStore
	bucket string
	root   string // directory the manifest was extracted to
	linter DocumentLinter
}

// New creates a stager rooted at the extracted manifest directory. linter may
// be nil when policy linting is not wanted.
func New(store services.ObjectStore, bucket, root string, linter DocumentLinter) *Stager {
	return &Stager{
		store:  store,
		bucket: bucket,
		root:   root,
		linter: linter,
	}
}

// StageFile resolves ref to an HTTP URL. Object-store URLs are converted in
// place; HTTP URLs pass through; anything else is treated as a path relative
// to the manifest root and uploaded under the staging prefix, keyed by token
// so concurrent runs do not collide.
func (s *Stager) StageFile(ctx context.Context, ref, token string) (string, error) {
	switch {
	case ref == "":
		return "", nil
	case utils.IsS3URL(ref):
		return utils.ConvertS3URLToHTTPURL(ref)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		return ref, nil
	}

	body, err := os.ReadFile(filepath.Join(s.root, ref))
	if err != nil {
		return "", fmt.Errorf("failed to read manifest file %s: %w", ref, err)
	}
	return s.upload(ctx, ref, token, body)
}

// StagePolicy stages an SCP document, linting it first when a linter is
// configured.
func (s *Stager) StagePolicy(ctx context.Context, ref, token string) (string, error) {
	if s.linter == nil || ref == "" || utils.IsS3URL(ref) || strings.HasPrefix(ref, "http") {
		return s.StageFile(ctx, ref, token)
	}

	body, err := os.ReadFile(filepath.Join(s.root, ref))
	if err != nil {
		return "", fmt.Errorf("failed to read policy file %s: %w", ref, err)
	}
	if err := s.linter.LintSCP(ctx, body); err != nil {
		return "", fmt.Errorf("policy %s rejected: %w", ref, err)
	}
	return s.upload(ctx, ref, token, body)
}

// StageSkeleton renders a baseline skeleton with the given context and stages
// the output. Skeletons are Go text templates over the manifest model.
func (s *Stager) StageSkeleton(ctx context.Context, ref, token string, data any) (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, ref))
	if err != nil {
		return "", fmt.Errorf("failed to read skeleton %s: %w", ref, err)
	}

	tmpl, err := template.New(filepath.Base(ref)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse skeleton %s: %w", ref, err)
	}
	var rendered bytes.Buffer
	if err := tmpl.Execute(&rendered, data); err != nil {
		return "", fmt.Errorf("failed to render skeleton %s: %w", ref, err)
	}
	return s.upload(ctx, ref, token, rendered.Bytes())
}

func (s *Stager) upload(ctx context.Context, ref, token string, body []byte) (string, error) {
	key := StagingPrefix + token + "_" + filepath.Base(ref)
	if err := s.store.Put(ctx, s.bucket, key, body); err != nil {
		return "", err
	}

	zerolog.Ctx(ctx).Debug().
		Str("ref", ref).
		Str("key", key).
		Msg("staged manifest file")

	return utils.ConvertS3URLToHTTPURL(fmt.Sprintf("s3://%s/%s", s.bucket, key))
}
