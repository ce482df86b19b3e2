// Package trigger is the per-stage pipeline entry point: it parses the
// manifest, plans state-machine executions, submits them, and carries state
// across pipeline invocations through an SSM-backed continuation token.
package trigger

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/manifest"
	"github.com/cloudkeel/landingzone/internal/params"
	"github.com/cloudkeel/landingzone/internal/services"
	"github.com/cloudkeel/landingzone/internal/stager"
	"github.com/cloudkeel/landingzone/internal/utils"
)

// Execution modes accepted in the pipeline user parameters.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// Step Functions caps execution names at 80 characters; the unit portion is
// trimmed so the request type and timestamp always fit.
const executionUnitLimit = 50

// Request carries one pipeline invocation. Token is empty on the start
// phase and holds the continuation token on every later tick. Either the
// artifact coordinates or ManifestPath must be set.
type Request struct {
	JobID string
	Token string
	Stage string
	Mode  string

	ArtifactBucket string
	ArtifactKey    string
	ManifestPath   string

	MasterAccountName string
}

// NoOpTester reports whether a planned deployment already matches the live
// stack set. The stack-set handler implements this.
type NoOpTester interface {
	NoOp(ctx context.Context, evt *event.Event) (bool, error)
}

// Recorder observes execution lifecycle for the run-history table. Both
// methods are advisory; failures are logged, never propagated.
type Recorder interface {
	RecordSubmitted(ctx context.Context, stage, token, executionARN string) error
	RecordOutcome(ctx context.Context, executionARN, status string) error
}

// Trigger plans and paces state-machine executions for one pipeline stage.
type Trigger struct {
	org           services.Organizations
	store         services.ParameterStore
	objects       services.ObjectStore
	machines      services.StateMachines
	pipeline      services.PipelineJob
	resolver      *params.Resolver
	noop          NoOpTester
	runs          Recorder
	continuations *ContinuationStore
	linter        stager.DocumentLinter
	cfg           *services.Config

	sleep func(time.Duration)
	now   func() time.Time
}

// New wires the trigger. resolver, noop, runs, and linter may be nil when
// the corresponding concern is not wanted.
func New(org services.Organizations, store services.ParameterStore, objects services.ObjectStore, machines services.StateMachines, pipeline services.PipelineJob, resolver *params.Resolver, noop NoOpTester, runs Recorder, linter stager.DocumentLinter, cfg *services.Config) *Trigger {
	return &Trigger{
		org:           org,
		store:         store,
		objects:       objects,
		machines:      machines,
		pipeline:      pipeline,
		resolver:      resolver,
		noop:          noop,
		runs:          runs,
		continuations: NewContinuationStore(store),
		linter:        linter,
		cfg:           cfg,
		sleep:         time.Sleep,
		now:           time.Now,
	}
}

// Handle services one pipeline tick. Unhandled errors are reported to the
// pipeline as a job failure before they propagate.
func (t *Trigger) Handle(ctx context.Context, req Request) error {
	err := t.handle(ctx, req)
	if err != nil && req.JobID != "" {
		if ferr := t.pipeline.PutJobFailure(ctx, req.JobID, err.Error()); ferr != nil {
			zerolog.Ctx(ctx).Warn().Err(ferr).Msg("failed to report job failure")
		}
	}
	return err
}

func (t *Trigger) handle(ctx context.Context, req Request) error {
	if req.Token != "" {
		return t.resume(ctx, req)
	}

	token, _, err := t.begin(ctx, req)
	if err != nil {
		return err
	}
	if req.JobID != "" {
		return t.pipeline.ContinueLater(ctx, req.JobID, token)
	}
	return nil
}

// RunLocal executes a stage synchronously in parallel mode: submit
// everything, poll until terminal, and return the ARNs that did not
// succeed. Used by the operator CLI.
func (t *Trigger) RunLocal(ctx context.Context, req Request) (failed []string, err error) {
	req.Mode = ModeParallel
	token, arns, err := t.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := t.continuations.Clear(ctx, token); cerr != nil {
			zerolog.Ctx(ctx).Warn().Err(cerr).Str("token", token).Msg("failed to clear continuation state")
		}
	}()

	pending := append([]string(nil), arns...)
	for len(pending) > 0 {
		var still []string
		for _, arn := range pending {
			status, err := t.machines.DescribeExecution(ctx, arn)
			if err != nil {
				return nil, err
			}
			if !status.IsTerminal() {
				still = append(still, arn)
				continue
			}
			t.recordOutcome(ctx, arn, status.Status)
			if status.Status != "SUCCEEDED" {
				failed = append(failed, arn)
			}
		}
		pending = still
		if len(pending) > 0 {
			t.sleep(t.cfg.WaitTime)
		}
	}
	return failed, nil
}

// begin runs the start phase: materialize the manifest, build the stage's
// inputs, submit per the execution mode, and persist continuation state.
func (t *Trigger) begin(ctx context.Context, req Request) (token string, arns []string, err error) {
	smARN := t.cfg.StateMachineArnFor(req.Stage)
	if smARN == "" {
		return "", nil, fmt.Errorf("%w: stage %s", lzerrors.ErrStateMachineARNRequired, req.Stage)
	}
	if t.cfg.StagingBucket == "" {
		return "", nil, lzerrors.ErrStagingBucketRequired
	}
	if req.Mode != ModeSequential && req.Mode != ModeParallel {
		return "", nil, fmt.Errorf("unknown exec_mode %q, expected sequential or parallel", req.Mode)
	}

	root, manifestPath, cleanup, err := t.materialize(ctx, req)
	if err != nil {
		return "", nil, err
	}
	defer cleanup()

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return "", nil, err
	}
	if err := m.Validate(req.MasterAccountName); err != nil {
		return "", nil, err
	}

	token = ksuid.New().String()
	st := stager.New(t.objects, t.cfg.StagingBucket, root, t.linter)
	builder := NewInputBuilder(m, st, t.store, t.org, root, req.MasterAccountName, t.cfg.StagingBucket)
	inputs, err := builder.Build(ctx, req.Stage, token)
	if err != nil {
		return "", nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("stage", req.Stage).
		Str("mode", req.Mode).
		Str("token", token).
		Int("inputs", len(inputs)).
		Msg("planned pipeline stage")

	switch req.Mode {
	case ModeParallel:
		for _, evt := range inputs {
			skip, err := t.prepare(ctx, evt, m.Region)
			if err != nil {
				return "", nil, err
			}
			if skip {
				continue
			}
			if len(arns) > 0 {
				t.sleep(t.cfg.WaitTime)
			}
			arn, err := t.submit(ctx, smARN, req.Stage, token, evt)
			if err != nil {
				return "", nil, err
			}
			arns = append(arns, arn)
		}

	case ModeSequential:
		for i, evt := range inputs {
			skip, err := t.prepare(ctx, evt, m.Region)
			if err != nil {
				return "", nil, err
			}
			if skip {
				continue
			}
			arn, err := t.submit(ctx, smARN, req.Stage, token, evt)
			if err != nil {
				return "", nil, err
			}
			arns = append(arns, arn)
			if err := t.continuations.SaveDeferred(ctx, token, inputs[i+1:]); err != nil {
				return "", nil, err
			}
			break
		}
	}

	if err := t.continuations.SaveARNs(ctx, token, arns); err != nil {
		return "", nil, err
	}
	return token, arns, nil
}

// resume runs the continuation phase: poll the persisted ARNs and either
// re-arm, fail the stage, advance the sequential queue, or close out.
func (t *Trigger) resume(ctx context.Context, req Request) error {
	arns, pass, err := t.continuations.LoadARNs(ctx, req.Token)
	if err != nil {
		return err
	}
	if pass {
		if err := t.continuations.Clear(ctx, req.Token); err != nil {
			return err
		}
		return t.pipeline.PutJobSuccess(ctx, req.JobID)
	}

	running := false
	for _, arn := range arns {
		status, err := t.machines.DescribeExecution(ctx, arn)
		if err != nil {
			return err
		}
		if !status.IsTerminal() {
			running = true
			continue
		}
		t.recordOutcome(ctx, arn, status.Status)
		if status.Status != "SUCCEEDED" {
			if cerr := t.continuations.Clear(ctx, req.Token); cerr != nil {
				zerolog.Ctx(ctx).Warn().Err(cerr).Str("token", req.Token).Msg("failed to clear continuation state")
			}
			return fmt.Errorf("execution %s finished %s", arn, status.Status)
		}
	}
	if running {
		return t.pipeline.ContinueLater(ctx, req.JobID, req.Token)
	}

	if req.Mode == ModeSequential {
		for {
			evt, ok, err := t.continuations.PopDeferred(ctx, req.Token)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			skip, err := t.prepare(ctx, evt, "")
			if err != nil {
				return err
			}
			if skip {
				continue
			}
			arn, err := t.submit(ctx, t.cfg.StateMachineArnFor(req.Stage), req.Stage, req.Token, evt)
			if err != nil {
				return err
			}
			if err := t.continuations.SaveARNs(ctx, req.Token, []string{arn}); err != nil {
				return err
			}
			return t.pipeline.ContinueLater(ctx, req.JobID, req.Token)
		}
	}

	if err := t.continuations.Clear(ctx, req.Token); err != nil {
		return err
	}
	return t.pipeline.PutJobSuccess(ctx, req.JobID)
}

// prepare resolves late-bound placeholders against the input's target
// account and runs the no-op test for stack-set inputs. skip is true when
// the deployment already matches the live state.
func (t *Trigger) prepare(ctx context.Context, evt *event.Event, region string) (skip bool, err error) {
	props := evt.Properties()

	if t.resolver != nil && len(props.Parameters) > 0 {
		target := params.Target{Region: region}
		if len(props.RegionList) > 0 {
			target.Region = props.RegionList[0]
		}
		switch {
		case len(props.AccountList) > 0:
			target.AccountID = props.AccountList[0]
		case props.AccountId != "":
			target.AccountID = props.AccountId
		default:
			masterID, _, err := t.org.DescribeOrganization(ctx)
			if err != nil {
				return false, err
			}
			target.AccountID = masterID
		}
		resolved, err := t.resolver.ResolveMap(ctx, target, props.Parameters, true)
		if err != nil {
			return false, err
		}
		props.Parameters = resolved
	}

	if props.StackSetName != "" && t.noop != nil {
		match, err := t.noop.NoOp(ctx, evt)
		if err != nil {
			return false, err
		}
		if match {
			zerolog.Ctx(ctx).Info().
				Str("stackSet", props.StackSetName).
				Msg("deployment matches live stack set, skipping execution")
			return true, nil
		}
	}
	return false, nil
}

func (t *Trigger) submit(ctx context.Context, smARN, stage, token string, evt *event.Event) (string, error) {
	name := executionName(evt, t.now())
	arn, err := t.machines.StartExecution(ctx, smARN, name, evt)
	if err != nil {
		return "", err
	}

	zerolog.Ctx(ctx).Info().
		Str("stage", stage).
		Str("execution", name).
		Str("arn", arn).
		Msg("started state machine execution")

	if t.runs != nil {
		if rerr := t.runs.RecordSubmitted(ctx, stage, token, arn); rerr != nil {
			zerolog.Ctx(ctx).Warn().Err(rerr).Str("arn", arn).Msg("failed to record submission")
		}
	}
	return arn, nil
}

func (t *Trigger) recordOutcome(ctx context.Context, arn, status string) {
	if t.runs == nil {
		return
	}
	if err := t.runs.RecordOutcome(ctx, arn, status); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("arn", arn).Msg("failed to record outcome")
	}
}

// materialize produces a directory holding the manifest: either the local
// path the CLI passed, or the pipeline artifact zip extracted to a temp
// directory. The manifest may sit at the archive root or under
// aws-landing-zone-configuration/.
func (t *Trigger) materialize(ctx context.Context, req Request) (root, manifestPath string, cleanup func(), err error) {
	cleanup = func() {}

	if req.ManifestPath != "" {
		return filepath.Dir(req.ManifestPath), req.ManifestPath, cleanup, nil
	}

	data, ok, err := t.objects.Get(ctx, req.ArtifactBucket, req.ArtifactKey)
	if err != nil {
		return "", "", cleanup, err
	}
	if !ok {
		return "", "", cleanup, fmt.Errorf("configuration artifact s3://%s/%s not found", req.ArtifactBucket, req.ArtifactKey)
	}

	dir, err := os.MkdirTemp("", "lz-artifact-")
	if err != nil {
		return "", "", cleanup, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	cleanup = func() { os.RemoveAll(dir) }

	if err := extractZip(data, dir); err != nil {
		return "", "", cleanup, err
	}

	for _, candidate := range []string{"manifest.yaml", "aws-landing-zone-configuration/manifest.yaml"} {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return filepath.Dir(path), path, cleanup, nil
		}
	}
	return "", "", cleanup, lzerrors.ErrManifestNotFound
}

func extractZip(data []byte, dir string) error {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("failed to open configuration artifact: %w", err)
	}

	for _, f := range reader.File {
		path := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(path, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %s escapes the extraction root", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open archive entry %s: %w", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to read archive entry %s: %w", f.Name, err)
		}
		if err := os.WriteFile(path, body, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// executionName derives the deterministic name <request>-<unit>-<timestamp>.
func executionName(evt *event.Event, now time.Time) string {
	unit := utils.SanitizeName(unitName(evt), false, '-')
	unit = utils.TrimLength(unit, executionUnitLimit)
	return fmt.Sprintf("%s-%s-%s", evt.RequestType, unit, now.UTC().Format("20060102T150405Z"))
}

func unitName(evt *event.Event) string {
	props := evt.Properties()
	for _, candidate := range []string{
		props.StackSetName,
		props.PolicyName,
		props.ProductName,
		props.AccountName,
		props.OUName,
	} {
		if candidate != "" {
			return candidate
		}
	}
	return "input"
}
