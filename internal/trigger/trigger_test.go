package trigger

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
)

type triggerFixture struct {
	trigger  *Trigger
	store    *memParams
	objects  *memObjects
	machines *fakeMachines
	pipeline *fakePipeline
	noop     *fakeNoOp
	recorder *fakeRecorder
	sleeps   int
}

func newTestTrigger(t *testing.T) *triggerFixture {
	t.Helper()

	f := &triggerFixture{
		store:    newMemParams(),
		objects:  newMemObjects(),
		machines: newFakeMachines(),
		pipeline: &fakePipeline{},
		noop:     &fakeNoOp{matching: map[string]bool{}},
		recorder: newFakeRecorder(),
	}
	f.store.values["/org/member/security/account_id"] = "222233334444"
	f.store.values["/org/primary/principal_role_arn"] = "arn:aws:iam::111122223333:role/LZAdmin"

	cfg := &services.Config{
		StagingBucket:                 "staging",
		AccountStateMachineArn:        "arn:sm:account",
		StackSetStateMachineArn:       "arn:sm:stackset",
		SCPStateMachineArn:            "arn:sm:scp",
		ServiceCatalogStateMachineArn: "arn:sm:catalog",
		WaitTime:                      time.Second,
	}
	org := &fakeOrg{masterID: "111122223333", masterEmail: "root@example.com"}

	f.trigger = New(org, f.store, f.objects, f.machines, f.pipeline, nil, f.noop, f.recorder, nil, cfg)
	f.trigger.sleep = func(time.Duration) { f.sleeps++ }
	f.trigger.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	return f
}

func baselineRequest(t *testing.T, mode string) Request {
	t.Helper()
	root := writeFixture(t)
	return Request{
		JobID:             "job-1",
		Stage:             StageBaseline,
		Mode:              mode,
		ManifestPath:      filepath.Join(root, "manifest.yaml"),
		MasterAccountName: "primary",
	}
}

func TestBeginParallelSubmitsAndPaces(t *testing.T) {
	f := newTestTrigger(t)

	token, arns, err := f.trigger.begin(context.Background(), baselineRequest(t, ModeParallel))
	require.NoError(t, err)
	require.Len(t, arns, 2)

	assert.Equal(t, "arn:exec:1,arn:exec:2", f.store.values[token])
	assert.Equal(t, 1, f.sleeps) // one pause between the two submissions
	assert.Equal(t, arns, f.recorder.submitted)
	assert.Equal(t, "Create-AWS-Landing-Zone-security-baseline-20260115T120000Z", f.machines.names[0])
}

func TestBeginParallelSkipsNoOp(t *testing.T) {
	f := newTestTrigger(t)
	f.noop.matching["AWS-Landing-Zone-security-baseline"] = true
	f.noop.matching["AWS-Landing-Zone-logging-baseline"] = true

	token, arns, err := f.trigger.begin(context.Background(), baselineRequest(t, ModeParallel))
	require.NoError(t, err)
	assert.Empty(t, arns)
	assert.Empty(t, f.machines.started)
	assert.Equal(t, PassSentinel, f.store.values[token])
}

func TestHandleStartContinuesLater(t *testing.T) {
	f := newTestTrigger(t)

	require.NoError(t, f.trigger.Handle(context.Background(), baselineRequest(t, ModeParallel)))
	require.Len(t, f.pipeline.continued, 1)

	token := f.pipeline.continued[0]
	assert.Equal(t, "arn:exec:1,arn:exec:2", f.store.values[token])
}

func TestSequentialContinuation(t *testing.T) {
	f := newTestTrigger(t)
	ctx := context.Background()

	// start phase submits the first resource and defers the second
	token, arns, err := f.trigger.begin(ctx, baselineRequest(t, ModeSequential))
	require.NoError(t, err)
	require.Equal(t, []string{"arn:exec:1"}, arns)
	assert.Contains(t, f.store.values, "/"+token+"/101")

	resume := Request{JobID: "job-1", Token: token, Stage: StageBaseline, Mode: ModeSequential}

	// first execution still running: re-arm
	require.NoError(t, f.trigger.Handle(ctx, resume))
	assert.Equal(t, []string{token}, f.pipeline.continued)

	// first execution done: pop and submit the deferred input
	f.machines.statuses["arn:exec:1"] = "SUCCEEDED"
	require.NoError(t, f.trigger.Handle(ctx, resume))
	require.Len(t, f.machines.started, 2)
	assert.Equal(t, "AWS-Landing-Zone-logging-baseline", f.machines.started[1].Properties().StackSetName)
	assert.Equal(t, "arn:exec:2", f.store.values[token])
	assert.NotContains(t, f.store.values, "/"+token+"/101")

	// everything finished: close the stage out
	f.machines.statuses["arn:exec:2"] = "SUCCEEDED"
	require.NoError(t, f.trigger.Handle(ctx, resume))
	assert.Equal(t, []string{"job-1"}, f.pipeline.successes)
	assert.NotContains(t, f.store.values, token)
	assert.Equal(t, "SUCCEEDED", f.recorder.outcomes["arn:exec:1"])
	assert.Equal(t, "SUCCEEDED", f.recorder.outcomes["arn:exec:2"])
}

func TestResumeFailureClearsState(t *testing.T) {
	f := newTestTrigger(t)
	ctx := context.Background()

	require.NoError(t, f.trigger.continuations.SaveARNs(ctx, "tok", []string{"arn:exec:9"}))
	require.NoError(t, f.trigger.continuations.SaveDeferred(ctx, "tok", []*event.Event{{}}))
	f.machines.statuses["arn:exec:9"] = "FAILED"

	err := f.trigger.Handle(ctx, Request{JobID: "job-1", Token: "tok", Stage: StageBaseline, Mode: ModeSequential})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arn:exec:9")

	require.Len(t, f.pipeline.failures, 1)
	assert.Contains(t, f.pipeline.failures[0], "arn:exec:9")
	assert.NotContains(t, f.store.values, "tok")
	assert.NotContains(t, f.store.values, "/tok/101")
}

func TestResumePassSentinel(t *testing.T) {
	f := newTestTrigger(t)
	ctx := context.Background()

	require.NoError(t, f.trigger.continuations.SaveARNs(ctx, "tok", nil))
	require.NoError(t, f.trigger.Handle(ctx, Request{JobID: "job-1", Token: "tok", Stage: StageBaseline, Mode: ModeParallel}))

	assert.Equal(t, []string{"job-1"}, f.pipeline.successes)
	assert.NotContains(t, f.store.values, "tok")
}

func TestResumeLostTokenFailsStage(t *testing.T) {
	f := newTestTrigger(t)

	err := f.trigger.Handle(context.Background(), Request{JobID: "job-1", Token: "gone", Stage: StageBaseline, Mode: ModeParallel})
	require.Error(t, err)
	require.Len(t, f.pipeline.failures, 1)
}

func TestBeginRejectsUnknownMode(t *testing.T) {
	f := newTestTrigger(t)

	req := baselineRequest(t, "eventually")
	_, _, err := f.trigger.begin(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eventually")
}

func TestBeginExtractsArtifactZip(t *testing.T) {
	f := newTestTrigger(t)
	ctx := context.Background()

	// minimal manifest nested the way CodePipeline artifacts package it
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("aws-landing-zone-configuration/manifest.yaml")
	require.NoError(t, err)
	_, err = w.Write([]byte("region: us-east-1\nversion: 2026-01-15\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.objects.Put(ctx, "artifacts", "config.zip", buf.Bytes()))

	token, arns, err := f.trigger.begin(ctx, Request{
		JobID:          "job-1",
		Stage:          StageCoreAccounts,
		Mode:           ModeParallel,
		ArtifactBucket: "artifacts",
		ArtifactKey:    "config.zip",
	})
	require.NoError(t, err)
	assert.Empty(t, arns)
	assert.Equal(t, PassSentinel, f.store.values[token])
}

func TestRunLocalReportsFailures(t *testing.T) {
	f := newTestTrigger(t)
	ctx := context.Background()

	done := false
	f.trigger.sleep = func(time.Duration) {
		// let the poll loop observe terminal states on its second pass
		if !done {
			f.machines.statuses["arn:exec:1"] = "SUCCEEDED"
			f.machines.statuses["arn:exec:2"] = "FAILED"
			done = true
		}
	}

	req := baselineRequest(t, ModeParallel)
	req.JobID = ""
	failed, err := f.trigger.RunLocal(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"arn:exec:2"}, failed)

	// continuation state is cleared on the way out
	for name := range f.store.values {
		assert.NotContains(t, name, "arn:exec")
	}
}
