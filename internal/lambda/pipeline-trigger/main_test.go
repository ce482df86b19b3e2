package main

import (
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobEvent(userParams, token string) events.CodePipelineJobEvent {
	return events.CodePipelineJobEvent{
		CodePipelineJob: events.CodePipelineJob{
			ID: "job-1",
			Data: events.CodePipelineData{
				ActionConfiguration: events.CodePipelineActionConfiguration{
					Configuration: events.CodePipelineConfiguration{
						UserParameters: userParams,
					},
				},
				InputArtifacts: []events.CodePipelineInputArtifact{
					{
						Name: "Configuration",
						Location: events.CodePipelineInputLocation{
							S3Location: events.CodePipelineS3Location{
								BucketName: "artifact-bucket",
								ObjectKey:  "pipeline/config.zip",
							},
						},
					},
				},
				ContinuationToken: token,
			},
		},
	}
}

func TestParseRequest(t *testing.T) {
	evt := jobEvent(`{"artifact":"Configuration","pipeline_stage":"core_resources","exec_mode":"sequential"}`, "tok-1")

	req, err := parseRequest(evt)
	require.NoError(t, err)
	assert.Equal(t, "job-1", req.JobID)
	assert.Equal(t, "tok-1", req.Token)
	assert.Equal(t, "core_resources", req.Stage)
	assert.Equal(t, "sequential", req.Mode)
	assert.Equal(t, "artifact-bucket", req.ArtifactBucket)
	assert.Equal(t, "pipeline/config.zip", req.ArtifactKey)
	assert.Equal(t, defaultMasterAccountName, req.MasterAccountName)
}

func TestParseRequest_MasterAccountNameOverride(t *testing.T) {
	evt := jobEvent(`{"artifact":"Configuration","pipeline_stage":"core_accounts","exec_mode":"parallel","master_account_name":"management"}`, "")

	req, err := parseRequest(evt)
	require.NoError(t, err)
	assert.Equal(t, "management", req.MasterAccountName)
	assert.Empty(t, req.Token)
}

func TestParseRequest_UnknownArtifact(t *testing.T) {
	evt := jobEvent(`{"artifact":"Missing","pipeline_stage":"core_resources","exec_mode":"parallel"}`, "")

	_, err := parseRequest(evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing")
}

func TestParseRequest_BadUserParameters(t *testing.T) {
	evt := jobEvent(`not-json`, "")

	_, err := parseRequest(evt)
	require.Error(t, err)
}
