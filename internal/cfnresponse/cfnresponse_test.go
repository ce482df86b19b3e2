package cfnresponse

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkeel/landingzone/internal/event"
)

func TestSend(t *testing.T) {
	var (
		gotMethod string
		gotBody   map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
	}))
	defer server.Close()

	evt := &event.Event{
		ResponseURL:       server.URL,
		StackId:           "arn:aws:cloudformation:us-east-1:111122223333:stack/lz/abc",
		RequestId:         "req-1",
		LogicalResourceId: "StateMachineTrigger",
	}

	var sender Sender
	err := sender.Send(context.Background(), evt, StatusSuccess, "done", map[string]string{"OUId": "ou-abc1"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "SUCCESS", gotBody["Status"])
	assert.Equal(t, "done", gotBody["Reason"])
	assert.Equal(t, "req-1", gotBody["RequestId"])
	assert.Equal(t, "StateMachineTrigger", gotBody["LogicalResourceId"])
	// physical id falls back to the logical id when unset
	assert.Equal(t, "StateMachineTrigger", gotBody["PhysicalResourceId"])
	assert.Equal(t, map[string]any{"OUId": "ou-abc1"}, gotBody["Data"])
}

func TestSend_NoResponseURL(t *testing.T) {
	var sender Sender
	err := sender.Send(context.Background(), &event.Event{}, StatusSuccess, "done", nil)
	assert.NoError(t, err)
}

func TestSend_RejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	var sender Sender
	err := sender.Send(context.Background(), &event.Event{ResponseURL: server.URL}, StatusFailed, "boom", nil)
	assert.Error(t, err)
}
