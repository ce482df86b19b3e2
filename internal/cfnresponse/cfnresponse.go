// Package cfnresponse implements the CloudFormation custom-resource callback
// contract: a signed-URL HTTP PUT acknowledging success or failure of the
// request that started the state machine.
package cfnresponse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/cloudkeel/landingzone/internal/event"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

type response struct {
	Status             string            `json:"Status"`
	Reason             string            `json:"Reason"`
	PhysicalResourceId string            `json:"PhysicalResourceId"`
	StackId            string            `json:"StackId"`
	RequestId          string            `json:"RequestId"`
	LogicalResourceId  string            `json:"LogicalResourceId"`
	Data               map[string]string `json:"Data,omitempty"`
}

// Sender delivers custom-resource callbacks. The zero value uses
// http.DefaultClient.
type Sender struct {
	Client *http.Client
}

// Send PUTs the callback derived from the event. An event without a
// ResponseURL is not a custom-resource invocation and the call is a no-op.
func (s *Sender) Send(ctx context.Context, evt *event.Event, status, reason string, data map[string]string) error {
	if evt.ResponseURL == "" {
		return nil
	}

	physicalID := evt.PhysicalResourceId
	if physicalID == "" {
		physicalID = evt.LogicalResourceId
	}
	body, err := json.Marshal(response{
		Status:             status,
		Reason:             reason,
		PhysicalResourceId: physicalID,
		StackId:            evt.StackId,
		RequestId:          evt.RequestId,
		LogicalResourceId:  evt.LogicalResourceId,
		Data:               data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal custom resource response: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, evt.ResponseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build custom resource response: %w", err)
	}
	req.Header.Set("Content-Type", "")
	req.ContentLength = int64(len(body))

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send custom resource response: %w", err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("custom resource response rejected with status %d", resp.StatusCode)
	}

	zerolog.Ctx(ctx).Info().
		Str("status", status).
		Str("request_id", evt.RequestId).
		Msg("sent custom resource response")

	return nil
}

// SendFailure reports a caught handler failure. Errors from the sink itself
// are logged and swallowed so the original failure still propagates.
func (s *Sender) SendFailure(ctx context.Context, evt *event.Event, reason string) {
	if err := s.Send(ctx, evt, StatusFailed, reason, nil); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to send failure response")
	}
}
