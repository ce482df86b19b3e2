package trigger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
)

type memParams struct {
	values map[string]string
}

func newMemParams() *memParams {
	return &memParams{values: map[string]string{}}
}

func (m *memParams) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m.values[name]
	if !ok {
		return "", lzerrors.ErrParameterNotFound
	}
	return v, nil
}

func (m *memParams) PutParameter(_ context.Context, name, value, _ string) error {
	m.values[name] = value
	return nil
}

func (m *memParams) DeleteParameters(_ context.Context, names []string) error {
	for _, name := range names {
		delete(m.values, name)
	}
	return nil
}

func (m *memParams) ParametersByPath(_ context.Context, path string) ([]string, error) {
	var names []string
	for name := range m.values {
		if strings.HasPrefix(name, path) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

type memObjects struct {
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (m *memObjects) Put(_ context.Context, bucket, key string, body []byte) error {
	m.objects[bucket+"/"+key] = body
	return nil
}

func (m *memObjects) Get(_ context.Context, bucket, key string) ([]byte, bool, error) {
	body, ok := m.objects[bucket+"/"+key]
	return body, ok, nil
}

type fakeOrg struct {
	services.Organizations
	masterID    string
	masterEmail string
}

func (f *fakeOrg) DescribeOrganization(context.Context) (string, string, error) {
	return f.masterID, f.masterEmail, nil
}

// fakeMachines records submissions and answers polls from a scripted
// status map.
type fakeMachines struct {
	started  []*event.Event
	names    []string
	statuses map[string]string
}

func newFakeMachines() *fakeMachines {
	return &fakeMachines{statuses: map[string]string{}}
}

func (f *fakeMachines) StartExecution(_ context.Context, _, name string, input any) (string, error) {
	evt, ok := input.(*event.Event)
	if !ok {
		return "", fmt.Errorf("unexpected input type %T", input)
	}
	f.started = append(f.started, evt)
	f.names = append(f.names, name)
	arn := fmt.Sprintf("arn:exec:%d", len(f.started))
	if _, exists := f.statuses[arn]; !exists {
		f.statuses[arn] = "RUNNING"
	}
	return arn, nil
}

func (f *fakeMachines) DescribeExecution(_ context.Context, arn string) (services.ExecutionStatus, error) {
	status, ok := f.statuses[arn]
	if !ok {
		return services.ExecutionStatus{}, fmt.Errorf("unknown execution %s", arn)
	}
	return services.ExecutionStatus{Arn: arn, Status: status}, nil
}

type fakePipeline struct {
	successes []string
	failures  []string
	continued []string // continuation tokens
}

func (f *fakePipeline) PutJobSuccess(_ context.Context, jobID string) error {
	f.successes = append(f.successes, jobID)
	return nil
}

func (f *fakePipeline) PutJobFailure(_ context.Context, _, message string) error {
	f.failures = append(f.failures, message)
	return nil
}

func (f *fakePipeline) ContinueLater(_ context.Context, _, token string) error {
	f.continued = append(f.continued, token)
	return nil
}

// fakeNoOp reports a match for the stack sets listed in matching.
type fakeNoOp struct {
	matching map[string]bool
}

func (f *fakeNoOp) NoOp(_ context.Context, evt *event.Event) (bool, error) {
	return f.matching[evt.Properties().StackSetName], nil
}

type fakeRecorder struct {
	submitted []string
	outcomes  map[string]string
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{outcomes: map[string]string{}}
}

func (f *fakeRecorder) RecordSubmitted(_ context.Context, _, _, arn string) error {
	f.submitted = append(f.submitted, arn)
	return nil
}

func (f *fakeRecorder) RecordOutcome(_ context.Context, arn, status string) error {
	f.outcomes[arn] = status
	return nil
}
