package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/event"
	"github.com/cloudkeel/landingzone/internal/services"
)

// PassSentinel marks a stage that submitted nothing and is already complete.
const PassSentinel = "PASS"

// deferredBase offsets deferred-input indexes so they sort after any
// bookkeeping keys under the token path. The first deferred input for a
// token lands at /<token>/101.
const deferredBase = 100

// ContinuationStore persists the trigger's in-flight state between pipeline
// invocations: the comma-joined execution ARN list under <token>, and
// deferred sequential inputs as JSON under /<token>/<N>.
type ContinuationStore struct {
	store services.ParameterStore
}

// NewContinuationStore wraps the parameter store.
func NewContinuationStore(store services.ParameterStore) *ContinuationStore {
	return &ContinuationStore{store: store}
}

// SaveARNs records the ARNs submitted for this stage, or the PASS sentinel
// when nothing was submitted.
func (s *ContinuationStore) SaveARNs(ctx context.Context, token string, arns []string) error {
	value := PassSentinel
	if len(arns) > 0 {
		value = strings.Join(arns, ",")
	}
	return s.store.PutParameter(ctx, token, value, "")
}

// LoadARNs fetches the ARN list for a token. pass is true when the stage
// stored the PASS sentinel. A missing token maps to ErrContinuationLost.
func (s *ContinuationStore) LoadARNs(ctx context.Context, token string) (arns []string, pass bool, err error) {
	value, err := s.store.GetParameter(ctx, token)
	if err != nil {
		if errors.Is(err, lzerrors.ErrParameterNotFound) {
			return nil, false, fmt.Errorf("%w: %s", lzerrors.ErrContinuationLost, token)
		}
		return nil, false, err
	}
	if value == PassSentinel {
		return nil, true, nil
	}
	return strings.Split(value, ","), false, nil
}

// SaveDeferred persists inputs the sequential mode has not submitted yet,
// one JSON value per input, indexed from deferredBase+1 upward. Each input is
// cloned before it is written so the queue holds detached snapshots.
func (s *ContinuationStore) SaveDeferred(ctx context.Context, token string, inputs []*event.Event) error {
	for i, evt := range inputs {
		snapshot, err := evt.Clone()
		if err != nil {
			return fmt.Errorf("failed to snapshot deferred input: %w", err)
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal deferred input: %w", err)
		}
		name := deferredName(token, deferredBase+1+i)
		if err := s.store.PutParameter(ctx, name, string(data), ""); err != nil {
			return err
		}
	}
	return nil
}

// PopDeferred removes and returns the deferred input with the smallest
// index. ok is false when none remain.
func (s *ContinuationStore) PopDeferred(ctx context.Context, token string) (*event.Event, bool, error) {
	names, err := s.store.ParametersByPath(ctx, deferredPath(token))
	if err != nil {
		return nil, false, err
	}
	if len(names) == 0 {
		return nil, false, nil
	}

	sort.Slice(names, func(i, j int) bool {
		return deferredIndex(names[i]) < deferredIndex(names[j])
	})

	value, err := s.store.GetParameter(ctx, names[0])
	if err != nil {
		return nil, false, err
	}
	var evt event.Event
	if err := json.Unmarshal([]byte(value), &evt); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal deferred input %s: %w", names[0], err)
	}
	if err := s.store.DeleteParameters(ctx, names[:1]); err != nil {
		return nil, false, err
	}
	return &evt, true, nil
}

// Clear removes the token and every deferred input under it. The stage is
// closed once this returns.
func (s *ContinuationStore) Clear(ctx context.Context, token string) error {
	names, err := s.store.ParametersByPath(ctx, deferredPath(token))
	if err != nil {
		return err
	}
	return s.store.DeleteParameters(ctx, append(names, token))
}

func deferredPath(token string) string {
	return "/" + token + "/"
}

func deferredName(token string, index int) string {
	return deferredPath(token) + strconv.Itoa(index)
}

// deferredIndex parses the numeric suffix of a deferred parameter name.
// Unparseable names sort last.
func deferredIndex(name string) int {
	i := strings.LastIndex(name, "/")
	n, err := strconv.Atoi(name[i+1:])
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
