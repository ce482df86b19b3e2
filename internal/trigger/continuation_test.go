package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lzerrors "github.com/cloudkeel/landingzone/internal/errors"
	"github.com/cloudkeel/landingzone/internal/event"
)

func TestContinuationPassSentinel(t *testing.T) {
	store := newMemParams()
	cs := NewContinuationStore(store)
	ctx := context.Background()

	require.NoError(t, cs.SaveARNs(ctx, "tok", nil))
	assert.Equal(t, PassSentinel, store.values["tok"])

	arns, pass, err := cs.LoadARNs(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, pass)
	assert.Empty(t, arns)
}

func TestContinuationARNRoundTrip(t *testing.T) {
	store := newMemParams()
	cs := NewContinuationStore(store)
	ctx := context.Background()

	require.NoError(t, cs.SaveARNs(ctx, "tok", []string{"arn:1", "arn:2"}))
	assert.Equal(t, "arn:1,arn:2", store.values["tok"])

	arns, pass, err := cs.LoadARNs(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, pass)
	assert.Equal(t, []string{"arn:1", "arn:2"}, arns)
}

func TestContinuationLost(t *testing.T) {
	cs := NewContinuationStore(newMemParams())

	_, _, err := cs.LoadARNs(context.Background(), "gone")
	require.ErrorIs(t, err, lzerrors.ErrContinuationLost)
}

func TestDeferredPopOrder(t *testing.T) {
	store := newMemParams()
	cs := NewContinuationStore(store)
	ctx := context.Background()

	inputs := []*event.Event{
		{ResourceProperties: &event.ResourceProperties{StackSetName: "first"}},
		{ResourceProperties: &event.ResourceProperties{StackSetName: "second"}},
	}
	require.NoError(t, cs.SaveDeferred(ctx, "tok", inputs))
	assert.Contains(t, store.values, "/tok/101")
	assert.Contains(t, store.values, "/tok/102")

	evt, ok, err := cs.PopDeferred(ctx, "tok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", evt.Properties().StackSetName)

	evt, ok, err = cs.PopDeferred(ctx, "tok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", evt.Properties().StackSetName)

	_, ok, err = cs.PopDeferred(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeferredInputsAreDetachedSnapshots(t *testing.T) {
	store := newMemParams()
	cs := NewContinuationStore(store)
	ctx := context.Background()

	shared := &event.ResourceProperties{StackSetName: "lz-core-vpc", AccountList: []string{"111122223333"}}
	deferred := &event.Event{ResourceProperties: shared}
	require.NoError(t, cs.SaveDeferred(ctx, "tok", []*event.Event{deferred}))

	// later mutation of the live event must not reach the stored queue
	shared.StackSetName = "mutated"
	shared.AccountList[0] = "999999999999"

	evt, ok, err := cs.PopDeferred(ctx, "tok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lz-core-vpc", evt.Properties().StackSetName)
	assert.Equal(t, []string{"111122223333"}, evt.Properties().AccountList)
}

func TestClearRemovesTokenAndDeferred(t *testing.T) {
	store := newMemParams()
	cs := NewContinuationStore(store)
	ctx := context.Background()

	require.NoError(t, cs.SaveARNs(ctx, "tok", []string{"arn:1"}))
	require.NoError(t, cs.SaveDeferred(ctx, "tok", []*event.Event{{}}))
	require.NoError(t, cs.Clear(ctx, "tok"))

	assert.Empty(t, store.values)
}
