package activity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lesleslie/oneiric/internal/activity"
)

func newTestStore(t *testing.T) *activity.Store {
	t.Helper()
	store, err := activity.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUnsetPairProceedsWithZeroValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	decision, err := store.ShouldAcceptWork(ctx, "service", "status")
	require.NoError(t, err)
	assert.Equal(t, activity.DecisionProceed, decision)
}

func TestPausedRejectsDrainingDefers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetPaused(ctx, "service", "status", true, "deploy window"))
	decision, err := store.ShouldAcceptWork(ctx, "service", "status")
	require.NoError(t, err)
	assert.Equal(t, activity.DecisionReject, decision)

	require.NoError(t, store.SetPaused(ctx, "service", "status", false, ""))
	require.NoError(t, store.SetDraining(ctx, "service", "status", true, "rolling restart"))
	decision, err = store.ShouldAcceptWork(ctx, "service", "status")
	require.NoError(t, err)
	assert.Equal(t, activity.DecisionDefer, decision)
}

func TestSnapshotAllAndGlobalCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "service", "status", true, false, "a"))
	require.NoError(t, store.Set(ctx, "service", "billing", false, true, ""))
	require.NoError(t, store.Set(ctx, "adapter", "cache", false, false, "noted but active"))

	all, err := store.SnapshotAll(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	counts, err := store.GlobalCounts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, activity.Counts{Paused: 1, Draining: 1, Noted: 2}, counts)

	serviceCounts, err := store.GlobalCounts(ctx, "service")
	require.NoError(t, err)
	assert.Equal(t, 1, serviceCounts.Paused)
	assert.Equal(t, 1, serviceCounts.Draining)
}

func TestOnChangeListenerFires(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var received []activity.State
	store.OnChange(func(s activity.State) { received = append(received, s) })

	require.NoError(t, store.Set(ctx, "task", "job", true, false, "paused for audit"))

	require.Len(t, received, 1)
	assert.True(t, received[0].Paused)
	assert.Equal(t, "paused for audit", received[0].Note)
}
