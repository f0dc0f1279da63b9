package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerKeepsLatestStatus(t *testing.T) {
	tracker := NewTracker(nil)

	tracker.Publish(PipelineStatus{Pipeline: "inventory", State: StateRunning, LastRun: time.Now()})
	tracker.Publish(PipelineStatus{Pipeline: "inventory", State: StateIdle, Processed: 3, LastRun: time.Now()})
	tracker.Publish(PipelineStatus{Pipeline: "orders", State: StateError, Message: "connection reset", Failed: 1, LastRun: time.Now()})

	st, ok := tracker.Get("inventory")
	require.True(t, ok)
	require.Equal(t, StateIdle, st.State)
	require.Equal(t, 3, st.Processed)

	snap := tracker.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, StateError, snap["orders"].State)
	require.Equal(t, "connection reset", snap["orders"].Message)

	_, ok = tracker.Get("unknown")
	require.False(t, ok)
}
