package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	name string
	runs atomic.Int64
	busy atomic.Bool
}

func (f *fakePipeline) Name() string { return f.name }

func (f *fakePipeline) RunCycle(ctx context.Context) bool {
	if !f.busy.CompareAndSwap(false, true) {
		return false
	}
	defer f.busy.Store(false)
	f.runs.Add(1)
	return true
}

func TestTriggerNow(t *testing.T) {
	p := &fakePipeline{name: "inventory"}
	s, err := New(map[string]time.Duration{"inventory": time.Hour}, p)
	require.NoError(t, err)
	defer s.Shutdown()

	started, err := s.TriggerNow("inventory")
	require.NoError(t, err)
	require.True(t, started)
	require.EqualValues(t, 1, p.runs.Load())
}

func TestTriggerNowUnknownPipeline(t *testing.T) {
	s, err := New(map[string]time.Duration{}, &fakePipeline{name: "inventory"})
	require.NoError(t, err)
	defer s.Shutdown()

	_, err = s.TriggerNow("orders")
	require.Error(t, err)

	require.True(t, s.Has("inventory"))
	require.False(t, s.Has("orders"))
}

func TestSchedulerRunsCycles(t *testing.T) {
	inv := &fakePipeline{name: "inventory"}
	ord := &fakePipeline{name: "orders"}
	s, err := New(map[string]time.Duration{
		"inventory": 10 * time.Millisecond,
		"orders":    10 * time.Millisecond,
	}, inv, ord)
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool {
		return inv.runs.Load() >= 1 && ord.runs.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Shutdown())
}
