package metrics

import (
	"testing"

	"github.com/cuemby/portod/pkg/types"
	"github.com/cuemby/portod/pkg/waiter"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeLister struct{ states map[string]types.ContainerState }

func (f fakeLister) States() map[string]types.ContainerState { return f.states }

func TestCollectContainerMetricsSetsGaugePerState(t *testing.T) {
	lister := fakeLister{states: map[string]types.ContainerState{
		"a": types.StateRunning,
		"b": types.StateRunning,
		"c": types.StateStopped,
	}}
	c := NewCollector(lister, nil, nil, nil)
	c.collectContainerMetrics()

	require.Equal(t, float64(2), testutil.ToFloat64(ContainersTotal.WithLabelValues(string(types.StateRunning))))
	require.Equal(t, float64(1), testutil.ToFloat64(ContainersTotal.WithLabelValues(string(types.StateStopped))))
}

func TestCollectWaiterMetricsReflectsRegistrySize(t *testing.T) {
	reg := waiter.NewRegistry()
	reg.Register(&waiter.Waiter{Patterns: []string{"*"}, Result: make(chan waiter.Result, 1)})
	reg.Register(&waiter.Waiter{Patterns: []string{"*"}, Result: make(chan waiter.Result, 1)})

	c := NewCollector(nil, nil, reg, nil)
	c.collectWaiterMetrics()

	require.Equal(t, float64(2), testutil.ToFloat64(WaitersActive))
}

func TestCollectorSkipsNilSubsystemsWithoutPanicking(t *testing.T) {
	c := NewCollector(nil, nil, nil, nil)
	require.NotPanics(t, c.collect)
}

type fakeEventQueue struct{ depth int }

func (f fakeEventQueue) Len() int { return f.depth }

func TestCollectEventQueueMetricsReflectsDepth(t *testing.T) {
	c := NewCollector(nil, nil, nil, fakeEventQueue{depth: 3})
	c.collectEventQueueMetrics()

	require.Equal(t, float64(3), testutil.ToFloat64(EventQueueDepth))
}
