package metrics

import (
	"time"

	"github.com/cuemby/portod/pkg/types"
	"github.com/cuemby/portod/pkg/volume"
	"github.com/cuemby/portod/pkg/waiter"
)

// ContainerLister is the narrow view of the container registry the
// collector needs: every container's current state, by name. Defined
// here rather than depending on pkg/container directly so the
// collector can be unit tested against a fake without constructing a
// real tree.
type ContainerLister interface {
	States() map[string]types.ContainerState
}

// EventQueueLen is the narrow view of the event queue the collector
// needs for portod_event_queue_depth.
type EventQueueLen interface {
	Len() int
}

// Collector periodically samples the container tree, volume engine,
// waiter registry, and event queue into the package's Prometheus
// gauges, grounded on the teacher's poll-and-set Collector in shape
// (Start/Stop/collect on a ticker) though its per-metric sources are
// entirely new.
type Collector struct {
	containers ContainerLister
	volumes    *volume.Engine
	waiters    *waiter.Registry
	events     EventQueueLen

	stopCh chan struct{}
}

// NewCollector builds a collector over the given subsystems. Any of
// volumes, waiters, and events may be nil if that subsystem isn't
// wired yet; their metrics are simply left unset.
func NewCollector(containers ContainerLister, volumes *volume.Engine, waiters *waiter.Registry, events EventQueueLen) *Collector {
	return &Collector{
		containers: containers,
		volumes:    volumes,
		waiters:    waiters,
		events:     events,
		stopCh:     make(chan struct{}),
	}
}

// Start begins collecting on a 15s interval, matching the teacher's
// polling period.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectContainerMetrics()
	c.collectVolumeMetrics()
	c.collectWaiterMetrics()
	c.collectEventQueueMetrics()
}

func (c *Collector) collectContainerMetrics() {
	if c.containers == nil {
		return
	}
	counts := make(map[types.ContainerState]int)
	for _, state := range c.containers.States() {
		counts[state]++
	}
	for _, state := range []types.ContainerState{
		types.StateStopped, types.StateStarting, types.StateRunning,
		types.StateMeta, types.StatePaused, types.StateDead, types.StateDestroyed,
	} {
		ContainersTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (c *Collector) collectVolumeMetrics() {
	if c.volumes == nil {
		return
	}
	counts := make(map[types.BackendKind]int)
	for _, v := range c.volumes.List() {
		counts[v.Backend]++
	}
	for backend, count := range counts {
		VolumesTotal.WithLabelValues(string(backend)).Set(float64(count))
	}
}

func (c *Collector) collectWaiterMetrics() {
	if c.waiters == nil {
		return
	}
	WaitersActive.Set(float64(c.waiters.Count()))
}

func (c *Collector) collectEventQueueMetrics() {
	if c.events == nil {
		return
	}
	EventQueueDepth.Set(float64(c.events.Len()))
}
