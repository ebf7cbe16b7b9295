package engine

import (
	"time"

	"github.com/cuemby/portod/pkg/metrics"
	"github.com/cuemby/portod/pkg/types"
)

// registerEventHandlers wires the event queue's fixed set of tagged
// variants onto the container tree, grounded on the original's
// TEventQueue::Dispatch switch (event.cpp).
func (c *Context) registerEventHandlers() {
	c.Events.On(types.EventChildExit, c.onChildExit)
	c.Events.On(types.EventExit, c.onExit)
	c.Events.On(types.EventOOM, c.onOOM)
	c.Events.On(types.EventRespawn, c.onRespawn)
	c.Events.On(types.EventWaitTimeout, c.onWaitTimeout)
	c.Events.On(types.EventDestroyAgedContainer, c.onDestroyAged)
	c.Events.On(types.EventDestroyWeakContainer, c.onDestroyWeak)
	c.Events.On(types.EventRotateLogs, c.onRotateLogs)
	c.Events.On(types.EventNetworkWatchdog, c.onNetworkWatchdog)
}

// onChildExit fires when the supervisor forwards a (pid, status) pair
// off the reap-event fd; it finds the owning container and reaps it.
func (c *Context) onChildExit(ev types.Event) {
	name, err := c.Containers.FindTaskContainer(ev.Pid)
	if err != nil || name == "/" {
		return
	}
	ct, err := c.Containers.Get(name)
	if err != nil {
		return
	}
	oom := ct.ConsumeOOMFlag()
	if err := ct.Reap(ev.Status, oom); err != nil {
		return
	}
	c.Waiters.Notify(name, types.StateDead)
	if delay, ok := ct.MayRespawn(); ok {
		c.Events.ScheduleIn(types.Event{Type: types.EventRespawn, Container: name}, delay)
	}
}

// onExit handles a direct exit notification path (used when the
// engine itself, rather than the supervisor, observed the pid exit,
// e.g. during an in-process integration test harness).
func (c *Context) onExit(ev types.Event) {
	c.onChildExit(ev)
}

// onOOM marks a container's OOM flag when its eventfd fires; actual
// Reap only happens once the task has exited, keeping the ordering
// "OOM observed, then exit observed" the epoll loop delivers.
func (c *Context) onOOM(ev types.Event) {
	ct, err := c.Containers.Get(ev.Container)
	if err != nil {
		return
	}
	ct.MarkOOM()
	metrics.ContainersOOM.Inc()
}

// onRespawn restarts a Dead container whose respawn policy allowed it.
func (c *Context) onRespawn(ev types.Event) {
	ct, err := c.Containers.Get(ev.Container)
	if err != nil {
		return
	}
	ct.Start()
}

// onWaitTimeout expires a waiter that never saw a matching state
// transition within its deadline.
func (c *Context) onWaitTimeout(ev types.Event) {
	c.Waiters.Timeout(ev.WaiterId)
}

// onDestroyAged sweeps a container whose aging_time has elapsed since
// it went Dead, grounded on holder.cpp's periodic aging sweep.
func (c *Context) onDestroyAged(ev types.Event) {
	ct, err := c.Containers.Get(ev.Container)
	if err != nil {
		return
	}
	snap := ct.Snapshot()
	if snap.State != types.StateDead {
		return
	}
	c.Containers.Destroy(ev.Container)
}

// onDestroyWeak sweeps a weak container left behind by a disconnected
// client session.
func (c *Context) onDestroyWeak(ev types.Event) {
	ct, err := c.Containers.Get(ev.Container)
	if err != nil {
		return
	}
	if !ct.Snapshot().Weak {
		return
	}
	ct.Stop(c.Config.StopDeadline)
	c.Containers.Destroy(ev.Container)
}

// onRotateLogs is a self-rescheduling event: it reschedules itself a
// minute out, the same shape the original's log rotation timer uses.
// It does not rotate any container's stdout/stderr.
func (c *Context) onRotateLogs(ev types.Event) {
	c.Events.ScheduleIn(types.Event{Type: types.EventRotateLogs}, time.Minute)
}

// onNetworkWatchdog reschedules itself 30 seconds out, the same way
// onRotateLogs does; it does not inspect any container's network
// plumbing.
func (c *Context) onNetworkWatchdog(ev types.Event) {
	c.Events.ScheduleIn(types.Event{Type: types.EventNetworkWatchdog}, 30*time.Second)
}
