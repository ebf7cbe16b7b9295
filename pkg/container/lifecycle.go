package container

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cuemby/portod/pkg/cgroup"
	"github.com/cuemby/portod/pkg/namespace"
	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/types"
)

// runtime is the process-facing half of a Container: the cgroup and
// the spawned *exec.Cmd, kept off types.Container since neither is
// wire-serializable. Grounded on TContainer's TTask/TCgroup members in
// container.cpp, split the same way the data record and the live
// process handle are split there.
type runtime struct {
	cgroup *cgroup.Group
	cmd    *exec.Cmd
}

// Start drives Stopped/Dead -> Starting -> Running|Meta, grounded on
// TContainer::Start (container.cpp): prepare the cgroup and namespace
// plan, fork the task, record its pid, and flip to Running (or Meta
// for a commandless container, which never spawns a task).
func (c *Container) Start() error {
	if err := c.Lock(false, false); err != nil {
		return err
	}
	defer c.Unlock()

	c.mu.Lock()
	state := c.data.State
	c.mu.Unlock()
	if state != types.StateStopped && state != types.StateDead {
		return portoerr.New(portoerr.InvalidState, "cannot start container in state %s", state)
	}

	c.mu.Lock()
	c.data.State = types.StateStarting
	snap := *c.data.Clone()
	c.mu.Unlock()

	if snap.Command == "" {
		c.mu.Lock()
		c.data.State = types.StateMeta
		c.data.StartTime = time.Now()
		c.data.RealStartTime = c.data.StartTime
		c.mu.Unlock()
		return nil
	}

	grp, err := cgroup.Create(snap.Name, snap.Limits)
	if err != nil {
		c.mu.Lock()
		c.data.State = types.StateStopped
		c.mu.Unlock()
		return err
	}

	pid, cmd, err := c.startTask(&snap, grp)
	if err != nil {
		grp.Destroy()
		c.mu.Lock()
		c.data.State = types.StateStopped
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.rt = &runtime{cgroup: grp, cmd: cmd}
	c.data.Task = pid
	c.data.WaitTask = pid
	c.data.State = types.StateRunning
	c.data.StartTime = time.Now()
	c.data.RealStartTime = c.data.StartTime
	c.data.ExitStatus = 0
	c.data.OomKilled = false
	c.mu.Unlock()
	return nil
}

// startTask builds the task's process attributes from the container's
// declared namespace/capability/env configuration and starts it,
// mirroring TContainer::StartTask's env/namespace/cgroup-join pipeline
// but expressed as an exec.Cmd + SysProcAttr, the idiomatic Go shape
// for the same clone(2)/execve(2) sequence.
func (c *Container) startTask(snap *types.Container, grp *cgroup.Group) (int, *exec.Cmd, error) {
	cmd := exec.Command("/bin/sh", "-c", snap.Command)
	cmd.Env = append(append([]string(nil), os.Environ()...), snap.Env...)
	cmd.Env = append(cmd.Env, "container="+snap.Name)
	if snap.Cwd != "" {
		cmd.Dir = snap.Cwd
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: namespace.Flags(snap),
		Setpgid:    true,
	}
	if snap.Root != "" && snap.Root != "/" {
		cmd.SysProcAttr.Chroot = snap.Root
	}
	if snap.OwnerCred.Uid != 0 {
		cmd.SysProcAttr.Credential = &syscall.Credential{Uid: snap.TaskCred.Uid, Gid: snap.TaskCred.Gid}
	}

	if err := cmd.Start(); err != nil {
		return 0, nil, portoerr.Wrapf(portoerr.Unknown, err, "start task for %s", snap.Name)
	}
	if err := grp.AddProc(cmd.Process.Pid); err != nil {
		cmd.Process.Kill()
		return 0, nil, err
	}
	return cmd.Process.Pid, cmd, nil
}

// Terminate drives one container from Running/Meta/Paused toward Dead
// by signal escalation, grounded on TContainer::Terminate: SIGTERM
// first, SIGKILL after the deadline if the task hasn't exited.
func (c *Container) Terminate(deadline time.Duration) error {
	c.mu.Lock()
	state := c.data.State
	rt := c.rt
	pid := c.data.Task
	c.mu.Unlock()

	if state != types.StateRunning && state != types.StateMeta && state != types.StatePaused {
		return nil
	}
	if pid == 0 {
		return nil
	}

	if state == types.StatePaused && rt != nil && rt.cgroup != nil {
		rt.cgroup.Thaw()
	}

	syscall.Kill(pid, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		if rt != nil && rt.cmd != nil {
			rt.cmd.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(deadline):
		syscall.Kill(pid, syscall.SIGKILL)
		<-done
	}
	return nil
}

// Stop terminates a container and its descendants, children first,
// matching TContainer::Stop's "stop is issued to the whole subtree"
// behavior. It takes c's write lock once; that lock already excludes
// every operation on the descendants, so they are not locked again.
func (c *Container) Stop(deadline time.Duration) error {
	if err := c.Lock(false, false); err != nil {
		return err
	}
	defer c.Unlock()
	return c.stopLocked(deadline)
}

// stopLocked is Stop's body; the caller holds the write lock of c or of
// one of its ancestors.
func (c *Container) stopLocked(deadline time.Duration) error {
	c.mu.Lock()
	state := c.data.State
	children := make([]*Container, 0, len(c.children))
	for _, ch := range c.children {
		children = append(children, ch)
	}
	c.mu.Unlock()

	for _, ch := range children {
		if err := ch.stopLocked(deadline); err != nil {
			return err
		}
	}

	if state == types.StateStopped {
		return nil
	}

	if err := c.Terminate(deadline); err != nil {
		return err
	}

	c.mu.Lock()
	if c.rt != nil && c.rt.cgroup != nil {
		c.rt.cgroup.Destroy()
	}
	c.rt = nil
	c.data.State = types.StateStopped
	c.data.Task = 0
	c.data.WaitTask = 0
	c.data.StartTime = time.Time{}
	c.data.RealStartTime = time.Time{}
	c.mu.Unlock()
	return nil
}

// Pause freezes a Running/Meta container's cgroup, transitioning it to
// Paused, grounded on TContainer::Pause (container.cpp) which freezes
// the whole subtree at once via the freezer controller.
func (c *Container) Pause() error {
	if err := c.Lock(false, false); err != nil {
		return err
	}
	defer c.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data.State != types.StateRunning && c.data.State != types.StateMeta {
		return portoerr.New(portoerr.InvalidState, "cannot pause container in state %s", c.data.State)
	}
	if c.rt != nil && c.rt.cgroup != nil {
		if err := c.rt.cgroup.Freeze(); err != nil {
			return err
		}
	}
	c.data.State = types.StatePaused
	return nil
}

// Resume thaws a Paused container back to Running/Meta.
func (c *Container) Resume() error {
	if err := c.Lock(false, false); err != nil {
		return err
	}
	defer c.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data.State != types.StatePaused {
		return portoerr.New(portoerr.InvalidState, "cannot resume container in state %s", c.data.State)
	}
	if c.rt != nil && c.rt.cgroup != nil {
		if err := c.rt.cgroup.Thaw(); err != nil {
			return err
		}
	}
	if c.data.Task != 0 {
		c.data.State = types.StateRunning
	} else {
		c.data.State = types.StateMeta
	}
	return nil
}

// Kill sends an arbitrary signal to a Running container's task,
// grounded on TContainer::Kill, which rejects the call outside
// Running (Meta has no task to signal).
func (c *Container) Kill(sig syscall.Signal) error {
	c.mu.Lock()
	state := c.data.State
	pid := c.data.Task
	c.mu.Unlock()

	if state != types.StateRunning {
		return portoerr.New(portoerr.InvalidState, "cannot kill container in state %s", state)
	}
	if pid == 0 {
		return portoerr.New(portoerr.InvalidState, "container has no task")
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return portoerr.Wrapf(portoerr.Unknown, err, "kill pid %d", pid)
	}
	return nil
}

// Reap transitions a container whose task has exited from
// Running/Starting into Dead, recording exit status and OOM flag and
// clearing live-process bookkeeping, grounded on
// TContainer::ExitTree/Reap.
func (c *Container) Reap(status int, oomKilled bool) error {
	if err := c.Lock(false, false); err != nil {
		return err
	}
	defer c.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data.State != types.StateRunning && c.data.State != types.StateStarting {
		return nil
	}
	if c.rt != nil && c.rt.cgroup != nil {
		c.rt.cgroup.Destroy()
	}
	c.rt = nil
	c.data.State = types.StateDead
	c.data.ExitStatus = status
	c.data.OomKilled = oomKilled
	c.data.DeathTime = time.Now()
	c.data.Task = 0
	c.data.WaitTask = 0

	if c.data.Respawn.Enabled {
		c.data.RespawnCount++
		c.data.Respawn.RespawnCount = c.data.RespawnCount
	}
	return nil
}

// MayRespawn reports whether Reap scheduled this container for an
// automatic restart (§4.3's EventRespawn), used by the event loop to
// decide whether to re-enqueue an EventRespawn after a Reap.
func (c *Container) MayRespawn() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.data.Respawn.Enabled {
		return 0, false
	}
	if c.data.Respawn.MaxRespawns >= 0 && c.data.RespawnCount > c.data.Respawn.MaxRespawns {
		return 0, false
	}
	return c.data.Respawn.RespawnDelay, true
}
