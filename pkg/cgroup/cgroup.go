// Package cgroup wraps the cgroup v2 unified hierarchy used to enforce
// a container's resource limits and to detect OOM kills, grounded on
// the controller-creation/attach/destroy shape of
// github.com/containerd/cgroups/v3's cgroup2.Manager, a dependency the
// example pack carries (moby-moby's execdriver configuration, though
// its own call sites were filtered from the retrieval pack) but never
// directly imports in any surviving source file.
package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	cgroupsv2 "github.com/containerd/cgroups/v3/cgroup2"
	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/types"
	specs "github.com/opencontainers/cgroups"
)

// fsRoot is the unified cgroup v2 mountpoint; a package variable so
// tests can point it at a scratch directory.
var fsRoot = "/sys/fs/cgroup"

// Slice is the cgroup path prefix every container's own cgroup is
// created under, mirroring the original's "porto%<name>" leaf naming
// inside a shared parent slice.
const Slice = "/porto.slice"

// Group wraps one container's cgroup2.Manager. Its oomFd field is never
// set by this package; no OOM eventfd is created here.
type Group struct {
	path    string
	mgr     *cgroupsv2.Manager
	oomFd   int
}

// pathFor returns the cgroup path for a container name, replacing '/'
// with '%' the way the original flattens nested container names into
// a single cgroup leaf (container.cpp's CgroupName).
func pathFor(name string) string {
	flat := name
	for i := 0; i < len(flat); i++ {
		if flat[i] == '/' {
			flat = flat[:i] + "%" + flat[i+1:]
		}
	}
	return filepath.Join(Slice, "porto%"+flat)
}

// Create sets up a new cgroup for name with the given resource limits
// applied, analogous to TCgroup::Create plus TCgroup::SetController in
// container.cpp/cgroup.cpp.
func Create(name string, limits types.ResourceLimits) (*Group, error) {
	path := pathFor(name)
	res := toResources(limits)

	mgr, err := cgroupsv2.NewManager(fsRoot, path, res)
	if err != nil {
		return nil, portoerr.Wrapf(portoerr.Unknown, err, "create cgroup %s", path)
	}
	return &Group{path: path, mgr: mgr}, nil
}

// toResources maps the daemon's resource-limit record onto the cgroup2
// controller resource struct, leaving fields at their zero value
// (unlimited) when the container didn't declare a bound.
func toResources(limits types.ResourceLimits) *specs.Resources {
	res := &specs.Resources{}
	if limits.MemoryLimit > 0 {
		res.Memory = &specs.Memory{Max: &limits.MemoryLimit}
	}
	if limits.MemoryGuarantee > 0 {
		res.Memory = ensureMemory(res.Memory)
		res.Memory.Low = &limits.MemoryGuarantee
	}
	if limits.CPULimit > 0 {
		period := uint64(100000)
		quota := int64(limits.CPULimit * float64(period))
		res.CPU = &specs.CPU{Max: specs.NewCPUMax(&quota, &period)}
	}
	if limits.ThreadLimit > 0 {
		max := limits.ThreadLimit
		res.Pids = &specs.Pids{Max: max}
	}
	return res
}

func ensureMemory(m *specs.Memory) *specs.Memory {
	if m == nil {
		return &specs.Memory{}
	}
	return m
}

// AddProc attaches pid to the cgroup, mirroring TCgroup::Attach.
func (g *Group) AddProc(pid int) error {
	if err := g.mgr.AddProc(uint64(pid)); err != nil {
		return portoerr.Wrapf(portoerr.Unknown, err, "attach pid %d to %s", pid, g.path)
	}
	return nil
}

// SetLimits updates the controller limits in place, used by SetProperty
// handlers that change a running container's resource bounds.
func (g *Group) SetLimits(limits types.ResourceLimits) error {
	if err := g.mgr.Update(toResources(limits)); err != nil {
		return portoerr.Wrapf(portoerr.Unknown, err, "update cgroup %s", g.path)
	}
	return nil
}

// MemoryUsage reads the current memory.current value for statistics
// reporting (§4.1's "memory_usage" read-only property).
func (g *Group) MemoryUsage() (uint64, error) {
	stat, err := g.mgr.Stat()
	if err != nil {
		return 0, portoerr.Wrapf(portoerr.Unknown, err, "stat cgroup %s", g.path)
	}
	if stat.Memory == nil {
		return 0, nil
	}
	return stat.Memory.Usage, nil
}

// Freeze and Thaw back the Pause/Resume RPC operations with the cgroup
// v2 freezer controller.
func (g *Group) Freeze() error { return wrap(g.mgr.Freeze(), "freeze", g.path) }
func (g *Group) Thaw() error   { return wrap(g.mgr.Thaw(), "thaw", g.path) }

func wrap(err error, verb, path string) error {
	if err == nil {
		return nil
	}
	return portoerr.Wrapf(portoerr.Unknown, err, "%s cgroup %s", verb, path)
}

// Kill sends SIGKILL to every process in the cgroup via the manager's
// cgroup.kill; it takes no signal argument.
func (g *Group) Kill() error {
	if err := g.mgr.Kill(); err != nil {
		return portoerr.Wrapf(portoerr.Unknown, err, "kill cgroup %s", g.path)
	}
	return nil
}

// Destroy removes the cgroup once every process inside has exited.
func (g *Group) Destroy() error {
	if err := g.mgr.Delete(); err != nil {
		return portoerr.Wrapf(portoerr.Unknown, err, "delete cgroup %s", g.path)
	}
	return nil
}

// String implements fmt.Stringer for log messages.
func (g *Group) String() string { return fmt.Sprintf("Cgroup(%s)", g.path) }

// ReadKnob reads a raw controller file out of the unified hierarchy
// directly, backing the legacy "subsystem.knob" property passthrough
// of §4.1 (property.hpp's TSysFsProperty), which predates the
// structured ResourceLimits fields and reads straight through to the
// controller file when the container is running.
func (g *Group) ReadKnob(knob string) (string, error) {
	data, err := os.ReadFile(filepath.Join(fsRoot, strings.TrimPrefix(g.path, "/"), knob))
	if err != nil {
		return "", portoerr.Wrapf(portoerr.InvalidProperty, err, "read knob %s", knob)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// WriteKnob writes a raw controller file, the mutating half of the
// legacy passthrough.
func (g *Group) WriteKnob(knob, value string) error {
	path := filepath.Join(fsRoot, strings.TrimPrefix(g.path, "/"), knob)
	if err := os.WriteFile(path, []byte(value), 0644); err != nil {
		return portoerr.Wrapf(portoerr.InvalidProperty, err, "write knob %s", knob)
	}
	return nil
}
