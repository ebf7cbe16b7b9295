package container

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/types"
)

// PropertyFlags marks the access constraints a property.
type PropertyFlags uint

const (
	// PropReadOnly properties reject Set entirely.
	PropReadOnly PropertyFlags = 1 << iota
	// PropDynamic properties may be changed on a Running/Paused
	// container; others only while Stopped.
	PropDynamic
)

// PropertyDescriptor is one entry of the flat property table §9 calls
// for, grounded on property.hpp's TProperty hierarchy: a name, its
// access flags, typed get/set functions operating on the live
// Container, and the value reported when nothing was ever set.
type PropertyDescriptor struct {
	Name    string
	Flags   PropertyFlags
	Get     func(c *Container) (string, error)
	Set     func(c *Container, value string) error
	Default string
}

var propertyTable = map[string]*PropertyDescriptor{}

func register(d *PropertyDescriptor) { propertyTable[d.Name] = d }

func init() {
	register(&PropertyDescriptor{Name: "command", Flags: 0,
		Get: func(c *Container) (string, error) { return c.snapshotLocked().Command, nil },
		Set: func(c *Container, v string) error { c.mu.Lock(); c.data.Command = v; c.mu.Unlock(); return nil },
	})
	register(&PropertyDescriptor{Name: "cwd",
		Get: func(c *Container) (string, error) { return c.snapshotLocked().Cwd, nil },
		Set: func(c *Container, v string) error { c.mu.Lock(); c.data.Cwd = v; c.mu.Unlock(); return nil },
	})
	register(&PropertyDescriptor{Name: "root",
		Get: func(c *Container) (string, error) { return c.snapshotLocked().Root, nil },
		Set: func(c *Container, v string) error { c.mu.Lock(); c.data.Root = v; c.mu.Unlock(); return nil },
	})
	register(&PropertyDescriptor{Name: "root_readonly",
		Get: func(c *Container) (string, error) { return boolStr(c.snapshotLocked().RootReadOnly), nil },
		Set: setBool(func(c *Container, v bool) { c.data.RootReadOnly = v }),
	})
	register(&PropertyDescriptor{Name: "isolate", Flags: PropDynamic,
		Get: func(c *Container) (string, error) { return boolStr(c.snapshotLocked().Isolate), nil },
		Set: setBool(func(c *Container, v bool) { c.data.Isolate = v }),
	})
	register(&PropertyDescriptor{Name: "hostname",
		Get: func(c *Container) (string, error) { return c.snapshotLocked().Hostname, nil },
		Set: func(c *Container, v string) error { c.mu.Lock(); c.data.Hostname = v; c.mu.Unlock(); return nil },
	})
	register(&PropertyDescriptor{Name: "net",
		Get: func(c *Container) (string, error) { return string(c.snapshotLocked().NetMode), nil },
		Set: func(c *Container, v string) error {
			c.mu.Lock()
			c.data.NetMode = types.NetworkMode(v)
			c.mu.Unlock()
			return nil
		},
	})
	register(&PropertyDescriptor{Name: "private",
		Get: func(c *Container) (string, error) { return c.snapshotLocked().Private, nil },
		Set: func(c *Container, v string) error {
			if len(v) > 4096 {
				return portoerr.New(portoerr.InvalidValue, "private value exceeds 4096 bytes")
			}
			c.mu.Lock()
			c.data.Private = v
			c.mu.Unlock()
			return nil
		},
	})
	register(&PropertyDescriptor{Name: "weak",
		Get: func(c *Container) (string, error) { return boolStr(c.snapshotLocked().Weak), nil },
		Set: setBool(func(c *Container, v bool) { c.data.Weak = v }),
	})
	register(&PropertyDescriptor{Name: "aging_time", Flags: PropDynamic,
		Get: func(c *Container) (string, error) { return c.snapshotLocked().AgingTime.String(), nil },
		Set: func(c *Container, v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return portoerr.New(portoerr.InvalidValue, "bad duration %q", v)
			}
			c.mu.Lock()
			c.data.AgingTime = d
			c.mu.Unlock()
			return nil
		},
	})

	register(&PropertyDescriptor{Name: "memory_limit", Flags: PropDynamic,
		Get: func(c *Container) (string, error) { return itoa64(c.snapshotLocked().Limits.MemoryLimit), nil },
		Set: setLimit(func(l *types.ResourceLimits, v int64) { l.MemoryLimit = v }),
	})
	register(&PropertyDescriptor{Name: "memory_guarantee", Flags: PropDynamic,
		Get: func(c *Container) (string, error) { return itoa64(c.snapshotLocked().Limits.MemoryGuarantee), nil },
		Set: setLimit(func(l *types.ResourceLimits, v int64) { l.MemoryGuarantee = v }),
	})
	register(&PropertyDescriptor{Name: "cpu_limit", Flags: PropDynamic,
		Get: func(c *Container) (string, error) { return fmt.Sprintf("%g", c.snapshotLocked().Limits.CPULimit), nil },
		Set: func(c *Container, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return portoerr.New(portoerr.InvalidValue, "bad cpu_limit %q", v)
			}
			return applyLimit(c, func(l *types.ResourceLimits) { l.CPULimit = f })
		},
	})
	register(&PropertyDescriptor{Name: "thread_limit", Flags: PropDynamic,
		Get: func(c *Container) (string, error) { return itoa64(c.snapshotLocked().Limits.ThreadLimit), nil },
		Set: setLimit(func(l *types.ResourceLimits, v int64) { l.ThreadLimit = v }),
	})

	register(&PropertyDescriptor{Name: "state", Flags: PropReadOnly,
		Get: func(c *Container) (string, error) { return string(c.snapshotLocked().State), nil },
	})
	register(&PropertyDescriptor{Name: "exit_status", Flags: PropReadOnly,
		Get: func(c *Container) (string, error) { return itoa64(int64(c.snapshotLocked().ExitStatus)), nil },
	})
	register(&PropertyDescriptor{Name: "oom_killed", Flags: PropReadOnly,
		Get: func(c *Container) (string, error) { return boolStr(c.snapshotLocked().OomKilled), nil },
	})
	register(&PropertyDescriptor{Name: "respawn_count", Flags: PropReadOnly,
		Get: func(c *Container) (string, error) { return itoa64(int64(c.snapshotLocked().RespawnCount)), nil },
	})
	register(&PropertyDescriptor{Name: "memory_usage", Flags: PropReadOnly,
		Get: func(c *Container) (string, error) {
			c.mu.Lock()
			rt := c.rt
			c.mu.Unlock()
			if rt == nil || rt.cgroup == nil {
				return "0", nil
			}
			v, err := rt.cgroup.MemoryUsage()
			if err != nil {
				return "", err
			}
			return itoa64(int64(v)), nil
		},
	})
}

func (c *Container) snapshotLocked() types.Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.data.Clone()
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func itoa64(v int64) string { return strconv.FormatInt(v, 10) }

func setBool(apply func(c *Container, v bool)) func(c *Container, v string) error {
	return func(c *Container, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return portoerr.New(portoerr.InvalidValue, "bad boolean %q", v)
		}
		c.mu.Lock()
		apply(c, b)
		c.mu.Unlock()
		return nil
	}
}

func setLimit(apply func(l *types.ResourceLimits, v int64)) func(c *Container, v string) error {
	return func(c *Container, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return portoerr.New(portoerr.InvalidValue, "bad integer %q", v)
		}
		return applyLimit(c, func(l *types.ResourceLimits) { apply(l, n) })
	}
}

// applyLimit mutates the container's resource limits and, if a cgroup
// is attached (Running/Paused), pushes the new limits live, rolling
// back to the previous value on failure per §7's propagation policy.
func applyLimit(c *Container, mutate func(l *types.ResourceLimits)) error {
	c.mu.Lock()
	prev := c.data.Limits
	next := c.data.Limits
	mutate(&next)
	c.data.Limits = next
	rt := c.rt
	c.mu.Unlock()

	if rt == nil || rt.cgroup == nil {
		return nil
	}
	if err := rt.cgroup.SetLimits(next); err != nil {
		c.mu.Lock()
		c.data.Limits = prev
		c.mu.Unlock()
		return err
	}
	return nil
}

// legacyPrefixes lists the cgroup v2 controllers exposed via the
// "subsystem.knob" passthrough of property.hpp's TSysFsProperty.
var legacyPrefixes = map[string]bool{
	"memory": true, "cpu": true, "cpuset": true, "io": true,
	"pids": true, "freezer": true,
}

// GetProperty resolves both table-backed properties and the legacy
// "subsystem.knob" passthrough, grounded on TContainer::GetProperty.
func (c *Container) GetProperty(name string) (string, error) {
	if d, ok := propertyTable[name]; ok {
		return d.Get(c)
	}
	if subsystem, knob, ok := splitLegacy(name); ok {
		c.mu.Lock()
		rt := c.rt
		c.mu.Unlock()
		if rt == nil || rt.cgroup == nil {
			return "", portoerr.New(portoerr.InvalidState, "container is not running")
		}
		_ = subsystem
		return rt.cgroup.ReadKnob(knob)
	}
	return "", portoerr.New(portoerr.InvalidProperty, "unknown property %q", name)
}

// SetProperty validates state/flags and applies a property change,
// restoring state on failure; a dynamic property may be changed while
// Running/Paused, all others only while Stopped (§4.1).
func (c *Container) SetProperty(name, value string) error {
	d, ok := propertyTable[name]
	if !ok {
		if subsystem, knob, ok := splitLegacy(name); ok {
			c.mu.Lock()
			rt := c.rt
			c.mu.Unlock()
			if rt == nil || rt.cgroup == nil {
				return portoerr.New(portoerr.InvalidState, "container is not running")
			}
			_ = subsystem
			return rt.cgroup.WriteKnob(knob, value)
		}
		return portoerr.New(portoerr.InvalidProperty, "unknown property %q", name)
	}
	if d.Flags&PropReadOnly != 0 {
		return portoerr.New(portoerr.InvalidProperty, "property %q is read-only", name)
	}

	c.mu.Lock()
	state := c.data.State
	c.mu.Unlock()
	if state != types.StateStopped && d.Flags&PropDynamic == 0 {
		return portoerr.New(portoerr.InvalidState, "property %q can only be set while stopped", name)
	}
	return d.Set(c, value)
}

// splitLegacy recognizes "subsystem.knob" names whose subsystem half
// names a known cgroup v2 controller.
func splitLegacy(name string) (subsystem, knob string, ok bool) {
	idx := strings.IndexByte(name, '.')
	if idx <= 0 {
		return "", "", false
	}
	prefix := name[:idx]
	if !legacyPrefixes[prefix] {
		return "", "", false
	}
	return prefix, name, true
}
