// Package container implements the §4.1 container tree: the name
// registry, parent/child links, the per-container subtree lock, and
// the lifecycle operations (Create/Start/Stop/Pause/Resume/Kill/
// Destroy) that drive a Container through its state machine.
package container

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/types"
)

// maxNameLength and the allowed character set mirror the original's
// container-name validation (container.cpp ValidName): path-like names
// built from '/'-separated segments, each restricted to
// alphanumerics, '_', '-', '.', and the implicit self-container "/".
const maxNameLength = 200

// Container wraps a types.Container with the tree-structural state
// (parent/children pointers, the subtree lock) that doesn't belong in
// the plain data record the RPC layer serializes.
type Container struct {
	mu   sync.Mutex
	data types.Container

	lock     *subtreeLock
	parent   *Container
	children map[string]*Container

	limitSet bool // whether Caps.Limit was explicitly configured; no property sets it, so it stays false

	rt        *runtime // live process/cgroup handle, nil unless Running/Starting/Paused
	oomPending bool    // set by an OOM eventfd notification, consumed at Reap
}

// MarkOOM records that this container's memory cgroup reported an OOM
// kill; the flag is latched until the next Reap consumes it, matching
// §4.3's "OOM events at-most-once per eventfd notification but
// possibly more than once over a container's lifetime".
func (c *Container) MarkOOM() {
	c.mu.Lock()
	c.oomPending = true
	c.mu.Unlock()
}

// ConsumeOOMFlag reads and clears the pending OOM flag.
func (c *Container) ConsumeOOMFlag() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.oomPending
	c.oomPending = false
	return v
}

// Snapshot returns a deep-enough copy of the container's data, safe to
// hand out after releasing the subtree lock.
func (c *Container) Snapshot() types.Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.data.Clone()
}

func (c *Container) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Name
}

// Lock acquires the container's subtree lock for read or write use.
func (c *Container) Lock(forRead, tryLock bool) error {
	return c.lock.Lock(forRead, tryLock)
}

func (c *Container) Unlock() { c.lock.Unlock() }

// Tree is the process-wide name→Container registry plus the id
// allocator it shares with new containers. Grounded on the package-
// level TContainerHolder in container.cpp, folded into one struct per
// the spec's guidance against mutable globals.
type Tree struct {
	mu         sync.RWMutex
	byName     map[string]*Container
	root       *Container
	ids        *idAllocator
}

// idAllocator is a minimal stand-in used until pkg/idalloc is wired
// in by the engine; Tree only needs monotonically increasing ids for
// now.
type idAllocator struct {
	mu      sync.Mutex
	counter uint32
}

func (a *idAllocator) next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter++
	return a.counter
}

// NewTree builds a registry containing only the implicit root
// container ("/"), already in state Meta (it represents the host).
func NewTree() *Tree {
	t := &Tree{
		byName: make(map[string]*Container),
		ids:    &idAllocator{},
	}
	root := &Container{
		data:     types.Container{Id: 0, Name: "/", State: types.StateMeta},
		children: make(map[string]*Container),
	}
	root.lock = newSubtreeLock(nil)
	t.root = root
	t.byName["/"] = root
	return t
}

// ValidateName enforces the §4.1 name grammar: '/'-separated segments
// of [A-Za-z0-9_.-], total length bounded, no empty segments other
// than the root itself.
func ValidateName(name string) error {
	if name == "/" {
		return nil
	}
	if name == "" || len(name) > maxNameLength {
		return portoerr.New(portoerr.InvalidValue, "invalid container name %q", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" {
			return portoerr.New(portoerr.InvalidValue, "empty path segment in %q", name)
		}
		for _, r := range seg {
			ok := r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_' || r == '-' || r == '.'
			if !ok {
				return portoerr.New(portoerr.InvalidValue, "invalid character %q in container name %q", r, name)
			}
		}
	}
	return nil
}

// parentName returns the name of name's immediate parent in the tree,
// "/" for a top-level container.
func parentName(name string) string {
	idx := strings.LastIndex(name, "/")
	if idx <= 0 {
		return "/"
	}
	return name[:idx]
}

// Create registers a new Stopped container under its named parent,
// which must already exist. Grounded on TContainerHolder::Create.
func (t *Tree) Create(name string, owner types.Cred) (*Container, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[name]; exists {
		return nil, portoerr.New(portoerr.ContainerAlreadyExists, "container %q already exists", name)
	}

	parent, ok := t.byName[parentName(name)]
	if !ok {
		return nil, portoerr.New(portoerr.InvalidValue, "parent of %q does not exist", name)
	}

	c := &Container{
		data: types.Container{
			Id:        t.ids.next(),
			Name:      name,
			Parent:    parent.data.Name,
			Level:     parent.data.Level + 1,
			OwnerCred: owner,
			TaskCred:  owner,
			State:     types.StateStopped,
		},
		parent:   parent,
		children: make(map[string]*Container),
	}
	c.lock = newSubtreeLock(parent.lock)

	t.byName[name] = c
	parent.mu.Lock()
	parent.children[name] = c
	parent.mu.Unlock()

	if err := t.sanitize(c); err != nil {
		delete(t.byName, name)
		parent.mu.Lock()
		delete(parent.children, name)
		parent.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Get looks up a container by name.
func (t *Tree) Get(name string) (*Container, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byName[name]
	if !ok {
		return nil, portoerr.New(portoerr.ContainerDoesNotExist, "container %q does not exist", name)
	}
	return c, nil
}

// List returns every registered container name, sorted, matching the
// glob-free listing order the RPC layer presents to clients.
func (t *Tree) List() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns every container's current state, keyed by name, for
// the metrics collector's per-state gauge.
func (t *Tree) States() map[string]types.ContainerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]types.ContainerState, len(t.byName))
	for name, c := range t.byName {
		c.mu.Lock()
		out[name] = c.data.State
		c.mu.Unlock()
	}
	return out
}

// FindTaskContainer returns the name of the container whose task pid
// matches, the host's implicit root ("/") for any pid not owned by a
// known container, grounded on TContainerHolder::FindTaskContainer
// which falls back to the host container rather than erroring for an
// unowned pid.
func (t *Tree) FindTaskContainer(pid int) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for name, c := range t.byName {
		c.mu.Lock()
		task := c.data.Task
		c.mu.Unlock()
		if task == pid {
			return name, nil
		}
	}
	return "/", nil
}

// AccessLevel computes a container's effective access level as the
// minimum across itself and every ancestor (§4.4's originator rule).
func (t *Tree) AccessLevel(name string) (types.AccessLevel, error) {
	c, err := t.Get(name)
	if err != nil {
		return types.AccessNone, err
	}
	level := types.AccessInternal
	for _, ct := range c.chain() {
		ct.mu.Lock()
		l := ct.data.AccessLevel
		ct.mu.Unlock()
		if l == 0 {
			l = types.AccessNormal
		}
		if l < level {
			level = l
		}
	}
	return level, nil
}

// State returns name's current lifecycle state.
func (t *Tree) State(name string) (types.ContainerState, error) {
	c, err := t.Get(name)
	if err != nil {
		return "", err
	}
	return c.Snapshot().State, nil
}

// chain returns c and every ancestor up to (and including) the root.
func (c *Container) chain() []*Container {
	chain := []*Container{c}
	for p := c.parent; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	return chain
}

// sanitize recomputes c's capability set from its current chain.
// Must be called with t.mu held.
func (t *Tree) sanitize(c *Container) error {
	chain := c.chain()
	snaps := make([]*types.Container, len(chain))
	limitSet := make([]bool, len(chain))
	for i, ct := range chain {
		ct.mu.Lock()
		cp := ct.data
		snaps[i] = &cp
		limitSet[i] = ct.limitSet
		ct.mu.Unlock()
	}
	caps := sanitizeCapabilities(snaps, limitSet)
	if !validateAmbient(caps) {
		return portoerr.New(portoerr.InvalidValue, "ambient capabilities exceed bound/allowed set")
	}
	c.mu.Lock()
	c.data.Caps = caps
	c.mu.Unlock()
	return nil
}

// Destroy removes name from the registry. It only unregisters: it does
// not stop the container, and it does not remove descendants — a
// container that still has children is refused with InvalidState.
func (t *Tree) Destroy(name string) error {
	if name == "/" {
		return portoerr.New(portoerr.Permission, "cannot destroy the root container")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.byName[name]
	if !ok {
		return portoerr.New(portoerr.ContainerDoesNotExist, "container %q does not exist", name)
	}

	c.mu.Lock()
	hasChildren := len(c.children) > 0
	c.mu.Unlock()
	if hasChildren {
		return portoerr.New(portoerr.InvalidState, "container %q still has children", name)
	}

	c.lock.markDestroyed()
	delete(t.byName, name)
	if c.parent != nil {
		c.parent.mu.Lock()
		delete(c.parent.children, name)
		c.parent.mu.Unlock()
	}
	return nil
}

// ChildrenOf returns the direct children of name, sorted.
func (t *Tree) ChildrenOf(name string) ([]string, error) {
	c, err := t.Get(name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.children))
	for n := range c.children {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// String implements fmt.Stringer for debugging/log messages.
func (c *Container) String() string {
	return fmt.Sprintf("Container(%s)", c.Name())
}
