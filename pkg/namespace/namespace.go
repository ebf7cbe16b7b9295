// Package namespace creates and joins the Linux namespaces a container
// isolates via its VirtMode/Isolate/NetMode properties, grounded on
// original_source/src/namespace.cpp's TNamespaceFd/Unshare helpers,
// implemented directly on golang.org/x/sys/unix the way that original
// wraps the raw unshare(2)/setns(2)/clone(2) syscalls rather than
// delegating to a container runtime library.
package namespace

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cuemby/portod/pkg/types"
)

// Flags computes the CLONE_NEW* flag word for a container's declared
// isolation properties, mirroring TContainer::PrepareNamespace.
func Flags(c *types.Container) uintptr {
	var flags uintptr
	if c.Isolate {
		flags |= unix.CLONE_NEWPID
	}
	if c.NetMode != types.NetworkInherited && c.NetMode != "" {
		flags |= unix.CLONE_NEWNET
	}
	if c.Root != "" && c.Root != "/" {
		flags |= unix.CLONE_NEWNS
	}
	if c.Hostname != "" {
		flags |= unix.CLONE_NEWUTS
	}
	if c.PortoNamespace != "" {
		flags |= unix.CLONE_NEWIPC
	}
	return flags
}

// Unshare detaches the calling thread from the namespaces selected by
// flags. Must be called from a locked OS thread (runtime.LockOSThread)
// since namespace membership is per-thread.
func Unshare(flags uintptr) error {
	if err := unix.Unshare(int(flags)); err != nil {
		return fmt.Errorf("unshare %#x: %w", flags, err)
	}
	return nil
}

// FD represents an open handle to one of a running process's
// /proc/<pid>/ns/<kind> namespace files, used to re-enter a container's
// namespace from a different thread (e.g. for Enter RPCs).
type FD struct {
	kind string
	f    *os.File
}

// Open returns a handle to pid's namespace of the given kind ("pid",
// "net", "mnt", "uts", "ipc", "user").
func Open(pid int, kind string) (*FD, error) {
	path := fmt.Sprintf("/proc/%d/ns/%s", pid, kind)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open namespace %s of pid %d: %w", kind, pid, err)
	}
	return &FD{kind: kind, f: f}, nil
}

// Enter calls setns(2) against the held namespace file descriptor for
// the calling (locked) OS thread.
func (n *FD) Enter() error {
	if err := unix.Setns(int(n.f.Fd()), 0); err != nil {
		return fmt.Errorf("setns %s: %w", n.kind, err)
	}
	return nil
}

// Close releases the namespace file descriptor.
func (n *FD) Close() error { return n.f.Close() }
