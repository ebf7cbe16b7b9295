package container

import "github.com/cuemby/portod/pkg/types"

// Capability bit positions match the kernel's linux/capability.h
// numbering (also used by golang.org/x/sys/unix's CAP_* constants),
// kept as a local bitmask here since the sanitize algorithm only needs
// set arithmetic, not the syscalls those constants are normally paired
// with.
const (
	capChown        = 1 << 0
	capDacOverride  = 1 << 1
	capKill         = 1 << 5
	capSetuid       = 1 << 7
	capSetgid       = 1 << 6
	capNetAdmin     = 1 << 12
	capNetRaw       = 1 << 13
	capSysChroot    = 1 << 18
	capSysAdmin     = 1 << 21
	capSysResource  = 1 << 24
	capSysPtrace    = 1 << 19
	capMknod        = 1 << 27
	capAuditWrite   = 1 << 29
	capSetpcap      = 1 << 8
	capSysModule    = 1 << 16
	capSysTime      = 1 << 25
	capNetBindSvc   = 1 << 10
	capIpcLock      = 1 << 14
	capLinuxImmutable = 1 << 9
)

// hostCapBound is the full capability set a process outside any
// namespace/chroot restriction may hold — in practice every bit the
// running kernel defines (here, every bit used above plus the common
// remainder), standing in for src/util/capability.cpp's HostCapBound,
// which queries /proc/sys/kernel/cap_last_cap at startup.
const hostCapBound uint64 = (1 << 41) - 1

// hostCapAllowed is the subset of hostCapBound safe to hand to a
// non-root, non-chrooted, non-namespaced container by default —
// excludes capabilities that let a process affect the whole host
// (module loading, raw ptrace of arbitrary processes, time changes).
const hostCapAllowed uint64 = hostCapBound &^ (capSysModule | capSysPtrace | capSysTime | capSysAdmin)

// chrootCapBound further restricts what's available once a container
// has its own filesystem root: nothing that could let it affect
// processes or devices outside the chroot.
const chrootCapBound uint64 = hostCapAllowed &^ (capSysAdmin | capSysResource)

// pidNsCapabilities, memCgCapabilities, netNsCapabilities are the
// capability groups only meaningful (and only granted) when the
// container actually has the corresponding isolation: PID namespace,
// a memory cgroup limit, or network namespace isolation.
const (
	pidNsCapabilities = capSysPtrace | capKill
	memCgCapabilities = capSysResource
	netNsCapabilities = capNetAdmin | capNetRaw
)

// sanitizeCapabilities recomputes c.Caps.Bound and c.Caps.Allowed for
// the container at the head of chain (chain[0] is the container itself,
// chain[1:] its ancestors up to the root). limitSet[i] reports whether
// chain[i] has an explicitly configured CAPABILITIES property (as
// opposed to one inherited from a prior sanitize pass), matching the
// original's distinction between a user-set CapLimit and a derived one.
//
// Grounded line for line on TContainer::SanitizeCapabilities in
// container.cpp: a root-owned container is bound only by its own
// declared limit (or the full host set if it declared none); a
// non-root-owned container additionally intersects every ancestor's
// declared limit, then strips the PID/memory/network capability groups
// unless the corresponding isolation is actually in effect anywhere in
// the chain, and finally intersects with ChrootCapBound if any
// container in the chain has its own filesystem root.
func sanitizeCapabilities(chain []*types.Container, limitSet []bool) types.Capabilities {
	self := chain[0]
	hasOwnLimit := limitSet[0]
	var caps types.Capabilities

	if self.OwnerCred.Uid == 0 {
		if hasOwnLimit {
			caps.Bound = self.Caps.Limit
		} else {
			caps.Bound = hostCapBound
		}
		caps.Allowed = caps.Bound
		if !hasOwnLimit {
			caps.Limit = caps.Bound
		}
		return caps
	}

	var chroot, pidns, memcg, netns bool
	bound := hostCapBound
	for i, ct := range chain {
		chroot = chroot || (ct.Root != "" && ct.Root != "/")
		pidns = pidns || ct.Isolate
		memcg = memcg || ct.Limits.MemoryLimit > 0
		netns = netns || (ct.NetMode != "" && ct.NetMode != types.NetworkInherited)
		if limitSet[i] {
			bound &= ct.Caps.Limit
		}
	}

	var remove uint64
	if !pidns {
		remove |= pidNsCapabilities
	}
	if !memcg {
		remove |= memCgCapabilities
	}
	if !netns {
		remove |= netNsCapabilities
	}

	if chroot {
		caps.Bound = bound & chrootCapBound &^ remove
		caps.Allowed = caps.Bound
	} else {
		caps.Bound = bound
		caps.Allowed = hostCapAllowed & caps.Bound &^ remove
	}

	if !hasOwnLimit {
		caps.Limit = caps.Bound
	} else {
		caps.Limit = self.Caps.Limit
	}
	return caps
}

// validateAmbient enforces the invariant CapAmbient ⊆ Allowed ⊆ Bound.
func validateAmbient(caps types.Capabilities) bool {
	return caps.Ambient&^caps.Allowed == 0 && caps.Ambient&^caps.Bound == 0
}
