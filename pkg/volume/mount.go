package volume

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// bindRemount performs the two-stage bind-remount dance of §4.2: a
// plain bind mount only copies the mount's flags at the moment of
// mounting, so a second MS_REMOUNT|MS_BIND pass is required to apply
// read-only/nodev/nosuid/noexec flags onto the bind. Grounded on
// TPath::BindRemount from the original source (src/volume.cpp calls it
// for every backend whose Build is "just mount the storage path").
func bindRemount(target, source string, flags uintptr) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("volume: bind %s -> %s: %w", source, target, err)
	}
	remountFlags := unix.MS_BIND | unix.MS_REMOUNT | flags
	if err := unix.Mount(source, target, "", uintptr(remountFlags), ""); err != nil {
		unix.Unmount(target, unix.MNT_DETACH)
		return fmt.Errorf("volume: remount %s: %w", target, err)
	}
	return propagateSlaveShared(target)
}

// propagateSlaveShared marks target MS_PRIVATE first (detaching it from
// whatever propagation group it inherited), then MS_SLAVE|MS_SHARED so
// mounts performed inside a container's own mount namespace don't leak
// back to the host and host-side changes still propagate in, matching
// the spec's mandated MS_PRIVATE -> MS_SLAVE|MS_SHARED ordering.
func propagateSlaveShared(target string) error {
	if err := unix.Mount("", target, "", unix.MS_PRIVATE, ""); err != nil {
		return fmt.Errorf("volume: mark %s private: %w", target, err)
	}
	if err := unix.Mount("", target, "", unix.MS_SLAVE|unix.MS_SHARED, ""); err != nil {
		return fmt.Errorf("volume: mark %s slave+shared: %w", target, err)
	}
	return nil
}

// umountAll lazily unmounts target, tolerating "not mounted" so Destroy
// is idempotent against a partially-built volume.
func umountAll(target string) error {
	err := unix.Unmount(target, unix.MNT_DETACH)
	if err != nil && err != unix.EINVAL && err != unix.ENOENT {
		return fmt.Errorf("volume: unmount %s: %w", target, err)
	}
	return nil
}

// readOnlyFlag returns MS_RDONLY when vol is declared read-only, else 0.
func readOnlyFlag(readOnly bool) uintptr {
	if readOnly {
		return unix.MS_RDONLY
	}
	return 0
}
