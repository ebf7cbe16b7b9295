package volume

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/types"
	"golang.org/x/sys/unix"
)

const loopAutoImage = "loop.img"

// loopBackend formats an ext4 image file and loop-mounts it. The
// filesystem build and resize are delegated to mkfs.ext4 and resize2fs,
// run as plain external helper processes by runHelper (no dedicated
// cgroup); the loop device itself is attached with the loop-control and
// LOOP_SET_FD ioctls directly (loopdev.go). Grounded on
// TVolumeLoopBackend.
type loopBackend struct{ baseBackend }

func loopImagePath(storage string) string {
	fi, err := os.Stat(storage)
	if err == nil && fi.Mode().IsRegular() {
		return storage
	}
	return filepath.Join(storage, loopAutoImage)
}

func (b *loopBackend) Configure(vol *types.Volume) error {
	image := loopImagePath(vol.StoragePath)
	if _, err := os.Stat(image); err != nil && vol.SpaceLimit == 0 {
		return invalidProp("loop backend requires space_limit")
	}
	return nil
}

func (b *loopBackend) Build(ctx context.Context, vol *types.Volume) error {
	image := loopImagePath(vol.StoragePath)

	if _, err := os.Stat(image); os.IsNotExist(err) {
		f, err := os.OpenFile(image, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return fmt.Errorf("volume: create loop image %s: %w", image, err)
		}
		if err := f.Truncate(int64(vol.SpaceLimit)); err != nil {
			f.Close()
			return fmt.Errorf("volume: truncate loop image %s: %w", image, err)
		}
		f.Close()
		if err := runHelper(ctx, "mkfs.ext4", "-q", "-F", "-m", "0",
			"-E", "nodiscard", "-O", "^has_journal", image); err != nil {
			os.Remove(image)
			return err
		}
	}

	dev, err := attachLoopDevice(image, vol.ReadOnly)
	if err != nil {
		return err
	}
	vol.LoopDeviceIndex = dev

	devPath := loopDevicePath(dev)
	flags := readOnlyFlag(vol.ReadOnly)
	if err := unix.Mount(devPath, vol.InternalPath, "ext4", flags, ""); err != nil {
		detachLoopDevice(dev)
		vol.LoopDeviceIndex = -1
		return fmt.Errorf("volume: mount loop %s on %s: %w", devPath, vol.InternalPath, err)
	}
	return nil
}

func (b *loopBackend) Destroy(ctx context.Context, vol *types.Volume) error {
	if vol.LoopDeviceIndex < 0 {
		return nil
	}
	err := umountAll(vol.InternalPath)
	if derr := detachLoopDevice(vol.LoopDeviceIndex); derr != nil && err == nil {
		err = derr
	}
	vol.LoopDeviceIndex = -1
	return err
}

func (b *loopBackend) Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error {
	if vol.ReadOnly {
		return portoerr.New(portoerr.Busy, "volume is read-only")
	}
	if vol.SpaceLimit < 512<<20 {
		return invalidProp("refusing to online resize loop volume with initial limit < 512M")
	}
	image := loopImagePath(vol.StoragePath)
	if err := os.Truncate(image, int64(spaceLimit)); err != nil {
		return fmt.Errorf("volume: truncate %s: %w", image, err)
	}
	devPath := loopDevicePath(vol.LoopDeviceIndex)
	if err := ioctlLoopSetCapacity(devPath); err != nil {
		return err
	}
	sizeK := fmt.Sprintf("%dK", spaceLimit>>10)
	return runHelper(ctx, "resize2fs", devPath, sizeK)
}

func (b *loopBackend) StatFS(vol *types.Volume) (StatFS, error) {
	return statPath(vol.InternalPath)
}

func loopDevicePath(index int) string {
	return fmt.Sprintf("/dev/loop%d", index)
}

func runHelper(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("volume: %s %v: %w: %s", name, args, err, out)
	}
	return nil
}
