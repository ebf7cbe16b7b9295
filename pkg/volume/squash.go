package volume

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/portod/pkg/types"
	"golang.org/x/sys/unix"
)

// squashBackend loop-mounts Layers[0] as a squashfs image, then (unless
// the volume is read-only and has exactly that one layer) overlays the
// remaining layers on top with a writable upper directory, same as the
// overlay backend. Grounded on TVolumeSquashBackend.
type squashBackend struct{ baseBackend }

func (b *squashBackend) Configure(vol *types.Volume) error {
	if !overlaySupported() {
		return invalidProp("overlay not supported")
	}
	if !haveLayers(vol) {
		return invalidProp("squash backend requires image")
	}
	return nil
}

func (b *squashBackend) Build(ctx context.Context, vol *types.Volume) error {
	if len(vol.Layers) == 0 {
		return invalidProp("squash backend requires image")
	}
	dev, err := attachLoopDevice(vol.Layers[0], true)
	if err != nil {
		return err
	}
	vol.LoopDeviceIndex = dev

	lowerMount := vol.InternalPath + ".squash-lower"
	if err := os.MkdirAll(lowerMount, 0755); err != nil {
		detachLoopDevice(dev)
		return err
	}
	if err := unix.Mount(loopDevicePath(dev), lowerMount, "squashfs",
		unix.MS_RDONLY|unix.MS_NODEV|unix.MS_NOSUID, ""); err != nil {
		detachLoopDevice(dev)
		return fmt.Errorf("volume: mount squashfs %s: %w", lowerMount, err)
	}

	if vol.ReadOnly && len(vol.Layers) == 1 {
		if err := bindRemount(vol.InternalPath, lowerMount, readOnlyFlag(true)); err != nil {
			umountAll(lowerMount)
			detachLoopDevice(dev)
			return err
		}
		return nil
	}

	rest := &types.Volume{
		Id:           vol.Id,
		InternalPath: vol.InternalPath,
		StoragePath:  vol.StoragePath,
		Layers:       append([]string{lowerMount}, vol.Layers[1:]...),
		SpaceLimit:   vol.SpaceLimit,
		InodeLimit:   vol.InodeLimit,
		ReadOnly:     vol.ReadOnly,
	}
	ov := &overlayBackend{}
	if err := ov.Build(ctx, rest); err != nil {
		umountAll(lowerMount)
		detachLoopDevice(dev)
		return err
	}
	return nil
}

func (b *squashBackend) Destroy(ctx context.Context, vol *types.Volume) error {
	err := umountAll(vol.InternalPath)
	lowerMount := vol.InternalPath + ".squash-lower"
	umountAll(lowerMount)
	if vol.LoopDeviceIndex >= 0 {
		if derr := detachLoopDevice(vol.LoopDeviceIndex); derr != nil && err == nil {
			err = derr
		}
		vol.LoopDeviceIndex = -1
	}
	return err
}

func (b *squashBackend) Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error {
	dev, err := backingDevice(vol.StoragePath)
	if err != nil {
		return err
	}
	q := newProjectQuota(vol.StoragePath)
	q.projectID = projectIDFor(vol.Id)
	if !haveQuota(vol) {
		return q.Create(dev, projectIDFor(vol.Id))
	}
	return q.Resize(dev, spaceLimit, inodeLimit)
}

func (b *squashBackend) StatFS(vol *types.Volume) (StatFS, error) {
	return statPath(vol.InternalPath)
}
