package volume

import (
	"context"

	"github.com/cuemby/portod/pkg/types"
)

// nativeBackend combines a project quota on the storage path with a
// bind mount into the volume's internal path: the quota enforces the
// space/inode cap, the bind mount is what a container actually sees.
// Grounded on TVolumeNativeBackend, the default backend when quota
// support is available on the configured place.
type nativeBackend struct{ baseBackend }

func (b *nativeBackend) Configure(vol *types.Volume) error {
	return nil
}

func (b *nativeBackend) Build(ctx context.Context, vol *types.Volume) error {
	if haveQuota(vol) {
		dev, err := backingDevice(vol.StoragePath)
		if err != nil {
			return err
		}
		q := newProjectQuota(vol.StoragePath)
		q.SpaceLimit, q.InodeLimit = vol.SpaceLimit, vol.InodeLimit
		if err := q.Create(dev, projectIDFor(vol.Id)); err != nil {
			return err
		}
	}
	return bindRemount(vol.InternalPath, vol.StoragePath, readOnlyFlag(vol.ReadOnly))
}

func (b *nativeBackend) Destroy(ctx context.Context, vol *types.Volume) error {
	err := umountAll(vol.InternalPath)
	if haveQuota(vol) {
		if dev, derr := backingDevice(vol.StoragePath); derr == nil {
			q := newProjectQuota(vol.StoragePath)
			q.projectID = projectIDFor(vol.Id)
			_ = q.Destroy(dev)
		}
	}
	return err
}

func (b *nativeBackend) Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error {
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

func (b *nativeBackend) StatFS(vol *types.Volume) (StatFS, error) {
	if haveQuota(vol) {
		return statPath(vol.StoragePath)
	}
	return statPath(vol.InternalPath)
}

func (b *nativeBackend) Check(vol *types.Volume) error {
	_, err := backingDevice(vol.StoragePath)
	return err
}
