package volume

import (
	"context"

	"github.com/cuemby/portod/pkg/types"
)

// quotaBackend stores data directly at the volume's own path, with a
// project quota as the only enforcement mechanism — no bind mount, no
// separate storage. Grounded on TVolumeQuotaBackend.
type quotaBackend struct{ baseBackend }

func (b *quotaBackend) Configure(vol *types.Volume) error {
	if !haveQuota(vol) {
		return invalidProp("quota backend requires space_limit")
	}
	if vol.ReadOnly {
		return invalidProp("quota backend doesn't support read_only")
	}
	if haveStorage(vol) {
		return invalidProp("quota backend doesn't support storage")
	}
	if haveLayers(vol) {
		return invalidProp("quota backend doesn't support layers")
	}
	vol.InternalPath = vol.Path
	vol.StoragePath = vol.Path
	return nil
}

func (b *quotaBackend) Build(ctx context.Context, vol *types.Volume) error {
	dev, err := backingDevice(vol.Path)
	if err != nil {
		return err
	}
	q := newProjectQuota(vol.Path)
	q.SpaceLimit, q.InodeLimit = vol.SpaceLimit, vol.InodeLimit
	return q.Create(dev, projectIDFor(vol.Id))
}

func (b *quotaBackend) Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error {
	dev, err := backingDevice(vol.Path)
	if err != nil {
		return err
	}
	q := newProjectQuota(vol.Path)
	q.projectID = projectIDFor(vol.Id)
	return q.Resize(dev, spaceLimit, inodeLimit)
}

func (b *quotaBackend) Destroy(ctx context.Context, vol *types.Volume) error {
	dev, err := backingDevice(vol.Path)
	if err != nil {
		return err
	}
	q := newProjectQuota(vol.Path)
	q.projectID = projectIDFor(vol.Id)
	return q.Destroy(dev)
}

func (b *quotaBackend) StatFS(vol *types.Volume) (StatFS, error) {
	return statPath(vol.Path)
}

func (b *quotaBackend) Check(vol *types.Volume) error {
	_, err := backingDevice(vol.Path)
	return err
}

func (b *quotaBackend) ClaimPlace(vol *types.Volume) string { return "" }
