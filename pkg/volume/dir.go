package volume

import (
	"context"

	"github.com/cuemby/portod/pkg/types"
)

// dirBackend stores everything directly under the volume's own path;
// there is no separate storage, no quota, no layers. Grounded on
// TVolumeDirBackend in src/volume.cpp.
type dirBackend struct{ baseBackend }

func (b *dirBackend) Configure(vol *types.Volume) error {
	if haveQuota(vol) {
		return invalidProp("dir backend doesn't support quota")
	}
	if vol.ReadOnly {
		return invalidProp("dir backend doesn't support read_only")
	}
	if haveStorage(vol) {
		return invalidProp("dir backend doesn't support storage")
	}
	if haveLayers(vol) {
		return invalidProp("dir backend doesn't support layers")
	}
	vol.InternalPath = vol.Path
	vol.StoragePath = vol.Path
	return nil
}

func (b *dirBackend) Build(ctx context.Context, vol *types.Volume) error   { return nil }
func (b *dirBackend) Destroy(ctx context.Context, vol *types.Volume) error { return nil }

func (b *dirBackend) StatFS(vol *types.Volume) (StatFS, error) {
	return statPath(vol.Path)
}

func (b *dirBackend) ClaimPlace(vol *types.Volume) string { return "" }
