package volume

import (
	"context"

	"github.com/cuemby/portod/pkg/types"
	"golang.org/x/sys/unix"
)

// plainBackend is a single non-recursive bind mount of the volume's
// storage path. Grounded on TVolumePlainBackend.
type plainBackend struct{ baseBackend }

func (b *plainBackend) Configure(vol *types.Volume) error {
	if haveQuota(vol) {
		return invalidProp("plain backend doesn't support quota")
	}
	return nil
}

func (b *plainBackend) Build(ctx context.Context, vol *types.Volume) error {
	return bindRemount(vol.InternalPath, vol.StoragePath, readOnlyFlag(vol.ReadOnly))
}

func (b *plainBackend) Destroy(ctx context.Context, vol *types.Volume) error {
	return umountAll(vol.InternalPath)
}

func (b *plainBackend) StatFS(vol *types.Volume) (StatFS, error) {
	return statPath(vol.InternalPath)
}

// bindBackend implements both bind and rbind; rbind additionally
// recurses into submounts of the storage path (MS_REC in the original).
// Grounded on TVolumeBindBackend / TVolumeRBindBackend.
type bindBackend struct {
	baseBackend
	recursive bool
}

func (b *bindBackend) Configure(vol *types.Volume) error {
	if !haveStorage(vol) {
		kind := "bind"
		if b.recursive {
			kind = "rbind"
		}
		return invalidProp("%s backend requires storage", kind)
	}
	if haveQuota(vol) {
		return invalidProp("bind backend doesn't support quota")
	}
	if haveLayers(vol) {
		return invalidProp("bind backend doesn't support layers")
	}
	return nil
}

func (b *bindBackend) Build(ctx context.Context, vol *types.Volume) error {
	flags := readOnlyFlag(vol.ReadOnly)
	if b.recursive {
		flags |= unix.MS_REC
	}
	return bindRemount(vol.InternalPath, vol.StoragePath, flags)
}

func (b *bindBackend) Destroy(ctx context.Context, vol *types.Volume) error {
	return umountAll(vol.InternalPath)
}

func (b *bindBackend) StatFS(vol *types.Volume) (StatFS, error) {
	return statPath(vol.InternalPath)
}

func (b *bindBackend) ClaimPlace(vol *types.Volume) string { return "" }
