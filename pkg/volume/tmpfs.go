package volume

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/portod/pkg/types"
	"golang.org/x/sys/unix"
)

// tmpfsBackend mounts a fresh tmpfs, optionally with transparent huge
// pages (huge=always) for the hugetmpfs variant. Grounded on
// TVolumeTmpfsBackend.
type tmpfsBackend struct {
	baseBackend
	huge bool
}

func (b *tmpfsBackend) Configure(vol *types.Volume) error {
	if vol.SpaceLimit == 0 {
		return invalidProp("tmpfs backend requires space_limit")
	}
	if haveStorage(vol) {
		return invalidProp("tmpfs backend doesn't support storage")
	}
	if haveLayers(vol) {
		return invalidProp("tmpfs backend doesn't support layers")
	}
	return nil
}

func (b *tmpfsBackend) options(spaceLimit, inodeLimit uint64) string {
	var opts []string
	if b.huge {
		opts = append(opts, "huge=always")
	}
	if spaceLimit != 0 {
		opts = append(opts, fmt.Sprintf("size=%d", spaceLimit))
	}
	if inodeLimit != 0 {
		opts = append(opts, fmt.Sprintf("nr_inodes=%d", inodeLimit))
	}
	return strings.Join(opts, ",")
}

func (b *tmpfsBackend) Build(ctx context.Context, vol *types.Volume) error {
	err := unix.Mount("porto_tmpfs_"+vol.Id, vol.InternalPath, "tmpfs",
		readOnlyFlag(vol.ReadOnly), b.options(vol.SpaceLimit, vol.InodeLimit))
	if err != nil {
		return fmt.Errorf("volume: mount tmpfs %s: %w", vol.InternalPath, err)
	}
	return nil
}

func (b *tmpfsBackend) Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error {
	err := unix.Mount("porto_tmpfs_"+vol.Id, vol.InternalPath, "tmpfs",
		unix.MS_REMOUNT|readOnlyFlag(vol.ReadOnly), b.options(spaceLimit, inodeLimit))
	if err != nil {
		return fmt.Errorf("volume: resize tmpfs %s: %w", vol.InternalPath, err)
	}
	return nil
}

func (b *tmpfsBackend) Destroy(ctx context.Context, vol *types.Volume) error {
	return umountAll(vol.InternalPath)
}

func (b *tmpfsBackend) StatFS(vol *types.Volume) (StatFS, error) {
	return statPath(vol.InternalPath)
}

func (b *tmpfsBackend) ClaimPlace(vol *types.Volume) string { return "tmpfs" }
