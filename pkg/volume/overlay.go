package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cuemby/portod/pkg/types"
	"golang.org/x/sys/unix"
)

// overlayBackend builds an overlayfs mount over the volume's declared
// layers, with an optional project quota on the upper/work storage.
// Grounded on TVolumeOverlayBackend: an upper and work directory are
// created under StoragePath, each declared layer is bind-mounted
// read-only under the volume's internal directory (deduplicated by
// (dev, ino) so the same imported layer used twice isn't mounted
// twice), and the result is combined with a single overlay mount.
type overlayBackend struct{ baseBackend }

func (b *overlayBackend) Configure(vol *types.Volume) error {
	if !overlaySupported() {
		return invalidProp("overlay not supported")
	}
	if !haveLayers(vol) {
		return invalidProp("overlay backend requires layers")
	}
	return nil
}

var overlaySupportedCache *bool

// overlaySupported probes the kernel once by attempting to mount
// overlay at an invalid target: EINVAL means the filesystem driver is
// present, ENODEV means it is not built in.
func overlaySupported() bool {
	if overlaySupportedCache != nil {
		return *overlaySupportedCache
	}
	err := unix.Mount("", "/", "overlay", unix.MS_SILENT, "")
	supported := err == unix.EINVAL
	overlaySupportedCache = &supported
	return supported
}

type devIno struct {
	dev uint64
	ino uint64
}

func (b *overlayBackend) Build(ctx context.Context, vol *types.Volume) error {
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

	upper := filepath.Join(vol.StoragePath, "upper")
	work := filepath.Join(vol.StoragePath, "work")
	if err := os.MkdirAll(upper, 0755); err != nil {
		return fmt.Errorf("volume: mkdir upper %s: %w", upper, err)
	}
	if err := os.RemoveAll(work); err != nil {
		return fmt.Errorf("volume: clear work %s: %w", work, err)
	}
	if err := os.MkdirAll(work, 0755); err != nil {
		return fmt.Errorf("volume: mkdir work %s: %w", work, err)
	}

	lowerDirs, cleanup, err := b.mountLowerLayers(vol)
	defer cleanup()
	if err != nil {
		return err
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s",
		strings.Join(lowerDirs, ":"), upper, work)
	err = unix.Mount("overlay", vol.InternalPath, "overlay", readOnlyFlag(vol.ReadOnly), opts)
	if err == unix.EINVAL && len(lowerDirs) >= 500 {
		return invalidProp("too many layers, kernel limit is 499 plus 1 for upper")
	}
	if err != nil {
		return fmt.Errorf("volume: mount overlay on %s: %w", vol.InternalPath, err)
	}
	return nil
}

// mountLowerLayers bind-mounts each declared layer read-only under the
// volume's internal directory, skipping any layer whose (dev, ino)
// matches one already mounted, and returns the paths in declared order
// for lowerdir (Layers[0] first), named L<n-1> down to L0 as in the
// original's numbering. The returned cleanup unmounts every layer
// mounted so far; Build defers it, so it runs after a successful
// overlay mount as well as on error.
func (b *overlayBackend) mountLowerLayers(vol *types.Volume) (dirs []string, cleanup func(), err error) {
	seen := make(map[devIno]bool)
	var mounted []string
	cleanup = func() {
		for i := len(mounted) - 1; i >= 0; i-- {
			umountAll(mounted[i])
		}
	}

	n := len(vol.Layers)
	for i, layer := range vol.Layers {
		var st syscall.Stat_t
		if serr := syscall.Stat(layer, &st); serr != nil {
			return nil, cleanup, fmt.Errorf("volume: stat layer %s: %w", layer, serr)
		}
		key := devIno{dev: uint64(st.Dev), ino: st.Ino}
		if seen[key] {
			continue
		}
		seen[key] = true

		id := fmt.Sprintf("L%d", n-i-1)
		target := filepath.Join(vol.InternalPath, "..", fmt.Sprintf(".overlay-%s-%s", vol.Id, id))
		if err := os.MkdirAll(target, 0700); err != nil {
			return nil, cleanup, fmt.Errorf("volume: mkdir layer mount %s: %w", target, err)
		}
		flags := unix.MS_RDONLY | unix.MS_NODEV | unix.MS_PRIVATE
		if err := unix.Mount(layer, target, "", uintptr(flags)|unix.MS_BIND, ""); err != nil {
			return nil, cleanup, fmt.Errorf("volume: bind layer %s: %w", layer, err)
		}
		if err := unix.Mount("", target, "", uintptr(flags)|unix.MS_REMOUNT|unix.MS_BIND, ""); err != nil {
			return nil, cleanup, fmt.Errorf("volume: remount layer %s: %w", layer, err)
		}
		mounted = append(mounted, target)
		dirs = append(dirs, target)
	}
	return dirs, cleanup, nil
}

func (b *overlayBackend) Destroy(ctx context.Context, vol *types.Volume) error {
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

func (b *overlayBackend) Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error {
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

func (b *overlayBackend) StatFS(vol *types.Volume) (StatFS, error) {
	if haveQuota(vol) {
		return statPath(vol.StoragePath)
	}
	return statPath(vol.InternalPath)
}

func (b *overlayBackend) Check(vol *types.Volume) error {
	if !haveQuota(vol) {
		return invalidProp("volume has no quota")
	}
	_, err := backingDevice(vol.StoragePath)
	return err
}
