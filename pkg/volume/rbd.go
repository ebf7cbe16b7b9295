package volume

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/types"
	"golang.org/x/sys/unix"
)

// rbdBackend formats ext4 on a Ceph RADOS block device, mapped and
// unmapped with the `rbd` CLI exactly as the original shells out to it.
// Storage is encoded as "id@pool/image". Grounded on TVolumeRbdBackend.
type rbdBackend struct{ baseBackend }

func (b *rbdBackend) Configure(vol *types.Volume) error {
	if _, _, _, err := parseRbdStorage(vol.StoragePath); err != nil {
		return err
	}
	return nil
}

func parseRbdStorage(storage string) (id, pool, image string, err error) {
	at := strings.SplitN(storage, "@", 2)
	if len(at) != 2 {
		return "", "", "", invalidProp("invalid rbd storage")
	}
	id = at[0]
	poolImage := strings.SplitN(at[1], "/", 2)
	if len(poolImage) != 2 {
		return "", "", "", invalidProp("invalid rbd storage")
	}
	return id, poolImage[0], poolImage[1], nil
}

func rbdMap(ctx context.Context, id, pool, image string) (string, error) {
	cmd := exec.CommandContext(ctx, "rbd", "--id="+id, "--pool="+pool, "map", image)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("volume: rbd map %s/%s: %w", pool, image, err)
	}
	return strings.TrimSpace(out.String()), nil
}

func rbdUnmap(ctx context.Context, device string) error {
	return runHelper(ctx, "rbd", "unmap", device)
}

func (b *rbdBackend) Build(ctx context.Context, vol *types.Volume) error {
	id, pool, image, err := parseRbdStorage(vol.StoragePath)
	if err != nil {
		return err
	}
	device, err := rbdMap(ctx, id, pool, image)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(device, "/dev/rbd") {
		rbdUnmap(ctx, device)
		return invalidProp("not an rbd device: %s", device)
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(device, "/dev/rbd"))
	if err != nil {
		rbdUnmap(ctx, device)
		return fmt.Errorf("volume: parse rbd device index from %s: %w", device, err)
	}
	vol.LoopDeviceIndex = idx

	if err := unix.Mount(device, vol.InternalPath, "ext4", readOnlyFlag(vol.ReadOnly), ""); err != nil {
		rbdUnmap(ctx, device)
		vol.LoopDeviceIndex = -1
		return fmt.Errorf("volume: mount rbd %s: %w", device, err)
	}
	return nil
}

func (b *rbdBackend) rbdDevice(vol *types.Volume) string {
	if vol.LoopDeviceIndex < 0 {
		return ""
	}
	return fmt.Sprintf("/dev/rbd%d", vol.LoopDeviceIndex)
}

func (b *rbdBackend) Destroy(ctx context.Context, vol *types.Volume) error {
	if vol.LoopDeviceIndex < 0 {
		return nil
	}
	device := b.rbdDevice(vol)
	err := umountAll(vol.InternalPath)
	if uerr := rbdUnmap(ctx, device); uerr != nil && err == nil {
		err = uerr
	}
	vol.LoopDeviceIndex = -1
	return err
}

func (b *rbdBackend) Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error {
	return portoerr.New(portoerr.NotSupported, "rbd backend doesn't support resize")
}

func (b *rbdBackend) StatFS(vol *types.Volume) (StatFS, error) {
	return statPath(vol.InternalPath)
}

func (b *rbdBackend) ClaimPlace(vol *types.Volume) string { return "rbd" }
