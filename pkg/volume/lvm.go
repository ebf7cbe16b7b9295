package volume

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/portod/pkg/portoerr"
	"github.com/cuemby/portod/pkg/types"
	"golang.org/x/sys/unix"
)

// lvmSpec is the decoded form of a volume's StoragePath for the lvm
// backend: "[group][/name][@thin][:origin]". Grounded on
// TVolumeLvmBackend::Configure's manual parse of the same string.
type lvmSpec struct {
	group, name, thin, origin string
	persistent                bool
}

var lvmNameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+_.-"

func checkLvmName(name string) error {
	for _, c := range name {
		if !strings.ContainsRune(lvmNameChars, c) {
			return invalidProp("lvm character %q in name", c)
		}
	}
	return nil
}

func parseLvmStorage(storage, id, defaultGroup string) (lvmSpec, error) {
	var spec lvmSpec

	rest := storage
	if col := strings.Index(rest, ":"); col >= 0 {
		spec.origin = rest[col+1:]
		rest = rest[:col]
	}
	if at := strings.Index(rest, "@"); at >= 0 {
		spec.thin = rest[at+1:]
		rest = rest[:at]
	}
	if sep := strings.Index(rest, "/"); sep >= 0 {
		spec.name = rest[sep+1:]
		rest = rest[:sep]
	}
	spec.group = rest
	if spec.group == "" {
		spec.group = defaultGroup
	}

	spec.persistent = spec.name != ""
	if !spec.persistent {
		spec.name = "porto_lvm_" + id
	}

	for _, n := range []string{spec.group, spec.name, spec.thin, spec.origin} {
		if err := checkLvmName(n); err != nil {
			return spec, err
		}
	}
	if spec.group == "" {
		return spec, invalidProp("lvm volume group not set")
	}
	if spec.persistent && strings.HasPrefix(spec.name, "porto_") {
		return spec, invalidProp("reserved lvm volume name")
	}
	if strings.HasPrefix(spec.origin, "porto_") {
		return spec, invalidProp("origin is a temporary volume")
	}
	return spec, nil
}

func (s lvmSpec) device() string {
	return fmt.Sprintf("/dev/%s/%s", s.group, s.name)
}

// lvmBackend provisions an LVM logical volume (plain, thin, or a
// snapshot of an origin volume) and formats it ext4. Grounded on
// TVolumeLvmBackend.
type lvmBackend struct{ baseBackend }

func (b *lvmBackend) Configure(vol *types.Volume) error {
	spec, err := parseLvmStorage(vol.StoragePath, vol.Id, "")
	if err != nil {
		return err
	}
	if vol.SpaceLimit == 0 && !spec.persistent && spec.origin == "" {
		return invalidProp("lvm space_limit not set")
	}
	return nil
}

func (b *lvmBackend) Build(ctx context.Context, vol *types.Volume) error {
	spec, err := parseLvmStorage(vol.StoragePath, vol.Id, "")
	if err != nil {
		return err
	}
	device := spec.device()

	if !pathExists(device) || !spec.persistent {
		switch {
		case spec.origin != "":
			if err := runHelper(ctx, "lvm", "lvcreate", "--name", spec.name,
				"--snapshot", spec.group+"/"+spec.origin, "--setactivationskip", "n"); err != nil {
				return err
			}
		case spec.thin != "":
			if err := runHelper(ctx, "lvm", "lvcreate", "--name", spec.name, "--thin",
				"--virtualsize", strconv.FormatUint(vol.SpaceLimit, 10)+"B",
				spec.group+"/"+spec.thin); err != nil {
				return err
			}
		default:
			if err := runHelper(ctx, "lvm", "lvcreate", "--name", spec.name,
				"--size", strconv.FormatUint(vol.SpaceLimit, 10)+"B", spec.group); err != nil {
				return err
			}
		}

		if spec.origin == "" {
			journalOpt := "^has_journal"
			if spec.persistent {
				journalOpt = "has_journal"
			}
			if err := runHelper(ctx, "mkfs.ext4", "-q", "-m", "0", "-O", journalOpt, device); err != nil {
				return err
			}
		}
	}

	if err := unix.Mount(device, vol.InternalPath, "ext4", readOnlyFlag(vol.ReadOnly), ""); err != nil {
		return fmt.Errorf("volume: mount lvm device %s: %w", device, err)
	}
	return nil
}

func (b *lvmBackend) Destroy(ctx context.Context, vol *types.Volume) error {
	spec, err := parseLvmStorage(vol.StoragePath, vol.Id, "")
	if err != nil {
		return err
	}
	uerr := umountAll(vol.InternalPath)
	if !spec.persistent {
		if lerr := runHelper(ctx, "lvm", "lvremove", "-f", spec.device()); lerr != nil && uerr == nil {
			uerr = lerr
		}
	}
	return uerr
}

func (b *lvmBackend) Resize(ctx context.Context, vol *types.Volume, spaceLimit, inodeLimit uint64) error {
	return portoerr.New(portoerr.NotSupported, "lvm backend doesn't support online resize")
}

func (b *lvmBackend) StatFS(vol *types.Volume) (StatFS, error) {
	return statPath(vol.InternalPath)
}

func pathExists(path string) bool {
	var st unix.Stat_t
	return unix.Stat(path, &st) == nil
}
