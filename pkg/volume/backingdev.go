package volume

import (
	"fmt"
	"strings"

	"github.com/moby/sys/mountinfo"
)

// backingDevice returns the mount source backing path, found by
// walking /proc/self/mountinfo for the longest mount point prefix of
// path. Project quota commands operate on the block device, not the
// directory, so every quota-capable backend resolves this once before
// calling into projectQuota.
func backingDevice(path string) (string, error) {
	infos, err := mountinfo.GetMounts(mountinfo.PrefixFilter(path))
	if err != nil {
		return "", fmt.Errorf("volume: read mountinfo for %s: %w", path, err)
	}
	best := ""
	bestLen := -1
	for _, mi := range infos {
		if !strings.HasPrefix(path, mi.Mountpoint) {
			continue
		}
		if len(mi.Mountpoint) > bestLen {
			bestLen = len(mi.Mountpoint)
			best = mi.Source
		}
	}
	if best == "" {
		return "", fmt.Errorf("volume: no mount found backing %s", path)
	}
	return best, nil
}
