package volume

import "hash/fnv"

// projectIDFor derives a stable 32-bit project id from a volume id, so
// repeated Resize/Destroy calls across daemon restarts address the same
// kernel-side project without needing a separate persisted mapping.
// Project ids below 1000 are reserved by convention for the host, so
// the hash is folded into the upper range.
func projectIDFor(volumeID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(volumeID))
	return 1000 + (h.Sum32() % (1<<31 - 1000))
}
