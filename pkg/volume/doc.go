/*
Package volume implements the volume engine of §4.2: thirteen backend
kinds behind one Backend interface (Configure/Build/Destroy/Resize/
StatFS/Check/ClaimPlace), a registry of created volumes and their
container links, and place-level quota accounting.

# Backends

	dir, plain, bind, rbind   — pass through an existing directory/mount
	tmpfs, hugetmpfs          — in-memory, size-bounded
	quota, native             — project-quota enforced, optionally bind-mounted
	overlay, squash           — layer composition (imported images)
	loop, lvm, rbd            — block-device backed ext4

Engine.Create resolves the backend for a volume's declared Backend
kind, runs Configure to validate and fill in derived paths, then Build.
Destroy runs the mirror image, releasing any place quota claimed by
ClaimPlace.

# Persistence

Each volume's record is written through pkg/kvstore using the same
directory-of-key=value-files format containers use; Engine.Restore
replays it at startup and re-runs Check on every backend before
marking the volume ready again.
*/
package volume
