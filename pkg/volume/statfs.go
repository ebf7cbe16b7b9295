package volume

import "golang.org/x/sys/unix"

// statPath runs statfs(2) on path and converts it into the subset of
// fields the engine reports to clients.
func statPath(path string) (StatFS, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return StatFS{}, err
	}
	bsize := uint64(st.Bsize)
	return StatFS{
		SpaceUsed:  (uint64(st.Blocks) - uint64(st.Bfree)) * bsize,
		SpaceAvail: uint64(st.Bavail) * bsize,
		InodeUsed:  uint64(st.Files) - uint64(st.Ffree),
		InodeAvail: uint64(st.Ffree),
	}, nil
}
