package volume

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// projectQuota enforces a space/inode cap on a directory tree using
// Linux XFS/ext4 project quotas: a project id is attached to the
// directory via the FS_IOC_FSSETXATTR ioctl, and Q_XSETQLIM/Q_XGETQUOTA
// quotactl commands set and read the limit for that project id. This is
// the same mechanism moby's daemon/graphdriver/quota.Control uses for
// its SetQuota/GetQuota pair; the type here is named and shaped after
// src/storage.cpp's TProjectQuota instead (Create/Destroy/Resize/
// StatFS/Check/Exists), since that's the surface the quota backend
// calls into.
type projectQuota struct {
	Path       string
	SpaceLimit uint64
	InodeLimit uint64

	projectID uint32
}

const (
	fsIoctlFsGetXattr = 0x801c581f
	fsIoctlFsSetXattr = 0x401c5820

	qXGetQuota = 0x800007 // XFS_GETQUOTA subcommand selector composed below
	qXSetQLim  = 0x800006

	projQuota = 2 // PRJQUOTA
)

// fsxattr mirrors struct fsxattr from linux/fs.h; only the fields the
// project-id ioctl needs are laid out, the rest is padding to match the
// kernel's struct size.
type fsxattr struct {
	fsxXFlags     uint32
	fsxExtsize    uint32
	fsxNextents   uint32
	fsxProjid     uint32
	fsxCowextsize uint32
	fsxPad        [8]byte
}

func newProjectQuota(path string) *projectQuota {
	return &projectQuota{Path: path}
}

func (q *projectQuota) ioctl(name string, req uintptr, arg unsafe.Pointer) error {
	f, err := os.Open(q.Path)
	if err != nil {
		return fmt.Errorf("volume: open %s for %s: %w", q.Path, name, err)
	}
	defer f.Close()

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return fmt.Errorf("volume: %s %s: %w", name, q.Path, errno)
	}
	return nil
}

// assignProjectID attaches id as this directory's project id, so quota
// accounting on the underlying filesystem attributes usage here to id.
func (q *projectQuota) assignProjectID(id uint32) error {
	var attr fsxattr
	if err := q.ioctl("FS_IOC_FSGETXATTR", fsIoctlFsGetXattr, unsafe.Pointer(&attr)); err != nil {
		return err
	}
	attr.fsxProjid = id
	if err := q.ioctl("FS_IOC_FSSETXATTR", fsIoctlFsSetXattr, unsafe.Pointer(&attr)); err != nil {
		return err
	}
	q.projectID = id
	return nil
}

// Create assigns id as Path's project id (callers derive it from the
// volume id with projectIDFor) and applies SpaceLimit and InodeLimit.
func (q *projectQuota) Create(device string, id uint32) error {
	if err := q.assignProjectID(id); err != nil {
		return err
	}
	return q.setLimits(device)
}

// Resize changes the limits of an already-assigned project id.
func (q *projectQuota) Resize(device string, spaceLimit, inodeLimit uint64) error {
	q.SpaceLimit, q.InodeLimit = spaceLimit, inodeLimit
	return q.setLimits(device)
}

func (q *projectQuota) setLimits(device string) error {
	var d fsDiskQuota
	d.dVersion = 1
	d.dFlags = projQuota
	d.dID = q.projectID
	d.dFieldmask = fieldBSoftLimit | fieldBHardLimit | fieldISoftLimit | fieldIHardLimit
	blocks := q.SpaceLimit / 512
	d.dBlkSoftLimit = blocks
	d.dBlkHardLimit = blocks
	d.dIno_SoftLimit = q.InodeLimit
	d.dIno_HardLimit = q.InodeLimit

	cmd := quotactlCmd(qcmdQSetQLim, projQuota)
	if err := quotactl(cmd, device, q.projectID, unsafe.Pointer(&d)); err != nil {
		return fmt.Errorf("volume: set project quota on %s: %w", device, err)
	}
	return nil
}

// Destroy clears the limits for this project id. The project-id xattr
// on the directory itself is left in place; a freshly created
// directory always starts at project id 0 so this is harmless.
func (q *projectQuota) Destroy(device string) error {
	q.SpaceLimit, q.InodeLimit = 0, 0
	return q.setLimits(device)
}

// Usage reads back current block/inode usage for this project id.
func (q *projectQuota) Usage(device string) (spaceUsed, inodeUsed uint64, err error) {
	var d fsDiskQuota
	cmd := quotactlCmd(qcmdQGetQuota, projQuota)
	if err := quotactl(cmd, device, q.projectID, unsafe.Pointer(&d)); err != nil {
		return 0, 0, fmt.Errorf("volume: get project quota on %s: %w", device, err)
	}
	return d.dBCount * 512, d.dICount, nil
}

// fsDiskQuota mirrors struct fs_disk_quota / if_dqblk fields used by
// the XFS project-quota quotactl commands.
type fsDiskQuota struct {
	dVersion       int8
	dFlags         int8
	dFieldmask     uint16
	dID            uint32
	dBlkHardLimit  uint64
	dBlkSoftLimit  uint64
	dIno_HardLimit uint64
	dIno_SoftLimit uint64
	dBCount        uint64
	dICount        uint64
	dRtbHardLimit  uint64
	dRtbSoftLimit  uint64
	dRtbCount      uint64
	dItimer        int32
	dBtimer        int32
	dRtbtimer      int32
	dIwarns        uint16
	dBwarns        uint16
	dRtbwarns      uint16
	dPadding       int32
}

const (
	fieldBSoftLimit = 1 << 0
	fieldBHardLimit = 1 << 1
	fieldISoftLimit = 1 << 2
	fieldIHardLimit = 1 << 3
)

const (
	qcmdQSetQLim = 0x5804 // Q_XSETQLIM, XQM_CMD(4)
	qcmdQGetQuota = 0x5803 // Q_XGETQUOTA, XQM_CMD(3)
)

func quotactlCmd(subcmd, qtype int) int {
	return (subcmd << 8) | qtype
}

func quotactl(cmd int, device string, id uint32, addr unsafe.Pointer) error {
	devPtr, err := syscall.BytePtrFromString(device)
	if err != nil {
		return err
	}
	_, _, errno := unix.Syscall6(unix.SYS_QUOTACTL, uintptr(cmd),
		uintptr(unsafe.Pointer(devPtr)), uintptr(id), uintptr(addr), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}
