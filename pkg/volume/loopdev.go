package volume

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	loopCtlGetFree = 0x4C82
	loopSetFd      = 0x4C00
	loopClrFd      = 0x4C01
	loopSetStatus  = 0x4C04 // LOOP_SET_STATUS64
	loopSetCapacity = 0x4C07
	loopReadOnly   = 1 << 0
)

// attachLoopDevice finds a free /dev/loop node via /dev/loop-control
// and binds it to image, matching losetup's own ioctl sequence.
func attachLoopDevice(image string, readOnly bool) (int, error) {
	ctl, err := os.OpenFile("/dev/loop-control", os.O_RDWR, 0)
	if err != nil {
		return -1, fmt.Errorf("volume: open /dev/loop-control: %w", err)
	}
	defer ctl.Close()

	idx, _, errno := unix.Syscall(unix.SYS_IOCTL, ctl.Fd(), loopCtlGetFree, 0)
	if errno != 0 {
		return -1, fmt.Errorf("volume: LOOP_CTL_GET_FREE: %w", errno)
	}

	devPath := loopDevicePath(int(idx))
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	dev, err := os.OpenFile(devPath, flags, 0)
	if err != nil {
		return -1, fmt.Errorf("volume: open %s: %w", devPath, err)
	}
	defer dev.Close()

	img, err := os.OpenFile(image, flags, 0)
	if err != nil {
		return -1, fmt.Errorf("volume: open %s: %w", image, err)
	}
	defer img.Close()

	_, _, errno = unix.Syscall(unix.SYS_IOCTL, dev.Fd(), loopSetFd, img.Fd())
	if errno != 0 {
		return -1, fmt.Errorf("volume: LOOP_SET_FD %s: %w", devPath, errno)
	}
	return int(idx), nil
}

// detachLoopDevice releases a previously attached loop device.
func detachLoopDevice(index int) error {
	devPath := loopDevicePath(index)
	dev, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("volume: open %s: %w", devPath, err)
	}
	defer dev.Close()

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.Fd(), loopClrFd, 0)
	if errno != 0 {
		return fmt.Errorf("volume: LOOP_CLR_FD %s: %w", devPath, errno)
	}
	return nil
}

// ioctlLoopSetCapacity tells the kernel to re-read the backing file's
// size after it has grown, used by online resize.
func ioctlLoopSetCapacity(devPath string) error {
	dev, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("volume: open %s: %w", devPath, err)
	}
	defer dev.Close()

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.Fd(), loopSetCapacity, 0)
	if errno != 0 {
		return fmt.Errorf("volume: LOOP_SET_CAPACITY %s: %w", devPath, errno)
	}
	return nil
}
