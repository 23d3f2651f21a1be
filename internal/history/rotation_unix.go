//go:build unix

package history

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// fileIdentity stats path and returns the (device, inode) pair the
// rotation watchdog compares, the same identity hisv6_checkfiles
// compares, via unix.Stat rather than decoding os.FileInfo.Sys().
func fileIdentity(path string) (dev, ino uint64, err error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}

// fdIdentity is fileIdentity for an already-open file descriptor.
func fdIdentity(f *os.File) (dev, ino uint64, err error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0, 0, err
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}

func isStaleErr(err error) bool {
	return errors.Is(err, unix.ESTALE)
}
