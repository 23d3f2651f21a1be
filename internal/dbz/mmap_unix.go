//go:build unix

package dbz

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapStore maps the table PROT_READ|PROT_WRITE MAP_SHARED so writes
// land straight in the page cache; Sync is an msync, not a rewrite.
// Grounded on calvinalkan-agent-task/cache_binary.go's syscall.Mmap
// binary cache, upgraded to the portable golang.org/x/sys/unix form.
type mmapStore struct {
	f    *os.File
	data []byte
}

func newMmapStore(f *os.File, size int64) (*mmapStore, error) {
	if size == 0 {
		// unix.Mmap rejects a zero-length mapping; a freshly created
		// empty table has nothing to map until it's grown.
		return &mmapStore{f: f, data: nil}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mmapStore{f: f, data: data}, nil
}

func (m *mmapStore) ReadAt(p []byte, off int64) error {
	copy(p, m.data[off:off+int64(len(p))])
	return nil
}

func (m *mmapStore) WriteAt(p []byte, off int64) error {
	copy(m.data[off:off+int64(len(p))], p)
	return nil
}

func (m *mmapStore) Sync() error {
	if m.data == nil {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *mmapStore) Close() error {
	if m.data != nil {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			unix.Munmap(m.data)
			m.f.Close()
			return err
		}
		if err := unix.Munmap(m.data); err != nil {
			m.f.Close()
			return err
		}
	}
	return m.f.Close()
}
