package history

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-while/go-history/internal/dbz"
)

// backend is the text-log + dbz pair spec.md §3 calls "Backend
// state". It owns the path string, both log file handles (there is
// only one fd here; it serves both append and random-access reads),
// and the rotation snapshot.
type backend struct {
	path string

	logFile *os.File
	offset  int64 // cached end-of-file offset; next append lands here

	dev, ino     uint64
	haveIdentity bool
	statInterval int64
	nextCheck    time.Time

	dirty     int64
	syncCount int64
	pairsHint int64

	flags   Flags
	dbzOpts dbz.Options
	idx     *dbz.Index
}

func residencyFromFlags(flags Flags, fallback string) dbz.Residency {
	switch {
	case flags&MMAP != 0:
		return dbz.Mmap
	case flags&INCORE != 0:
		return dbz.Memory
	case flags&ONDISK != 0:
		return dbz.OnDisk
	default:
		return dbz.ParseResidency(fallback)
	}
}

// openBackend opens (creating if flags&CREAT and absent) the log file
// and its dbz index. claimOwnership controls whether this backend
// tries to become the process-wide dbz owner: Open asks for it only
// for RDWR handles, Expire's final reopen of its source asks for it
// whatever the flags. If another handle already owns the index, the
// backend opens it without ownership.
func openBackend(path string, flags Flags, cfg *Config, claimOwnership bool) (*backend, error) {
	b := &backend{
		path:         path,
		flags:        flags,
		statInterval: cfg.StatInterval,
		syncCount:    cfg.SyncCount,
		pairsHint:    cfg.PairsHint,
		dbzOpts: dbz.Options{
			IndexResidency:  residencyFromFlags(flags, cfg.IndexResidency),
			ExistsResidency: residencyFromFlags(flags, cfg.ExistsResidency),
			WriteThrough:    cfg.WriteThrough,
		},
	}

	osFlags := os.O_RDONLY
	if flags&RDWR != 0 {
		osFlags = os.O_RDWR
	}
	if flags&CREAT != 0 {
		osFlags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, osFlags, 0644)
	if err != nil {
		return nil, errPlain(KindIO, path, err)
	}
	b.logFile = f

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, errPlain(KindIO, path, err)
	}
	b.offset = end

	if err := b.snapshotIdentity(); err != nil {
		f.Close()
		return nil, err
	}
	b.nextCheck = time.Now().Add(time.Duration(b.statInterval) * time.Second)

	indexExists := false
	if _, err := os.Stat(path + ".dir"); err == nil {
		indexExists = true
	}

	switch {
	case !indexExists && flags&CREAT != 0:
		idx, err := dbz.Fresh(path, b.pairsHint, b.dbzOpts)
		if err != nil {
			f.Close()
			return nil, errPlain(KindIO, path+".dir", err)
		}
		b.idx = idx
	case claimOwnership:
		idx, err := dbz.Reclaim(path, b.dbzOpts)
		if err != nil {
			idx, err = dbz.Init(path, b.dbzOpts)
			if err != nil {
				f.Close()
				return nil, errPlain(KindIO, path+".dir", err)
			}
		}
		b.idx = idx
	default:
		idx, err := dbz.Init(path, b.dbzOpts)
		if err != nil {
			f.Close()
			return nil, errPlain(KindIO, path+".dir", err)
		}
		b.idx = idx
	}

	return b, nil
}

func (b *backend) snapshotIdentity() error {
	dev, ino, err := fdIdentity(b.logFile)
	if err != nil {
		return errPlain(KindIO, b.path, err)
	}
	b.dev, b.ino, b.haveIdentity = dev, ino, true
	return nil
}

func (b *backend) owned() bool { return dbz.IsOwner(b.idx) }

// checkRotation is called at the top of every read-side operation.
// If statInterval is 0 it never fires; otherwise once the wall clock
// has passed nextCheck it stats the log path and, on an identity
// mismatch, transparently reopens everything (§4.4).
func (b *backend) checkRotation() error {
	if b.statInterval <= 0 {
		return nil
	}
	if time.Now().Before(b.nextCheck) {
		return nil
	}
	b.nextCheck = time.Now().Add(time.Duration(b.statInterval) * time.Second)

	dev, ino, err := fileIdentity(b.path)
	if err != nil {
		return errPlain(KindIO, b.path, err)
	}
	if b.haveIdentity && dev == b.dev && ino == b.ino {
		return nil
	}
	return b.reopen()
}

func (b *backend) reopen() error {
	wasOwner := b.owned()

	if b.idx != nil {
		b.idx.Close()
	}
	if b.logFile != nil {
		b.logFile.Close()
	}

	osFlags := os.O_RDONLY
	if b.flags&RDWR != 0 {
		osFlags = os.O_RDWR
	}
	f, err := os.OpenFile(b.path, osFlags, 0644)
	if err != nil {
		return errPlain(KindIO, b.path, err)
	}
	b.logFile = f
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return errPlain(KindIO, b.path, err)
	}
	b.offset = end
	if err := b.snapshotIdentity(); err != nil {
		return err
	}

	if wasOwner {
		idx, err := dbz.Reclaim(b.path, b.dbzOpts)
		if err != nil {
			return errPlain(KindIO, b.path+".dir", err)
		}
		b.idx = idx
	} else {
		idx, err := dbz.Init(b.path, b.dbzOpts)
		if err != nil {
			return errPlain(KindIO, b.path+".dir", err)
		}
		b.idx = idx
	}
	return nil
}

// fetchLine reads the record starting at offset, retrying once
// through a transparent reopen if the read comes back stale (§9
// "Stale-file handling").
func (b *backend) fetchLine(offset int64) (string, error) {
	line, err := b.fetchLineOnce(offset)
	if err == nil {
		return line, nil
	}
	if !isStaleErrWrapped(err) {
		return "", err
	}
	if rerr := b.reopen(); rerr != nil {
		return "", rerr
	}
	return b.fetchLineOnce(offset)
}

func isStaleErrWrapped(err error) bool {
	he, ok := err.(*HistoryError)
	if !ok || he.Err == nil {
		return false
	}
	return isStaleErr(he.Err)
}

func (b *backend) fetchLineOnce(offset int64) (string, error) {
	buf := make([]byte, MaxLineLen)
	n, err := b.logFile.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return "", errOffset(KindIO, b.path, offset, err)
	}
	data := buf[:n]
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return "", errOffset(KindParse, b.path, offset, fmt.Errorf("record not newline-terminated within max line length"))
	}
	return string(data[:idx+1]), nil
}

// appendLine writes line at the cached end offset and advances it,
// preserving the invariant that the cached offset always equals the
// real file end after a successful append.
func (b *backend) appendLine(line string) (int64, error) {
	off := b.offset
	n, err := b.logFile.WriteAt([]byte(line), off)
	if err != nil {
		return 0, errOffset(KindIO, b.path, off, err)
	}
	b.offset += int64(n)
	return off, nil
}

// overwriteLine rewrites the bytes at offset in place. Used by
// Replace; caller has already verified newLine fits within the slot
// reserved by the original record.
func (b *backend) overwriteLine(offset int64, newLine string) error {
	if _, err := b.logFile.WriteAt([]byte(newLine), offset); err != nil {
		return errOffset(KindIO, b.path, offset, err)
	}
	return nil
}

func (b *backend) markDirty() {
	b.dirty++
}

func (b *backend) sync() error {
	if err := b.logFile.Sync(); err != nil {
		return errPlain(KindIO, b.path, err)
	}
	if b.owned() && b.idx != nil {
		if err := b.idx.Sync(); err != nil {
			return errPlain(KindIO, b.path+".dir", err)
		}
	}
	b.dirty = 0
	return nil
}

func (b *backend) maybeAutoSync() error {
	if b.syncCount > 0 && b.dirty >= b.syncCount {
		return b.sync()
	}
	return nil
}

func (b *backend) close() error {
	var firstErr error
	if b.idx != nil {
		if err := b.idx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.logFile != nil {
		if err := b.logFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
