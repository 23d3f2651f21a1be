package dbz

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/natefinch/atomic"
)

// Hash is the 128-bit key an Index maps to a log offset. It has the
// same underlying representation as history.Hash; the two packages
// don't import each other, so callers convert with a plain
// dbz.Hash(h) / history.Hash(h) cast.
type Hash [16]byte

// StoreStatus mirrors DBZSTORE_OK / DBZSTORE_EXISTS / DBZSTORE_ERROR.
type StoreStatus int

const (
	StoreOK StoreStatus = iota
	StoreExists
	StoreError
)

// Index is one open hash-table index: a .dir header plus the .index
// and .hash table files. Only one Index per process may hold
// ownership at a time (see Claim/Release/Transfer) — the same
// restriction hisv6_dbzowner enforces against the C library's process
// -wide globals.
type Index struct {
	path string
	opts Options

	mu       sync.Mutex
	capacity uint64
	count    uint64

	indexFile *os.File
	existsFile *os.File
	indexStore  byteStore
	existsStore byteStore
}

var (
	ownerMu sync.Mutex
	owner   *Index
)

// Claim registers idx as the process-wide owning index if, and only
// if, no index currently holds ownership. Only the owner may call
// Fresh/Again-style structural operations; every other open handle on
// the same path must be a read-only Init.
func Claim(idx *Index) error {
	ownerMu.Lock()
	defer ownerMu.Unlock()
	if owner != nil {
		return fmt.Errorf("dbz: index already owned")
	}
	owner = idx
	return nil
}

// Release drops ownership if idx currently holds it; a no-op
// otherwise (mirrors hisv6_dbzclose's "only clear it if it's ours").
func Release(idx *Index) {
	ownerMu.Lock()
	defer ownerMu.Unlock()
	if owner == idx {
		owner = nil
	}
}

// Transfer hands ownership to to unconditionally, the same
// single assignment hisv6_expire performs (hisv6_dbzowner = hnew)
// when it swaps the live index for the one being rebuilt.
func Transfer(to *Index) {
	ownerMu.Lock()
	defer ownerMu.Unlock()
	owner = to
}

// IsOwner reports whether idx currently holds process ownership.
func IsOwner(idx *Index) bool {
	ownerMu.Lock()
	defer ownerMu.Unlock()
	return owner == idx
}

// Fresh creates a brand-new index sized for npairs records and claims
// ownership. It fails if another index already owns the process slot.
func Fresh(path string, npairs int64, opts Options) (*Index, error) {
	capacity := SizeForPairs(npairs)
	idx := &Index{path: path, opts: opts, capacity: capacity}

	if err := writeHeaderAtomic(path, dirHeader{Capacity: capacity, Count: 0}); err != nil {
		return nil, err
	}
	if err := idx.openTables(true); err != nil {
		return nil, err
	}
	if err := Claim(idx); err != nil {
		idx.closeTables()
		return nil, err
	}
	return idx, nil
}

// Again creates a brand-new, empty index at newBase sized to match
// oldBase's current capacity — dbzagain(name, oldname): expire's
// rebuilt index is the same size as the one it replaces, without
// touching oldBase's own tables. It claims ownership like Fresh.
func Again(newBase, oldBase string, opts Options) (*Index, error) {
	hdr, err := readHeader(oldBase)
	if err != nil {
		return nil, err
	}
	idx := &Index{path: newBase, opts: opts, capacity: hdr.Capacity}
	if err := writeHeaderAtomic(newBase, dirHeader{Capacity: idx.capacity, Count: 0}); err != nil {
		return nil, err
	}
	if err := idx.openTables(true); err != nil {
		return nil, err
	}
	if err := Claim(idx); err != nil {
		idx.closeTables()
		return nil, err
	}
	return idx, nil
}

// Reclaim reopens an existing index in place at its current capacity
// (no resizing) and claims ownership — used to regain ownership of an
// index a handle already had open, e.g. after a rotation reopen.
func Reclaim(path string, opts Options) (*Index, error) {
	hdr, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	idx := &Index{path: path, opts: opts, capacity: hdr.Capacity, count: hdr.Count}
	if err := idx.openTables(false); err != nil {
		return nil, err
	}
	if err := Claim(idx); err != nil {
		idx.closeTables()
		return nil, err
	}
	return idx, nil
}

// Init opens an existing index without taking ownership, for a
// handle that will only ever read (Fetch/Exists), never Store.
func Init(path string, opts Options) (*Index, error) {
	hdr, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	idx := &Index{path: path, opts: opts, capacity: hdr.Capacity, count: hdr.Count}
	if err := idx.openTables(false); err != nil {
		return nil, err
	}
	return idx, nil
}

func readHeader(path string) (dirHeader, error) {
	buf, err := os.ReadFile(path + ".dir")
	if err != nil {
		return dirHeader{}, err
	}
	hdr, ok := decodeHeader(buf)
	if !ok {
		return dirHeader{}, fmt.Errorf("dbz: %s: bad header", path+".dir")
	}
	return hdr, nil
}

func writeHeaderAtomic(path string, hdr dirHeader) error {
	return atomic.WriteFile(path+".dir", bytes.NewReader(encodeHeader(hdr)))
}

func (idx *Index) openTables(truncate bool) error {
	indexSize := int64(idx.capacity) * indexEntryLen
	existsSize := int64(idx.capacity) * existsEntryLen

	flags := os.O_RDWR | os.O_CREATE
	indexFile, err := os.OpenFile(idx.path+".index", flags, 0644)
	if err != nil {
		return err
	}
	existsFile, err := os.OpenFile(idx.path+".hash", flags, 0644)
	if err != nil {
		indexFile.Close()
		return err
	}
	if truncate {
		if err := indexFile.Truncate(indexSize); err != nil {
			indexFile.Close()
			existsFile.Close()
			return err
		}
		if err := existsFile.Truncate(existsSize); err != nil {
			indexFile.Close()
			existsFile.Close()
			return err
		}
	}

	indexStore, err := openByteStore(indexFile, indexSize, idx.opts.IndexResidency)
	if err != nil {
		indexFile.Close()
		existsFile.Close()
		return err
	}
	existsStore, err := openByteStore(existsFile, existsSize, idx.opts.ExistsResidency)
	if err != nil {
		indexFile.Close()
		existsFile.Close()
		return err
	}

	idx.indexFile, idx.existsFile = indexFile, existsFile
	idx.indexStore, idx.existsStore = indexStore, existsStore
	return nil
}

func (idx *Index) closeTables() {
	if idx.indexStore != nil {
		idx.indexStore.Close()
	}
	if idx.existsStore != nil {
		idx.existsStore.Close()
	}
}

// slot0 is the initial probe position for h, taken from its first 8
// bytes the way dbz derives a bucket from the front of the hash.
func slot0(h Hash, capacity uint64) uint64 {
	if capacity == 0 {
		return 0
	}
	return binary.BigEndian.Uint64(h[:8]) % capacity
}

// find walks the probe sequence for h, consulting the exists table
// first (cheap) and only decoding the matching index entry when the
// exists table says the slot is occupied. Returns found=false as soon
// as an empty slot is reached, since Store only ever places a key in
// the first empty slot its own probe sequence reaches.
func (idx *Index) find(h Hash) (slot uint64, entry indexEntry, found bool, err error) {
	if idx.capacity == 0 {
		return 0, indexEntry{}, false, nil
	}
	start := slot0(h, idx.capacity)
	var eb [existsEntryLen]byte
	var ib [indexEntryLen]byte
	for i := uint64(0); i < idx.capacity; i++ {
		s := (start + i) % idx.capacity
		if err := idx.existsStore.ReadAt(eb[:], int64(s)*existsEntryLen); err != nil {
			return 0, indexEntry{}, false, err
		}
		ee := decodeExistsEntry(eb[:])
		if !ee.Occupied {
			return s, indexEntry{}, false, nil
		}
		if ee.Fingerprint != h[0] {
			continue
		}
		if err := idx.indexStore.ReadAt(ib[:], int64(s)*indexEntryLen); err != nil {
			return 0, indexEntry{}, false, err
		}
		ie := decodeIndexEntry(ib[:])
		if ie.Occupied && ie.Hash == h {
			return s, ie, true, nil
		}
	}
	return 0, indexEntry{}, false, nil
}

// Fetch returns the log offset stored for h.
func (idx *Index) Fetch(h Hash) (offset int64, ok bool, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, entry, found, err := idx.find(h)
	if err != nil || !found {
		return 0, false, err
	}
	return entry.Offset, true, nil
}

// Exists reports whether h has an entry, without returning its offset.
func (idx *Index) Exists(h Hash) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, _, found, err := idx.find(h)
	return found, err
}

// Store inserts (h, offset). If h is already present the existing
// entry is left untouched and StoreExists is returned: a duplicate
// store is not an error, matching dbzstore's DBZSTORE_EXISTS contract
// that hisv6_writeline treats as success.
func (idx *Index) Store(h Hash, offset int64) (StoreStatus, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.capacity == 0 {
		return StoreError, fmt.Errorf("dbz: zero-capacity index")
	}
	start := slot0(h, idx.capacity)
	var eb [existsEntryLen]byte
	var ib [indexEntryLen]byte
	for i := uint64(0); i < idx.capacity; i++ {
		s := (start + i) % idx.capacity
		if err := idx.existsStore.ReadAt(eb[:], int64(s)*existsEntryLen); err != nil {
			return StoreError, err
		}
		ee := decodeExistsEntry(eb[:])
		if !ee.Occupied {
			ie := indexEntry{Hash: h, Offset: offset, Occupied: true}
			if err := idx.indexStore.WriteAt(encodeIndexEntry(ie), int64(s)*indexEntryLen); err != nil {
				return StoreError, err
			}
			nee := existsEntry{Occupied: true, Fingerprint: h[0]}
			if err := idx.existsStore.WriteAt(encodeExistsEntry(nee), int64(s)*existsEntryLen); err != nil {
				return StoreError, err
			}
			idx.count++
			if idx.opts.WriteThrough && !idx.opts.Nonblock {
				if err := idx.syncLocked(); err != nil {
					return StoreError, err
				}
			}
			return StoreOK, nil
		}
		if ee.Fingerprint != h[0] {
			continue
		}
		if err := idx.indexStore.ReadAt(ib[:], int64(s)*indexEntryLen); err != nil {
			return StoreError, err
		}
		ie := decodeIndexEntry(ib[:])
		if ie.Occupied && ie.Hash == h {
			return StoreExists, nil
		}
	}
	return StoreError, fmt.Errorf("dbz: index full (capacity %d)", idx.capacity)
}

// Sync flushes both tables and rewrites the header with the current
// count, all via an atomic whole-file replace so a crash mid-write
// never leaves a torn header behind.
func (idx *Index) Sync() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.syncLocked()
}

func (idx *Index) syncLocked() error {
	if err := idx.indexStore.Sync(); err != nil {
		return err
	}
	if err := idx.existsStore.Sync(); err != nil {
		return err
	}
	return writeHeaderAtomic(idx.path, dirHeader{Capacity: idx.capacity, Count: idx.count})
}

// Close syncs and releases the underlying file handles, and drops
// ownership if this Index held it.
func (idx *Index) Close() error {
	idx.mu.Lock()
	err := idx.syncLocked()
	idx.mu.Unlock()
	idx.closeTables()
	Release(idx)
	return err
}

// Count returns the number of occupied slots.
func (idx *Index) Count() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.count
}

// Capacity returns the fixed slot count chosen at Fresh time.
func (idx *Index) Capacity() uint64 {
	return idx.capacity
}

// Path returns the shared basename of the three table files.
func (idx *Index) Path() string { return idx.path }

// ProbeStats walks every occupied slot and reports load factor and
// the maximum probe distance observed, for cmd/history-rebuild
// -analyze's collision diagnostics.
func (idx *Index) ProbeStats() (loadFactor float64, maxProbe int, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var eb [existsEntryLen]byte
	var ib [indexEntryLen]byte
	occupied := uint64(0)
	for s := uint64(0); s < idx.capacity; s++ {
		if err := idx.existsStore.ReadAt(eb[:], int64(s)*existsEntryLen); err != nil {
			return 0, 0, err
		}
		if !decodeExistsEntry(eb[:]).Occupied {
			continue
		}
		if err := idx.indexStore.ReadAt(ib[:], int64(s)*indexEntryLen); err != nil {
			return 0, 0, err
		}
		ie := decodeIndexEntry(ib[:])
		if !ie.Occupied {
			continue
		}
		occupied++
		home := slot0(ie.Hash, idx.capacity)
		dist := int((s + idx.capacity - home) % idx.capacity)
		if dist > maxProbe {
			maxProbe = dist
		}
	}
	if idx.capacity == 0 {
		return 0, 0, nil
	}
	return float64(occupied) / float64(idx.capacity), maxProbe, nil
}
