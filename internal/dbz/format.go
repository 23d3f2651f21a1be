// Package dbz is the hash-table index side of the history database:
// it maps a 128-bit message-ID hash to the byte offset of its record
// in the log, and answers existence checks without touching the log
// at all. It corresponds to the original dbz API (dbzinit, dbzfresh,
// dbzagain, dbzexists, dbzfetch, dbzstore, dbzsync, dbzclose).
package dbz

import "encoding/binary"

// On disk an index is three sibling files:
//
//	<path>.dir   fixed-size header (magic, version, capacity, count)
//	<path>.index open-addressed table of (hash, offset) entries
//	<path>.hash  parallel table of 2-byte exists fingerprints, one
//	             per index slot, so a probe only decodes the full
//	             32-byte index entry when the fingerprint matches
//
// Capacity is fixed at creation time (Fresh); Again creates a new,
// empty table with an existing one's capacity, the same as dbzagain,
// and Reclaim/Init reopen an existing table without resizing it.
const (
	dirMagic   = "DBZ1"
	dirVersion = 1

	dirHeaderLen = 32

	// indexEntryLen is the on-disk size of one slot in the .index
	// table: 16-byte hash + 8-byte offset + 1-byte occupied flag,
	// padded to a round size.
	indexEntryLen = 32

	// existsEntryLen is one slot in the .hash table: 1-byte occupied
	// flag + 1-byte fingerprint (the hash's first byte).
	existsEntryLen = 2
)

// dirHeader is the on-disk layout of the .dir file.
type dirHeader struct {
	Capacity uint64
	Count    uint64
}

func encodeHeader(h dirHeader) []byte {
	buf := make([]byte, dirHeaderLen)
	copy(buf[0:4], dirMagic)
	binary.LittleEndian.PutUint32(buf[4:8], dirVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.Capacity)
	binary.LittleEndian.PutUint64(buf[16:24], h.Count)
	return buf
}

func decodeHeader(buf []byte) (dirHeader, bool) {
	var h dirHeader
	if len(buf) < dirHeaderLen || string(buf[0:4]) != dirMagic {
		return h, false
	}
	if binary.LittleEndian.Uint32(buf[4:8]) != dirVersion {
		return h, false
	}
	h.Capacity = binary.LittleEndian.Uint64(buf[8:16])
	h.Count = binary.LittleEndian.Uint64(buf[16:24])
	return h, true
}

// indexEntry is one slot of the open-addressed table.
type indexEntry struct {
	Hash     [16]byte
	Offset   int64
	Occupied bool
}

func encodeIndexEntry(e indexEntry) []byte {
	buf := make([]byte, indexEntryLen)
	copy(buf[0:16], e.Hash[:])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(e.Offset))
	if e.Occupied {
		buf[24] = 1
	}
	return buf
}

func decodeIndexEntry(buf []byte) indexEntry {
	var e indexEntry
	copy(e.Hash[:], buf[0:16])
	e.Offset = int64(binary.LittleEndian.Uint64(buf[16:24]))
	e.Occupied = buf[24] != 0
	return e
}

type existsEntry struct {
	Occupied    bool
	Fingerprint byte
}

func encodeExistsEntry(e existsEntry) []byte {
	buf := make([]byte, existsEntryLen)
	if e.Occupied {
		buf[0] = 1
	}
	buf[1] = e.Fingerprint
	return buf
}

func decodeExistsEntry(buf []byte) existsEntry {
	return existsEntry{Occupied: buf[0] != 0, Fingerprint: buf[1]}
}

// SizeForPairs returns a reasonable slot capacity for npairs records,
// the same role as dbzsize(): enough headroom that linear probing
// stays short (spec.md §4.3's "average probe length remains near
// constant" invariant) across the expected table lifetime.
func SizeForPairs(npairs int64) uint64 {
	if npairs < 1024 {
		npairs = 1024
	}
	// room for 2x growth before probe chains get long.
	cap := uint64(npairs) * 2
	return nextPow2(cap)
}

func nextPow2(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}
