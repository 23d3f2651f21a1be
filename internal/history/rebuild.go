package history

import (
	"log"
	"os"

	"github.com/go-while/go-history/internal/dbz"
)

// RebuildIndex discards the dbz index on disk and reconstructs it from
// the log alone: every well-formed record is re-stored at its
// already-known log offset, and malformed lines are skipped with a
// warning rather than aborting the whole rebuild. The new index uses
// the handle's own residency options. A pairsHint of 0 sizes it to the
// current index's capacity. Returns the number of records re-indexed.
func (h *History) RebuildIndex(pairsHint int64) (int64, error) {
	if h == nil || h.b == nil {
		return 0, h.badHandle()
	}
	path := h.b.path

	if h.b.idx != nil {
		if pairsHint == 0 {
			// SizeForPairs doubles its argument, so half the
			// (power-of-two) capacity reproduces it.
			pairsHint = int64(h.b.idx.Capacity() / 2)
		}
		h.b.idx.Close()
		h.b.idx = nil
	}
	for _, suf := range []string{".dir", ".index", ".hash"} {
		os.Remove(path + suf)
	}

	idx, err := dbz.Fresh(path, pairsHint, h.b.dbzOpts)
	if err != nil {
		return 0, h.setErr(errPlain(KindIO, path+".dir", err))
	}
	h.b.idx = idx

	var count int64
	var pos int64
	var lineNo int64
	for {
		line, ferr := h.b.fetchLineOnce(pos)
		if ferr != nil {
			break
		}
		lineNo++
		rec, derr := DecodeRecord(line)
		if derr != nil {
			log.Printf("WARN: history: rebuild: malformed record at %s:%d: %v", path, lineNo, derr)
			pos += int64(len(line))
			continue
		}
		if _, serr := idx.Store(dbz.Hash(rec.Hash), pos); serr != nil {
			return count, h.setErr(errOffset(KindIO, path, pos, serr))
		}
		count++
		pos += int64(len(line))
	}

	if err := idx.Sync(); err != nil {
		return count, h.setErr(errPlain(KindIO, path+".dir", err))
	}
	h.setErr(nil)
	return count, nil
}

// Analyze reports the current index's load factor and maximum probe
// distance, the diagnostic cmd/history-rebuild -analyze surfaces for
// §4.3's "average probe length remains near constant" invariant.
func (h *History) Analyze() (loadFactor float64, maxProbe int, err error) {
	if h == nil || h.b == nil || h.b.idx == nil {
		return 0, 0, h.badHandle()
	}
	loadFactor, maxProbe, err = h.b.idx.ProbeStats()
	if err != nil {
		return 0, 0, h.setErr(errPlain(KindIO, h.b.path+".index", err))
	}
	h.setErr(nil)
	return loadFactor, maxProbe, nil
}
