package history

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-while/go-history/internal/dbz"
)

// siblingSuffixes lists every file that makes up one database: the
// log itself (no suffix) plus the three dbz table files.
var siblingSuffixes = []string{"", ".index", ".hash", ".dir"}

// Expire rebuilds the database into newPath (or path+".n" if newPath
// is ""), keeping or tombstoning each record per keepCb, and — when
// writing is true — swaps the rebuilt files over the original ones
// and reopens h on them. See spec.md §4.5 for the full protocol.
func (h *History) Expire(newPath, reason string, writing bool, cookie interface{}, threshold int64, keepCb KeepCallback) (bool, error) {
	if h == nil || h.b == nil {
		return false, h.badHandle()
	}
	if writing && h.b.flags&RDWR != 0 {
		return false, h.setErr(errPlain(KindIO, h.b.path, fmt.Errorf("expire: writing requested but source handle is open read/write")))
	}

	destPath := newPath
	if destPath == "" {
		destPath = h.b.path + ".n"
	}

	sourcePairsHint := h.b.pairsHint

	// Step 1: open the destination log RDWR|INCORE.
	destFile, destOff, err := openLogFileOnly(destPath)
	if err != nil {
		return false, h.setErr(err)
	}
	destBackend := &backend{
		path:      destPath,
		logFile:   destFile,
		offset:    destOff,
		flags:     RDWR | INCORE,
		syncCount: h.b.syncCount,
		dbzOpts: dbz.Options{
			IndexResidency:  dbz.Memory,
			ExistsResidency: dbz.Memory,
			WriteThrough:    h.config.WriteThrough,
		},
	}
	if err := destBackend.snapshotIdentity(); err != nil {
		destFile.Close()
		os.Remove(destPath)
		return false, h.setErr(err)
	}

	// Step 2+3: close the source's dbz (dropping ownership), then
	// size and create the destination's — Again clones the source's
	// capacity into an empty index when it had no explicit pairs
	// hint, otherwise Fresh sizes for the hint. Because both claim
	// ownership whenever none is held, this single sequence performs
	// the source-to-destination dbz ownership transfer design notes
	// §9 calls out.
	if err := h.b.idx.Close(); err != nil {
		destFile.Close()
		os.Remove(destPath)
		return false, h.setErr(errPlain(KindIO, h.b.path+".dir", err))
	}
	h.b.idx = nil

	// A pairs hint of -1 is the "ignore old database" sentinel Control's
	// CtlSetIgnoreOld sets: size fresh rather than cloning the source's
	// current capacity. 0 means no hint was ever given, so clone the
	// source's exact capacity via Again; a positive value is an explicit
	// caller-chosen size.
	var destIdx *dbz.Index
	switch {
	case sourcePairsHint < 0:
		destIdx, err = dbz.Fresh(destPath, 0, destBackend.dbzOpts)
	case sourcePairsHint == 0:
		destIdx, err = dbz.Again(destPath, h.b.path, destBackend.dbzOpts)
	default:
		destIdx, err = dbz.Fresh(destPath, sourcePairsHint, destBackend.dbzOpts)
	}
	if err != nil {
		destFile.Close()
		os.Remove(destPath)
		h.reclaimSourceOwnership()
		return false, h.setErr(errPlain(KindIO, destPath+".dir", err))
	}
	destBackend.idx = destIdx

	pausedOnce := false
	walkFailed := false
	var walkErr error

	runPass := func(start int64) int64 {
		pos := start
		lineNo := int64(0)
		for {
			line, ferr := h.b.fetchLineOnce(pos)
			if ferr != nil {
				break
			}
			lineNo++
			rec, derr := DecodeRecord(line)
			if derr != nil {
				log.Printf("WARN: history: expire: malformed record at %s:%d: %v", h.b.path, lineNo, derr)
				pos += int64(len(line))
				continue
			}

			exists, eerr := destIdx.Exists(dbz.Hash(rec.Hash))
			if eerr != nil {
				walkFailed, walkErr = true, eerr
				return pos
			}
			if exists {
				log.Printf("WARN: history: expire: duplicate hash %s at %s:%d, skipped", rec.Hash.Text(), h.b.path, lineNo)
				pos += int64(len(line))
				continue
			}

			var tokPtr *Token
			if rec.HasToken() {
				t := rec.Token
				tokPtr = &t
			}
			keep := keepCb(cookie, rec.Arrived, rec.Posted, rec.Expires, tokPtr)

			var newLine string
			var encErr error
			switch {
			case keep:
				newLine, encErr = EncodeRecord(rec.Hash, rec.Arrived, rec.Posted, rec.Expires, tokPtr)
			case rec.Arrived >= threshold:
				newLine, encErr = EncodeRecord(rec.Hash, rec.Arrived, 0, 0, nil)
			default:
				pos += int64(len(line))
				continue // dropped: not kept, and older than threshold
			}
			if encErr != nil {
				log.Printf("WARN: history: expire: re-encode failed for %s at %s:%d: %v", rec.Hash.Text(), h.b.path, lineNo, encErr)
				pos += int64(len(line))
				continue
			}

			off, werr := destBackend.appendLine(newLine)
			if werr != nil {
				walkFailed, walkErr = true, werr
				return pos
			}
			if _, serr := destIdx.Store(dbz.Hash(rec.Hash), off); serr != nil {
				walkFailed, walkErr = true, serr
				return pos
			}
			pos += int64(len(line))
		}
		return pos
	}

	pos := runPass(0)
	if !walkFailed && reason != "" && h.PauseFunc != nil && !pausedOnce {
		h.PauseFunc(reason)
		pausedOnce = true
		pos = runPass(pos)
		if h.ResumeFunc != nil {
			h.ResumeFunc(reason)
		}
	}
	_ = pos

	if walkFailed {
		destBackend.close()
		for _, suf := range siblingSuffixes {
			os.Remove(destPath + suf)
		}
		h.reclaimSourceOwnership()
		return false, h.setErr(errPlain(KindIO, destPath, walkErr))
	}

	if !writing {
		// Caller owns the swap (or chose not to perform one at all);
		// leave the destination files on disk and give dbz ownership
		// back to the source handle. A caller inspecting destPath
		// separately opens its own handle on it, which does not own
		// that index while the source holds ownership.
		destBackend.close()
		h.reclaimSourceOwnership()
		h.setErr(nil)
		return true, nil
	}

	if err := destBackend.sync(); err != nil {
		destBackend.close()
		for _, suf := range siblingSuffixes {
			os.Remove(destPath + suf)
		}
		h.reclaimSourceOwnership()
		return false, h.setErr(err)
	}
	if err := destBackend.close(); err != nil {
		return false, h.setErr(err)
	}

	if err := h.b.logFile.Close(); err != nil {
		return false, h.setErr(errPlain(KindIO, h.b.path, err))
	}
	if newPath == "" {
		for _, suf := range siblingSuffixes {
			os.Remove(h.b.path + suf)
			if err := os.Rename(destPath+suf, h.b.path+suf); err != nil && suf == "" {
				return false, h.setErr(errPlain(KindIO, h.b.path, err))
			}
		}
	}
	// An explicit newPath leaves the swap to the caller; either way the
	// source handle is reopened on its own (possibly now-swapped) path.

	newBackend, oerr := openBackend(h.b.path, h.b.flags, h.config, true)
	if oerr != nil {
		return false, h.setErr(oerr)
	}
	h.b = newBackend
	h.setErr(nil)
	return true, nil
}

// reclaimSourceOwnership restores h.b's dbz ownership after an expire
// pass released it, whether that pass failed, succeeded without
// writing, or swapped files. A read-only (Init) handle never held
// ownership, so Reclaim is only attempted for handles opened RDWR.
func (h *History) reclaimSourceOwnership() {
	if h.b.idx != nil {
		return
	}
	var idx *dbz.Index
	var err error
	if h.b.flags&RDWR != 0 {
		idx, err = dbz.Reclaim(h.b.path, h.b.dbzOpts)
	} else {
		idx, err = dbz.Init(h.b.path, h.b.dbzOpts)
	}
	if err != nil {
		log.Printf("ERROR: history: expire: failed to reclaim source dbz for %s: %v", h.b.path, err)
		return
	}
	h.b.idx = idx
}

func openLogFileOnly(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, 0, errPlain(KindIO, path, err)
	}
	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, 0, errPlain(KindIO, path, err)
	}
	return f, off, nil
}
