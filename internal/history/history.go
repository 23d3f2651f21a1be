package history

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/go-while/go-history/internal/dbz"
)

// WalkCallback is invoked once per record during Walk. token is nil
// for a tombstone (remembered) record. Returning false aborts the
// walk.
type WalkCallback func(cookie interface{}, arrived, posted, expires int64, token *Token) bool

// KeepCallback is invoked once per well-formed record during Expire.
// token points at a scratch copy the callback may mutate to signal a
// token relocation; nil for a tombstone. Returning true keeps the
// record as-is; returning false tombstones or drops it depending on
// threshold (see Expire).
type KeepCallback func(cookie interface{}, arrived, posted, expires int64, token *Token) bool

// History is a handle returned by Open. The zero value is not usable;
// a closed handle must not be reused.
type History struct {
	config *Config
	b      *backend
	cache  *negCache

	lastErr *HistoryError

	timingLog io.Writer

	// PauseFunc/ResumeFunc are the external pause/resume hooks Walk
	// and Expire invoke around the reason string, e.g. to let a
	// server drain in-flight writers before a final catch-up pass.
	// Both are out of scope here (spec.md §1's "surrounding news
	// server") and default to no-ops.
	PauseFunc  func(reason string)
	ResumeFunc func(reason string)
}

// Open opens a history database at path using the named backend
// method (only MethodHisV6 is registered) with the given flags. cfg
// may be nil, in which case DefaultConfig() is used.
func Open(path, method string, flags Flags, cfg *Config) (*History, error) {
	if method != MethodHisV6 {
		return nil, errPlain(KindUnknownMethod, path, fmt.Errorf("unknown backend method %q", method))
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	b, err := openBackend(path, flags, cfg, flags&RDWR != 0)
	if err != nil {
		return nil, err
	}
	return &History{config: cfg, b: b}, nil
}

// SetTimingLog installs (or, with nil, removes) a per-operation
// timing log: one line per Lookup/Check/Write/Remember/Replace call
// with its elapsed time, in the spirit of the original's HISlogto.
func (h *History) SetTimingLog(w io.Writer) {
	h.timingLog = w
}

func (h *History) logTiming(op string, start time.Time) {
	if h.timingLog == nil {
		return
	}
	fmt.Fprintf(h.timingLog, "%d %s %.6f\n", time.Now().Unix(), op, time.Since(start).Seconds())
}

func (h *History) setErr(err error) error {
	if err == nil {
		h.lastErr = nil
		return nil
	}
	if he, ok := err.(*HistoryError); ok {
		h.lastErr = he
		return he
	}
	path := ""
	if h.b != nil {
		path = h.b.path
	}
	he := errPlain(KindIO, path, err)
	h.lastErr = he
	return he
}

// Error returns the last error message set on h, or "" if the last
// operation succeeded (or none has run yet).
func (h *History) Error() string {
	if h == nil || h.lastErr == nil {
		return ""
	}
	return h.lastErr.Error()
}

func (h *History) badHandle() error {
	return h.setErr(errBadHandle())
}

// Close releases the backend and cache. The handle must not be used
// afterward; Close does not tolerate being called twice.
func (h *History) Close() error {
	if h == nil || h.b == nil {
		return errBadHandle()
	}
	err := h.b.close()
	h.b = nil
	h.cache = nil
	return h.setErr(err)
}

// Sync flushes buffered appends and, if this handle owns the dbz
// singleton, the index too, then resets the dirty counter.
func (h *History) Sync() error {
	if h == nil || h.b == nil {
		return h.badHandle()
	}
	return h.setErr(h.b.sync())
}

// Lookup returns the record for key iff the log contains one with a
// token (a real article, not merely remembered).
func (h *History) Lookup(key string) (rec Record, ok bool, err error) {
	defer h.logTiming("lookup", time.Now())
	if h == nil || h.b == nil {
		return Record{}, false, h.badHandle()
	}
	if err := h.b.checkRotation(); err != nil {
		return Record{}, false, h.setErr(err)
	}
	hv := ComputeHash(key)
	off, found, ferr := h.b.idx.Fetch(dbz.Hash(hv))
	if ferr != nil {
		return Record{}, false, h.setErr(errPlain(KindIO, h.b.path, ferr))
	}
	if !found {
		h.setErr(nil)
		return Record{}, false, nil
	}
	line, lerr := h.b.fetchLine(off)
	if lerr != nil {
		return Record{}, false, h.setErr(lerr)
	}
	rec, derr := DecodeRecord(line)
	if derr != nil {
		return Record{}, false, h.setErr(derr)
	}
	h.setErr(nil)
	if !rec.HasToken() {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Check is the fast "have we ever seen this?" path, including
// remembered tombstones. It consults the cache first; on a cache
// miss, the index; a cache-miss index hit is recorded for next time.
func (h *History) Check(key string) (bool, error) {
	defer h.logTiming("check", time.Now())
	if h == nil || h.b == nil {
		return false, h.badHandle()
	}
	if err := h.b.checkRotation(); err != nil {
		return false, h.setErr(err)
	}
	hv := ComputeHash(key)

	if h.cache != nil {
		if present, found := h.cache.lookup(hv); found {
			h.cache.recordHit(present)
			h.setErr(nil)
			return present, nil
		}
	}

	if !h.b.owned() {
		return false, h.setErr(errPlain(KindIndexNotOwned, h.b.path, nil))
	}
	exists, eerr := h.b.idx.Exists(dbz.Hash(hv))
	if eerr != nil {
		return false, h.setErr(errPlain(KindIO, h.b.path, eerr))
	}
	if h.cache != nil {
		h.cache.add(hv, exists)
		h.cache.recordMiss(exists)
	}
	h.setErr(nil)
	return exists, nil
}

// Write appends a new record and registers it in the index. A
// duplicate hash (already present in the index) is treated as a
// successful write whose log line is orphaned — see spec's open
// question #1; this matches the original's behavior for
// compatibility rather than failing the caller.
func (h *History) Write(key string, arrived, posted, expires int64, token Token) (bool, error) {
	defer h.logTiming("write", time.Now())
	if h == nil || h.b == nil {
		return false, h.badHandle()
	}
	if err := h.b.checkRotation(); err != nil {
		return false, h.setErr(err)
	}
	hv := ComputeHash(key)
	return h.writeRecord(hv, arrived, posted, expires, &token)
}

// Remember appends a tombstone record (no token, no posted, no
// expires) for key, the same as Write with an absent token.
func (h *History) Remember(key string, arrived int64) (bool, error) {
	defer h.logTiming("remember", time.Now())
	if h == nil || h.b == nil {
		return false, h.badHandle()
	}
	if err := h.b.checkRotation(); err != nil {
		return false, h.setErr(err)
	}
	hv := ComputeHash(key)
	return h.writeRecord(hv, arrived, 0, 0, nil)
}

func (h *History) writeRecord(hv Hash, arrived, posted, expires int64, token *Token) (bool, error) {
	line, eerr := EncodeRecord(hv, arrived, posted, expires, token)
	if eerr != nil {
		return false, h.setErr(eerr)
	}
	if !h.b.owned() {
		return false, h.setErr(errPlain(KindIndexNotOwned, h.b.path, nil))
	}
	off, werr := h.b.appendLine(line)
	if werr != nil {
		return false, h.setErr(werr)
	}
	status, serr := h.b.idx.Store(dbz.Hash(hv), off)
	if serr != nil {
		return false, h.setErr(errOffset(KindIO, h.b.path, off, serr))
	}
	h.b.markDirty()
	if aerr := h.b.maybeAutoSync(); aerr != nil {
		return false, h.setErr(aerr)
	}
	if h.cache != nil {
		h.cache.add(hv, true)
	}
	if status == dbz.StoreExists {
		log.Printf("WARN: history: duplicate store for hash %s, log line at %s:%d orphaned", hv.Text(), h.b.path, off)
	}
	h.setErr(nil)
	return true, nil
}

// Replace locates key's existing record via the index and overwrites
// it in place. The new encoded line must be no longer than the old
// one; any slack is space-padded before the trailing newline so the
// index offset never has to move.
func (h *History) Replace(key string, arrived, posted, expires int64, token Token) (bool, error) {
	defer h.logTiming("replace", time.Now())
	if h == nil || h.b == nil {
		return false, h.badHandle()
	}
	if err := h.b.checkRotation(); err != nil {
		return false, h.setErr(err)
	}
	if !h.b.owned() {
		return false, h.setErr(errPlain(KindIndexNotOwned, h.b.path, nil))
	}
	hv := ComputeHash(key)
	off, found, ferr := h.b.idx.Fetch(dbz.Hash(hv))
	if ferr != nil {
		return false, h.setErr(errPlain(KindIO, h.b.path, ferr))
	}
	if !found {
		return false, h.setErr(errOffset(KindIO, h.b.path, off, fmt.Errorf("replace: no existing record")))
	}
	oldLine, lerr := h.b.fetchLine(off)
	if lerr != nil {
		return false, h.setErr(lerr)
	}
	newLine, eerr := EncodeRecord(hv, arrived, posted, expires, &token)
	if eerr != nil {
		return false, h.setErr(eerr)
	}
	if len(newLine) > len(oldLine) {
		return false, h.setErr(errOffset(KindReplaceTooLong, h.b.path, off, fmt.Errorf("replace: new record %d bytes > old %d bytes", len(newLine), len(oldLine))))
	}
	slack := len(oldLine) - len(newLine)
	padded := newLine[:len(newLine)-1] + strings.Repeat(" ", slack) + "\n"
	if werr := h.b.overwriteLine(off, padded); werr != nil {
		return false, h.setErr(werr)
	}
	h.b.markDirty()
	if aerr := h.b.maybeAutoSync(); aerr != nil {
		return false, h.setErr(aerr)
	}
	if h.cache != nil {
		h.cache.add(hv, true)
	}
	h.setErr(nil)
	return true, nil
}

// Walk streams every record in log order through cb. If reason is
// non-empty and PauseFunc is set, end-of-file triggers one pause-then
// -rescan pass to pick up records appended concurrently, mirroring
// hisv6_traverse's "goto again" behavior for a single external pause.
func (h *History) Walk(reason string, cookie interface{}, cb WalkCallback) (bool, error) {
	if h == nil || h.b == nil {
		return false, h.badHandle()
	}

	pos := int64(0)
	lineNo := int64(0)
	pausedOnce := false

	for {
		for {
			line, err := h.b.fetchLineOnce(pos)
			if err != nil {
				break // end of well-formed data
			}
			lineNo++
			rec, derr := DecodeRecord(line)
			if derr != nil {
				log.Printf("WARN: history: malformed record at %s:%d: %v", h.b.path, lineNo, derr)
				pos += int64(len(line))
				continue
			}
			var tokPtr *Token
			if rec.HasToken() {
				t := rec.Token
				tokPtr = &t
			}
			if !cb(cookie, rec.Arrived, rec.Posted, rec.Expires, tokPtr) {
				return false, h.setErr(errLine(KindCallback, h.b.path, lineNo, fmt.Errorf("walk callback aborted")))
			}
			pos += int64(len(line))
		}
		if reason == "" || h.PauseFunc == nil || pausedOnce {
			break
		}
		h.PauseFunc(reason)
		pausedOnce = true
		if h.ResumeFunc != nil {
			h.ResumeFunc(reason)
		}
	}
	h.setErr(nil)
	return true, nil
}

// SetCache sizes (or, with 0, frees) the negative-lookup cache and
// resets its counters. bytes is divided by the per-slot cost to get
// the slot count.
func (h *History) SetCache(bytes int) error {
	if h == nil || h.b == nil {
		return h.badHandle()
	}
	slots := bytes / CacheSlotBytes
	if h.cache == nil {
		h.cache = newNegCache(slots)
	} else {
		h.cache.resize(slots)
		h.cache.statsAndReset()
	}
	h.setErr(nil)
	return nil
}

// Stats returns the accumulated check() counters and resets them.
func (h *History) Stats() Stats {
	if h == nil || h.cache == nil {
		return Stats{}
	}
	return h.cache.statsAndReset()
}

// Control implements the get/set selectors listed in spec.md §6.
func (h *History) Control(sel CtlSelector, value interface{}) (interface{}, error) {
	if h == nil || h.b == nil {
		return nil, h.badHandle()
	}
	switch sel {
	case CtlGetPath:
		h.setErr(nil)
		return h.b.path, nil
	case CtlSetPath:
		p, ok := value.(string)
		if !ok {
			return nil, h.setErr(errPlain(KindIO, h.b.path, fmt.Errorf("control: path value must be string")))
		}
		h.b.path = p
		h.setErr(nil)
		return nil, nil
	case CtlSetSyncCount:
		v, ok := value.(int64)
		if !ok {
			return nil, h.setErr(errPlain(KindIO, h.b.path, fmt.Errorf("control: sync-threshold value must be int64")))
		}
		h.b.syncCount = v
		h.setErr(nil)
		return nil, nil
	case CtlSetPairsHint:
		v, ok := value.(int64)
		if !ok {
			return nil, h.setErr(errPlain(KindIO, h.b.path, fmt.Errorf("control: pairs-hint value must be int64")))
		}
		h.b.pairsHint = v
		h.setErr(nil)
		return nil, nil
	case CtlSetIgnoreOld:
		v, ok := value.(bool)
		if !ok {
			return nil, h.setErr(errPlain(KindIO, h.b.path, fmt.Errorf("control: ignore-old value must be bool")))
		}
		if v {
			h.b.pairsHint = -1
		} else {
			h.b.pairsHint = 0
		}
		h.setErr(nil)
		return nil, nil
	case CtlSetStatInterval:
		v, ok := value.(int64)
		if !ok {
			return nil, h.setErr(errPlain(KindIO, h.b.path, fmt.Errorf("control: stat-interval value must be int64")))
		}
		h.b.statInterval = v
		h.setErr(nil)
		return nil, nil
	default:
		return nil, h.setErr(errPlain(KindIO, h.b.path, fmt.Errorf("control: unknown selector %d", sel)))
	}
}
