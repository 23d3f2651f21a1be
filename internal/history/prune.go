package history

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-while/go-history/internal/dbz"
)

// Prune strips the token from key's existing record in place, turning
// a real article entry into a tombstone while keeping its arrived/
// posted/expires timestamps — the same HISlookup-then-HISreplace(...,
// NULL) sequence prunehistory.c performs when told to drop a message
// body from history without forgetting that it was ever seen.
func (h *History) Prune(key string) (bool, error) {
	if h == nil || h.b == nil {
		return false, h.badHandle()
	}
	rec, found, err := h.Lookup(key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, h.setErr(errPlain(KindIO, h.b.path, fmt.Errorf("prune: no entry for %q", key)))
	}
	return h.replaceTombstone(key, rec.Arrived, rec.Posted, rec.Expires)
}

func (h *History) replaceTombstone(key string, arrived, posted, expires int64) (bool, error) {
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
	// EncodeRecord writes a tokenless line without posted/expires, so the
	// tombstone that keeps them is built here: the token part is simply
	// absent after the posted sub-field.
	exp := string(NoExp)
	if expires > 0 {
		exp = strconv.FormatInt(expires, 10)
	}
	newLine := fmt.Sprintf("[%s]%c%d%c%s%c%d\n", hv.Text(), FieldSep, arrived, SubSep, exp, SubSep, posted)
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
	h.setErr(nil)
	return true, nil
}
