package history

import (
	"path/filepath"
	"testing"

	"github.com/go-while/go-history/internal/dbz"
)

func TestPruneTombstonesButKeepsTimestamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history")
	cfg := DefaultConfig()
	cfg.HistoryDir = dir

	h, err := Open(path, MethodHisV6, RDWR|CREAT, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	key := "<prune-me@example.com>"
	if ok, err := h.Write(key, 1000, 1500, 9000, Token("TOK1")); err != nil || !ok {
		t.Fatalf("write: ok=%v err=%v", ok, err)
	}

	ok, err := h.Prune(key)
	if err != nil || !ok {
		t.Fatalf("prune: ok=%v err=%v", ok, err)
	}

	// A pruned record must fail Lookup (no token)...
	if _, found, err := h.Lookup(key); err != nil || found {
		t.Fatalf("expected pruned key to fail Lookup: found=%v err=%v", found, err)
	}
	// ...but Check must still report it as seen, and decoding the raw
	// log line must show the original timestamps survived.
	if seen, err := h.Check(key); err != nil || !seen {
		t.Fatalf("expected pruned key to still be seen: seen=%v err=%v", seen, err)
	}

	hv := ComputeHash(key)
	off, found, err := h.b.idx.Fetch(dbz.Hash(hv))
	if err != nil || !found {
		t.Fatalf("fetch offset: found=%v err=%v", found, err)
	}
	line, err := h.b.fetchLine(off)
	if err != nil {
		t.Fatalf("fetch line: %v", err)
	}
	rec, err := DecodeRecord(line)
	if err != nil {
		t.Fatalf("decode raw record: %v", err)
	}
	if rec.Arrived != 1000 || rec.Posted != 1500 || rec.Expires != 9000 {
		t.Errorf("expected original timestamps preserved, got arrived=%d posted=%d expires=%d", rec.Arrived, rec.Posted, rec.Expires)
	}
	if rec.HasToken() {
		t.Errorf("expected no token on pruned record, got %q", rec.Token)
	}
}

func TestPruneMissingKeyFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history")
	cfg := DefaultConfig()
	cfg.HistoryDir = dir

	h, err := Open(path, MethodHisV6, RDWR|CREAT, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	ok, err := h.Prune("<missing@example.com>")
	if err == nil || ok {
		t.Fatal("expected prune of a missing key to fail")
	}
}
