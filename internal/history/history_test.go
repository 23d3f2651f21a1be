package history

import (
	"path/filepath"
	"testing"
)

func openTestHistory(t *testing.T) (*History, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "history")
	cfg := DefaultConfig()
	cfg.HistoryDir = dir
	h, err := Open(path, MethodHisV6, RDWR|CREAT, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if h.b != nil {
			h.Close()
		}
	})
	return h, path
}

func TestOpenCreateAndClose(t *testing.T) {
	h, _ := openTestHistory(t)
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// double close must report a bad handle, not panic
	if err := h.Close(); err == nil {
		t.Fatal("expected error on double close")
	}
}

func TestOpenUnknownMethod(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "history"), "bogus", RDWR|CREAT, nil)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestWriteThenLookup(t *testing.T) {
	h, _ := openTestHistory(t)
	key := "<write-lookup@example.com>"
	ok, err := h.Write(key, 1000, 1000, 0, Token("TOK1"))
	if err != nil || !ok {
		t.Fatalf("Write: ok=%v err=%v", ok, err)
	}
	rec, found, err := h.Lookup(key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("expected record to be found")
	}
	if rec.Token != "TOK1" {
		t.Errorf("expected token TOK1, got %q", rec.Token)
	}
}

func TestLookupMissingKey(t *testing.T) {
	h, _ := openTestHistory(t)
	_, found, err := h.Lookup("<missing@example.com>")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatal("expected missing key to not be found")
	}
}

func TestRememberThenLookupIsNotFound(t *testing.T) {
	h, _ := openTestHistory(t)
	key := "<remembered@example.com>"
	ok, err := h.Remember(key, 1000)
	if err != nil || !ok {
		t.Fatalf("Remember: ok=%v err=%v", ok, err)
	}
	// a tombstone has no token, so Lookup (real-article only) reports not-found...
	_, found, err := h.Lookup(key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if found {
		t.Fatal("expected tombstone to not satisfy Lookup")
	}
	// ...but Check must still report it as seen.
	seen, err := h.Check(key)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !seen {
		t.Fatal("expected Check to report the remembered key as seen")
	}
}

func TestCheckUnseenKey(t *testing.T) {
	h, _ := openTestHistory(t)
	seen, err := h.Check("<never-seen@example.com>")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if seen {
		t.Fatal("expected unseen key to report false")
	}
}

func TestDuplicateWriteIsNonFatal(t *testing.T) {
	h, _ := openTestHistory(t)
	key := "<dup@example.com>"
	if ok, err := h.Write(key, 1000, 1000, 0, Token("TOK1")); err != nil || !ok {
		t.Fatalf("first write: ok=%v err=%v", ok, err)
	}
	// a second write of the same key must not fail the caller, even
	// though its log line is orphaned (see Write's doc comment).
	ok, err := h.Write(key, 2000, 2000, 0, Token("TOK2"))
	if err != nil || !ok {
		t.Fatalf("duplicate write: ok=%v err=%v", ok, err)
	}
}

func TestReplaceUpdatesRecordInPlace(t *testing.T) {
	h, _ := openTestHistory(t)
	key := "<replace@example.com>"
	if ok, err := h.Write(key, 1000, 1000, 5000, Token("TOK1")); err != nil || !ok {
		t.Fatalf("write: ok=%v err=%v", ok, err)
	}
	ok, err := h.Replace(key, 1000, 1000, 6000, Token("TOK1"))
	if err != nil || !ok {
		t.Fatalf("replace: ok=%v err=%v", ok, err)
	}
	rec, found, err := h.Lookup(key)
	if err != nil || !found {
		t.Fatalf("lookup after replace: found=%v err=%v", found, err)
	}
	if rec.Expires != 6000 {
		t.Errorf("expected expires updated to 6000, got %d", rec.Expires)
	}
}

func TestReplaceTooLongFails(t *testing.T) {
	h, _ := openTestHistory(t)
	key := "<replace-too-long@example.com>"
	if ok, err := h.Write(key, 1000, 1000, 0, Token("T")); err != nil || !ok {
		t.Fatalf("write: ok=%v err=%v", ok, err)
	}
	ok, err := h.Replace(key, 1000, 1000, 0, Token(repeatByte('X', MaxLineLen/2)))
	if err == nil || ok {
		t.Fatal("expected replace with a much longer token to fail")
	}
	he, isHistErr := err.(*HistoryError)
	if !isHistErr || he.Kind != KindReplaceTooLong {
		t.Fatalf("expected KindReplaceTooLong, got %v", err)
	}
}

func repeatByte(b byte, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return string(buf)
}

func TestReplaceMissingKeyFails(t *testing.T) {
	h, _ := openTestHistory(t)
	ok, err := h.Replace("<missing@example.com>", 1000, 1000, 0, Token("TOK1"))
	if err == nil || ok {
		t.Fatal("expected replace of a missing key to fail")
	}
}

func TestWalkVisitsEveryRecordInOrder(t *testing.T) {
	h, _ := openTestHistory(t)
	keys := []string{"<a@example.com>", "<b@example.com>", "<c@example.com>"}
	for i, k := range keys {
		if ok, err := h.Write(k, int64(1000+i), int64(1000+i), 0, Token("TOK")); err != nil || !ok {
			t.Fatalf("write %s: ok=%v err=%v", k, ok, err)
		}
	}
	var seenArrived []int64
	done, err := h.Walk("", nil, func(cookie interface{}, arrived, posted, expires int64, token *Token) bool {
		seenArrived = append(seenArrived, arrived)
		return true
	})
	if err != nil || !done {
		t.Fatalf("walk: done=%v err=%v", done, err)
	}
	if len(seenArrived) != len(keys) {
		t.Fatalf("expected %d records, got %d", len(keys), len(seenArrived))
	}
	for i, a := range seenArrived {
		if a != int64(1000+i) {
			t.Errorf("record %d: expected arrived %d, got %d", i, 1000+i, a)
		}
	}
}

func TestWalkCallbackAbort(t *testing.T) {
	h, _ := openTestHistory(t)
	for i, k := range []string{"<a@example.com>", "<b@example.com>"} {
		if ok, err := h.Write(k, int64(1000+i), int64(1000+i), 0, Token("TOK")); err != nil || !ok {
			t.Fatalf("write: ok=%v err=%v", ok, err)
		}
	}
	calls := 0
	done, err := h.Walk("", nil, func(cookie interface{}, arrived, posted, expires int64, token *Token) bool {
		calls++
		return false
	})
	if done {
		t.Fatal("expected walk to report not-done after callback abort")
	}
	if err == nil {
		t.Fatal("expected an error after callback abort")
	}
	if calls != 1 {
		t.Errorf("expected exactly one callback invocation before abort, got %d", calls)
	}
}

func TestSetCacheAndStats(t *testing.T) {
	h, _ := openTestHistory(t)
	if err := h.SetCache(10 * CacheSlotBytes); err != nil {
		t.Fatalf("SetCache: %v", err)
	}
	key := "<cached@example.com>"
	if ok, err := h.Write(key, 1000, 1000, 0, Token("TOK1")); err != nil || !ok {
		t.Fatalf("write: ok=%v err=%v", ok, err)
	}
	// first Check after write is a cache hit (Write primes the cache).
	if _, err := h.Check(key); err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := h.Check("<unseen@example.com>"); err != nil {
		t.Fatalf("check: %v", err)
	}
	stats := h.Stats()
	total := stats.HitPos + stats.HitNeg + stats.Misses + stats.DNE
	if total != 2 {
		t.Fatalf("expected 2 recorded outcomes, got %d (%+v)", total, stats)
	}
	// Stats resets on read.
	if again := h.Stats(); again.HitPos+again.HitNeg+again.Misses+again.DNE != 0 {
		t.Fatalf("expected Stats to reset counters, got %+v", again)
	}
}

func TestControlGetPath(t *testing.T) {
	h, _ := openTestHistory(t)
	v, err := h.Control(CtlGetPath, nil)
	if err != nil {
		t.Fatalf("control get-path: %v", err)
	}
	if v.(string) == "" {
		t.Fatal("expected non-empty path")
	}
}

func TestControlSetIgnoreOldTogglesPairsHint(t *testing.T) {
	h, _ := openTestHistory(t)
	if _, err := h.Control(CtlSetIgnoreOld, true); err != nil {
		t.Fatalf("control set-ignore-old true: %v", err)
	}
	if h.b.pairsHint != -1 {
		t.Errorf("expected pairsHint -1 after enabling ignore-old, got %d", h.b.pairsHint)
	}
	if _, err := h.Control(CtlSetIgnoreOld, false); err != nil {
		t.Fatalf("control set-ignore-old false: %v", err)
	}
	if h.b.pairsHint != 0 {
		t.Errorf("expected pairsHint 0 after disabling ignore-old, got %d", h.b.pairsHint)
	}
}

func TestControlUnknownSelector(t *testing.T) {
	h, _ := openTestHistory(t)
	if _, err := h.Control(CtlSelector(9999), nil); err == nil {
		t.Fatal("expected error for unknown selector")
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	h, _ := openTestHistory(t)
	if ok, err := h.Write("<sync@example.com>", 1000, 1000, 0, Token("TOK1")); err != nil || !ok {
		t.Fatalf("write: ok=%v err=%v", ok, err)
	}
	if err := h.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := h.Sync(); err != nil {
		t.Fatalf("second sync: %v", err)
	}
}

func TestReopenSurvivesAcrossHandles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history")
	cfg := DefaultConfig()
	cfg.HistoryDir = dir

	h1, err := Open(path, MethodHisV6, RDWR|CREAT, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	key := "<persisted@example.com>"
	if ok, err := h1.Write(key, 1000, 1000, 0, Token("TOK1")); err != nil || !ok {
		t.Fatalf("write: ok=%v err=%v", ok, err)
	}
	if err := h1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	h2, err := Open(path, MethodHisV6, RDWR, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()
	rec, found, err := h2.Lookup(key)
	if err != nil || !found {
		t.Fatalf("lookup after reopen: found=%v err=%v", found, err)
	}
	if rec.Token != "TOK1" {
		t.Errorf("expected token TOK1 after reopen, got %q", rec.Token)
	}
}
