package dbz

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := dirHeader{Capacity: 2048, Count: 17}
	buf := encodeHeader(h)
	got, ok := decodeHeader(buf)
	if !ok {
		t.Fatal("decodeHeader rejected a freshly encoded header")
	}
	if got != h {
		t.Errorf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestDecodeHeaderRejectsBadMagic(t *testing.T) {
	buf := encodeHeader(dirHeader{Capacity: 1, Count: 0})
	buf[0] = 'X'
	if _, ok := decodeHeader(buf); ok {
		t.Fatal("expected decodeHeader to reject a corrupted magic")
	}
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	if _, ok := decodeHeader([]byte{1, 2, 3}); ok {
		t.Fatal("expected decodeHeader to reject a too-short buffer")
	}
}

func TestIndexEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := indexEntry{Hash: Hash{1, 2, 3, 4}, Offset: 123456, Occupied: true}
	got := decodeIndexEntry(encodeIndexEntry(e))
	if got != e {
		t.Errorf("round trip mismatch: got %+v want %+v", got, e)
	}
}

func TestExistsEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := existsEntry{Occupied: true, Fingerprint: 0xAB}
	got := decodeExistsEntry(encodeExistsEntry(e))
	if got != e {
		t.Errorf("round trip mismatch: got %+v want %+v", got, e)
	}
}

func TestSizeForPairsEnforcesMinimumAndPowerOfTwo(t *testing.T) {
	cases := []int64{0, 1, 1023, 1024, 5000, 1_000_000}
	for _, n := range cases {
		cap := SizeForPairs(n)
		if cap&(cap-1) != 0 {
			t.Errorf("SizeForPairs(%d) = %d is not a power of two", n, cap)
		}
		if cap < 2048 {
			t.Errorf("SizeForPairs(%d) = %d is below the enforced minimum headroom", n, cap)
		}
	}
}

func TestNextPow2(t *testing.T) {
	cases := map[uint64]uint64{
		0: 1,
		1: 1,
		2: 2,
		3: 4,
		5: 8,
		16: 16,
		17: 32,
	}
	for in, want := range cases {
		if got := nextPow2(in); got != want {
			t.Errorf("nextPow2(%d) = %d, want %d", in, got, want)
		}
	}
}
