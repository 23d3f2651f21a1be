package history

import "testing"

func TestIsValidToken(t *testing.T) {
	valid := []string{"TOK1", "@00000000000000000000000000", "short"}
	for _, s := range valid {
		if !IsValidToken(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	invalid := []string{"", "has\ttab", "has\nnewline", "trailing space "}
	for _, s := range invalid {
		if IsValidToken(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestTokenLengthIndependentOfTimestamps(t *testing.T) {
	// A longer token alone, with identical timestamps, must be able to
	// push an encoded line over another's length — independent of how
	// many digits the timestamps have.
	short := Token("TOK1")
	long := Token("TOK_MUCH_LONGER_REPLACEMENT_TOKEN_VALUE")

	shortLine, err := EncodeRecord(sampleHash(9), 1000, 1000, 0, &short)
	if err != nil {
		t.Fatalf("encode short: %v", err)
	}
	longLine, err := EncodeRecord(sampleHash(9), 1000, 1000, 0, &long)
	if err != nil {
		t.Fatalf("encode long: %v", err)
	}
	if len(longLine) <= len(shortLine) {
		t.Fatalf("expected longer token to produce a longer line: %d <= %d", len(longLine), len(shortLine))
	}
}
