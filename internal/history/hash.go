package history

import (
	"crypto/md5"
	"encoding/hex"

	"golang.org/x/text/cases"
)

// Hash is the 128-bit digest a message-ID is reduced to before it
// ever reaches the log or the index. The history database never
// inspects a message-ID's bytes again once it has one of these.
type Hash [16]byte

// Fold is locale-independent except for the Turkish dotless-i, which
// doesn't apply to message-ID grammar, so no language.Tag is needed.
var foldCase = cases.Fold()

// ComputeHash canonicalizes a message-ID (case-folding per the
// identifier grammar, same as the teacher's ComputeMessageIDHash) and
// returns its 128-bit hash. Message-ID grammar case-sensitivity lives
// outside this database; we only need a stable, collision-resistant
// digest, so MD5 (as the teacher already uses for history routing)
// is sufficient here too.
func ComputeHash(messageID string) Hash {
	folded := foldCase.String(messageID)
	return Hash(md5.Sum([]byte(folded)))
}

// Text returns the 32-character lowercase hex form used inside the log.
func (h Hash) Text() string {
	return hex.EncodeToString(h[:])
}

// HashFromText parses the 32-character hex form back into a Hash.
// ok is false if s is not exactly 32 lowercase hex characters.
func HashFromText(s string) (h Hash, ok bool) {
	if len(s) != 32 {
		return h, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'F' {
			return h, false
		}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, false
	}
	copy(h[:], b)
	return h, true
}
