package engine

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// hashLen is the truncated digest length in hex characters. 64 bits
// is plenty for change detection within one fleet.
const hashLen = 16

// shortHashLen is the digest length embedded in versioned names.
const shortHashLen = 8

// Hash is the content digest every equality decision in this package
// uses: blake3 truncated to hashLen hex characters. Bulk content is
// never compared byte-for-byte.
func Hash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// ShortHash is the name-embedded variant of Hash.
func ShortHash(s string) string {
	return Hash(s)[:shortHashLen]
}

// HashFields digests an ordered field tuple. A NUL separator after
// each field keeps ("ab","c") and ("a","bc") distinct.
func HashFields(fields ...string) string {
	h := blake3.New()
	for _, f := range fields {
		_, _ = h.WriteString(f)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:hashLen]
}
