package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// IsSHA1Hex reports whether s is a 40-character lowercase-insensitive hex
// digest, the mbox_sha1sum form.
func IsSHA1Hex(s string) bool {
	return len(s) == 40 && isHexString(s)
}

// IsSHA2Hex reports whether s is an acceptable attachment digest: hex,
// between 32 and 64 characters (SHA-2 truncated variants up to SHA-256).
func IsSHA2Hex(s string) bool {
	if len(s) < 32 || len(s) > 64 {
		return false
	}
	return isHexString(s)
}

func isHexString(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHex(s[i]) {
			return false
		}
	}
	return len(s) > 0
}

// CIString compares by Unicode simple case folding and fingerprints by
// lowercased bytes.
type CIString string

// Equal reports case-folded equality.
func (c CIString) Equal(other CIString) bool {
	return strings.EqualFold(string(c), string(other))
}

// FingerprintKey is the lowercased form hashed for equivalence.
func (c CIString) FingerprintKey() string {
	return strings.ToLower(string(c))
}

// ValidStatementID rejects the nil and max UUIDs, which xAPI reserves.
func ValidStatementID(id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("statement id: nil UUID")
	}
	if id == uuid.Max {
		return fmt.Errorf("statement id: max UUID")
	}
	return nil
}
