// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the entity-tag hashing derived from it. Response ETags
// are computed over the canonical form so formatting differences in
// equivalent payloads never split cache validators.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Bytes returns the RFC 8785 canonical form of raw JSON.
func Bytes(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: %w", err)
	}
	return out, nil
}

// Marshal serializes v and canonicalizes the result.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	return Bytes(raw)
}

// HashBytes is the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETag returns the quoted strong entity tag for a response body. Non-JSON
// bodies hash as-is; JSON bodies hash their canonical form.
func ETag(body []byte) string {
	if canon, err := Bytes(body); err == nil {
		return `"` + HashBytes(canon) + `"`
	}
	return `"` + HashBytes(body) + `"`
}
