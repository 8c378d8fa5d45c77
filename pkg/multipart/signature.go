// Package multipart implements the attachment wire format: multipart/mixed
// ingest with hash-matched binary parts and JWS signature checking, and the
// matching emit side.
package multipart

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skilltrace/lrs/pkg/statement"
)

// jwsHeader is the protected header of a compact JWS signature attachment.
type jwsHeader struct {
	Alg string   `json:"alg"`
	X5c []string `json:"x5c,omitempty"`
}

// VerifySignature checks a signature attachment part. The payload must be a
// statement equivalent to at least one statement of the batch; when the
// header carries an x5c chain the signature is verified against the leaf
// certificate's public key. Symmetric and "none" algorithms are rejected
// outright.
func VerifySignature(jws []byte, batch []statement.Decoded) error {
	parts := strings.Split(strings.TrimSpace(string(jws)), ".")
	if len(parts) != 3 {
		return fmt.Errorf("signature: not a compact JWS")
	}
	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return fmt.Errorf("signature: header: %w", err)
	}
	var header jwsHeader
	if err := json.Unmarshal(headerRaw, &header); err != nil {
		return fmt.Errorf("signature: header: %w", err)
	}
	alg := strings.ToUpper(header.Alg)
	if alg == "" || alg == "NONE" || strings.HasPrefix(alg, "HS") {
		return fmt.Errorf("signature: algorithm %q is not allowed", header.Alg)
	}

	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("signature: payload: %w", err)
	}
	signed, err := statement.DecodeStatement(payloadRaw)
	if err != nil {
		return fmt.Errorf("signature: payload: %w", err)
	}
	matched := false
	for i := range batch {
		if batch[i].Statement.Equivalent(signed.Statement) {
			matched = true
			break
		}
	}
	if !matched {
		return fmt.Errorf("signature: payload matches no statement in the batch")
	}

	if len(header.X5c) == 0 {
		// Without a certificate chain there is no key to verify against;
		// payload equivalence is the whole check.
		return nil
	}
	der, err := base64.StdEncoding.DecodeString(header.X5c[0])
	if err != nil {
		return fmt.Errorf("signature: x5c: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("signature: x5c certificate: %w", err)
	}
	method := jwt.GetSigningMethod(header.Alg)
	if method == nil {
		return fmt.Errorf("signature: unsupported algorithm %q", header.Alg)
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	signingInput := parts[0] + "." + parts[1]
	if err := method.Verify(signingInput, sig, cert.PublicKey); err != nil {
		return fmt.Errorf("signature: verification failed: %w", err)
	}
	return nil
}
