package multipart

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skilltrace/lrs/pkg/statement"
)

func sha2Of(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func statementWithAttachment(sha2 string, length int, usageType string) string {
	return fmt.Sprintf(`{
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"},
		"attachments": [{
			"usageType": %q,
			"display": {"en-US": "part"},
			"contentType": "text/plain",
			"length": %d,
			"sha2": %q
		}]
	}`, usageType, length, sha2)
}

type rawPart struct {
	headers map[string]string
	body    []byte
}

func buildBody(t *testing.T, parts []rawPart) (string, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		for k, v := range p.headers {
			h.Set(k, v)
		}
		pw, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return mw.Boundary(), buf.Bytes()
}

func TestIsMultipart(t *testing.T) {
	boundary, ok := IsMultipart(`multipart/mixed; boundary="xyz"`)
	assert.True(t, ok)
	assert.Equal(t, "xyz", boundary)

	_, ok = IsMultipart("application/json")
	assert.False(t, ok)
}

func TestParseIngestBinaryPart(t *testing.T) {
	data := []byte("hello")
	sha2 := sha2Of(data)
	boundary, body := buildBody(t, []rawPart{
		{map[string]string{"Content-Type": "application/json"},
			[]byte(statementWithAttachment(sha2, len(data), "http://example.org/receipt"))},
		{map[string]string{
			"Content-Type":              "text/plain",
			"X-Experience-API-Hash":     sha2,
			"Content-Transfer-Encoding": "binary",
		}, data},
	})

	ingest, err := ParseIngest(boundary, bytes.NewReader(body), 0)
	require.NoError(t, err)
	require.Len(t, ingest.Batch, 1)
	assert.Equal(t, data, ingest.Parts[sha2])
}

func TestParseIngestFirstPartMustBeJSON(t *testing.T) {
	boundary, body := buildBody(t, []rawPart{
		{map[string]string{"Content-Type": "text/plain"}, []byte("nope")},
	})
	_, err := ParseIngest(boundary, bytes.NewReader(body), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "application/json")
}

func TestParseIngestPartHeaderRules(t *testing.T) {
	data := []byte("hello")
	sha2 := sha2Of(data)
	stmt := statementWithAttachment(sha2, len(data), "http://example.org/receipt")

	t.Run("missing hash", func(t *testing.T) {
		boundary, body := buildBody(t, []rawPart{
			{map[string]string{"Content-Type": "application/json"}, []byte(stmt)},
			{map[string]string{"Content-Transfer-Encoding": "binary"}, data},
		})
		_, err := ParseIngest(boundary, bytes.NewReader(body), 0)
		assert.Error(t, err)
	})
	t.Run("missing binary encoding", func(t *testing.T) {
		boundary, body := buildBody(t, []rawPart{
			{map[string]string{"Content-Type": "application/json"}, []byte(stmt)},
			{map[string]string{"X-Experience-API-Hash": sha2}, data},
		})
		_, err := ParseIngest(boundary, bytes.NewReader(body), 0)
		assert.Error(t, err)
	})
	t.Run("unmatched hash", func(t *testing.T) {
		boundary, body := buildBody(t, []rawPart{
			{map[string]string{"Content-Type": "application/json"}, []byte(stmt)},
			{map[string]string{
				"X-Experience-API-Hash":     sha2Of([]byte("other")),
				"Content-Transfer-Encoding": "binary",
			}, data},
		})
		_, err := ParseIngest(boundary, bytes.NewReader(body), 0)
		assert.Error(t, err)
	})
	t.Run("content length mismatch", func(t *testing.T) {
		boundary, body := buildBody(t, []rawPart{
			{map[string]string{"Content-Type": "application/json"}, []byte(stmt)},
			{map[string]string{
				"X-Experience-API-Hash":     sha2,
				"Content-Transfer-Encoding": "binary",
				"Content-Length":            "999",
			}, data},
		})
		_, err := ParseIngest(boundary, bytes.NewReader(body), 0)
		assert.Error(t, err)
	})
	t.Run("content type mismatch", func(t *testing.T) {
		boundary, body := buildBody(t, []rawPart{
			{map[string]string{"Content-Type": "application/json"}, []byte(stmt)},
			{map[string]string{
				"Content-Type":              "image/png",
				"X-Experience-API-Hash":     sha2,
				"Content-Transfer-Encoding": "binary",
			}, data},
		})
		_, err := ParseIngest(boundary, bytes.NewReader(body), 0)
		assert.Error(t, err)
	})
}

func TestParseIngestDigestMismatch(t *testing.T) {
	declared := sha2Of([]byte("what the declaration promised"))
	stmt := statementWithAttachment(declared, 9, "http://example.org/receipt")
	boundary, body := buildBody(t, []rawPart{
		{map[string]string{"Content-Type": "application/json"}, []byte(stmt)},
		{map[string]string{
			"Content-Type":              "text/plain",
			"X-Experience-API-Hash":     declared,
			"Content-Transfer-Encoding": "binary",
		}, []byte("different")},
	})
	_, err := ParseIngest(boundary, bytes.NewReader(body), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest")
}

func TestParseIngestDeclarationWithoutPart(t *testing.T) {
	sha2 := sha2Of([]byte("never sent"))
	boundary, body := buildBody(t, []rawPart{
		{map[string]string{"Content-Type": "application/json"},
			[]byte(statementWithAttachment(sha2, 10, "http://example.org/receipt"))},
	})
	_, err := ParseIngest(boundary, bytes.NewReader(body), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fileUrl")
}

func TestRequireFileURLs(t *testing.T) {
	sha2 := sha2Of([]byte("x"))
	batch, err := statement.DecodeStatements([]byte(statementWithAttachment(sha2, 1, "http://example.org/receipt")))
	require.NoError(t, err)
	assert.Error(t, RequireFileURLs(batch))

	withURL := strings.Replace(statementWithAttachment(sha2, 1, "http://example.org/receipt"),
		`"sha2"`, `"fileUrl": "http://cdn.example.org/x", "sha2"`, 1)
	batch, err = statement.DecodeStatements([]byte(withURL))
	require.NoError(t, err)
	assert.NoError(t, RequireFileURLs(batch))
}

func signedJWS(t *testing.T, payload []byte, withX5c bool, tamper bool) ([]byte, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "signer.example.org"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	header := map[string]any{"alg": "RS256"}
	if withX5c {
		header["x5c"] = []string{base64.StdEncoding.EncodeToString(der)}
	}
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(payload)
	sig, err := jwt.SigningMethodRS256.Sign(signingInput, key)
	require.NoError(t, err)
	if tamper {
		sig[0] ^= 0xff
	}
	jws := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
	return []byte(jws), sha2Of([]byte(jws))
}

func TestVerifySignature(t *testing.T) {
	body := `{
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"}
	}`
	batch, err := statement.DecodeStatements([]byte(body))
	require.NoError(t, err)

	t.Run("valid with x5c", func(t *testing.T) {
		jws, _ := signedJWS(t, []byte(body), true, false)
		assert.NoError(t, VerifySignature(jws, batch))
	})
	t.Run("tampered signature", func(t *testing.T) {
		jws, _ := signedJWS(t, []byte(body), true, true)
		assert.Error(t, VerifySignature(jws, batch))
	})
	t.Run("payload matches no statement", func(t *testing.T) {
		other := strings.Replace(body, "sam@", "kim@", 1)
		jws, _ := signedJWS(t, []byte(other), true, false)
		err := VerifySignature(jws, batch)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no statement")
	})
	t.Run("no x5c still checks payload", func(t *testing.T) {
		jws, _ := signedJWS(t, []byte(body), false, false)
		assert.NoError(t, VerifySignature(jws, batch))
	})
	t.Run("rejected algorithms", func(t *testing.T) {
		for _, alg := range []string{"none", "HS256", "HS512"} {
			header := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"alg": %q}`, alg)))
			payload := base64.RawURLEncoding.EncodeToString([]byte(body))
			jws := []byte(header + "." + payload + ".c2ln")
			err := VerifySignature(jws, batch)
			require.Error(t, err, alg)
			assert.Contains(t, err.Error(), "not allowed")
		}
	})
	t.Run("not a jws", func(t *testing.T) {
		assert.Error(t, VerifySignature([]byte("garbage"), batch))
	})
}

func TestSignaturePartVerifiedDuringIngest(t *testing.T) {
	inner := `{
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"}
	}`
	jws, jwsSHA2 := signedJWS(t, []byte(inner), true, false)

	stmt := fmt.Sprintf(`{
		"actor": {"mbox": "mailto:sam@example.org"},
		"verb": {"id": "http://example.org/did"},
		"object": {"id": "http://example.org/a"},
		"attachments": [{
			"usageType": %q,
			"display": {"en-US": "signature"},
			"contentType": "application/octet-stream",
			"length": %d,
			"sha2": %q
		}]
	}`, statement.SignatureUsageType, len(jws), jwsSHA2)

	boundary, body := buildBody(t, []rawPart{
		{map[string]string{"Content-Type": "application/json"}, []byte(stmt)},
		{map[string]string{
			"Content-Type":              "application/octet-stream",
			"X-Experience-API-Hash":     jwsSHA2,
			"Content-Transfer-Encoding": "binary",
		}, jws},
	})
	_, err := ParseIngest(boundary, bytes.NewReader(body), 0)
	assert.NoError(t, err)
}

func TestEmitRoundTrip(t *testing.T) {
	data := []byte("attachment bytes")
	var buf bytes.Buffer
	contentType, err := Emit(&buf, []byte(`{"statements": []}`), []Part{
		{SHA2: sha2Of(data), ContentType: "text/plain", Data: data},
	})
	require.NoError(t, err)

	boundary, ok := IsMultipart(contentType)
	require.True(t, ok)

	mr := multipart.NewReader(&buf, boundary)
	first, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "application/json", first.Header.Get("Content-Type"))

	second, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, sha2Of(data), second.Header.Get("X-Experience-API-Hash"))
	assert.Equal(t, "binary", second.Header.Get("Content-Transfer-Encoding"))
}
