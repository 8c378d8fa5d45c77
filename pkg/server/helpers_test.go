package server

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func attachmentDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func escapeQuery(s string) string {
	return url.QueryEscape(s)
}

// writeMultipartBody builds a statement submission with one binary part and
// returns the boundary.
func writeMultipartBody(t *testing.T, w io.Writer, statementJSON, sha2 string, data []byte) string {
	t.Helper()
	mw := multipart.NewWriter(w)

	jsonHeader := textproto.MIMEHeader{}
	jsonHeader.Set("Content-Type", "application/json")
	pw, err := mw.CreatePart(jsonHeader)
	require.NoError(t, err)
	_, err = pw.Write([]byte(statementJSON))
	require.NoError(t, err)

	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Type", "text/plain")
	partHeader.Set("X-Experience-API-Hash", sha2)
	partHeader.Set("Content-Transfer-Encoding", "binary")
	pw, err = mw.CreatePart(partHeader)
	require.NoError(t, err)
	_, err = pw.Write(data)
	require.NoError(t, err)

	require.NoError(t, mw.Close())
	return mw.Boundary()
}
