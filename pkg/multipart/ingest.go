package multipart

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/skilltrace/lrs/pkg/statement"
)

const (
	hashHeader     = "X-Experience-Api-Hash"
	encodingHeader = "Content-Transfer-Encoding"
)

// Ingest is a parsed multipart/mixed submission: the statement batch plus
// the received binary parts keyed by lowercase sha2.
type Ingest struct {
	Batch []statement.Decoded
	Parts map[string][]byte
}

// declared is one attachment declaration found in the batch.
type declared struct {
	att *statement.Attachment
}

// IsMultipart reports whether the request Content-Type is multipart/mixed
// and returns its boundary.
func IsMultipart(contentType string) (string, bool) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	if mediaType != "multipart/mixed" {
		return "", false
	}
	return params["boundary"], true
}

// ParseIngest reads a multipart/mixed body. Part 0 must be the JSON
// statement batch; every further part must carry the hash and binary
// transfer-encoding headers and match a declared attachment. The set of
// declarations without fileUrl must equal the set of received parts.
func ParseIngest(boundary string, body io.Reader, maxPart int64) (*Ingest, error) {
	if boundary == "" {
		return nil, fmt.Errorf("multipart: missing boundary")
	}
	mr := multipart.NewReader(body, boundary)

	first, err := mr.NextPart()
	if err != nil {
		return nil, fmt.Errorf("multipart: first part: %w", err)
	}
	if ct := partMediaType(first.Header); ct != "application/json" {
		return nil, fmt.Errorf("multipart: first part must be application/json, got %q", ct)
	}
	payload, err := readPart(first, maxPart)
	if err != nil {
		return nil, err
	}
	batch, err := statement.DecodeStatements(payload)
	if err != nil {
		return nil, err
	}

	declarations := declaredAttachments(batch)
	ingest := &Ingest{Batch: batch, Parts: map[string][]byte{}}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("multipart: %w", err)
		}
		hash := strings.ToLower(part.Header.Get(hashHeader))
		if hash == "" {
			return nil, fmt.Errorf("multipart: attachment part without %s", hashHeader)
		}
		if enc := part.Header.Get(encodingHeader); !strings.EqualFold(enc, "binary") {
			return nil, fmt.Errorf("multipart: attachment part must declare Content-Transfer-Encoding: binary")
		}
		decl, ok := declarations[hash]
		if !ok {
			return nil, fmt.Errorf("multipart: part %s matches no declared attachment", hash)
		}
		if _, dup := ingest.Parts[hash]; dup {
			return nil, fmt.Errorf("multipart: duplicate part for %s", hash)
		}
		data, err := readPart(part, maxPart)
		if err != nil {
			return nil, err
		}
		if err := verifyDigest(hash, data); err != nil {
			return nil, err
		}
		if raw := part.Header.Get("Content-Length"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n != decl.att.Length {
				return nil, fmt.Errorf("multipart: part %s Content-Length disagrees with declared length", hash)
			}
		}
		if ct := partMediaType(part.Header); ct != "" && !strings.EqualFold(ct, decl.att.ContentType) {
			return nil, fmt.Errorf("multipart: part %s Content-Type disagrees with declared %q", hash, decl.att.ContentType)
		}
		if decl.att.IsSignature() {
			if err := VerifySignature(data, batch); err != nil {
				return nil, err
			}
		}
		ingest.Parts[hash] = data
	}

	// Declarations lacking fileUrl must exactly cover the received parts.
	for hash, decl := range declarations {
		_, received := ingest.Parts[hash]
		if decl.att.FileURL == "" && !received {
			return nil, fmt.Errorf("multipart: declared attachment %s has neither fileUrl nor a matching part", hash)
		}
	}
	return ingest, nil
}

// verifyDigest recomputes the SHA-2 digest the declared hex length implies
// and compares it against the declared value. Hex lengths matching no SHA-2
// variant pass through; the declaration validator already bounds them.
func verifyDigest(declared string, data []byte) error {
	var sum []byte
	switch len(declared) {
	case 56:
		h := sha256.Sum224(data)
		sum = h[:]
	case 64:
		h := sha256.Sum256(data)
		sum = h[:]
	case 96:
		h := sha512.Sum384(data)
		sum = h[:]
	case 128:
		h := sha512.Sum512(data)
		sum = h[:]
	default:
		return nil
	}
	if hex.EncodeToString(sum) != declared {
		return fmt.Errorf("multipart: part %s bytes do not digest to the declared hash", declared)
	}
	return nil
}

// RequireFileURLs rejects any attachment declaration without a fileUrl.
// Plain application/json submissions cannot carry binary parts.
func RequireFileURLs(batch []statement.Decoded) error {
	for _, d := range batch {
		for _, a := range allAttachments(d.Statement) {
			if a.FileURL == "" {
				return fmt.Errorf("attachment %s: fileUrl is required without a multipart body", a.SHA2)
			}
		}
	}
	return nil
}

func declaredAttachments(batch []statement.Decoded) map[string]declared {
	out := make(map[string]declared)
	for _, d := range batch {
		for _, a := range allAttachments(d.Statement) {
			out[strings.ToLower(a.SHA2)] = declared{att: a}
		}
	}
	return out
}

func allAttachments(st *statement.Statement) []*statement.Attachment {
	var out []*statement.Attachment
	for i := range st.Attachments {
		out = append(out, &st.Attachments[i])
	}
	if st.Object.Kind == statement.ObjectSubStatement && st.Object.Sub != nil {
		for i := range st.Object.Sub.Attachments {
			out = append(out, &st.Object.Sub.Attachments[i])
		}
	}
	return out
}

func partMediaType(h textproto.MIMEHeader) string {
	ct := h.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ct
	}
	return mediaType
}

func readPart(r io.Reader, maxPart int64) ([]byte, error) {
	if maxPart <= 0 {
		maxPart = 64 << 20
	}
	data, err := io.ReadAll(io.LimitReader(r, maxPart+1))
	if err != nil {
		return nil, fmt.Errorf("multipart: read part: %w", err)
	}
	if int64(len(data)) > maxPart {
		return nil, fmt.Errorf("multipart: part exceeds %d bytes", maxPart)
	}
	return data, nil
}
