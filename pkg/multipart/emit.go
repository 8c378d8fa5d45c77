package multipart

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strconv"
)

// Part is one attachment emitted alongside a statement response.
type Part struct {
	SHA2        string
	ContentType string
	Data        []byte
}

// Emit writes the multipart/mixed response body: part 0 is the statement
// JSON, each further part one attachment. Returns the Content-Type header
// value carrying the generated boundary.
func Emit(w io.Writer, statementJSON []byte, parts []Part) (string, error) {
	mw := multipart.NewWriter(w)

	jsonHeader := textproto.MIMEHeader{}
	jsonHeader.Set("Content-Type", "application/json")
	pw, err := mw.CreatePart(jsonHeader)
	if err != nil {
		return "", fmt.Errorf("multipart: emit: %w", err)
	}
	if _, err := pw.Write(statementJSON); err != nil {
		return "", fmt.Errorf("multipart: emit: %w", err)
	}

	for _, part := range parts {
		h := textproto.MIMEHeader{}
		ct := part.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		h.Set("Content-Length", strconv.Itoa(len(part.Data)))
		h.Set(hashHeader, part.SHA2)
		h.Set(encodingHeader, "binary")
		pw, err := mw.CreatePart(h)
		if err != nil {
			return "", fmt.Errorf("multipart: emit: %w", err)
		}
		if _, err := pw.Write(part.Data); err != nil {
			return "", fmt.Errorf("multipart: emit: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("multipart: emit: %w", err)
	}
	return "multipart/mixed; boundary=" + mw.Boundary(), nil
}
