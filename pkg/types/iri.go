// Package types holds the xAPI value types shared across the LRS: IRIs,
// mailto addresses, language tags, timestamps, ISO-8601 durations, version
// strings, and the hex digest validators. Every type validates on parse and
// exposes the normal form used by the statement fingerprint.
package types

import (
	"fmt"
	"net/url"
	"strings"
)

// IRI is an absolute internationalized resource identifier (RFC 3987).
// The original spelling is preserved; Normalized is only used for
// fingerprinting, never for storage or re-emission.
type IRI string

// ParseIRI validates s as an absolute IRI.
func ParseIRI(s string) (IRI, error) {
	if s == "" {
		return "", fmt.Errorf("iri: empty string")
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("iri: %w", err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("iri %q: missing scheme", s)
	}
	return IRI(s), nil
}

// ParseIRL validates s as an IRL: an IRI whose mapped URI form parses as an
// absolute URL with a non-empty authority or opaque part.
func ParseIRL(s string) (IRI, error) {
	iri, err := ParseIRI(s)
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(s)
	if !u.IsAbs() {
		return "", fmt.Errorf("irl %q: not absolute", s)
	}
	if u.Host == "" && u.Opaque == "" && u.Path == "" {
		return "", fmt.Errorf("irl %q: no locatable part", s)
	}
	return iri, nil
}

func (i IRI) String() string { return string(i) }

// Normalized returns the fingerprint form: scheme and host lowercased,
// percent-encoded triplets upper-cased per RFC 3986, fragment kept verbatim.
func (i IRI) Normalized() string {
	s := string(i)
	frag := ""
	if idx := strings.IndexByte(s, '#'); idx >= 0 {
		s, frag = s[:idx], s[idx:]
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return normalizePercent(string(i))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return normalizePercent(u.String()) + frag
}

// normalizePercent upper-cases the hex digits of every percent-encoded
// triplet so that %2f and %2F fingerprint identically.
func normalizePercent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteByte('%')
			b.WriteByte(upperHex(s[i+1]))
			b.WriteByte(upperHex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func upperHex(c byte) byte {
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 'A'
	}
	return c
}
