package types

import (
	"fmt"
	"net/mail"
	"strings"
)

// Mbox is an agent mailbox IFI. Input may omit the mailto: scheme; the
// canonical wire form always carries it.
type Mbox string

// ParseMbox accepts "mailto:user@example.org" or a bare address and returns
// the canonical mailto: form.
func ParseMbox(s string) (Mbox, error) {
	if s == "" {
		return "", fmt.Errorf("mbox: empty string")
	}
	addr := s
	if rest, ok := strings.CutPrefix(s, "mailto:"); ok {
		addr = rest
	}
	if addr == "" {
		return "", fmt.Errorf("mbox %q: empty address", s)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return "", fmt.Errorf("mbox %q: %w", s, err)
	}
	if parsed.Address != addr {
		// Display names and angle brackets are not part of a mailto IFI.
		return "", fmt.Errorf("mbox %q: not a bare address", s)
	}
	return Mbox("mailto:" + addr), nil
}

func (m Mbox) String() string { return string(m) }

// Address returns the bare address without the mailto: scheme.
func (m Mbox) Address() string {
	return strings.TrimPrefix(string(m), "mailto:")
}

// FingerprintKey is the lowercased canonical form hashed for equivalence.
func (m Mbox) FingerprintKey() string {
	return strings.ToLower(string(m))
}
