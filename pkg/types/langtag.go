package types

import (
	"fmt"

	"golang.org/x/text/language"
)

// LanguageTag is a BCP-47 tag in RFC 5646 canonical form.
type LanguageTag string

// ParseLanguageTag validates and canonicalizes a BCP-47 tag.
func ParseLanguageTag(s string) (LanguageTag, error) {
	if s == "" {
		return "", fmt.Errorf("language tag: empty string")
	}
	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("language tag %q: %w", s, err)
	}
	return LanguageTag(tag.String()), nil
}

func (t LanguageTag) String() string { return string(t) }

// LanguageMap maps BCP-47 tags to display strings. Keys are validated where
// the map is decoded; the map itself only carries the merge and reduction
// semantics.
type LanguageMap map[string]string

// Validate checks every key parses as a BCP-47 tag.
func (m LanguageMap) Validate() error {
	for k := range m {
		if _, err := ParseLanguageTag(k); err != nil {
			return err
		}
	}
	return nil
}

// Extend merges src into m, src winning on key conflict. Returns m for
// chaining; a nil receiver returns a copy of src.
func (m LanguageMap) Extend(src LanguageMap) LanguageMap {
	if m == nil {
		if src == nil {
			return nil
		}
		m = make(LanguageMap, len(src))
	}
	for k, v := range src {
		m[k] = v
	}
	return m
}

// Reduce returns a map with at most one entry. The first preferred tag that
// keys m wins; when none match, one arbitrary entry is retained. Maps with
// one or zero entries come back unchanged.
func (m LanguageMap) Reduce(preferred []string) LanguageMap {
	if len(m) <= 1 {
		return m
	}
	for _, want := range preferred {
		if v, ok := m[want]; ok {
			return LanguageMap{want: v}
		}
	}
	for k, v := range m {
		return LanguageMap{k: v}
	}
	return m
}
