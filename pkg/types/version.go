package types

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version is a statement version string. Parsing pads missing minor/patch
// components with zero; validity additionally requires the value to fall in
// [1.0.0, 2.0.0] while excluding the never-published 1.1.x line.
type Version string

// ParseVersion accepts 1, 2 or 3 dot-separated numeric components.
func ParseVersion(s string) (Version, error) {
	if s == "" {
		return "", fmt.Errorf("version: empty string")
	}
	if n := strings.Count(s, "."); n > 2 {
		return "", fmt.Errorf("version %q: too many components", s)
	}
	if _, err := semver.NewVersion(s); err != nil {
		return "", fmt.Errorf("version %q: %w", s, err)
	}
	return Version(s), nil
}

// Valid reports whether the version is one the LRS accepts on a statement.
func (v Version) Valid() bool {
	sv, err := semver.NewVersion(string(v))
	if err != nil {
		return false
	}
	lo := semver.MustParse("1.0.0")
	hi := semver.MustParse("2.0.0")
	if sv.Compare(lo) < 0 || sv.Compare(hi) > 0 {
		return false
	}
	if sv.Major() == 1 && sv.Minor() == 1 {
		return false
	}
	return true
}

// Padded returns the full three-component spelling.
func (v Version) Padded() string {
	sv, err := semver.NewVersion(string(v))
	if err != nil {
		return string(v)
	}
	return fmt.Sprintf("%d.%d.%d", sv.Major(), sv.Minor(), sv.Patch())
}
