package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Timestamp is an RFC-3339 instant with a required timezone. The negative
// zero offset (-00:00 / -0000) is rejected per RFC 3339 §4.3: it asserts the
// offset to UTC is unknown, which xAPI forbids.
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses an RFC-3339 timestamp with sub-second precision.
func ParseTimestamp(s string) (Timestamp, error) {
	if s == "" {
		return Timestamp{}, fmt.Errorf("timestamp: empty string")
	}
	if strings.HasSuffix(s, "-00:00") || strings.HasSuffix(s, "-0000") || strings.HasSuffix(s, "-00") {
		return Timestamp{}, fmt.Errorf("timestamp %q: negative zero offset", s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return Timestamp{t}, nil
}

// Now returns the current instant in UTC.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

// String emits millisecond precision, with the Z suffix when the zone is UTC.
func (t Timestamp) String() string {
	if t.Location() == time.UTC || t.Format("Z07:00") == "Z" {
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
