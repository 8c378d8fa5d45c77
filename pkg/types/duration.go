package types

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// Duration is an ISO-8601 duration restricted to the two xAPI shapes:
// "PnW" on its own, or "PnYnMnDTnHnMn.nnS". Mixing weeks with any other
// designator is rejected. Fractions are only accepted on seconds and weeks.
//
// Fingerprinting and canonical emission truncate seconds to hundredths;
// the original spelling survives only inside the statement's exact JSON.
type Duration struct {
	Years   int
	Months  int
	Days    int
	Hours   int
	Minutes int
	Seconds float64
	Weeks   float64
	IsWeeks bool
}

var (
	weeksRe    = regexp.MustCompile(`^P(\d+(?:\.\d+)?)W$`)
	durationRe = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)
)

// ParseDuration parses the xAPI duration grammar.
func ParseDuration(s string) (Duration, error) {
	if s == "" {
		return Duration{}, fmt.Errorf("duration: empty string")
	}
	if m := weeksRe.FindStringSubmatch(s); m != nil {
		w, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return Duration{}, fmt.Errorf("duration %q: %w", s, err)
		}
		return Duration{Weeks: w, IsWeeks: true}, nil
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return Duration{}, fmt.Errorf("duration %q: not a valid ISO-8601 duration", s)
	}
	any := false
	var d Duration
	atoi := func(v string, dst *int) error {
		if v == "" {
			return nil
		}
		any = true
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
	if err := atoi(m[1], &d.Years); err != nil {
		return Duration{}, fmt.Errorf("duration %q: %w", s, err)
	}
	if err := atoi(m[2], &d.Months); err != nil {
		return Duration{}, fmt.Errorf("duration %q: %w", s, err)
	}
	if err := atoi(m[3], &d.Days); err != nil {
		return Duration{}, fmt.Errorf("duration %q: %w", s, err)
	}
	if err := atoi(m[4], &d.Hours); err != nil {
		return Duration{}, fmt.Errorf("duration %q: %w", s, err)
	}
	if err := atoi(m[5], &d.Minutes); err != nil {
		return Duration{}, fmt.Errorf("duration %q: %w", s, err)
	}
	if m[6] != "" {
		any = true
		sec, err := strconv.ParseFloat(m[6], 64)
		if err != nil {
			return Duration{}, fmt.Errorf("duration %q: %w", s, err)
		}
		d.Seconds = sec
	}
	if !any {
		return Duration{}, fmt.Errorf("duration %q: no components", s)
	}
	return d, nil
}

// centis returns whole hundredths of a second, truncating toward zero.
func (d Duration) centis() int64 {
	if d.IsWeeks {
		return centiFloor(d.Weeks * 7 * 24 * 3600)
	}
	return centiFloor(d.Seconds)
}

// centiFloor floors seconds to whole hundredths. Values within float64
// noise of an exact hundredth snap to it first, so a value that is
// already truncated survives the round trip through its float spelling.
func centiFloor(seconds float64) int64 {
	scaled := seconds * 100
	nearest := math.Round(scaled)
	if math.Abs(scaled-nearest) < 1e-9*math.Max(1, math.Abs(scaled)) {
		return int64(nearest)
	}
	return int64(math.Floor(scaled))
}

// Truncate drops sub-hundredth precision. Idempotent.
func (d Duration) Truncate() Duration {
	if d.IsWeeks {
		// Weeks collapse to days at canonical time; truncation converts here
		// so the two forms fingerprint identically.
		cs := d.centis()
		return Duration{
			Days:    int(cs / (24 * 3600 * 100)),
			Hours:   int(cs / 360000 % 24),
			Minutes: int(cs / 6000 % 60),
			Seconds: float64(cs%6000) / 100,
		}
	}
	out := d
	out.Seconds = float64(d.centis()) / 100
	return out
}

// Canonical emits the truncated canonical form: date designators only when
// non-zero, the time part always spelled out as H, M and S.
func (d Duration) Canonical() string {
	t := d.Truncate()
	s := "P"
	if t.Years > 0 {
		s += strconv.Itoa(t.Years) + "Y"
	}
	if t.Months > 0 {
		s += strconv.Itoa(t.Months) + "M"
	}
	if t.Days > 0 {
		s += strconv.Itoa(t.Days) + "D"
	}
	cs := int64(math.Round(t.Seconds * 100))
	whole, frac := cs/100, cs%100
	var sec string
	switch {
	case frac == 0:
		sec = strconv.FormatInt(whole, 10)
	case frac%10 == 0:
		sec = fmt.Sprintf("%d.%d", whole, frac/10)
	default:
		sec = fmt.Sprintf("%d.%02d", whole, frac)
	}
	return s + "T" + strconv.Itoa(t.Hours) + "H" + strconv.Itoa(t.Minutes) + "M" + sec + "S"
}

// FingerprintKey is the canonical string, so PT1H0.0574S and PT1H0.05S
// digest identically.
func (d Duration) FingerprintKey() string { return d.Canonical() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Canonical())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
