package statement

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/skilltrace/lrs/pkg/types"
)

// TestFingerprintSerializationStable verifies fingerprint(S) survives a
// marshal/unmarshal round trip for generated agent statements.
func TestFingerprintSerializationStable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("round trip preserves fingerprint", prop.ForAll(
		func(local, host, verb, activity string) bool {
			mbox := "mailto:" + local + "@" + host + ".example.org"
			s, err := NewStatement().
				Actor(Actor{ObjectType: "Agent", Mbox: mbox}).
				Verb(Verb{ID: "http://example.org/verbs/" + verb}).
				ActivityObject(Activity{ID: "http://example.org/act/" + activity}).
				Build()
			if err != nil {
				return true // invalid generation, nothing to check
			}
			raw, err := json.Marshal(s)
			if err != nil {
				return false
			}
			d, err := DecodeStatement(raw)
			if err != nil {
				return false
			}
			return d.Statement.Fingerprint() == s.Fingerprint()
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// TestDurationTruncationIdempotent verifies truncate(truncate(d)) equals
// truncate(d) and fingerprints agree, for arbitrary second values.
func TestDurationTruncationIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("truncation idempotent", prop.ForAll(
		func(hours int, centis int, sub int) bool {
			d := types.Duration{
				Hours:   hours % 1000,
				Seconds: float64(centis%6000)/100 + float64(sub%100)/100000,
			}
			once := d.Truncate()
			twice := once.Truncate()
			return once == twice && d.FingerprintKey() == once.FingerprintKey()
		},
		gen.IntRange(0, 999),
		gen.IntRange(0, 5999),
		gen.IntRange(0, 99),
	))

	properties.TestingRun(t)
}

// TestLanguageMapReduceBounded verifies reduce always yields at most one
// entry and honors the first matching preferred tag.
func TestLanguageMapReduceBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	tags := []string{"en", "en-US", "fr", "de", "ja", "pt-BR"}

	properties.Property("reduce yields at most one entry", prop.ForAll(
		func(present []int, preferred []int) bool {
			m := types.LanguageMap{}
			for _, i := range present {
				m[tags[i%len(tags)]] = "value"
			}
			var prefs []string
			for _, i := range preferred {
				prefs = append(prefs, tags[i%len(tags)])
			}
			got := m.Reduce(prefs)
			if len(m) > 1 && len(got) != 1 {
				return false
			}
			if len(m) <= 1 && len(got) != len(m) {
				return false
			}
			// The retained key must be the first preferred tag present.
			for _, p := range prefs {
				if _, ok := m[p]; ok {
					_, kept := got[p]
					return kept || len(m) <= 1
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
