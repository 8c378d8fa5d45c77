// Package statement implements the xAPI statement data model: strict
// deserialization, aggregated validation, the equivalence fingerprint, and
// the ids/exact/canonical projection formats.
package statement

import (
	"encoding/json"
	"fmt"

	"github.com/skilltrace/lrs/pkg/types"
)

// Extensions maps extension IRIs to arbitrary JSON values. This is the one
// place in the model where null is a legal value.
type Extensions map[string]json.RawMessage

// Validate checks every key parses as an IRI.
func (e Extensions) Validate() []error {
	var errs []error
	for k := range e {
		if _, err := types.ParseIRI(k); err != nil {
			errs = append(errs, fmt.Errorf("extension key: %w", err))
		}
	}
	return errs
}
