package statement

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/skilltrace/lrs/pkg/types"
)

// VoidingVerb is the reserved verb IRI that marks a voiding statement.
const VoidingVerb = "http://adlnet.gov/expapi/verbs/voided"

// Verb is an IRI plus an optional display language map. Only the IRI takes
// part in equivalence.
type Verb struct {
	ID      string            `json:"id"`
	Display types.LanguageMap `json:"display,omitempty"`
}

func (v *Verb) UnmarshalJSON(data []byte) error {
	type wire Verb
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("verb: %w", err)
	}
	*v = Verb(w)
	return nil
}

// Validate reports verb violations.
func (v *Verb) Validate() []error {
	var errs []error
	if v.ID == "" {
		errs = append(errs, fmt.Errorf("verb: id is required"))
	} else if _, err := types.ParseIRI(v.ID); err != nil {
		errs = append(errs, fmt.Errorf("verb: %w", err))
	}
	if err := v.Display.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("verb display: %w", err))
	}
	return errs
}

// IsVoiding reports whether the verb is the reserved voiding verb.
func (v *Verb) IsVoiding() bool {
	return types.IRI(v.ID).Normalized() == types.IRI(VoidingVerb).Normalized()
}
