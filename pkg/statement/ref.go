package statement

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/types"
)

// StatementRef points at another statement by UUID.
type StatementRef struct {
	ObjectType string    `json:"objectType"`
	ID         uuid.UUID `json:"id"`
}

func (r *StatementRef) UnmarshalJSON(data []byte) error {
	type wire struct {
		ObjectType string `json:"objectType"`
		ID         string `json:"id"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("statement ref: %w", err)
	}
	r.ObjectType = w.ObjectType
	if w.ID != "" {
		id, err := uuid.Parse(w.ID)
		if err != nil {
			return fmt.Errorf("statement ref id: %w", err)
		}
		r.ID = id
	} else {
		r.ID = uuid.Nil
	}
	return nil
}

func (r StatementRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ObjectType string `json:"objectType"`
		ID         string `json:"id"`
	}{ObjectType: "StatementRef", ID: r.ID.String()})
}

// Validate reports ref violations.
func (r *StatementRef) Validate() []error {
	var errs []error
	if r.ObjectType != "StatementRef" {
		errs = append(errs, fmt.Errorf("statement ref: objectType must be StatementRef, got %q", r.ObjectType))
	}
	if err := types.ValidStatementID(r.ID); err != nil {
		errs = append(errs, fmt.Errorf("statement ref: %w", err))
	}
	return errs
}
