package statement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/types"
)

// Statement is the immutable learning record. Server-assigned fields (id
// when absent, stored, authority when absent) are populated at ingest; the
// voided flag lives in the store, not on the wire form.
type Statement struct {
	ID          *uuid.UUID       `json:"id,omitempty"`
	Actor       Actor            `json:"actor"`
	Verb        Verb             `json:"verb"`
	Object      Object           `json:"object"`
	Result      *Result          `json:"result,omitempty"`
	Context     *Context         `json:"context,omitempty"`
	Timestamp   *types.Timestamp `json:"timestamp,omitempty"`
	Stored      *types.Timestamp `json:"stored,omitempty"`
	Authority   *Actor           `json:"authority,omitempty"`
	Version     string           `json:"version,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
}

type statementWire struct {
	ID          string           `json:"id,omitempty"`
	Actor       json.RawMessage  `json:"actor"`
	Verb        json.RawMessage  `json:"verb"`
	Object      json.RawMessage  `json:"object"`
	Result      *Result          `json:"result,omitempty"`
	Context     *Context         `json:"context,omitempty"`
	Timestamp   *types.Timestamp `json:"timestamp,omitempty"`
	Stored      *types.Timestamp `json:"stored,omitempty"`
	Authority   json.RawMessage  `json:"authority,omitempty"`
	Version     string           `json:"version,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
}

func (s *Statement) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w statementWire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("statement: %w", err)
	}
	if w.Actor == nil || w.Verb == nil || w.Object == nil {
		return fmt.Errorf("statement: actor, verb and object are required")
	}
	*s = Statement{}
	if w.ID != "" {
		id, err := uuid.Parse(w.ID)
		if err != nil {
			return fmt.Errorf("statement id: %w", err)
		}
		s.ID = &id
	}
	if err := s.Actor.UnmarshalJSON(w.Actor); err != nil {
		return err
	}
	if err := s.Verb.UnmarshalJSON(w.Verb); err != nil {
		return err
	}
	if err := s.Object.UnmarshalJSON(w.Object); err != nil {
		return err
	}
	if len(w.Authority) > 0 {
		s.Authority = &Actor{}
		if err := s.Authority.UnmarshalJSON(w.Authority); err != nil {
			return err
		}
	}
	s.Result = w.Result
	s.Context = w.Context
	s.Timestamp = w.Timestamp
	s.Stored = w.Stored
	s.Version = w.Version
	s.Attachments = w.Attachments
	return nil
}

func (s Statement) MarshalJSON() ([]byte, error) {
	actor, err := json.Marshal(s.Actor)
	if err != nil {
		return nil, err
	}
	verb, err := json.Marshal(s.Verb)
	if err != nil {
		return nil, err
	}
	object, err := json.Marshal(s.Object)
	if err != nil {
		return nil, err
	}
	w := statementWire{
		Actor:       actor,
		Verb:        verb,
		Object:      object,
		Result:      s.Result,
		Context:     s.Context,
		Timestamp:   s.Timestamp,
		Stored:      s.Stored,
		Version:     s.Version,
		Attachments: s.Attachments,
	}
	if s.ID != nil {
		w.ID = s.ID.String()
	}
	if s.Authority != nil {
		auth, err := json.Marshal(*s.Authority)
		if err != nil {
			return nil, err
		}
		w.Authority = auth
	}
	return json.Marshal(w)
}

// Validate reports the full violation list for the statement.
func (s *Statement) Validate() []error {
	var errs []error
	if s.ID != nil {
		if err := types.ValidStatementID(*s.ID); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, s.Actor.Validate()...)
	errs = append(errs, s.Verb.Validate()...)
	errs = append(errs, s.Object.Validate()...)
	if s.Result != nil {
		errs = append(errs, s.Result.Validate()...)
	}
	if s.Context != nil {
		errs = append(errs, s.Context.Validate()...)
		if (s.Context.Revision != "" || s.Context.Platform != "") && !s.Object.IsActivity() {
			errs = append(errs, fmt.Errorf("statement: context revision/platform require an activity object"))
		}
	}
	if s.Authority != nil {
		errs = append(errs, s.Authority.ValidateAuthority()...)
	}
	if s.Version != "" {
		v, err := types.ParseVersion(s.Version)
		if err != nil {
			errs = append(errs, err)
		} else if !v.Valid() {
			errs = append(errs, fmt.Errorf("version %q: outside the accepted range", s.Version))
		}
	}
	if s.Verb.IsVoiding() && s.Object.Kind != ObjectStatementRef {
		errs = append(errs, fmt.Errorf("statement: voiding verb requires a StatementRef object"))
	}
	for i := range s.Attachments {
		errs = append(errs, s.Attachments[i].Validate()...)
	}
	return errs
}

// Violations folds the validation list into one error, or nil when valid.
func (s *Statement) Violations() error {
	return errors.Join(s.Validate()...)
}

// IsVoiding reports whether this statement voids another.
func (s *Statement) IsVoiding() bool {
	return s.Verb.IsVoiding() && s.Object.Kind == ObjectStatementRef
}

// VoidTarget returns the UUID a voiding statement targets.
func (s *Statement) VoidTarget() (uuid.UUID, bool) {
	if !s.IsVoiding() || s.Object.Ref == nil {
		return uuid.Nil, false
	}
	return s.Object.Ref.ID, true
}

// Equivalent reports fingerprint equality.
func (s *Statement) Equivalent(other *Statement) bool {
	return s.Fingerprint() == other.Fingerprint()
}
