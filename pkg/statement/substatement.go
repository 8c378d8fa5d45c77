package statement

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/skilltrace/lrs/pkg/types"
)

// SubStatement is a statement-shaped value nested as the object of another
// statement. It can never nest a further SubStatement and never carries the
// server-assigned metadata of a stored statement.
type SubStatement struct {
	Actor       Actor            `json:"actor"`
	Verb        Verb             `json:"verb"`
	Object      Object           `json:"object"`
	Result      *Result          `json:"result,omitempty"`
	Context     *Context         `json:"context,omitempty"`
	Timestamp   *types.Timestamp `json:"timestamp,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
}

type subStatementWire struct {
	ObjectType  string           `json:"objectType"`
	Actor       json.RawMessage  `json:"actor"`
	Verb        json.RawMessage  `json:"verb"`
	Object      json.RawMessage  `json:"object"`
	Result      *Result          `json:"result,omitempty"`
	Context     *Context         `json:"context,omitempty"`
	Timestamp   *types.Timestamp `json:"timestamp,omitempty"`
	Attachments []Attachment     `json:"attachments,omitempty"`
}

func (s *SubStatement) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w subStatementWire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("substatement: %w", err)
	}
	if w.Actor == nil || w.Verb == nil || w.Object == nil {
		return fmt.Errorf("substatement: actor, verb and object are required")
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
	s.Result = w.Result
	s.Context = w.Context
	s.Timestamp = w.Timestamp
	s.Attachments = w.Attachments
	return nil
}

func (s *SubStatement) marshalWithType() ([]byte, error) {
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
	return json.Marshal(subStatementWire{
		ObjectType:  "SubStatement",
		Actor:       actor,
		Verb:        verb,
		Object:      object,
		Result:      s.Result,
		Context:     s.Context,
		Timestamp:   s.Timestamp,
		Attachments: s.Attachments,
	})
}

// Validate reports substatement violations.
func (s *SubStatement) Validate() []error {
	var errs []error
	errs = append(errs, s.Actor.Validate()...)
	errs = append(errs, s.Verb.Validate()...)
	if s.Object.Kind == ObjectSubStatement {
		errs = append(errs, fmt.Errorf("substatement: nested substatements are not allowed"))
	} else {
		errs = append(errs, s.Object.Validate()...)
	}
	if s.Result != nil {
		errs = append(errs, s.Result.Validate()...)
	}
	if s.Context != nil {
		errs = append(errs, s.Context.Validate()...)
		if (s.Context.Revision != "" || s.Context.Platform != "") && !s.Object.IsActivity() {
			errs = append(errs, fmt.Errorf("substatement: context revision/platform require an activity object"))
		}
	}
	for i := range s.Attachments {
		errs = append(errs, s.Attachments[i].Validate()...)
	}
	return errs
}
