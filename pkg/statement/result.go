package statement

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/skilltrace/lrs/pkg/types"
)

// Score is the numeric outcome of a result. At least one field must be set.
type Score struct {
	Scaled *float64 `json:"scaled,omitempty"`
	Raw    *float64 `json:"raw,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
}

func (s *Score) UnmarshalJSON(data []byte) error {
	type wire Score
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("score: %w", err)
	}
	*s = Score(w)
	return nil
}

// Validate enforces the score bounds.
func (s *Score) Validate() []error {
	var errs []error
	if s.Scaled == nil && s.Raw == nil && s.Min == nil && s.Max == nil {
		errs = append(errs, fmt.Errorf("score: at least one field required"))
	}
	if s.Scaled != nil && (*s.Scaled < -1.0 || *s.Scaled > 1.0) {
		errs = append(errs, fmt.Errorf("score: scaled is out-of-bounds: %v", *s.Scaled))
	}
	if s.Min != nil && s.Max != nil && *s.Max < *s.Min {
		errs = append(errs, fmt.Errorf("score: max < min: %v < %v", *s.Max, *s.Min))
	}
	if s.Raw != nil {
		if s.Min != nil && *s.Raw < *s.Min {
			errs = append(errs, fmt.Errorf("score: raw below min: %v < %v", *s.Raw, *s.Min))
		}
		if s.Max != nil && *s.Raw > *s.Max {
			errs = append(errs, fmt.Errorf("score: raw above max: %v > %v", *s.Raw, *s.Max))
		}
	}
	return errs
}

// Result records the outcome of the statement's verb.
type Result struct {
	Score      *Score          `json:"score,omitempty"`
	Success    *bool           `json:"success,omitempty"`
	Completion *bool           `json:"completion,omitempty"`
	Response   *string         `json:"response,omitempty"`
	Duration   *types.Duration `json:"duration,omitempty"`
	Extensions Extensions      `json:"extensions,omitempty"`
}

func (r *Result) UnmarshalJSON(data []byte) error {
	type wire Result
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("result: %w", err)
	}
	*r = Result(w)
	return nil
}

// Validate reports result violations.
func (r *Result) Validate() []error {
	var errs []error
	if r.Score != nil {
		errs = append(errs, r.Score.Validate()...)
	}
	errs = append(errs, r.Extensions.Validate()...)
	return errs
}
