package statement

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/skilltrace/lrs/pkg/types"
)

// interactionTypes are the CMI interaction vocabulary.
var interactionTypes = map[string]bool{
	"true-false":   true,
	"choice":       true,
	"fill-in":      true,
	"long-fill-in": true,
	"matching":     true,
	"performance":  true,
	"sequencing":   true,
	"likert":       true,
	"numeric":      true,
	"other":        true,
}

// InteractionComponent is one entry of choices/scale/source/target/steps.
type InteractionComponent struct {
	ID          string            `json:"id"`
	Description types.LanguageMap `json:"description,omitempty"`
}

func (c *InteractionComponent) Validate() []error {
	var errs []error
	if c.ID == "" {
		errs = append(errs, fmt.Errorf("interaction component: id is required"))
	}
	if err := c.Description.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("interaction component description: %w", err))
	}
	return errs
}

// ActivityDefinition is the mutable metadata attached to an activity IRI.
type ActivityDefinition struct {
	Name                    types.LanguageMap      `json:"name,omitempty"`
	Description             types.LanguageMap      `json:"description,omitempty"`
	Type                    string                 `json:"type,omitempty"`
	MoreInfo                string                 `json:"moreInfo,omitempty"`
	InteractionType         string                 `json:"interactionType,omitempty"`
	CorrectResponsesPattern []string               `json:"correctResponsesPattern,omitempty"`
	Choices                 []InteractionComponent `json:"choices,omitempty"`
	Scale                   []InteractionComponent `json:"scale,omitempty"`
	Source                  []InteractionComponent `json:"source,omitempty"`
	Target                  []InteractionComponent `json:"target,omitempty"`
	Steps                   []InteractionComponent `json:"steps,omitempty"`
	Extensions              Extensions             `json:"extensions,omitempty"`
}

func (d *ActivityDefinition) UnmarshalJSON(data []byte) error {
	type wire ActivityDefinition
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("activity definition: %w", err)
	}
	*d = ActivityDefinition(w)
	return nil
}

// hasInteractionFields reports whether any interaction property is set.
func (d *ActivityDefinition) hasInteractionFields() bool {
	return len(d.CorrectResponsesPattern) > 0 || len(d.Choices) > 0 ||
		len(d.Scale) > 0 || len(d.Source) > 0 || len(d.Target) > 0 || len(d.Steps) > 0
}

// Validate reports definition violations, including the rule that any
// interaction field implies interactionType.
func (d *ActivityDefinition) Validate() []error {
	var errs []error
	if err := d.Name.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("definition name: %w", err))
	}
	if err := d.Description.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("definition description: %w", err))
	}
	if d.Type != "" {
		if _, err := types.ParseIRI(d.Type); err != nil {
			errs = append(errs, fmt.Errorf("definition type: %w", err))
		}
	}
	if d.MoreInfo != "" {
		if _, err := types.ParseIRL(d.MoreInfo); err != nil {
			errs = append(errs, fmt.Errorf("definition moreInfo: %w", err))
		}
	}
	if d.InteractionType != "" && !interactionTypes[d.InteractionType] {
		errs = append(errs, fmt.Errorf("definition: unknown interactionType %q", d.InteractionType))
	}
	if d.InteractionType == "" && d.hasInteractionFields() {
		errs = append(errs, fmt.Errorf("definition: interaction fields require interactionType"))
	}
	for _, list := range [][]InteractionComponent{d.Choices, d.Scale, d.Source, d.Target, d.Steps} {
		for i := range list {
			errs = append(errs, list[i].Validate()...)
		}
	}
	errs = append(errs, d.Extensions.Validate()...)
	return errs
}

// Merge folds src into d: language maps and extensions extend with src
// winning per key, scalar fields overwrite only when d is empty, interaction
// lists replace only when d has none.
func (d *ActivityDefinition) Merge(src *ActivityDefinition) {
	if src == nil {
		return
	}
	d.Name = d.Name.Extend(src.Name)
	d.Description = d.Description.Extend(src.Description)
	if d.Type == "" {
		d.Type = src.Type
	}
	if d.MoreInfo == "" {
		d.MoreInfo = src.MoreInfo
	}
	if d.InteractionType == "" {
		d.InteractionType = src.InteractionType
	}
	if len(d.CorrectResponsesPattern) == 0 {
		d.CorrectResponsesPattern = src.CorrectResponsesPattern
	}
	if len(d.Choices) == 0 {
		d.Choices = src.Choices
	}
	if len(d.Scale) == 0 {
		d.Scale = src.Scale
	}
	if len(d.Source) == 0 {
		d.Source = src.Source
	}
	if len(d.Target) == 0 {
		d.Target = src.Target
	}
	if len(d.Steps) == 0 {
		d.Steps = src.Steps
	}
	if d.Extensions == nil && src.Extensions != nil {
		d.Extensions = Extensions{}
	}
	for k, v := range src.Extensions {
		d.Extensions[k] = v
	}
}

// Activity is an IRI-identified learning object.
type Activity struct {
	ObjectType string              `json:"objectType,omitempty"`
	ID         string              `json:"id"`
	Definition *ActivityDefinition `json:"definition,omitempty"`
}

func (a *Activity) UnmarshalJSON(data []byte) error {
	type wire Activity
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("activity: %w", err)
	}
	*a = Activity(w)
	return nil
}

// Validate reports activity violations.
func (a *Activity) Validate() []error {
	var errs []error
	if a.ObjectType != "" && a.ObjectType != "Activity" {
		errs = append(errs, fmt.Errorf("activity: objectType must be Activity, got %q", a.ObjectType))
	}
	if a.ID == "" {
		errs = append(errs, fmt.Errorf("activity: id is required"))
	} else if _, err := types.ParseIRI(a.ID); err != nil {
		errs = append(errs, fmt.Errorf("activity: %w", err))
	}
	if a.Definition != nil {
		errs = append(errs, a.Definition.Validate()...)
	}
	return errs
}
