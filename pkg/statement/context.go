package statement

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/types"
)

// ContextActivities holds the four related-activity slots. Each slot accepts
// either a single activity or a list on input and always emits a list.
type ContextActivities struct {
	Parent   []Activity `json:"parent,omitempty"`
	Grouping []Activity `json:"grouping,omitempty"`
	Category []Activity `json:"category,omitempty"`
	Other    []Activity `json:"other,omitempty"`
}

func (c *ContextActivities) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("contextActivities: %w", err)
	}
	slots := map[string]*[]Activity{
		"parent":   &c.Parent,
		"grouping": &c.Grouping,
		"category": &c.Category,
		"other":    &c.Other,
	}
	for key, val := range raw {
		dst, ok := slots[key]
		if !ok {
			return fmt.Errorf("contextActivities: unknown slot %q", key)
		}
		if len(val) > 0 && val[0] == '[' {
			if err := json.Unmarshal(val, dst); err != nil {
				return fmt.Errorf("contextActivities %s: %w", key, err)
			}
			continue
		}
		var one Activity
		if err := json.Unmarshal(val, &one); err != nil {
			return fmt.Errorf("contextActivities %s: %w", key, err)
		}
		*dst = []Activity{one}
	}
	return nil
}

// Validate reports violations across all four slots.
func (c *ContextActivities) Validate() []error {
	var errs []error
	for _, list := range [][]Activity{c.Parent, c.Grouping, c.Category, c.Other} {
		for i := range list {
			errs = append(errs, list[i].Validate()...)
		}
	}
	return errs
}

// ContextAgent relates an agent to the statement with typed relevance.
type ContextAgent struct {
	ObjectType    string   `json:"objectType"`
	Agent         Actor    `json:"agent"`
	RelevantTypes []string `json:"relevantTypes,omitempty"`
}

func (c *ContextAgent) UnmarshalJSON(data []byte) error {
	type wire ContextAgent
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("contextAgent: %w", err)
	}
	*c = ContextAgent(w)
	return nil
}

func (c *ContextAgent) Validate() []error {
	var errs []error
	if c.ObjectType != "contextAgent" {
		errs = append(errs, fmt.Errorf("contextAgent: objectType must be contextAgent, got %q", c.ObjectType))
	}
	if c.Agent.IsGroup() {
		errs = append(errs, fmt.Errorf("contextAgent: agent must be an Agent"))
	}
	errs = append(errs, c.Agent.Validate()...)
	errs = append(errs, validateRelevantTypes("contextAgent", c.RelevantTypes)...)
	return errs
}

// ContextGroup relates a group to the statement with typed relevance.
type ContextGroup struct {
	ObjectType    string   `json:"objectType"`
	Group         Actor    `json:"group"`
	RelevantTypes []string `json:"relevantTypes,omitempty"`
}

func (c *ContextGroup) UnmarshalJSON(data []byte) error {
	type wire ContextGroup
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("contextGroup: %w", err)
	}
	*c = ContextGroup(w)
	return nil
}

func (c *ContextGroup) Validate() []error {
	var errs []error
	if c.ObjectType != "contextGroup" {
		errs = append(errs, fmt.Errorf("contextGroup: objectType must be contextGroup, got %q", c.ObjectType))
	}
	if !c.Group.IsGroup() {
		errs = append(errs, fmt.Errorf("contextGroup: group must be a Group"))
	}
	errs = append(errs, c.Group.Validate()...)
	errs = append(errs, validateRelevantTypes("contextGroup", c.RelevantTypes)...)
	return errs
}

func validateRelevantTypes(where string, list []string) []error {
	var errs []error
	if len(list) == 0 {
		errs = append(errs, fmt.Errorf("%s: relevantTypes requires at least one IRI", where))
	}
	for _, rt := range list {
		if _, err := types.ParseIRI(rt); err != nil {
			errs = append(errs, fmt.Errorf("%s relevantTypes: %w", where, err))
		}
	}
	return errs
}

// Context situates a statement.
type Context struct {
	Registration      *uuid.UUID         `json:"registration,omitempty"`
	Instructor        *Actor             `json:"instructor,omitempty"`
	Team              *Actor             `json:"team,omitempty"`
	ContextActivities *ContextActivities `json:"contextActivities,omitempty"`
	ContextAgents     []ContextAgent     `json:"contextAgents,omitempty"`
	ContextGroups     []ContextGroup     `json:"contextGroups,omitempty"`
	Revision          string             `json:"revision,omitempty"`
	Platform          string             `json:"platform,omitempty"`
	Language          string             `json:"language,omitempty"`
	Statement         *StatementRef      `json:"statement,omitempty"`
	Extensions        Extensions         `json:"extensions,omitempty"`
}

func (c *Context) UnmarshalJSON(data []byte) error {
	type wire Context
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	*c = Context(w)
	return nil
}

// Validate reports context violations.
func (c *Context) Validate() []error {
	var errs []error
	if c.Instructor != nil {
		errs = append(errs, c.Instructor.Validate()...)
	}
	if c.Team != nil {
		if !c.Team.IsGroup() {
			errs = append(errs, fmt.Errorf("context: team must be a Group"))
		}
		errs = append(errs, c.Team.Validate()...)
	}
	if c.ContextActivities != nil {
		errs = append(errs, c.ContextActivities.Validate()...)
	}
	for i := range c.ContextAgents {
		errs = append(errs, c.ContextAgents[i].Validate()...)
	}
	for i := range c.ContextGroups {
		errs = append(errs, c.ContextGroups[i].Validate()...)
	}
	if c.Language != "" {
		if _, err := types.ParseLanguageTag(c.Language); err != nil {
			errs = append(errs, fmt.Errorf("context: %w", err))
		}
	}
	if c.Statement != nil {
		errs = append(errs, c.Statement.Validate()...)
	}
	errs = append(errs, c.Extensions.Validate()...)
	return errs
}
