package statement

import (
	"encoding/json"
	"fmt"
)

// ObjectKind discriminates the statement object variants. The numeric values
// are the persisted object_kind column.
type ObjectKind int

const (
	ObjectActivity ObjectKind = iota
	ObjectAgent
	ObjectGroup
	ObjectStatementRef
	ObjectSubStatement
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectActivity:
		return "Activity"
	case ObjectAgent:
		return "Agent"
	case ObjectGroup:
		return "Group"
	case ObjectStatementRef:
		return "StatementRef"
	case ObjectSubStatement:
		return "SubStatement"
	}
	return fmt.Sprintf("ObjectKind(%d)", int(k))
}

// Object is the tagged union of the five statement object variants. The
// discriminator is objectType, defaulting to Activity when absent.
type Object struct {
	Kind     ObjectKind
	Activity *Activity
	Actor    *Actor
	Ref      *StatementRef
	Sub      *SubStatement
}

func (o *Object) UnmarshalJSON(data []byte) error {
	var probe struct {
		ObjectType string `json:"objectType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("object: %w", err)
	}
	switch probe.ObjectType {
	case "", "Activity":
		o.Kind = ObjectActivity
		o.Activity = &Activity{}
		return o.Activity.UnmarshalJSON(data)
	case "Agent":
		o.Kind = ObjectAgent
		o.Actor = &Actor{}
		return o.Actor.UnmarshalJSON(data)
	case "Group":
		o.Kind = ObjectGroup
		o.Actor = &Actor{}
		return o.Actor.UnmarshalJSON(data)
	case "StatementRef":
		o.Kind = ObjectStatementRef
		o.Ref = &StatementRef{}
		return o.Ref.UnmarshalJSON(data)
	case "SubStatement":
		o.Kind = ObjectSubStatement
		o.Sub = &SubStatement{}
		return o.Sub.UnmarshalJSON(data)
	}
	return fmt.Errorf("object: unknown objectType %q", probe.ObjectType)
}

func (o Object) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case ObjectActivity:
		out := *o.Activity
		out.ObjectType = "Activity"
		return json.Marshal(out)
	case ObjectAgent, ObjectGroup:
		// Actor marshalling handles the Group objectType; Agent objects must
		// carry an explicit objectType to round-trip the variant.
		raw, err := json.Marshal(*o.Actor)
		if err != nil {
			return nil, err
		}
		if o.Kind == ObjectAgent {
			var m map[string]json.RawMessage
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, err
			}
			m["objectType"] = json.RawMessage(`"Agent"`)
			return json.Marshal(m)
		}
		return raw, nil
	case ObjectStatementRef:
		return json.Marshal(*o.Ref)
	case ObjectSubStatement:
		return o.Sub.marshalWithType()
	}
	return nil, fmt.Errorf("object: invalid kind %d", int(o.Kind))
}

// Validate reports violations of the selected variant, including the rule
// that the variant payload is present.
func (o *Object) Validate() []error {
	switch o.Kind {
	case ObjectActivity:
		if o.Activity == nil {
			return []error{fmt.Errorf("object: missing activity")}
		}
		return o.Activity.Validate()
	case ObjectAgent, ObjectGroup:
		if o.Actor == nil {
			return []error{fmt.Errorf("object: missing actor")}
		}
		return o.Actor.Validate()
	case ObjectStatementRef:
		if o.Ref == nil {
			return []error{fmt.Errorf("object: missing statement ref")}
		}
		return o.Ref.Validate()
	case ObjectSubStatement:
		if o.Sub == nil {
			return []error{fmt.Errorf("object: missing substatement")}
		}
		return o.Sub.Validate()
	}
	return []error{fmt.Errorf("object: invalid kind %d", int(o.Kind))}
}

// IsActivity reports whether the object is an activity.
func (o *Object) IsActivity() bool { return o.Kind == ObjectActivity }
