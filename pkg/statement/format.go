package statement

import (
	"encoding/json"
	"fmt"
)

// Mode selects the projection applied when statements are re-emitted.
type Mode string

const (
	ModeIDs       Mode = "ids"
	ModeExact     Mode = "exact"
	ModeCanonical Mode = "canonical"
)

// ParseMode validates a format query value.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "":
		return ModeExact, nil
	case "ids", "exact", "canonical":
		return Mode(s), nil
	}
	return "", fmt.Errorf("format: unknown value %q", s)
}

// Format is a projection: the mode plus the caller's preferred language
// tags (Accept-Language order) used by canonical reduction.
type Format struct {
	Mode  Mode
	Langs []string
}

// Project renders one stored statement. exact is the persisted submission
// bytes with stored (and any server-assigned fields) already present.
func (f Format) Project(s *Statement, exact json.RawMessage) (json.RawMessage, error) {
	switch f.Mode {
	case ModeExact, "":
		return exact, nil
	case ModeIDs:
		return json.Marshal(idsStatement(s))
	case ModeCanonical:
		return canonicalJSON(exact, f.Langs)
	}
	return nil, fmt.Errorf("format: unknown mode %q", f.Mode)
}

// idsStatement strips the statement down to minimum identifying info.
func idsStatement(s *Statement) Statement {
	out := Statement{
		ID:        s.ID,
		Actor:     idsActor(s.Actor),
		Verb:      Verb{ID: s.Verb.ID},
		Object:    idsObject(s.Object),
		Result:    s.Result,
		Context:   idsContext(s.Context),
		Timestamp: s.Timestamp,
		Stored:    s.Stored,
		Version:   s.Version,
	}
	if s.Authority != nil {
		auth := idsActor(*s.Authority)
		out.Authority = &auth
	}
	return out
}

func idsActor(a Actor) Actor {
	out := Actor{
		ObjectType:  a.ObjectType,
		Mbox:        a.CanonicalMbox(),
		MboxSHA1Sum: a.MboxSHA1Sum,
		OpenID:      a.OpenID,
		Account:     a.Account,
	}
	// Anonymous groups are only identified by their membership.
	if a.IsGroup() && out.Mbox == "" && out.MboxSHA1Sum == "" && out.OpenID == "" && out.Account == nil {
		out.Member = make([]Actor, len(a.Member))
		for i, m := range a.Member {
			out.Member[i] = idsActor(m)
		}
	}
	return out
}

func idsObject(o Object) Object {
	switch o.Kind {
	case ObjectActivity:
		return Object{Kind: ObjectActivity, Activity: &Activity{ID: o.Activity.ID}}
	case ObjectAgent, ObjectGroup:
		a := idsActor(*o.Actor)
		return Object{Kind: o.Kind, Actor: &a}
	case ObjectStatementRef:
		return o
	case ObjectSubStatement:
		sub := &SubStatement{
			Actor:     idsActor(o.Sub.Actor),
			Verb:      Verb{ID: o.Sub.Verb.ID},
			Object:    idsObject(o.Sub.Object),
			Result:    o.Sub.Result,
			Context:   idsContext(o.Sub.Context),
			Timestamp: o.Sub.Timestamp,
		}
		return Object{Kind: ObjectSubStatement, Sub: sub}
	}
	return o
}

func idsContext(c *Context) *Context {
	if c == nil {
		return nil
	}
	out := *c
	if c.Instructor != nil {
		instr := idsActor(*c.Instructor)
		out.Instructor = &instr
	}
	if c.Team != nil {
		team := idsActor(*c.Team)
		out.Team = &team
	}
	if c.ContextActivities != nil {
		ca := &ContextActivities{
			Parent:   idsActivities(c.ContextActivities.Parent),
			Grouping: idsActivities(c.ContextActivities.Grouping),
			Category: idsActivities(c.ContextActivities.Category),
			Other:    idsActivities(c.ContextActivities.Other),
		}
		out.ContextActivities = ca
	}
	return &out
}

func idsActivities(list []Activity) []Activity {
	if len(list) == 0 {
		return nil
	}
	out := make([]Activity, len(list))
	for i, a := range list {
		out[i] = Activity{ID: a.ID}
	}
	return out
}

// languageMapKeys are the property names whose object values are language
// maps anywhere in a statement.
var languageMapKeys = map[string]bool{
	"display":     true,
	"name":        true,
	"description": true,
}

// canonicalJSON is the exact payload with every language map reduced to a
// single preferred entry. Extensions subtrees are left untouched.
func canonicalJSON(exact json.RawMessage, langs []string) (json.RawMessage, error) {
	var tree any
	if err := json.Unmarshal(exact, &tree); err != nil {
		return nil, fmt.Errorf("canonical: %w", err)
	}
	reduceLanguageMaps(tree, langs, false)
	return json.Marshal(tree)
}

func reduceLanguageMaps(node any, langs []string, inExtensions bool) {
	switch t := node.(type) {
	case map[string]any:
		for k, v := range t {
			childExt := inExtensions || k == "extensions"
			if !childExt && languageMapKeys[k] {
				if lm, ok := asLanguageMap(v); ok {
					t[k] = map[string]any(reduceGeneric(lm, langs))
					continue
				}
			}
			reduceLanguageMaps(v, langs, childExt)
		}
	case []any:
		for _, v := range t {
			reduceLanguageMaps(v, langs, inExtensions)
		}
	}
}

// asLanguageMap reports whether v is an object with only string values.
func asLanguageMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for _, val := range m {
		if _, ok := val.(string); !ok {
			return nil, false
		}
	}
	return m, true
}

func reduceGeneric(m map[string]any, langs []string) map[string]any {
	if len(m) <= 1 {
		return m
	}
	for _, want := range langs {
		if v, ok := m[want]; ok {
			return map[string]any{want: v}
		}
	}
	for k, v := range m {
		return map[string]any{k: v}
	}
	return m
}
