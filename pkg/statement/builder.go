package statement

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/types"
)

// ActorBuilder assembles an Agent or Group. Setting any IFI clears the
// other three, so the cardinality invariant holds by construction.
type ActorBuilder struct {
	actor Actor
	err   error
}

// NewAgent starts an Agent builder.
func NewAgent() *ActorBuilder {
	return &ActorBuilder{actor: Actor{ObjectType: objectTypeAgent}}
}

// NewGroup starts a Group builder.
func NewGroup() *ActorBuilder {
	return &ActorBuilder{actor: Actor{ObjectType: objectTypeGroup}}
}

func (b *ActorBuilder) fail(err error) *ActorBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *ActorBuilder) clearIFIs() {
	b.actor.Mbox = ""
	b.actor.MboxSHA1Sum = ""
	b.actor.OpenID = ""
	b.actor.Account = nil
}

// Name sets the display name.
func (b *ActorBuilder) Name(name string) *ActorBuilder {
	if name == "" {
		return b.fail(fmt.Errorf("actor builder: empty name"))
	}
	b.actor.Name = name
	return b
}

// Mbox sets the mailbox IFI, clearing any other IFI.
func (b *ActorBuilder) Mbox(mbox string) *ActorBuilder {
	m, err := types.ParseMbox(mbox)
	if err != nil {
		return b.fail(err)
	}
	b.clearIFIs()
	b.actor.Mbox = m.String()
	return b
}

// MboxSHA1Sum sets the hashed-mailbox IFI, clearing any other IFI.
func (b *ActorBuilder) MboxSHA1Sum(sum string) *ActorBuilder {
	if !types.IsSHA1Hex(sum) {
		return b.fail(fmt.Errorf("actor builder: mbox_sha1sum %q is not 40-char hex", sum))
	}
	b.clearIFIs()
	b.actor.MboxSHA1Sum = sum
	return b
}

// OpenID sets the openid IFI, clearing any other IFI.
func (b *ActorBuilder) OpenID(iri string) *ActorBuilder {
	if _, err := types.ParseIRI(iri); err != nil {
		return b.fail(err)
	}
	b.clearIFIs()
	b.actor.OpenID = iri
	return b
}

// Account sets the account IFI, clearing any other IFI.
func (b *ActorBuilder) Account(homePage, name string) *ActorBuilder {
	acct := &Account{HomePage: homePage, Name: name}
	if errs := acct.Validate(); len(errs) > 0 {
		return b.fail(errs[0])
	}
	b.clearIFIs()
	b.actor.Account = acct
	return b
}

// Member appends a group member. Fails on non-group builders.
func (b *ActorBuilder) Member(m Actor) *ActorBuilder {
	if !b.actor.IsGroup() {
		return b.fail(fmt.Errorf("actor builder: member on a non-group actor"))
	}
	b.actor.Member = append(b.actor.Member, m)
	return b
}

// Build validates and returns the actor.
func (b *ActorBuilder) Build() (Actor, error) {
	if b.err != nil {
		return Actor{}, b.err
	}
	if errs := b.actor.Validate(); len(errs) > 0 {
		return Actor{}, errs[0]
	}
	return b.actor, nil
}

// NewVerb validates and constructs a verb.
func NewVerb(iri string, display types.LanguageMap) (Verb, error) {
	v := Verb{ID: iri, Display: display}
	if errs := v.Validate(); len(errs) > 0 {
		return Verb{}, errs[0]
	}
	return v, nil
}

// NewActivity validates and constructs an activity.
func NewActivity(iri string, def *ActivityDefinition) (Activity, error) {
	a := Activity{ID: iri, Definition: def}
	if errs := a.Validate(); len(errs) > 0 {
		return Activity{}, errs[0]
	}
	return a, nil
}

// StatementBuilder assembles a statement.
type StatementBuilder struct {
	s   Statement
	err error
}

// NewStatement starts a statement builder.
func NewStatement() *StatementBuilder { return &StatementBuilder{} }

func (b *StatementBuilder) fail(err error) *StatementBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// ID sets the statement UUID.
func (b *StatementBuilder) ID(id uuid.UUID) *StatementBuilder {
	if err := types.ValidStatementID(id); err != nil {
		return b.fail(err)
	}
	b.s.ID = &id
	return b
}

// Actor sets the actor.
func (b *StatementBuilder) Actor(a Actor) *StatementBuilder {
	b.s.Actor = a
	return b
}

// Verb sets the verb.
func (b *StatementBuilder) Verb(v Verb) *StatementBuilder {
	b.s.Verb = v
	return b
}

// ActivityObject sets an activity object.
func (b *StatementBuilder) ActivityObject(a Activity) *StatementBuilder {
	b.s.Object = Object{Kind: ObjectActivity, Activity: &a}
	return b
}

// RefObject sets a StatementRef object.
func (b *StatementBuilder) RefObject(id uuid.UUID) *StatementBuilder {
	b.s.Object = Object{Kind: ObjectStatementRef, Ref: &StatementRef{ObjectType: "StatementRef", ID: id}}
	return b
}

// Result sets the result.
func (b *StatementBuilder) Result(r Result) *StatementBuilder {
	b.s.Result = &r
	return b
}

// Context sets the context.
func (b *StatementBuilder) Context(c Context) *StatementBuilder {
	b.s.Context = &c
	return b
}

// Build validates and returns the statement.
func (b *StatementBuilder) Build() (*Statement, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.s.Violations(); err != nil {
		return nil, err
	}
	out := b.s
	return &out, nil
}
