package statement

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/skilltrace/lrs/pkg/types"
)

// Account is the homepage-scoped IFI variant.
type Account struct {
	HomePage string `json:"homePage"`
	Name     string `json:"name"`
}

// Validate reports account violations.
func (a *Account) Validate() []error {
	var errs []error
	if a.HomePage == "" {
		errs = append(errs, fmt.Errorf("account: homePage is required"))
	} else if _, err := types.ParseIRL(a.HomePage); err != nil {
		errs = append(errs, fmt.Errorf("account: %w", err))
	}
	if a.Name == "" {
		errs = append(errs, fmt.Errorf("account: name is required"))
	}
	return errs
}

// Key is the fingerprint form: case-insensitive homepage + exact name.
func (a *Account) Key() string {
	return types.CIString(a.HomePage).FingerprintKey() + "\x00" + a.Name
}

// IFIKind names the inverse functional identifier an actor carries.
type IFIKind string

const (
	IFINone       IFIKind = ""
	IFIMbox       IFIKind = "mbox"
	IFIMboxSHA1   IFIKind = "mbox_sha1sum"
	IFIOpenID     IFIKind = "openid"
	IFIAccount    IFIKind = "account"
	objectTypeAgent = "Agent"
	objectTypeGroup = "Group"
)

// Actor is an Agent or a Group. Groups additionally carry members; an
// anonymous Group is one with members and no IFI.
type Actor struct {
	ObjectType  string
	Name        string
	Mbox        string // raw input; canonical mailto: form is emitted
	MboxSHA1Sum string
	OpenID      string
	Account     *Account
	Member      []Actor
}

type actorWire struct {
	ObjectType  string          `json:"objectType,omitempty"`
	Name        string          `json:"name,omitempty"`
	Mbox        string          `json:"mbox,omitempty"`
	MboxSHA1Sum string          `json:"mbox_sha1sum,omitempty"`
	OpenID      string          `json:"openid,omitempty"`
	Account     *Account        `json:"account,omitempty"`
	Member      json.RawMessage `json:"member,omitempty"`
}

// UnmarshalJSON decodes an actor, rejecting unknown fields. A missing
// objectType means Agent. Value-level validation is deferred to Validate.
func (a *Actor) UnmarshalJSON(data []byte) error {
	var w actorWire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("actor: %w", err)
	}
	a.ObjectType = w.ObjectType
	if a.ObjectType == "" {
		a.ObjectType = objectTypeAgent
	}
	a.Name = w.Name
	a.Mbox = w.Mbox
	a.MboxSHA1Sum = w.MboxSHA1Sum
	a.OpenID = w.OpenID
	a.Account = w.Account
	a.Member = nil
	if len(w.Member) > 0 {
		if err := json.Unmarshal(w.Member, &a.Member); err != nil {
			return fmt.Errorf("actor member: %w", err)
		}
	}
	return nil
}

// MarshalJSON emits the canonical wire form: mbox always carries mailto:,
// Group always carries objectType, Agent omits it.
func (a Actor) MarshalJSON() ([]byte, error) {
	w := actorWire{
		Name:        a.Name,
		Mbox:        a.CanonicalMbox(),
		MboxSHA1Sum: a.MboxSHA1Sum,
		OpenID:      a.OpenID,
		Account:     a.Account,
	}
	if a.IsGroup() {
		w.ObjectType = objectTypeGroup
	}
	if len(a.Member) > 0 {
		members, err := json.Marshal(a.Member)
		if err != nil {
			return nil, err
		}
		w.Member = members
	}
	return json.Marshal(w)
}

// IsGroup reports whether the actor is a Group.
func (a *Actor) IsGroup() bool { return a.ObjectType == objectTypeGroup }

// CanonicalMbox returns the mailto: spelling, or "" when unset.
func (a *Actor) CanonicalMbox() string {
	if a.Mbox == "" {
		return ""
	}
	if m, err := types.ParseMbox(a.Mbox); err == nil {
		return m.String()
	}
	return a.Mbox
}

// IFI returns the kind and fingerprint value of the actor's identifier.
func (a *Actor) IFI() (IFIKind, string) {
	switch {
	case a.Mbox != "":
		if m, err := types.ParseMbox(a.Mbox); err == nil {
			return IFIMbox, m.FingerprintKey()
		}
		return IFIMbox, strings.ToLower(a.Mbox)
	case a.MboxSHA1Sum != "":
		return IFIMboxSHA1, strings.ToLower(a.MboxSHA1Sum)
	case a.OpenID != "":
		return IFIOpenID, a.OpenID
	case a.Account != nil:
		return IFIAccount, a.Account.Key()
	}
	return IFINone, ""
}

// ifiCount counts how many identifier slots are populated.
func (a *Actor) ifiCount() int {
	n := 0
	if a.Mbox != "" {
		n++
	}
	if a.MboxSHA1Sum != "" {
		n++
	}
	if a.OpenID != "" {
		n++
	}
	if a.Account != nil {
		n++
	}
	return n
}

// Validate enforces the IFI cardinality rules: an Agent has exactly one IFI,
// an identified Group exactly one, an anonymous Group none and at least one
// member. Group members must themselves be Agents.
func (a *Actor) Validate() []error {
	var errs []error
	switch a.ObjectType {
	case objectTypeAgent:
		if len(a.Member) > 0 {
			errs = append(errs, fmt.Errorf("agent: member is a group-only property"))
		}
		if n := a.ifiCount(); n != 1 {
			errs = append(errs, fmt.Errorf("agent: exactly one IFI required, got %d", n))
		}
	case objectTypeGroup:
		switch n := a.ifiCount(); {
		case n > 1:
			errs = append(errs, fmt.Errorf("group: at most one IFI allowed, got %d", n))
		case n == 0 && len(a.Member) == 0:
			errs = append(errs, fmt.Errorf("group: anonymous group requires at least one member"))
		}
		for i := range a.Member {
			m := &a.Member[i]
			if m.IsGroup() {
				errs = append(errs, fmt.Errorf("group member %d: nested groups are not allowed", i))
			}
			errs = append(errs, m.Validate()...)
		}
	default:
		errs = append(errs, fmt.Errorf("actor: objectType must be Agent or Group, got %q", a.ObjectType))
	}
	if a.Mbox != "" {
		if _, err := types.ParseMbox(a.Mbox); err != nil {
			errs = append(errs, err)
		}
	}
	if a.MboxSHA1Sum != "" && !types.IsSHA1Hex(a.MboxSHA1Sum) {
		errs = append(errs, fmt.Errorf("mbox_sha1sum %q: not a 40-char hex digest", a.MboxSHA1Sum))
	}
	if a.OpenID != "" {
		if _, err := types.ParseIRI(a.OpenID); err != nil {
			errs = append(errs, fmt.Errorf("openid: %w", err))
		}
	}
	if a.Account != nil {
		errs = append(errs, a.Account.Validate()...)
	}
	return errs
}

// ValidateAuthority enforces the authority rule: an Agent, or an anonymous
// Group with exactly two member Agents (the OAuth pair).
func (a *Actor) ValidateAuthority() []error {
	errs := a.Validate()
	if !a.IsGroup() {
		return errs
	}
	if kind, _ := a.IFI(); kind != IFINone {
		errs = append(errs, fmt.Errorf("authority: group authority must be anonymous"))
	}
	if len(a.Member) != 2 {
		errs = append(errs, fmt.Errorf("authority: group authority requires exactly 2 members, got %d", len(a.Member)))
	}
	return errs
}

// sortedMembers returns members ordered by IFI key for fingerprinting.
func (a *Actor) sortedMembers() []Actor {
	out := make([]Actor, len(a.Member))
	copy(out, a.Member)
	sort.Slice(out, func(i, j int) bool {
		ki, vi := out[i].IFI()
		kj, vj := out[j].IFI()
		if ki != kj {
			return ki < kj
		}
		return vi < vj
	})
	return out
}
