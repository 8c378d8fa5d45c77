package statement

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"sort"
	"strconv"

	"github.com/gowebpki/jcs"

	"github.com/skilltrace/lrs/pkg/types"
)

// Fingerprint is the 64-bit equivalence digest of a statement. It covers
// identity-relevant fields only: actor IFIs (names discarded), normalized
// verb and activity IRIs (displays and definitions discarded), the full
// context and result, and recursed substatements. id, timestamp, stored,
// authority, version and attachments never contribute.
func (s *Statement) Fingerprint() int64 {
	h := fnv.New64a()
	fpActor(h, &s.Actor)
	fpVerb(h, &s.Verb)
	fpObject(h, &s.Object)
	fpResult(h, s.Result)
	fpContext(h, s.Context)
	return int64(h.Sum64())
}

func fpTag(h hash.Hash64, tag string) {
	h.Write([]byte{0x1f})
	h.Write([]byte(tag))
	h.Write([]byte{0x1e})
}

func fpString(h hash.Hash64, tag, v string) {
	if v == "" {
		return
	}
	fpTag(h, tag)
	h.Write([]byte(v))
}

func fpBool(h hash.Hash64, tag string, v *bool) {
	if v == nil {
		return
	}
	fpTag(h, tag)
	if *v {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
}

func fpFloat(h hash.Hash64, tag string, v *float64) {
	if v == nil {
		return
	}
	fpTag(h, tag)
	h.Write([]byte(strconv.FormatFloat(*v, 'g', -1, 64)))
}

func fpActor(h hash.Hash64, a *Actor) {
	if a.IsGroup() {
		fpTag(h, "group")
		kind, value := a.IFI()
		fpString(h, "ifi."+string(kind), value)
		for _, m := range a.sortedMembers() {
			member := m
			fpActor(h, &member)
		}
		return
	}
	fpTag(h, "agent")
	kind, value := a.IFI()
	fpString(h, "ifi."+string(kind), value)
}

func fpVerb(h hash.Hash64, v *Verb) {
	fpString(h, "verb", types.IRI(v.ID).Normalized())
}

func fpActivity(h hash.Hash64, a *Activity) {
	fpString(h, "activity", types.IRI(a.ID).Normalized())
}

func fpObject(h hash.Hash64, o *Object) {
	switch o.Kind {
	case ObjectActivity:
		fpActivity(h, o.Activity)
	case ObjectAgent, ObjectGroup:
		fpActor(h, o.Actor)
	case ObjectStatementRef:
		fpString(h, "ref", o.Ref.ID.String())
	case ObjectSubStatement:
		fpTag(h, "sub")
		fpActor(h, &o.Sub.Actor)
		fpVerb(h, &o.Sub.Verb)
		fpObject(h, &o.Sub.Object)
		fpResult(h, o.Sub.Result)
		fpContext(h, o.Sub.Context)
	}
}

func fpResult(h hash.Hash64, r *Result) {
	if r == nil {
		return
	}
	fpTag(h, "result")
	if r.Score != nil {
		fpFloat(h, "scaled", r.Score.Scaled)
		fpFloat(h, "raw", r.Score.Raw)
		fpFloat(h, "min", r.Score.Min)
		fpFloat(h, "max", r.Score.Max)
	}
	fpBool(h, "success", r.Success)
	fpBool(h, "completion", r.Completion)
	if r.Response != nil {
		fpString(h, "response", *r.Response)
	}
	if r.Duration != nil {
		fpString(h, "duration", r.Duration.FingerprintKey())
	}
	fpExtensions(h, r.Extensions)
}

func fpContext(h hash.Hash64, c *Context) {
	if c == nil {
		return
	}
	fpTag(h, "context")
	if c.Registration != nil {
		fpString(h, "registration", c.Registration.String())
	}
	if c.Instructor != nil {
		fpTag(h, "instructor")
		fpActor(h, c.Instructor)
	}
	if c.Team != nil {
		fpTag(h, "team")
		fpActor(h, c.Team)
	}
	if c.ContextActivities != nil {
		fpActivitySlot(h, "parent", c.ContextActivities.Parent)
		fpActivitySlot(h, "grouping", c.ContextActivities.Grouping)
		fpActivitySlot(h, "category", c.ContextActivities.Category)
		fpActivitySlot(h, "other", c.ContextActivities.Other)
	}
	fpSorted(h, "ctxAgents", len(c.ContextAgents), func(i int, sub hash.Hash64) {
		fpActor(sub, &c.ContextAgents[i].Agent)
		for _, rt := range c.ContextAgents[i].RelevantTypes {
			fpString(sub, "rt", types.IRI(rt).Normalized())
		}
	})
	fpSorted(h, "ctxGroups", len(c.ContextGroups), func(i int, sub hash.Hash64) {
		fpActor(sub, &c.ContextGroups[i].Group)
		for _, rt := range c.ContextGroups[i].RelevantTypes {
			fpString(sub, "rt", types.IRI(rt).Normalized())
		}
	})
	fpString(h, "revision", c.Revision)
	fpString(h, "platform", c.Platform)
	fpString(h, "language", c.Language)
	if c.Statement != nil {
		fpString(h, "ctxRef", c.Statement.ID.String())
	}
	fpExtensions(h, c.Extensions)
}

// fpActivitySlot digests a contextActivities slot preserving order.
func fpActivitySlot(h hash.Hash64, slot string, list []Activity) {
	if len(list) == 0 {
		return
	}
	fpTag(h, "slot."+slot)
	for i := range list {
		fpActivity(h, &list[i])
	}
}

// fpSorted digests n entries order-independently: each entry digests into
// its own hash, the sub-digests are sorted and folded in.
func fpSorted(h hash.Hash64, tag string, n int, each func(i int, sub hash.Hash64)) {
	if n == 0 {
		return
	}
	fpTag(h, tag)
	subs := make([]uint64, n)
	for i := 0; i < n; i++ {
		sub := fnv.New64a()
		each(i, sub)
		subs[i] = sub.Sum64()
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
	var buf [8]byte
	for _, v := range subs {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
}

// fpExtensions digests extension entries by sorted key with JCS-canonical
// values, so formatting differences in the submitted JSON do not split
// fingerprints.
func fpExtensions(h hash.Hash64, e Extensions) {
	if len(e) == 0 {
		return
	}
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fpString(h, "ext."+types.IRI(k).Normalized(), "")
		canon, err := jcs.Transform(e[k])
		if err != nil {
			canon = e[k]
		}
		h.Write(canon)
	}
}
