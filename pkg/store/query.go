package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/types"
)

// StatementQuery is the filter set applied by Find. Zero values mean the
// filter is absent.
type StatementQuery struct {
	Agent             *statement.Actor
	Verb              string
	Activity          string
	Registration      *uuid.UUID
	Since             *types.Timestamp
	Until             *types.Timestamp
	RelatedAgents     bool
	RelatedActivities bool
	Ascending         bool
}

func (q *StatementQuery) hasMatchFilters() bool {
	return q.Agent != nil || q.Verb != "" || q.Activity != "" || q.Registration != nil
}

// condBuilder accumulates SQL fragments with ?-placeholders and their args.
type condBuilder struct {
	sb   strings.Builder
	args []any
}

func (b *condBuilder) write(format string, a ...any) {
	fmt.Fprintf(&b.sb, format, a...)
}

func (b *condBuilder) arg(v ...any) {
	b.args = append(b.args, v...)
}

// Find materializes the full ordered list of matching statement IDs. Voided
// statements never appear; a statement referencing a matching statement via
// a StatementRef object matches transitively.
func (s *StatementStore) Find(ctx context.Context, q StatementQuery) ([]uuid.UUID, error) {
	b := &condBuilder{}

	var outer []string
	outer = append(outer, "s.voided = 0")

	if q.hasMatchFilters() {
		b.write("WITH RECURSIVE matched(id) AS (\n")
		b.write("SELECT s.id FROM statement s WHERE s.exact_json IS NOT NULL AND (")
		s.matchPredicate(b, q, "s", true)
		b.write(")\nUNION\n")
		b.write(`SELECT p.id FROM statement p
			JOIN obj_statement_ref r ON r.statement_id = p.id
			JOIN statement t ON t.uuid = r.ref_uuid
			JOIN matched m ON m.id = t.id
			WHERE p.exact_json IS NOT NULL`)
		b.write("\n)\n")
		b.write("SELECT s.uuid FROM statement s JOIN matched m ON m.id = s.id\n")
	} else {
		b.write("SELECT s.uuid FROM statement s\n")
		outer = append(outer, "s.exact_json IS NOT NULL")
	}

	if q.Since != nil {
		outer = append(outer, "s.stored > ?")
		b.arg(storedBound(*q.Since))
	}
	if q.Until != nil {
		outer = append(outer, "s.stored <= ?")
		b.arg(storedBound(*q.Until))
	}
	b.write("WHERE %s\n", strings.Join(outer, " AND "))
	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}
	b.write("ORDER BY s.stored %s, s.id %s", dir, dir)

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(b.sb.String()), b.args...)
	if err != nil {
		return nil, fmt.Errorf("store: find: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: find: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: find: %w", err)
	}
	return ids, nil
}

// storedBound renders a time bound in the stored column's normal form,
// millisecond UTC, so the lexicographic comparison is chronological even
// when the client sent an offset-bearing timestamp.
func storedBound(ts types.Timestamp) string {
	return types.Timestamp{Time: ts.Time.UTC()}.String()
}

// matchPredicate emits the conjunction of the non-time filters against the
// statement row aliased by alias. When recurse is set the predicate also
// descends into the row's sub-statement.
func (s *StatementStore) matchPredicate(b *condBuilder, q StatementQuery, alias string, recurse bool) {
	first := true
	and := func() {
		if !first {
			b.write(" AND ")
		}
		first = false
	}

	if q.Verb != "" {
		and()
		// The voiding verb is never matchable through the verb filter.
		b.write("(%s.voiding = 0 AND EXISTS (SELECT 1 FROM verb v%s WHERE v%s.id = %s.verb_id AND v%s.iri = ?))",
			alias, alias, alias, alias, alias)
		b.arg(q.Verb)
	}
	if q.Registration != nil {
		and()
		b.write("EXISTS (SELECT 1 FROM context c%s WHERE c%s.id = %s.context_id AND c%s.registration = ?)",
			alias, alias, alias, alias)
		b.arg(q.Registration.String())
	}
	if q.Activity != "" {
		and()
		b.write("(")
		s.activityPredicate(b, q, alias)
		if recurse {
			b.write(" OR EXISTS (SELECT 1 FROM obj_statement os%s JOIN statement ss ON ss.id = os%s.sub_id WHERE os%s.statement_id = %s.id AND (",
				alias, alias, alias, alias)
			s.activityPredicate(b, q, "ss")
			b.write("))")
		}
		b.write(")")
	}
	if q.Agent != nil {
		and()
		b.write("(")
		s.agentPredicate(b, q, alias)
		if recurse {
			b.write(" OR EXISTS (SELECT 1 FROM obj_statement oa%s JOIN statement sa ON sa.id = oa%s.sub_id WHERE oa%s.statement_id = %s.id AND (",
				alias, alias, alias, alias)
			s.agentPredicate(b, q, "sa")
			b.write("))")
		}
		b.write(")")
	}
	if first {
		b.write("1 = 1")
	}
}

func (s *StatementStore) activityPredicate(b *condBuilder, q StatementQuery, alias string) {
	b.write("EXISTS (SELECT 1 FROM obj_activity oact%s JOIN activity act%s ON act%s.id = oact%s.activity_id WHERE oact%s.statement_id = %s.id AND act%s.iri = ?)",
		alias, alias, alias, alias, alias, alias, alias)
	b.arg(q.Activity)
	if q.RelatedActivities {
		b.write(" OR EXISTS (SELECT 1 FROM ctx_activities cact%s JOIN activity ract%s ON ract%s.id = cact%s.activity_id WHERE cact%s.context_id = %s.context_id AND ract%s.iri = ?)",
			alias, alias, alias, alias, alias, alias, alias)
		b.arg(q.Activity)
	}
}

func (s *StatementStore) agentPredicate(b *condBuilder, q StatementQuery, alias string) {
	ifiKind, ifiValue := q.Agent.IFI()
	kind, value := string(ifiKind), ifiValue

	// actorMatch emits a predicate over an actor id expression: either the
	// actor itself carries the IFI, or it is a group containing an agent
	// with it.
	actorMatch := func(expr, tag string) {
		b.write("(EXISTS (SELECT 1 FROM actor am%s WHERE am%s.id = %s AND am%s.ifi_kind = ? AND am%s.ifi_value = ?)",
			tag, tag, expr, tag, tag)
		b.arg(kind, value)
		b.write(" OR EXISTS (SELECT 1 FROM member mm%s JOIN actor ma%s ON ma%s.id = mm%s.agent_id WHERE mm%s.group_id = %s AND ma%s.ifi_kind = ? AND ma%s.ifi_value = ?))",
			tag, tag, tag, tag, tag, expr, tag, tag)
		b.arg(kind, value)
	}

	actorMatch(alias+".actor_id", "a"+alias)
	b.write(" OR EXISTS (SELECT 1 FROM obj_actor ob%s WHERE ob%s.statement_id = %s.id AND ",
		alias, alias, alias)
	actorMatch("ob"+alias+".actor_id", "o"+alias)
	b.write(")")

	if q.RelatedAgents {
		b.write(" OR (%s.authority_id IS NOT NULL AND ", alias)
		actorMatch(alias+".authority_id", "u"+alias)
		b.write(")")
		b.write(" OR EXISTS (SELECT 1 FROM context ic%s WHERE ic%s.id = %s.context_id AND ((ic%s.instructor_id IS NOT NULL AND ",
			alias, alias, alias, alias)
		actorMatch("ic"+alias+".instructor_id", "i"+alias)
		b.write(") OR (ic%s.team_id IS NOT NULL AND ", alias)
		actorMatch("ic"+alias+".team_id", "t"+alias)
		b.write(")))")
		b.write(" OR EXISTS (SELECT 1 FROM ctx_actors cx%s WHERE cx%s.context_id = %s.context_id AND ",
			alias, alias, alias)
		actorMatch("cx"+alias+".actor_id", "x"+alias)
		b.write(")")
	}
}
