package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/types"
)

// Person aggregates everything known about one IFI. Every field is
// list-valued on the wire.
type Person struct {
	ObjectType  string              `json:"objectType"`
	Name        []string            `json:"name,omitempty"`
	Mbox        []string            `json:"mbox,omitempty"`
	MboxSHA1Sum []string            `json:"mbox_sha1sum,omitempty"`
	OpenID      []string            `json:"openid,omitempty"`
	Account     []statement.Account `json:"account,omitempty"`
}

// GetPerson builds the Person aggregate for the queried agent. Unknown
// agents still produce a Person echoing the supplied identifier.
func (s *StatementStore) GetPerson(ctx context.Context, agent *statement.Actor) (*Person, error) {
	p := &Person{ObjectType: "Person"}
	if m := agent.CanonicalMbox(); m != "" {
		p.Mbox = append(p.Mbox, m)
	}
	if agent.MboxSHA1Sum != "" {
		p.MboxSHA1Sum = append(p.MboxSHA1Sum, agent.MboxSHA1Sum)
	}
	if agent.OpenID != "" {
		p.OpenID = append(p.OpenID, agent.OpenID)
	}
	if agent.Account != nil {
		p.Account = append(p.Account, *agent.Account)
	}

	ifiKind, ifiValue := agent.IFI()
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT name FROM actor_name WHERE ifi_kind = ? AND ifi_value = ? ORDER BY name`),
		string(ifiKind), ifiValue)
	if err != nil {
		return nil, fmt.Errorf("store: person: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: person: %w", err)
		}
		p.Name = append(p.Name, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: person: %w", err)
	}
	if len(p.Name) == 0 && agent.Name != "" {
		p.Name = append(p.Name, agent.Name)
	}
	return p, nil
}

// GetActivity returns the activity with its merged definition, or
// ErrNotFound when no statement ever referenced the IRI.
func (s *StatementStore) GetActivity(ctx context.Context, iri string) (*statement.Activity, error) {
	var def sql.NullString
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT definition_json FROM activity WHERE iri = ?`), iri).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: activity: %w", err)
	}
	a := &statement.Activity{ObjectType: "Activity", ID: iri}
	if def.Valid {
		a.Definition = &statement.ActivityDefinition{}
		if err := json.Unmarshal([]byte(def.String), a.Definition); err != nil {
			return nil, fmt.Errorf("store: activity definition: %w", err)
		}
	}
	return a, nil
}

// LookupVerb resolves a verb by full IRI or by its trailing path or
// fragment segment.
func (s *StatementStore) LookupVerb(ctx context.Context, iriOrAlias string) (*statement.Verb, error) {
	var (
		iri     string
		display string
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT iri, display_lm FROM verb
		WHERE iri = ? OR iri LIKE ? OR iri LIKE ?
		ORDER BY iri LIMIT 1`),
		iriOrAlias, "%/"+iriOrAlias, "%#"+iriOrAlias).Scan(&iri, &display)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: verb: %w", err)
	}
	v := &statement.Verb{ID: iri}
	var lm types.LanguageMap
	if err := json.Unmarshal([]byte(display), &lm); err == nil && len(lm) > 0 {
		v.Display = lm
	}
	return v, nil
}
