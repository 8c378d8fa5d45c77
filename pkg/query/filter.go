// Package query parses statement filter parameters and materializes filtered
// result sets behind server-side continuation identifiers.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/store"
	"github.com/skilltrace/lrs/pkg/types"
)

// knownParams is the closed parameter grammar; anything else is a 400.
var knownParams = map[string]bool{
	"statementId":        true,
	"voidedStatementId":  true,
	"agent":              true,
	"verb":               true,
	"activity":           true,
	"registration":       true,
	"related_activities": true,
	"related_agents":     true,
	"since":              true,
	"until":              true,
	"limit":              true,
	"format":             true,
	"attachments":        true,
	"ascending":          true,
}

// Filter is the parsed form of a statements GET.
type Filter struct {
	StatementID       *uuid.UUID
	VoidedStatementID *uuid.UUID
	Agent             *statement.Actor
	Verb              string
	Activity          string
	Registration      *uuid.UUID
	Since             *types.Timestamp
	Until             *types.Timestamp
	RelatedAgents     bool
	RelatedActivities bool
	Limit             int
	Ascending         bool
	Format            statement.Mode
	Langs             []string
	Attachments       bool
}

// ParseFilter validates the query string against the closed grammar. The
// single-statement selectors are mutually exclusive with every other filter
// except format and attachments.
func ParseFilter(values url.Values, langs []string) (*Filter, error) {
	for key, vs := range values {
		if !knownParams[key] {
			return nil, fmt.Errorf("unknown query parameter %q", key)
		}
		if len(vs) > 1 {
			return nil, fmt.Errorf("query parameter %q given more than once", key)
		}
	}

	f := &Filter{Langs: langs}
	var err error
	if f.Format, err = statement.ParseMode(values.Get("format")); err != nil {
		return nil, err
	}
	if f.Attachments, err = parseBool(values, "attachments"); err != nil {
		return nil, err
	}
	if f.StatementID, err = parseUUID(values, "statementId"); err != nil {
		return nil, err
	}
	if f.VoidedStatementID, err = parseUUID(values, "voidedStatementId"); err != nil {
		return nil, err
	}
	if f.StatementID != nil && f.VoidedStatementID != nil {
		return nil, fmt.Errorf("statementId and voidedStatementId are mutually exclusive")
	}
	if f.StatementID != nil || f.VoidedStatementID != nil {
		for key := range values {
			switch key {
			case "statementId", "voidedStatementId", "format", "attachments":
			default:
				return nil, fmt.Errorf("%q cannot be combined with a statement selector", key)
			}
		}
		return f, nil
	}

	if raw := values.Get("agent"); raw != "" {
		a := &statement.Actor{}
		if err := json.Unmarshal([]byte(raw), a); err != nil {
			return nil, fmt.Errorf("agent: %w", err)
		}
		if err := joinErrs(a.Validate()); err != nil {
			return nil, fmt.Errorf("agent: %w", err)
		}
		f.Agent = a
	}
	if raw := values.Get("verb"); raw != "" {
		if _, err := types.ParseIRI(raw); err != nil {
			return nil, fmt.Errorf("verb: %w", err)
		}
		f.Verb = raw
	}
	if raw := values.Get("activity"); raw != "" {
		if _, err := types.ParseIRI(raw); err != nil {
			return nil, fmt.Errorf("activity: %w", err)
		}
		f.Activity = raw
	}
	if f.Registration, err = parseUUID(values, "registration"); err != nil {
		return nil, err
	}
	if f.Since, err = parseTime(values, "since"); err != nil {
		return nil, err
	}
	if f.Until, err = parseTime(values, "until"); err != nil {
		return nil, err
	}
	if f.RelatedAgents, err = parseBool(values, "related_agents"); err != nil {
		return nil, err
	}
	if f.RelatedActivities, err = parseBool(values, "related_activities"); err != nil {
		return nil, err
	}
	if f.Ascending, err = parseBool(values, "ascending"); err != nil {
		return nil, err
	}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("limit: must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

// StoreQuery maps the filter onto the storage engine's query form.
func (f *Filter) StoreQuery() store.StatementQuery {
	return store.StatementQuery{
		Agent:             f.Agent,
		Verb:              f.Verb,
		Activity:          f.Activity,
		Registration:      f.Registration,
		Since:             f.Since,
		Until:             f.Until,
		RelatedAgents:     f.RelatedAgents,
		RelatedActivities: f.RelatedActivities,
		Ascending:         f.Ascending,
	}
}

// ProjectionFormat pairs the mode with the preferred language tags.
func (f *Filter) ProjectionFormat() statement.Format {
	return statement.Format{Mode: f.Format, Langs: f.Langs}
}

func parseUUID(values url.Values, key string) (*uuid.UUID, error) {
	raw := values.Get(key)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &id, nil
}

func parseTime(values url.Values, key string) (*types.Timestamp, error) {
	raw := values.Get(key)
	if raw == "" {
		return nil, nil
	}
	ts, err := types.ParseTimestamp(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &ts, nil
}

func parseBool(values url.Values, key string) (bool, error) {
	raw := values.Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: must be a boolean", key)
	}
	return b, nil
}

func joinErrs(errs []error) error {
	return errors.Join(errs...)
}
