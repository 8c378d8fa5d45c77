package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/database"
	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/types"
)

// StatementStore persists statements into the normalized schema. Each
// statement of a batch commits in its own transaction; a failure aborts the
// rest of the batch but keeps what already committed.
type StatementStore struct {
	db    *database.DB
	clock *Clock
	log   *slog.Logger
}

func NewStatementStore(db *database.DB, clock *Clock) *StatementStore {
	return &StatementStore{
		db:    db,
		clock: clock,
		log:   slog.Default().With("component", "statement-store"),
	}
}

// Clock exposes the stored/consistent-through clock.
func (s *StatementStore) Clock() *Clock { return s.clock }

// InsertOptions carries per-request ingest context.
type InsertOptions struct {
	// Authority is injected when the client did not supply one.
	Authority *statement.Actor
	// StoredKeys maps attachment sha2 digests to blob-store keys for parts
	// received and persisted with this request.
	StoredKeys map[string]string
}

// StoredStatement is a retrieved statement row.
type StoredStatement struct {
	ID      uuid.UUID
	Exact   json.RawMessage
	Stored  types.Timestamp
	Voided  bool
	Voiding bool
}

// AttachmentMeta describes one attachment linked to a statement.
type AttachmentMeta struct {
	SHA2        string
	ContentType string
	Length      int64
	StoredKey   string
}

// topMeta carries the columns only top-level statement rows have.
type topMeta struct {
	id          uuid.UUID
	fp          int64
	stored      string
	version     string
	voiding     bool
	authorityID sql.NullInt64
	exact       []byte
}

// Insert persists a batch in submission order and returns the statement IDs,
// including IDs of statements silently dropped as equivalent duplicates.
// Two occurrences of the same ID within one batch reject the whole batch.
func (s *StatementStore) Insert(ctx context.Context, batch []statement.Decoded, opts InsertOptions) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool, len(batch))
	for _, d := range batch {
		if d.Statement.ID == nil {
			continue
		}
		if seen[*d.Statement.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, *d.Statement.ID)
		}
		seen[*d.Statement.ID] = true
	}
	ids := make([]uuid.UUID, 0, len(batch))
	for i := range batch {
		d := batch[i]
		if d.Statement.ID == nil {
			id := uuid.New()
			d.Statement.ID = &id
		}
		if err := s.insertOne(ctx, d, opts); err != nil {
			return nil, err
		}
		ids = append(ids, *d.Statement.ID)
	}
	return ids, nil
}

func (s *StatementStore) insertOne(ctx context.Context, d statement.Decoded, opts InsertOptions) error {
	st := d.Statement
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The voiding target must exist as a non-voiding statement before
	// anything is written.
	if target, ok := st.VoidTarget(); ok {
		var voiding bool
		err := tx.QueryRowContext(ctx, s.db.Rebind(
			`SELECT voiding FROM statement WHERE uuid = ? AND exact_json IS NOT NULL`),
			target.String()).Scan(&voiding)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && voiding) {
			return fmt.Errorf("%w: %s", ErrVoidTarget, target)
		}
		if err != nil {
			return fmt.Errorf("store: void target: %w", err)
		}
	}

	fp := st.Fingerprint()
	var existing int64
	err = tx.QueryRowContext(ctx, s.db.Rebind(
		`SELECT fp FROM statement WHERE uuid = ? AND exact_json IS NOT NULL`),
		st.ID.String()).Scan(&existing)
	switch {
	case err == nil:
		if existing == fp {
			return nil // equivalent resubmission, idempotent
		}
		return fmt.Errorf("%w: %s", ErrIDConflict, st.ID)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("store: lookup: %w", err)
	}

	stored := s.clock.Stamp()
	st.Stored = &stored
	if st.Timestamp == nil {
		st.Timestamp = &stored
	}
	if st.Version == "" {
		st.Version = "2.0.0"
	}
	if st.Authority == nil && opts.Authority != nil {
		st.Authority = opts.Authority
	}
	exact, err := amendExact(d.Exact, st)
	if err != nil {
		return fmt.Errorf("store: amend: %w", err)
	}

	meta := &topMeta{
		id:      *st.ID,
		fp:      fp,
		stored:  stored.String(),
		version: st.Version,
		voiding: st.IsVoiding(),
		exact:   exact,
	}
	if st.Authority != nil {
		aid, err := s.upsertActor(ctx, tx, st.Authority)
		if err != nil {
			return err
		}
		meta.authorityID = sql.NullInt64{Int64: aid, Valid: true}
	}
	_, err = s.insertTree(ctx, tx, &st.Actor, &st.Verb, &st.Object,
		st.Result, st.Context, st.Timestamp.String(), st.Attachments, meta, opts)
	if err != nil {
		return err
	}

	if target, ok := st.VoidTarget(); ok {
		_, err = tx.ExecContext(ctx, s.db.Rebind(
			`UPDATE statement SET voided = 1 WHERE uuid = ? AND exact_json IS NOT NULL`),
			target.String())
		if err != nil {
			return fmt.Errorf("store: void: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	s.log.Debug("statement stored", "id", st.ID, "stored", meta.stored, "voiding", meta.voiding)
	return nil
}

// insertTree writes one statement row plus its normalized satellites. Called
// with meta == nil for a sub-statement row.
func (s *StatementStore) insertTree(ctx context.Context, tx *sql.Tx,
	actor *statement.Actor, verb *statement.Verb, object *statement.Object,
	result *statement.Result, sctx *statement.Context, timestamp string,
	attachments []statement.Attachment, meta *topMeta, opts InsertOptions) (int64, error) {

	actorID, err := s.upsertActor(ctx, tx, actor)
	if err != nil {
		return 0, err
	}
	verbID, err := s.upsertVerb(ctx, tx, verb)
	if err != nil {
		return 0, err
	}
	var resultID, contextID sql.NullInt64
	if result != nil {
		id, err := s.insertResult(ctx, tx, result)
		if err != nil {
			return 0, err
		}
		resultID = sql.NullInt64{Int64: id, Valid: true}
	}
	if sctx != nil {
		id, err := s.insertContext(ctx, tx, sctx)
		if err != nil {
			return 0, err
		}
		contextID = sql.NullInt64{Int64: id, Valid: true}
	}

	var (
		rowUUID   sql.NullString
		fp        int64
		stored    string
		version   string
		voiding   bool
		authority sql.NullInt64
		exact     any
	)
	if meta != nil {
		rowUUID = sql.NullString{String: meta.id.String(), Valid: true}
		fp = meta.fp
		stored = meta.stored
		version = meta.version
		voiding = meta.voiding
		authority = meta.authorityID
		exact = string(meta.exact)
	}
	var rowID int64
	err = tx.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO statement
			(uuid, fp, actor_id, verb_id, object_kind, result_id, context_id,
			 timestamp, stored, authority_id, version, voided, voiding, exact_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		RETURNING id`),
		rowUUID, fp, actorID, verbID, int(object.Kind), resultID, contextID,
		timestamp, stored, authority, version, b2i(voiding), exact).Scan(&rowID)
	if err != nil {
		return 0, fmt.Errorf("store: insert statement: %w", err)
	}

	switch object.Kind {
	case statement.ObjectActivity:
		aid, err := s.upsertActivity(ctx, tx, object.Activity)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO obj_activity (statement_id, activity_id) VALUES (?, ?)`), rowID, aid)
		if err != nil {
			return 0, fmt.Errorf("store: obj_activity: %w", err)
		}
	case statement.ObjectAgent, statement.ObjectGroup:
		aid, err := s.upsertActor(ctx, tx, object.Actor)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO obj_actor (statement_id, actor_id) VALUES (?, ?)`), rowID, aid)
		if err != nil {
			return 0, fmt.Errorf("store: obj_actor: %w", err)
		}
	case statement.ObjectStatementRef:
		_, err = tx.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO obj_statement_ref (statement_id, ref_uuid) VALUES (?, ?)`),
			rowID, object.Ref.ID.String())
		if err != nil {
			return 0, fmt.Errorf("store: obj_statement_ref: %w", err)
		}
	case statement.ObjectSubStatement:
		sub := object.Sub
		ts := timestamp
		if sub.Timestamp != nil {
			ts = sub.Timestamp.String()
		}
		subID, err := s.insertTree(ctx, tx, &sub.Actor, &sub.Verb, &sub.Object,
			sub.Result, sub.Context, ts, sub.Attachments, nil, opts)
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO obj_statement (statement_id, sub_id) VALUES (?, ?)`), rowID, subID)
		if err != nil {
			return 0, fmt.Errorf("store: obj_statement: %w", err)
		}
	}

	for i := range attachments {
		a := &attachments[i]
		key := opts.StoredKeys[strings.ToLower(a.SHA2)]
		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO attachment (sha2, content_type, length, stored_key)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (sha2) DO UPDATE SET stored_key =
				CASE WHEN attachment.stored_key = '' THEN excluded.stored_key
				     ELSE attachment.stored_key END`),
			strings.ToLower(a.SHA2), a.ContentType, a.Length, key)
		if err != nil {
			return 0, fmt.Errorf("store: attachment: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.db.Rebind(
			`INSERT INTO statement_attachment (statement_id, sha2, idx) VALUES (?, ?, ?)`),
			rowID, strings.ToLower(a.SHA2), i)
		if err != nil {
			return 0, fmt.Errorf("store: statement_attachment: %w", err)
		}
	}
	return rowID, nil
}

func (s *StatementStore) upsertActor(ctx context.Context, tx *sql.Tx, a *statement.Actor) (int64, error) {
	kind := "Agent"
	if a.IsGroup() {
		kind = "Group"
	}
	ifiKind, ifiValue := a.IFI()
	var accountHome, accountName string
	if a.Account != nil {
		accountHome, accountName = a.Account.HomePage, a.Account.Name
	}

	var id int64
	if ifiKind == statement.IFINone {
		// Anonymous group: a fresh row per occurrence.
		err := tx.QueryRowContext(ctx, s.db.Rebind(
			`INSERT INTO actor (kind, name) VALUES (?, ?) RETURNING id`),
			kind, a.Name).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("store: insert actor: %w", err)
		}
	} else {
		err := tx.QueryRowContext(ctx, s.db.Rebind(
			`SELECT id FROM actor WHERE kind = ? AND ifi_kind = ? AND ifi_value = ?`),
			kind, string(ifiKind), ifiValue).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			err = tx.QueryRowContext(ctx, s.db.Rebind(`
				INSERT INTO actor
					(kind, name, ifi_kind, ifi_value, mbox, mbox_sha1sum, openid, account_home, account_name)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				RETURNING id`),
				kind, a.Name, string(ifiKind), ifiValue,
				a.CanonicalMbox(), a.MboxSHA1Sum, a.OpenID, accountHome, accountName).Scan(&id)
			if err != nil {
				return 0, fmt.Errorf("store: insert actor: %w", err)
			}
		case err != nil:
			return 0, fmt.Errorf("store: actor lookup: %w", err)
		default:
			if a.Name != "" {
				_, err = tx.ExecContext(ctx, s.db.Rebind(
					`UPDATE actor SET name = ? WHERE id = ? AND name = ''`), a.Name, id)
				if err != nil {
					return 0, fmt.Errorf("store: actor name: %w", err)
				}
			}
		}
		if a.Name != "" {
			_, err = tx.ExecContext(ctx, s.db.Rebind(`
				INSERT INTO actor_name (ifi_kind, ifi_value, name) VALUES (?, ?, ?)
				ON CONFLICT (ifi_kind, ifi_value, name) DO NOTHING`),
				string(ifiKind), ifiValue, a.Name)
			if err != nil {
				return 0, fmt.Errorf("store: actor_name: %w", err)
			}
		}
	}

	for i := range a.Member {
		mid, err := s.upsertActor(ctx, tx, &a.Member[i])
		if err != nil {
			return 0, err
		}
		_, err = tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO member (group_id, agent_id) VALUES (?, ?)
			ON CONFLICT (group_id, agent_id) DO NOTHING`), id, mid)
		if err != nil {
			return 0, fmt.Errorf("store: member: %w", err)
		}
	}
	return id, nil
}

func (s *StatementStore) upsertVerb(ctx context.Context, tx *sql.Tx, v *statement.Verb) (int64, error) {
	var (
		id      int64
		display string
	)
	err := tx.QueryRowContext(ctx, s.db.Rebind(
		`SELECT id, display_lm FROM verb WHERE iri = ?`), v.ID).Scan(&id, &display)
	if errors.Is(err, sql.ErrNoRows) {
		lm, err := json.Marshal(orEmptyLM(v.Display))
		if err != nil {
			return 0, err
		}
		err = tx.QueryRowContext(ctx, s.db.Rebind(
			`INSERT INTO verb (iri, display_lm) VALUES (?, ?) RETURNING id`),
			v.ID, string(lm)).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("store: insert verb: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: verb lookup: %w", err)
	}
	if len(v.Display) > 0 {
		var current types.LanguageMap
		if err := json.Unmarshal([]byte(display), &current); err != nil {
			current = types.LanguageMap{}
		}
		current = current.Extend(v.Display)
		lm, err := json.Marshal(current)
		if err != nil {
			return 0, err
		}
		if string(lm) != display {
			_, err = tx.ExecContext(ctx, s.db.Rebind(
				`UPDATE verb SET display_lm = ? WHERE id = ?`), string(lm), id)
			if err != nil {
				return 0, fmt.Errorf("store: verb display: %w", err)
			}
		}
	}
	return id, nil
}

func (s *StatementStore) upsertActivity(ctx context.Context, tx *sql.Tx, a *statement.Activity) (int64, error) {
	var (
		id  int64
		def sql.NullString
	)
	err := tx.QueryRowContext(ctx, s.db.Rebind(
		`SELECT id, definition_json FROM activity WHERE iri = ?`), a.ID).Scan(&id, &def)
	if errors.Is(err, sql.ErrNoRows) {
		var defJSON any
		if a.Definition != nil {
			b, err := json.Marshal(a.Definition)
			if err != nil {
				return 0, err
			}
			defJSON = string(b)
		}
		err = tx.QueryRowContext(ctx, s.db.Rebind(
			`INSERT INTO activity (iri, definition_json) VALUES (?, ?) RETURNING id`),
			a.ID, defJSON).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("store: insert activity: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: activity lookup: %w", err)
	}
	if a.Definition != nil {
		merged := &statement.ActivityDefinition{}
		if def.Valid {
			if err := json.Unmarshal([]byte(def.String), merged); err != nil {
				merged = &statement.ActivityDefinition{}
			}
		}
		merged.Merge(a.Definition)
		b, err := json.Marshal(merged)
		if err != nil {
			return 0, err
		}
		if !def.Valid || string(b) != def.String {
			_, err = tx.ExecContext(ctx, s.db.Rebind(
				`UPDATE activity SET definition_json = ? WHERE id = ?`), string(b), id)
			if err != nil {
				return 0, fmt.Errorf("store: activity merge: %w", err)
			}
		}
	}
	return id, nil
}

func (s *StatementStore) insertResult(ctx context.Context, tx *sql.Tx, r *statement.Result) (int64, error) {
	var (
		scaled, raw, min, max *float64
		duration              string
	)
	if r.Score != nil {
		scaled, raw, min, max = r.Score.Scaled, r.Score.Raw, r.Score.Min, r.Score.Max
	}
	if r.Duration != nil {
		duration = r.Duration.Canonical()
	}
	ext, err := marshalExtensions(r.Extensions)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO result
			(success, completion, response, duration, score_scaled, score_raw, score_min, score_max, extensions_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		r.Success, r.Completion, r.Response, duration, scaled, raw, min, max, ext).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert result: %w", err)
	}
	return id, nil
}

func (s *StatementStore) insertContext(ctx context.Context, tx *sql.Tx, c *statement.Context) (int64, error) {
	var instructorID, teamID sql.NullInt64
	if c.Instructor != nil {
		id, err := s.upsertActor(ctx, tx, c.Instructor)
		if err != nil {
			return 0, err
		}
		instructorID = sql.NullInt64{Int64: id, Valid: true}
	}
	if c.Team != nil {
		id, err := s.upsertActor(ctx, tx, c.Team)
		if err != nil {
			return 0, err
		}
		teamID = sql.NullInt64{Int64: id, Valid: true}
	}
	var registration, refUUID string
	if c.Registration != nil {
		registration = c.Registration.String()
	}
	if c.Statement != nil {
		refUUID = c.Statement.ID.String()
	}
	ext, err := marshalExtensions(c.Extensions)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO context
			(registration, instructor_id, team_id, revision, platform, language, ref_uuid, extensions_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		registration, instructorID, teamID, c.Revision, c.Platform, c.Language, refUUID, ext).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: insert context: %w", err)
	}

	if c.ContextActivities != nil {
		slots := []struct {
			kind string
			list []statement.Activity
		}{
			{"parent", c.ContextActivities.Parent},
			{"grouping", c.ContextActivities.Grouping},
			{"category", c.ContextActivities.Category},
			{"other", c.ContextActivities.Other},
		}
		for _, slot := range slots {
			for i := range slot.list {
				aid, err := s.upsertActivity(ctx, tx, &slot.list[i])
				if err != nil {
					return 0, err
				}
				_, err = tx.ExecContext(ctx, s.db.Rebind(
					`INSERT INTO ctx_activities (context_id, kind, activity_id) VALUES (?, ?, ?)`),
					id, slot.kind, aid)
				if err != nil {
					return 0, fmt.Errorf("store: ctx_activities: %w", err)
				}
			}
		}
	}
	for i := range c.ContextAgents {
		if err := s.insertCtxActor(ctx, tx, id, &c.ContextAgents[i].Agent, c.ContextAgents[i].RelevantTypes, false); err != nil {
			return 0, err
		}
	}
	for i := range c.ContextGroups {
		if err := s.insertCtxActor(ctx, tx, id, &c.ContextGroups[i].Group, c.ContextGroups[i].RelevantTypes, true); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (s *StatementStore) insertCtxActor(ctx context.Context, tx *sql.Tx, contextID int64, a *statement.Actor, relevantTypes []string, grouped bool) error {
	actorID, err := s.upsertActor(ctx, tx, a)
	if err != nil {
		return err
	}
	rt, err := json.Marshal(relevantTypes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO ctx_actors (context_id, actor_id, relevant_types_json, grouped)
		VALUES (?, ?, ?, ?)`),
		contextID, actorID, string(rt), b2i(grouped))
	if err != nil {
		return fmt.Errorf("store: ctx_actors: %w", err)
	}
	return nil
}

// GetByUUID returns a stored top-level statement row.
func (s *StatementStore) GetByUUID(ctx context.Context, id uuid.UUID) (*StoredStatement, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT uuid, exact_json, stored, voided, voiding
		FROM statement WHERE uuid = ? AND exact_json IS NOT NULL`), id.String())
	return scanStored(row)
}

func scanStored(row *sql.Row) (*StoredStatement, error) {
	var (
		st      StoredStatement
		rowUUID string
		exact   string
		stored  string
	)
	err := row.Scan(&rowUUID, &exact, &stored, &st.Voided, &st.Voiding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}
	st.ID, err = uuid.Parse(rowUUID)
	if err != nil {
		return nil, fmt.Errorf("store: get: %w", err)
	}
	st.Exact = json.RawMessage(exact)
	if ts, err := types.ParseTimestamp(stored); err == nil {
		st.Stored = ts
	}
	return &st, nil
}

// GetMany returns statements for the given IDs preserving argument order.
// Missing IDs are skipped.
func (s *StatementStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]*StoredStatement, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	q := fmt.Sprintf(`
		SELECT uuid, exact_json, stored, voided, voiding
		FROM statement WHERE exact_json IS NOT NULL AND uuid IN (%s)`,
		strings.Join(placeholders, ", "))
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("store: get many: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[uuid.UUID]*StoredStatement, len(ids))
	for rows.Next() {
		var (
			st      StoredStatement
			rowUUID string
			exact   string
			stored  string
		)
		if err := rows.Scan(&rowUUID, &exact, &stored, &st.Voided, &st.Voiding); err != nil {
			return nil, fmt.Errorf("store: get many: %w", err)
		}
		id, err := uuid.Parse(rowUUID)
		if err != nil {
			continue
		}
		st.ID = id
		st.Exact = json.RawMessage(exact)
		if ts, err := types.ParseTimestamp(stored); err == nil {
			st.Stored = ts
		}
		byID[id] = &st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get many: %w", err)
	}
	out := make([]*StoredStatement, 0, len(ids))
	for _, id := range ids {
		if st, ok := byID[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

// AttachmentsFor maps statement IDs to their linked attachment metadata in
// declaration order.
func (s *StatementStore) AttachmentsFor(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]AttachmentMeta, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	q := fmt.Sprintf(`
		SELECT st.uuid, a.sha2, a.content_type, a.length, a.stored_key
		FROM statement_attachment sa
		JOIN statement st ON st.id = sa.statement_id
		JOIN attachment a ON a.sha2 = sa.sha2
		WHERE st.uuid IN (%s)
		ORDER BY st.uuid, sa.idx`, strings.Join(placeholders, ", "))
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("store: attachments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[uuid.UUID][]AttachmentMeta)
	for rows.Next() {
		var (
			rowUUID string
			meta    AttachmentMeta
		)
		if err := rows.Scan(&rowUUID, &meta.SHA2, &meta.ContentType, &meta.Length, &meta.StoredKey); err != nil {
			return nil, fmt.Errorf("store: attachments: %w", err)
		}
		id, err := uuid.Parse(rowUUID)
		if err != nil {
			continue
		}
		out[id] = append(out[id], meta)
	}
	return out, rows.Err()
}

// SetAttachmentKey records the blob-store key after the bytes were written.
func (s *StatementStore) SetAttachmentKey(ctx context.Context, sha2, key string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE attachment SET stored_key = ? WHERE sha2 = ?`), key, strings.ToLower(sha2))
	if err != nil {
		return fmt.Errorf("store: attachment key: %w", err)
	}
	return nil
}

// amendExact folds the server-assigned fields into the submitted bytes.
// Submitted keys keep their order and their byte forms; server-assigned
// keys overwrite in place or append after the submitted ones.
func amendExact(exact json.RawMessage, st *statement.Statement) ([]byte, error) {
	keys, vals, err := splitTopLevel(exact)
	if err != nil {
		return nil, err
	}
	set := func(key string, v any, overwrite bool) error {
		if _, ok := vals[key]; ok && !overwrite {
			return nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, ok := vals[key]; !ok {
			keys = append(keys, key)
		}
		vals[key] = b
		return nil
	}
	if err := set("id", st.ID.String(), true); err != nil {
		return nil, err
	}
	if err := set("stored", st.Stored, true); err != nil {
		return nil, err
	}
	if err := set("timestamp", st.Timestamp, false); err != nil {
		return nil, err
	}
	if err := set("version", st.Version, false); err != nil {
		return nil, err
	}
	if st.Authority != nil {
		if err := set("authority", st.Authority, false); err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	out.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			out.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		out.Write(k)
		out.WriteByte(':')
		out.Write(vals[key])
	}
	out.WriteByte('}')
	return out.Bytes(), nil
}

// splitTopLevel tokenizes one JSON object into its members, keeping the
// submitted key order.
func splitTopLevel(raw json.RawMessage) ([]string, map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("not a JSON object")
	}
	var keys []string
	vals := make(map[string]json.RawMessage)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := kt.(string)
		if !ok {
			return nil, nil, fmt.Errorf("non-string object key")
		}
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, nil, err
		}
		if _, seen := vals[key]; !seen {
			keys = append(keys, key)
		}
		vals[key] = val
	}
	return keys, vals, nil
}

func marshalExtensions(e statement.Extensions) (any, error) {
	if len(e) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func orEmptyLM(lm types.LanguageMap) types.LanguageMap {
	if lm == nil {
		return types.LanguageMap{}
	}
	return lm
}

// b2i renders a bool as the INTEGER both dialects share for flag columns.
func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
