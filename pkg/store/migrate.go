package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/skilltrace/lrs/pkg/database"
)

// ddl holds the schema shared by both dialects. %PK% expands to the
// dialect's autoincrement primary key column.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS actor (
		id %PK%,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		ifi_kind TEXT NOT NULL DEFAULT '',
		ifi_value TEXT NOT NULL DEFAULT '',
		mbox TEXT NOT NULL DEFAULT '',
		mbox_sha1sum TEXT NOT NULL DEFAULT '',
		openid TEXT NOT NULL DEFAULT '',
		account_home TEXT NOT NULL DEFAULT '',
		account_name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS actor_ifi
		ON actor (kind, ifi_kind, ifi_value) WHERE ifi_kind <> ''`,
	`CREATE TABLE IF NOT EXISTS actor_name (
		ifi_kind TEXT NOT NULL,
		ifi_value TEXT NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (ifi_kind, ifi_value, name)
	)`,
	`CREATE TABLE IF NOT EXISTS member (
		group_id BIGINT NOT NULL,
		agent_id BIGINT NOT NULL,
		PRIMARY KEY (group_id, agent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS verb (
		id %PK%,
		iri TEXT NOT NULL UNIQUE,
		display_lm TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE TABLE IF NOT EXISTS activity (
		id %PK%,
		iri TEXT NOT NULL UNIQUE,
		definition_json TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS result (
		id %PK%,
		success INTEGER,
		completion INTEGER,
		response TEXT,
		duration TEXT NOT NULL DEFAULT '',
		score_scaled REAL,
		score_raw REAL,
		score_min REAL,
		score_max REAL,
		extensions_json TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS context (
		id %PK%,
		registration TEXT NOT NULL DEFAULT '',
		instructor_id BIGINT,
		team_id BIGINT,
		revision TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		ref_uuid TEXT NOT NULL DEFAULT '',
		extensions_json TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS ctx_activities (
		context_id BIGINT NOT NULL,
		kind TEXT NOT NULL,
		activity_id BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ctx_actors (
		context_id BIGINT NOT NULL,
		actor_id BIGINT NOT NULL,
		relevant_types_json TEXT NOT NULL DEFAULT '[]',
		grouped INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS statement (
		id %PK%,
		uuid TEXT UNIQUE,
		fp BIGINT NOT NULL DEFAULT 0,
		actor_id BIGINT NOT NULL,
		verb_id BIGINT NOT NULL,
		object_kind INTEGER NOT NULL,
		result_id BIGINT,
		context_id BIGINT,
		timestamp TEXT NOT NULL DEFAULT '',
		stored TEXT NOT NULL DEFAULT '',
		authority_id BIGINT,
		version TEXT NOT NULL DEFAULT '',
		voided INTEGER NOT NULL DEFAULT 0,
		voiding INTEGER NOT NULL DEFAULT 0,
		exact_json TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS statement_stored ON statement (stored)`,
	`CREATE TABLE IF NOT EXISTS obj_activity (
		statement_id BIGINT NOT NULL,
		activity_id BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS obj_actor (
		statement_id BIGINT NOT NULL,
		actor_id BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS obj_statement_ref (
		statement_id BIGINT NOT NULL,
		ref_uuid TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS obj_statement_ref_uuid ON obj_statement_ref (ref_uuid)`,
	`CREATE TABLE IF NOT EXISTS obj_statement (
		statement_id BIGINT NOT NULL,
		sub_id BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS attachment (
		sha2 TEXT PRIMARY KEY,
		content_type TEXT NOT NULL,
		length BIGINT NOT NULL,
		stored_key TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS statement_attachment (
		statement_id BIGINT NOT NULL,
		sha2 TEXT NOT NULL,
		idx INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS document (
		kind TEXT NOT NULL,
		activity_iri TEXT NOT NULL DEFAULT '',
		agent_key TEXT NOT NULL DEFAULT '',
		registration TEXT NOT NULL DEFAULT '',
		doc_id TEXT NOT NULL,
		content %BLOB% NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
		etag TEXT NOT NULL,
		updated TEXT NOT NULL,
		PRIMARY KEY (kind, activity_iri, agent_key, registration, doc_id)
	)`,
}

// Migrate creates the schema if absent. Statements are idempotent so
// repeated startups are safe.
func Migrate(ctx context.Context, db *database.DB) error {
	pk, blob := "INTEGER PRIMARY KEY AUTOINCREMENT", "BLOB"
	if db.Dialect == database.DialectPostgres {
		pk, blob = "BIGSERIAL PRIMARY KEY", "BYTEA"
	}
	for _, stmt := range ddl {
		stmt = strings.ReplaceAll(stmt, "%PK%", pk)
		stmt = strings.ReplaceAll(stmt, "%BLOB%", blob)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
