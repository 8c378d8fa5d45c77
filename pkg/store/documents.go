package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/skilltrace/lrs/pkg/canonical"
	"github.com/skilltrace/lrs/pkg/database"
	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/types"
)

// DocumentKind selects which keyed document resource a row belongs to.
type DocumentKind string

const (
	DocState           DocumentKind = "state"
	DocAgentProfile    DocumentKind = "agent_profile"
	DocActivityProfile DocumentKind = "activity_profile"
)

// DocumentKey addresses one document. Unused dimensions stay empty: agent
// profiles carry no activity, activity profiles no agent, and only state
// documents use the registration.
type DocumentKey struct {
	Kind         DocumentKind
	ActivityIRI  string
	AgentKey     string
	Registration string
	ID           string
}

// AgentKey renders the document-owner key for an agent.
func AgentKey(a *statement.Actor) string {
	kind, value := a.IFI()
	return string(kind) + ":" + value
}

// Document is a stored document with its concurrency metadata.
type Document struct {
	ID          string
	Content     []byte
	ContentType string
	ETag        string
	Updated     types.Timestamp
}

// DocumentStore persists the state and profile resources.
type DocumentStore struct {
	db  *database.DB
	log *slog.Logger
}

func NewDocumentStore(db *database.DB) *DocumentStore {
	return &DocumentStore{db: db, log: slog.Default().With("component", "document-store")}
}

// Get returns the document or ErrNotFound.
func (s *DocumentStore) Get(ctx context.Context, key DocumentKey) (*Document, error) {
	var (
		doc     Document
		updated string
	)
	doc.ID = key.ID
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT content, content_type, etag, updated FROM document
		WHERE kind = ? AND activity_iri = ? AND agent_key = ? AND registration = ? AND doc_id = ?`),
		string(key.Kind), key.ActivityIRI, key.AgentKey, key.Registration, key.ID).
		Scan(&doc.Content, &doc.ContentType, &doc.ETag, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: document get: %w", err)
	}
	if ts, err := types.ParseTimestamp(updated); err == nil {
		doc.Updated = ts
	}
	return &doc, nil
}

// Put stores or replaces the document and returns the stored form.
func (s *DocumentStore) Put(ctx context.Context, key DocumentKey, content []byte, contentType string) (*Document, error) {
	doc := &Document{
		ID:          key.ID,
		Content:     content,
		ContentType: contentType,
		ETag:        canonical.ETag(content),
		Updated:     types.Now(),
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO document (kind, activity_iri, agent_key, registration, doc_id, content, content_type, etag, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, activity_iri, agent_key, registration, doc_id)
		DO UPDATE SET content = excluded.content, content_type = excluded.content_type,
			etag = excluded.etag, updated = excluded.updated`),
		string(key.Kind), key.ActivityIRI, key.AgentKey, key.Registration, key.ID,
		content, contentType, doc.ETag, doc.Updated.String())
	if err != nil {
		return nil, fmt.Errorf("store: document put: %w", err)
	}
	s.log.Debug("document stored", "kind", key.Kind, "id", key.ID)
	return doc, nil
}

// Merge shallow-merges a JSON object into an existing JSON document; top
// level keys from the incoming document win. When either side is not a JSON
// object the incoming content replaces the stored one.
func (s *DocumentStore) Merge(ctx context.Context, key DocumentKey, content []byte, contentType string) (*Document, error) {
	existing, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return s.Put(ctx, key, content, contentType)
	}
	if err != nil {
		return nil, err
	}
	merged, ok := mergeJSONObjects(existing.Content, content)
	if !ok {
		merged = content
	}
	return s.Put(ctx, key, merged, contentType)
}

// Delete removes the document. Absent rows are not an error.
func (s *DocumentStore) Delete(ctx context.Context, key DocumentKey) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM document
		WHERE kind = ? AND activity_iri = ? AND agent_key = ? AND registration = ? AND doc_id = ?`),
		string(key.Kind), key.ActivityIRI, key.AgentKey, key.Registration, key.ID)
	if err != nil {
		return fmt.Errorf("store: document delete: %w", err)
	}
	return nil
}

// DeleteAll removes every document under the key's owner dimensions,
// ignoring the document ID. Used by the state resource's bulk delete.
func (s *DocumentStore) DeleteAll(ctx context.Context, key DocumentKey) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM document
		WHERE kind = ? AND activity_iri = ? AND agent_key = ? AND registration = ?`),
		string(key.Kind), key.ActivityIRI, key.AgentKey, key.Registration)
	if err != nil {
		return fmt.Errorf("store: document delete all: %w", err)
	}
	return nil
}

// List returns the IDs under the key's owner dimensions, optionally only
// those updated after since.
func (s *DocumentStore) List(ctx context.Context, key DocumentKey, since *types.Timestamp) ([]string, error) {
	q := `SELECT doc_id FROM document
		WHERE kind = ? AND activity_iri = ? AND agent_key = ? AND registration = ?`
	args := []any{string(key.Kind), key.ActivityIRI, key.AgentKey, key.Registration}
	if since != nil {
		q += ` AND updated > ?`
		args = append(args, since.String())
	}
	q += ` ORDER BY doc_id`
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("store: document list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: document list: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// mergeJSONObjects returns the shallow merge when both sides are JSON
// objects; ok is false otherwise.
func mergeJSONObjects(dst, src []byte) ([]byte, bool) {
	var a, b map[string]json.RawMessage
	if err := json.Unmarshal(dst, &a); err != nil || !bytes.HasPrefix(bytes.TrimSpace(dst), []byte("{")) {
		return nil, false
	}
	if err := json.Unmarshal(src, &b); err != nil || !bytes.HasPrefix(bytes.TrimSpace(src), []byte("{")) {
		return nil, false
	}
	for k, v := range b {
		a[k] = v
	}
	out, err := json.Marshal(a)
	if err != nil {
		return nil, false
	}
	return out, true
}
