package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/api"
	"github.com/skilltrace/lrs/pkg/canonical"
	"github.com/skilltrace/lrs/pkg/multipart"
	"github.com/skilltrace/lrs/pkg/query"
	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/store"
	"github.com/skilltrace/lrs/pkg/types"
)

const maxBodyBytes = 64 << 20

// statementResult is the statements query response shape.
type statementResult struct {
	Statements []json.RawMessage `json:"statements"`
	More       string            `json:"more,omitempty"`
}

func (s *Server) handleStatements(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.getStatements(w, r)
	case http.MethodPut:
		s.putStatement(w, r)
	case http.MethodPost:
		s.postStatements(w, r)
	default:
		api.WriteMethodNotAllowed(w)
	}
}

func (s *Server) getStatements(w http.ResponseWriter, r *http.Request) {
	f, err := query.ParseFilter(r.URL.Query(), s.acceptLanguages(r))
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	s.setConsistentThrough(w)

	if f.StatementID != nil || f.VoidedStatementID != nil {
		s.getSingleStatement(w, r, f)
		return
	}

	ids, err := s.statements.Find(r.Context(), f.StoreQuery())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	limit := s.clampLimit(f.Limit)
	rs := &query.ResultSet{IDs: ids, Format: f.Format, Attachments: f.Attachments}
	if len(ids) > limit {
		if _, err := s.cache.Put(r.Context(), rs); err != nil {
			api.WriteInternal(w, err)
			return
		}
	}
	page := query.Slice(rs, s.basePath, 0, limit)
	s.respondPage(w, r, f.ProjectionFormat(), f.Attachments, page)
}

func (s *Server) handleMore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		api.WriteMethodNotAllowed(w)
		return
	}
	params, err := query.ParseMore(r.URL.Query())
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	rs, err := s.cache.Get(r.Context(), params.SID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.setConsistentThrough(w)

	limit := s.clampLimit(params.Limit)
	page := query.Slice(rs, s.basePath, params.Offset, limit)
	format := statement.Format{Mode: rs.Format, Langs: s.acceptLanguages(r)}
	s.respondPage(w, r, format, rs.Attachments, page)
}

func (s *Server) getSingleStatement(w http.ResponseWriter, r *http.Request, f *query.Filter) {
	id := f.StatementID
	wantVoided := false
	if f.VoidedStatementID != nil {
		id = f.VoidedStatementID
		wantVoided = true
	}

	st, err := s.statements.GetByUUID(r.Context(), *id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if st.Voided != wantVoided {
		api.WriteNotFound(w, "statement not found")
		return
	}

	body, err := s.project(f.ProjectionFormat(), st)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.Header().Set("ETag", canonical.ETag(body))
	w.Header().Set("Last-Modified", st.Stored.Time.UTC().Format(http.TimeFormat))
	s.obs.RecordStatementsQueried(r.Context(), 1)

	if f.Attachments {
		s.writeMultipart(w, r, body, []uuid.UUID{st.ID})
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

// respondPage renders one window of a result set, as plain JSON or as
// multipart/mixed when the stored attachment bytes ride along.
func (s *Server) respondPage(w http.ResponseWriter, r *http.Request, format statement.Format, withAttachments bool, page query.Page) {
	stored, err := s.statements.GetMany(r.Context(), page.IDs)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	result := statementResult{Statements: make([]json.RawMessage, 0, len(stored)), More: page.More}
	for _, st := range stored {
		body, err := s.project(format, st)
		if err != nil {
			api.WriteInternal(w, err)
			return
		}
		result.Statements = append(result.Statements, body)
	}
	body, err := json.Marshal(result)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.Header().Set("ETag", canonical.ETag(body))
	w.Header().Set("Last-Modified", s.lastModified(stored))
	s.obs.RecordStatementsQueried(r.Context(), len(stored))

	if withAttachments {
		s.writeMultipart(w, r, body, page.IDs)
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

// project renders one stored statement in the requested format.
func (s *Server) project(format statement.Format, st *store.StoredStatement) (json.RawMessage, error) {
	if format.Mode == statement.ModeExact || format.Mode == "" {
		return st.Exact, nil
	}
	d, err := statement.DecodeStatement(st.Exact)
	if err != nil {
		return nil, fmt.Errorf("stored statement %s: %w", st.ID, err)
	}
	return format.Project(d.Statement, st.Exact)
}

// lastModified renders the max stored instant of the payload, falling back
// to the consistent-through horizon for an empty result.
func (s *Server) lastModified(stored []*store.StoredStatement) string {
	var max types.Timestamp
	for _, st := range stored {
		if st.Stored.Time.After(max.Time) {
			max = st.Stored
		}
	}
	if max.Time.IsZero() {
		max = s.statements.Clock().ConsistentThrough()
	}
	return max.Time.UTC().Format(http.TimeFormat)
}

// writeMultipart emits the response with the raw attachment bytes the LRS
// holds. Declarations resolved by fileUrl have no local bytes and are left
// to the client to fetch; when nothing is held locally the response stays
// plain JSON.
func (s *Server) writeMultipart(w http.ResponseWriter, r *http.Request, body []byte, ids []uuid.UUID) {
	metas, err := s.statements.AttachmentsFor(r.Context(), ids)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	var parts []multipart.Part
	seen := map[string]bool{}
	for _, list := range metas {
		for _, m := range list {
			if m.StoredKey == "" || seen[m.SHA2] {
				continue
			}
			data, err := s.blobs.Get(r.Context(), m.SHA2)
			if err != nil {
				api.WriteInternal(w, err)
				return
			}
			parts = append(parts, multipart.Part{SHA2: m.SHA2, ContentType: m.ContentType, Data: data})
			seen[m.SHA2] = true
		}
	}
	if len(parts) == 0 {
		writeRawJSON(w, http.StatusOK, body)
		return
	}

	var buf bytes.Buffer
	contentType, err := multipart.Emit(&buf, body, parts)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) putStatement(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("statementId")
	if raw == "" {
		api.WriteBadRequest(w, "statementId query parameter is required")
		return
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		api.WriteBadRequest(w, "statementId: "+err.Error())
		return
	}

	// Conditionals are evaluated against the stored statement before the
	// fingerprint comparison gets a say.
	existing, err := s.statements.GetByUUID(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		api.WriteInternal(w, err)
		return
	}
	var existingETag string
	if existing != nil {
		existingETag = canonical.ETag(existing.Exact)
	}
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		if existing == nil || !etagListMatches(ifMatch, existingETag) {
			api.WritePreconditionFailed(w, "If-Match does not match the stored statement")
			return
		}
	}
	if ifNone := r.Header.Get("If-None-Match"); ifNone != "" && existing != nil && etagListMatches(ifNone, existingETag) {
		api.WritePreconditionFailed(w, "If-None-Match matches the stored statement")
		return
	}

	batch, storedKeys, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	if len(batch) != 1 {
		api.WriteBadRequest(w, "PUT accepts exactly one statement")
		return
	}
	d := batch[0]
	if d.Statement.ID != nil && *d.Statement.ID != id {
		api.WriteBadRequest(w, "statement id does not match the statementId parameter")
		return
	}
	d.Statement.ID = &id

	if !s.checkShapes(w, batch) {
		return
	}
	if err := d.Statement.Violations(); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	if _, err := s.insert(r, []statement.Decoded{d}, storedKeys); err != nil {
		writeStoreError(w, err)
		return
	}
	if st, err := s.statements.GetByUUID(r.Context(), id); err == nil {
		w.Header().Set("ETag", canonical.ETag(st.Exact))
		w.Header().Set("Last-Modified", st.Stored.Time.UTC().Format(http.TimeFormat))
	}
	s.setConsistentThrough(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postStatements(w http.ResponseWriter, r *http.Request) {
	batch, storedKeys, ok := s.readSubmission(w, r)
	if !ok {
		return
	}
	if !s.checkShapes(w, batch) {
		return
	}
	for i, d := range batch {
		if err := d.Statement.Violations(); err != nil {
			api.WriteBadRequest(w, fmt.Sprintf("statement %d: %v", i, err))
			return
		}
	}
	ids, err := s.insert(r, batch, storedKeys)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	s.setConsistentThrough(w)
	writeJSON(w, http.StatusOK, out)
}

// readSubmission decodes an application/json or multipart/mixed statement
// submission. Binary parts are persisted to the blob store before the
// statements touch the database, so a failed insert never strands a
// declaration pointing at missing bytes.
func (s *Server) readSubmission(w http.ResponseWriter, r *http.Request) ([]statement.Decoded, map[string]string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	contentType := r.Header.Get("Content-Type")

	if boundary, ok := multipart.IsMultipart(contentType); ok {
		ingest, err := multipart.ParseIngest(boundary, r.Body, maxBodyBytes)
		if err != nil {
			api.WriteBadRequest(w, err.Error())
			return nil, nil, false
		}
		storedKeys := make(map[string]string, len(ingest.Parts))
		for sha2, data := range ingest.Parts {
			key, err := s.blobs.Put(r.Context(), sha2, data)
			if err != nil {
				api.WriteInternal(w, err)
				return nil, nil, false
			}
			storedKeys[sha2] = key
		}
		return ingest.Batch, storedKeys, true
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "request body exceeds the configured limit")
			return nil, nil, false
		}
		api.WriteBadRequest(w, err.Error())
		return nil, nil, false
	}
	batch, err := statement.DecodeStatements(body)
	if err != nil {
		api.WriteBadRequest(w, err.Error())
		return nil, nil, false
	}
	if err := multipart.RequireFileURLs(batch); err != nil {
		api.WriteBadRequest(w, err.Error())
		return nil, nil, false
	}
	return batch, nil, true
}

// checkShapes runs the structural schema pass over each submitted statement.
func (s *Server) checkShapes(w http.ResponseWriter, batch []statement.Decoded) bool {
	for i, d := range batch {
		var doc any
		if err := json.Unmarshal(d.Exact, &doc); err != nil {
			api.WriteBadRequest(w, err.Error())
			return false
		}
		if err := s.schema.ValidateStatement(doc); err != nil {
			api.WriteBadRequest(w, fmt.Sprintf("statement %d: %v", i, err))
			return false
		}
	}
	return true
}

func (s *Server) insert(r *http.Request, batch []statement.Decoded, storedKeys map[string]string) ([]uuid.UUID, error) {
	ids, err := s.statements.Insert(r.Context(), batch, store.InsertOptions{
		Authority:  s.authority,
		StoredKeys: storedKeys,
	})
	if err != nil {
		return nil, err
	}
	s.obs.RecordStatementsStored(r.Context(), len(ids))
	for _, d := range batch {
		if d.Statement.IsVoiding() {
			s.obs.RecordStatementVoided(r.Context())
		}
	}
	return ids, nil
}

func (s *Server) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}
