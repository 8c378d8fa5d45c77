package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/skilltrace/lrs/pkg/api"
	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/store"
	"github.com/skilltrace/lrs/pkg/types"
)

// docParams is the per-kind query grammar for the document resources.
var docParams = map[store.DocumentKind]map[string]bool{
	store.DocState:           {"activityId": true, "agent": true, "registration": true, "stateId": true, "since": true},
	store.DocActivityProfile: {"activityId": true, "profileId": true, "since": true},
	store.DocAgentProfile:    {"agent": true, "profileId": true, "since": true},
}

func idParam(kind store.DocumentKind) string {
	if kind == store.DocState {
		return "stateId"
	}
	return "profileId"
}

// documentResource builds the handler for one keyed document resource.
func (s *Server) documentResource(kind store.DocumentKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, since, ok := s.documentKey(w, r, kind)
		if !ok {
			return
		}
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			if key.ID == "" {
				s.listDocuments(w, r, key, since)
				return
			}
			s.getDocument(w, r, key)
		case http.MethodPut:
			s.putDocument(w, r, kind, key)
		case http.MethodPost:
			s.mergeDocument(w, r, kind, key)
		case http.MethodDelete:
			s.deleteDocument(w, r, kind, key)
		default:
			api.WriteMethodNotAllowed(w)
		}
	}
}

// documentKey parses and validates the resource dimensions.
func (s *Server) documentKey(w http.ResponseWriter, r *http.Request, kind store.DocumentKind) (store.DocumentKey, *types.Timestamp, bool) {
	values := r.URL.Query()
	allowed := docParams[kind]
	for param, vs := range values {
		if !allowed[param] {
			api.WriteBadRequest(w, "unknown query parameter "+param)
			return store.DocumentKey{}, nil, false
		}
		if len(vs) > 1 {
			api.WriteBadRequest(w, "query parameter "+param+" given more than once")
			return store.DocumentKey{}, nil, false
		}
	}

	key := store.DocumentKey{Kind: kind, ID: values.Get(idParam(kind))}

	if allowed["activityId"] {
		iri := values.Get("activityId")
		if iri == "" {
			api.WriteBadRequest(w, "activityId query parameter is required")
			return store.DocumentKey{}, nil, false
		}
		if _, err := types.ParseIRI(iri); err != nil {
			api.WriteBadRequest(w, "activityId: "+err.Error())
			return store.DocumentKey{}, nil, false
		}
		key.ActivityIRI = iri
	}
	if allowed["agent"] {
		raw := values.Get("agent")
		if raw == "" {
			api.WriteBadRequest(w, "agent query parameter is required")
			return store.DocumentKey{}, nil, false
		}
		agent := &statement.Actor{}
		if err := json.Unmarshal([]byte(raw), agent); err != nil {
			api.WriteBadRequest(w, "agent: "+err.Error())
			return store.DocumentKey{}, nil, false
		}
		if errs := agent.Validate(); len(errs) > 0 {
			api.WriteBadRequest(w, "agent: "+errors.Join(errs...).Error())
			return store.DocumentKey{}, nil, false
		}
		key.AgentKey = store.AgentKey(agent)
	}
	if kind == store.DocState {
		if raw := values.Get("registration"); raw != "" {
			reg, err := uuid.Parse(raw)
			if err != nil {
				api.WriteBadRequest(w, "registration: "+err.Error())
				return store.DocumentKey{}, nil, false
			}
			key.Registration = reg.String()
		}
	}

	var since *types.Timestamp
	if raw := values.Get("since"); raw != "" {
		if key.ID != "" {
			api.WriteBadRequest(w, "since cannot be combined with a document id")
			return store.DocumentKey{}, nil, false
		}
		ts, err := types.ParseTimestamp(raw)
		if err != nil {
			api.WriteBadRequest(w, "since: "+err.Error())
			return store.DocumentKey{}, nil, false
		}
		since = &ts
	}
	return key, since, true
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request, key store.DocumentKey) {
	doc, err := s.documents.Get(r.Context(), key)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("ETag", doc.ETag)
	w.Header().Set("Last-Modified", doc.Updated.Time.UTC().Format(http.TimeFormat))
	if etagListMatches(r.Header.Get("If-None-Match"), doc.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Content)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request, key store.DocumentKey, since *types.Timestamp) {
	ids, err := s.documents.List(r.Context(), key, since)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) putDocument(w http.ResponseWriter, r *http.Request, kind store.DocumentKind, key store.DocumentKey) {
	if key.ID == "" {
		api.WriteBadRequest(w, idParam(kind)+" query parameter is required")
		return
	}
	if !s.checkDocumentPreconditions(w, r, key, true) {
		return
	}
	content, contentType, ok := readDocumentBody(w, r)
	if !ok {
		return
	}
	doc, err := s.documents.Put(r.Context(), key, content, contentType)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	s.obs.RecordDocumentWritten(r.Context(), string(kind))
	w.Header().Set("ETag", doc.ETag)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) mergeDocument(w http.ResponseWriter, r *http.Request, kind store.DocumentKind, key store.DocumentKey) {
	if key.ID == "" {
		api.WriteBadRequest(w, idParam(kind)+" query parameter is required")
		return
	}
	if !s.checkDocumentPreconditions(w, r, key, false) {
		return
	}
	content, contentType, ok := readDocumentBody(w, r)
	if !ok {
		return
	}
	doc, err := s.documents.Merge(r.Context(), key, content, contentType)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	s.obs.RecordDocumentWritten(r.Context(), string(kind))
	w.Header().Set("ETag", doc.ETag)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request, kind store.DocumentKind, key store.DocumentKey) {
	if key.ID == "" {
		if kind != store.DocState {
			api.WriteBadRequest(w, idParam(kind)+" query parameter is required")
			return
		}
		if err := s.documents.DeleteAll(r.Context(), key); err != nil {
			api.WriteInternal(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !s.checkDocumentPreconditions(w, r, key, false) {
		return
	}
	if err := s.documents.Delete(r.Context(), key); err != nil {
		api.WriteInternal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkDocumentPreconditions applies If-Match / If-None-Match against the
// stored document. A PUT over an existing document additionally requires
// one of the two headers, so blind overwrites fail with 409 and a pointer
// at the concurrency headers.
func (s *Server) checkDocumentPreconditions(w http.ResponseWriter, r *http.Request, key store.DocumentKey, isPut bool) bool {
	ifMatch := r.Header.Get("If-Match")
	ifNone := r.Header.Get("If-None-Match")

	existing, err := s.documents.Get(r.Context(), key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		api.WriteInternal(w, err)
		return false
	}

	if ifMatch != "" {
		if existing == nil || !etagListMatches(ifMatch, existing.ETag) {
			api.WritePreconditionFailed(w, "If-Match does not match the stored document")
			return false
		}
	}
	if ifNone != "" && existing != nil && etagListMatches(ifNone, existing.ETag) {
		api.WritePreconditionFailed(w, "If-None-Match matches the stored document")
		return false
	}
	if isPut && ifMatch == "" && ifNone == "" && existing != nil {
		api.WriteConflict(w, "document already exists; send If-Match or If-None-Match to overwrite")
		return false
	}
	return true
}

// etagListMatches reports whether header (an ETag list or "*") matches etag.
func etagListMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func readDocumentBody(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	content, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, "Payload Too Large", "request body exceeds the configured limit")
			return nil, "", false
		}
		api.WriteBadRequest(w, err.Error())
		return nil, "", false
	}
	if len(content) == 0 {
		api.WriteBadRequest(w, "request body is required")
		return nil, "", false
	}
	return content, r.Header.Get("Content-Type"), true
}
