package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/skilltrace/lrs/pkg/api"
	"github.com/skilltrace/lrs/pkg/query"
	"github.com/skilltrace/lrs/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeStoreError maps storage sentinels onto the protocol's status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrIDConflict):
		api.WriteConflict(w, err.Error())
	case errors.Is(err, store.ErrDuplicateID), errors.Is(err, store.ErrVoidTarget):
		api.WriteBadRequest(w, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, query.ErrUnknownSID):
		api.WriteNotFound(w, err.Error())
	default:
		api.WriteInternal(w, err)
	}
}

// setConsistentThrough stamps the monotonic stored-clock header.
func (s *Server) setConsistentThrough(w http.ResponseWriter) {
	w.Header().Set("X-Experience-API-Consistent-Through", s.statements.Clock().ConsistentThrough().String())
}
