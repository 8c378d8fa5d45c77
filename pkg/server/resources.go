package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/skilltrace/lrs/pkg/api"
	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/store"
	"github.com/skilltrace/lrs/pkg/types"
)

// handleActivities returns the canonical Activity for an IRI: the merged
// definition accumulated across every statement that described it. Unknown
// activities answer with the bare id, not a 404, so content can probe
// before first use.
func (s *Server) handleActivities(w http.ResponseWriter, r *http.Request) {
	iri := r.URL.Query().Get("activityId")
	if iri == "" {
		api.WriteBadRequest(w, "activityId query parameter is required")
		return
	}
	if _, err := types.ParseIRI(iri); err != nil {
		api.WriteBadRequest(w, "activityId: "+err.Error())
		return
	}

	activity, err := s.statements.GetActivity(r.Context(), iri)
	if errors.Is(err, store.ErrNotFound) {
		activity = &statement.Activity{ID: iri}
	} else if err != nil {
		api.WriteInternal(w, err)
		return
	}
	activity.ObjectType = "Activity"

	writeJSON(w, http.StatusOK, activity)
}

// handleAgents returns the Person aggregate: every name and identifier the
// LRS has seen for the requested agent.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("agent")
	if raw == "" {
		api.WriteBadRequest(w, "agent query parameter is required")
		return
	}
	agent := &statement.Actor{}
	if err := json.Unmarshal([]byte(raw), agent); err != nil {
		api.WriteBadRequest(w, "agent: "+err.Error())
		return
	}
	if errs := agent.Validate(); len(errs) > 0 {
		api.WriteBadRequest(w, "agent: "+errors.Join(errs...).Error())
		return
	}

	person, err := s.statements.GetPerson(r.Context(), agent)
	if err != nil {
		api.WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

// aboutBody is the /about response.
type aboutBody struct {
	Version    []string       `json:"version"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, aboutBody{
		Version: []string{Version},
		Extensions: map[string]any{
			"https://skilltrace.dev/ext/lrs": map[string]string{
				"name": "skilltrace-lrs",
			},
		},
	})
}

// handleVerbs resolves a verb IRI, or a bare alias like "completed", to the
// stored verb with its accumulated display map.
func (s *Server) handleVerbs(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("verb")
	if raw == "" {
		api.WriteBadRequest(w, "verb query parameter is required")
		return
	}
	verb, err := s.statements.LookupVerb(r.Context(), raw)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verb)
}
