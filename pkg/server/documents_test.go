package server

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAgent = `{"mbox": "mailto:sam@example.org"}`

func statePath(stateID string) string {
	p := "/xapi/activities/state?activityId=" + escapeQuery("http://example.org/course") +
		"&agent=" + escapeQuery(testAgent)
	if stateID != "" {
		p += "&stateId=" + stateID
	}
	return p
}

func profilePath(profileID string) string {
	p := "/xapi/activities/profile?activityId=" + escapeQuery("http://example.org/course")
	if profileID != "" {
		p += "&profileId=" + profileID
	}
	return p
}

func agentProfilePath(profileID string) string {
	p := "/xapi/agents/profile?agent=" + escapeQuery(testAgent)
	if profileID != "" {
		p += "&profileId=" + profileID
	}
	return p
}

func TestStateDocumentLifecycle(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPut, statePath("bookmark"), `{"page": 3}`, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = do(t, h, http.MethodGet, statePath("bookmark"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"page": 3}`, rec.Body.String())
	assert.Equal(t, etag, rec.Header().Get("ETag"))
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))

	// Conditional GET.
	rec = do(t, h, http.MethodGet, statePath("bookmark"), "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	// Overwriting an existing state needs a conditional header too.
	rec = do(t, h, http.MethodPut, statePath("bookmark"), `{"page": 4}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPut, statePath("bookmark"), `{"page": 4}`, map[string]string{"If-Match": etag})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodDelete, statePath("bookmark"), "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, statePath("bookmark"), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStateDocumentMerge(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, statePath("prefs"), `{"theme": "dark", "volume": 3}`, nil)

	rec := do(t, h, http.MethodPost, statePath("prefs"), `{"volume": 5, "muted": false}`, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, statePath("prefs"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"theme": "dark", "volume": 5, "muted": false}`, rec.Body.String())
}

func TestStateDocumentList(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, http.MethodPut, statePath("a"), `{"v": 1}`, nil)
	do(t, h, http.MethodPut, statePath("b"), `{"v": 2}`, nil)

	rec := do(t, h, http.MethodGet, statePath(""), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ids []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	// Deleting without a stateId clears the whole context.
	rec = do(t, h, http.MethodDelete, statePath(""), "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, statePath(""), "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Empty(t, ids)
}

func TestProfileOverwriteRequiresConditional(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPut, profilePath("design"), `{"v": 1}`, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	etag := rec.Header().Get("ETag")

	// Blind overwrite of an existing profile is refused.
	rec = do(t, h, http.MethodPut, profilePath("design"), `{"v": 2}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Stale If-Match fails the precondition.
	rec = do(t, h, http.MethodPut, profilePath("design"), `{"v": 2}`,
		map[string]string{"If-Match": `"0000000000000000000000000000000000000000000000000000000000000000"`})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	// Matching If-Match wins.
	rec = do(t, h, http.MethodPut, profilePath("design"), `{"v": 2}`, map[string]string{"If-Match": etag})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestProfileIfNoneMatchStar(t *testing.T) {
	h := newTestHandler(t)

	// If-None-Match: * means "only create".
	rec := do(t, h, http.MethodPut, agentProfilePath("settings"), `{"v": 1}`, map[string]string{"If-None-Match": "*"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPut, agentProfilePath("settings"), `{"v": 2}`, map[string]string{"If-None-Match": "*"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestIfMatchOnMissingDocument(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodPut, agentProfilePath("absent"), `{"v": 1}`,
		map[string]string{"If-Match": `"whatever"`})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestDocumentParameterValidation(t *testing.T) {
	h := newTestHandler(t)

	// Missing required dimension.
	rec := do(t, h, http.MethodGet, "/xapi/activities/state?agent="+escapeQuery(testAgent), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown parameter.
	rec = do(t, h, http.MethodGet, statePath("x")+"&bogus=1", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// PUT without document id.
	rec = do(t, h, http.MethodPut, profilePath(""), `{"v": 1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// DELETE all is state-only.
	rec = do(t, h, http.MethodDelete, profilePath(""), "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStateRegistrationScoping(t *testing.T) {
	h := newTestHandler(t)
	reg := "44444444-4444-4444-8444-444444444444"

	do(t, h, http.MethodPut, statePath("bookmark"), `{"page": 1}`, nil)
	do(t, h, http.MethodPut, statePath("bookmark")+"&registration="+reg, `{"page": 9}`, nil)

	rec := do(t, h, http.MethodGet, statePath("bookmark"), "", nil)
	assert.JSONEq(t, `{"page": 1}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, statePath("bookmark")+"&registration="+reg, "", nil)
	assert.JSONEq(t, `{"page": 9}`, rec.Body.String())
}

func TestNonJSONDocumentReplacedOnPost(t *testing.T) {
	h := newTestHandler(t)

	req := do(t, h, http.MethodPut, statePath("blob"), "plain text", map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusNoContent, req.Code)

	rec := do(t, h, http.MethodPost, statePath("blob"), "replacement", map[string]string{"Content-Type": "text/plain"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, statePath("blob"), "", nil)
	assert.Equal(t, "replacement", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
