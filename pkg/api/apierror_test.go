package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestWriteBadRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteBadRequest(rec, "parameter verb is not an IRI")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	p := decodeProblem(t, rec)
	assert.Equal(t, "Bad Request", p.Title)
	assert.Equal(t, 400, p.Status)
	assert.Contains(t, p.Detail, "verb")
}

func TestWriteUnauthorizedSetsChallenge(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteUnauthorized(rec, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	p := decodeProblem(t, rec)
	assert.Equal(t, "Authentication required", p.Detail)
}

func TestWritePreconditionFailed(t *testing.T) {
	rec := httptest.NewRecorder()
	WritePreconditionFailed(rec, "If-Match does not match the stored document")

	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, 412, p.Status)
}

func TestWriteErrorRIncludesInstance(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/xapi/statements?verb=bogus", nil)
	WriteErrorR(rec, req, http.StatusBadRequest, "Bad Request", "bad verb")

	p := decodeProblem(t, rec)
	assert.Equal(t, "/xapi/statements", p.Instance)
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewGlobalRateLimiter(1, 2)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/xapi/about", nil)
		req.RemoteAddr = "10.0.0.1:4242"
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewGlobalRateLimiter(1, 1)
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, addr := range []string{"10.0.0.1:1", "10.0.0.2:1"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/xapi/about", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
}
