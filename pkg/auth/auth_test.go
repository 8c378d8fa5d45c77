package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) http.Handler {
	t.Helper()
	cred, err := NewCredential("root", "secret")
	require.NoError(t, err)
	mw := Middleware(NewAuthenticator(cred))
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := GetPrincipal(r.Context())
		if r.URL.Path == "/xapi/about" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.NoError(t, err)
		assert.Equal(t, "root", p.Username)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestBasicAuthAccepts(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/xapi/statements", nil)
	req.SetBasicAuth("root", "secret")
	newHandler(t).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthRejects(t *testing.T) {
	cases := map[string]func(*http.Request){
		"no header":      func(r *http.Request) {},
		"wrong password": func(r *http.Request) { r.SetBasicAuth("root", "nope") },
		"unknown user":   func(r *http.Request) { r.SetBasicAuth("other", "secret") },
		"bearer scheme":  func(r *http.Request) { r.Header.Set("Authorization", "Bearer tok") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/xapi/statements", nil)
			mutate(req)
			newHandler(t).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
		})
	}
}

func TestPublicPathBypassesAuth(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/xapi/about", nil)
	newHandler(t).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetRequestID(r.Context()))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	h := CORSMiddleware([]string{"https://lms.example.org"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/xapi/statements", nil)
	req.Header.Set("Origin", "https://lms.example.org")
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://lms.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Experience-API-Consistent-Through")
}

func TestCORSDisallowedOrigin(t *testing.T) {
	h := CORSMiddleware([]string{"https://lms.example.org"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/xapi/about", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
