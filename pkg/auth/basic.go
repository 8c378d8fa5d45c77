// Package auth implements HTTP Basic authentication for the LRS endpoints
// plus the request-scoped middleware shared by all handlers (request IDs,
// CORS).
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/skilltrace/lrs/pkg/api"
)

// Credential is one accepted Basic-auth identity. The password is stored as
// a bcrypt hash, never in the clear.
type Credential struct {
	Username     string
	PasswordHash []byte
}

// NewCredential hashes the password with bcrypt's default cost.
func NewCredential(username, password string) (Credential, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Username: username, PasswordHash: hash}, nil
}

// Authenticator validates Basic-auth headers against a fixed credential set.
type Authenticator struct {
	creds map[string]Credential
}

// NewAuthenticator builds an authenticator. With no credentials it fails
// closed: every request is rejected.
func NewAuthenticator(creds ...Credential) *Authenticator {
	m := make(map[string]Credential, len(creds))
	for _, c := range creds {
		m[c.Username] = c
	}
	return &Authenticator{creds: m}
}

// Check verifies a username/password pair.
func (a *Authenticator) Check(username, password string) bool {
	c, ok := a.creds[username]
	if !ok {
		// Burn a comparison anyway so missing users cost the same as
		// wrong passwords.
		_ = bcrypt.CompareHashAndPassword(bcryptDummy, []byte(password))
		return false
	}
	if subtle.ConstantTimeCompare([]byte(c.Username), []byte(username)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(c.PasswordHash, []byte(password)) == nil
}

var bcryptDummy, _ = bcrypt.GenerateFromPassword([]byte("lrs-dummy"), bcrypt.MinCost)

// publicPaths are endpoints that do not require authentication.
var publicPaths = []string{
	"/health",
	"/xapi/about",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p || path == p+"/" {
			return true
		}
	}
	return false
}

// Middleware returns Basic-auth middleware. Public paths pass through; all
// other requests must present valid credentials.
func Middleware(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			if !strings.HasPrefix(authHeader, "Basic ") {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Basic <credentials>')")
				return
			}
			username, password, ok := r.BasicAuth()
			if !ok || !a.Check(username, password) {
				api.WriteUnauthorized(w, "Invalid credentials")
				return
			}

			ctx := WithPrincipal(r.Context(), Principal{Username: username})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
