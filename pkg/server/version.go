package server

import (
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/skilltrace/lrs/pkg/api"
)

// Version is the xAPI version this server speaks and echoes on every
// response.
const Version = "2.0.0"

// versionConstraint accepts any 2.0.x client.
var versionConstraint = semver.MustParse("2.0.0")

// VersionMiddleware enforces the X-Experience-API-Version header on every
// resource under base except About, which clients hit to discover the
// version in the first place. The response always carries the header.
func VersionMiddleware(base string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Experience-API-Version", Version)

			if strings.HasPrefix(r.URL.Path, base+"/") && r.URL.Path != base+"/about" {
				if err := checkVersion(r.Header.Get("X-Experience-API-Version")); err != "" {
					api.WriteBadRequest(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkVersion returns an error message for missing or unsupported
// versions, "" when acceptable.
func checkVersion(header string) string {
	if header == "" {
		return "X-Experience-API-Version header is required"
	}
	v, err := semver.NewVersion(header)
	if err != nil {
		return "X-Experience-API-Version is not a valid version"
	}
	if v.Major() != versionConstraint.Major() || v.Minor() != versionConstraint.Minor() {
		return "unsupported X-Experience-API-Version " + header
	}
	return ""
}
