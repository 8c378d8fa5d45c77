// Package server implements the xAPI resource protocol over the storage
// layer: the Statements resource with paging and attachments, the three
// document resources, the Agents and Activities lookups, and About.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"github.com/skilltrace/lrs/pkg/attachments"
	"github.com/skilltrace/lrs/pkg/config"
	"github.com/skilltrace/lrs/pkg/observability"
	"github.com/skilltrace/lrs/pkg/query"
	"github.com/skilltrace/lrs/pkg/schema"
	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/store"
)

// Server holds the wired resource handlers.
type Server struct {
	statements *store.StatementStore
	documents  *store.DocumentStore
	blobs      attachments.Store
	cache      query.Cache
	obs        *observability.Provider
	schema     *schema.Validator
	log        *slog.Logger

	// authority is stamped onto statements submitted without one.
	authority *statement.Actor
	// basePath prefixes the more-URLs handed to clients.
	basePath     string
	defaultLimit int
	maxLimit     int
	defaultLang  string
}

// Options carries the server wiring.
type Options struct {
	Statements *store.StatementStore
	Documents  *store.DocumentStore
	Blobs      attachments.Store
	Cache      query.Cache
	Obs        *observability.Provider
	Authority  *statement.Actor
	BasePath   string
	Query      config.QueryConfig
	Language   string
}

// New builds a Server.
func New(opts Options) *Server {
	s := &Server{
		statements:   opts.Statements,
		documents:    opts.Documents,
		blobs:        opts.Blobs,
		cache:        opts.Cache,
		obs:          opts.Obs,
		log:          slog.Default().With("component", "server"),
		authority:    opts.Authority,
		basePath:     strings.TrimSuffix(opts.BasePath, "/"),
		defaultLimit: opts.Query.DefaultLimit,
		maxLimit:     opts.Query.MaxLimit,
		defaultLang:  opts.Language,
	}
	if s.basePath == "" {
		s.basePath = "/xapi"
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 50
	}
	if s.maxLimit < s.defaultLimit {
		s.maxLimit = s.defaultLimit
	}
	if s.defaultLang == "" {
		s.defaultLang = "en"
	}
	if s.obs == nil {
		s.obs = mustInertProvider()
	}
	v, err := schema.NewValidator()
	if err != nil {
		panic(err)
	}
	s.schema = v
	return s
}

func mustInertProvider() *observability.Provider {
	p, err := observability.New(context.Background(), &observability.Config{Enabled: false})
	if err != nil {
		panic(err)
	}
	return p
}

// Handler builds the route table. Version checking wraps every xAPI route;
// auth, CORS, rate limiting and request IDs are applied by the caller so
// tests can exercise the resources without credentials.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	base := s.basePath

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(base+"/statements", s.handleStatements)
	mux.HandleFunc(base+"/statements/more/", s.handleMore)
	mux.HandleFunc(base+"/statements/more", s.handleMore)

	mux.HandleFunc(base+"/activities/state", s.documentResource(store.DocState))
	mux.HandleFunc(base+"/activities/profile", s.documentResource(store.DocActivityProfile))
	mux.HandleFunc(base+"/agents/profile", s.documentResource(store.DocAgentProfile))

	mux.HandleFunc("GET "+base+"/activities", s.handleActivities)
	mux.HandleFunc("GET "+base+"/agents", s.handleAgents)
	mux.HandleFunc("GET "+base+"/about", s.handleAbout)
	mux.HandleFunc("GET "+base+"/verbs", s.handleVerbs)

	return VersionMiddleware(base)(mux)
}

// acceptLanguages parses the Accept-Language header into preference order,
// always appending the server default as a fallback.
func (s *Server) acceptLanguages(r *http.Request) []string {
	var langs []string
	if header := r.Header.Get("Accept-Language"); header != "" {
		if tags, _, err := language.ParseAcceptLanguage(header); err == nil {
			for _, t := range tags {
				langs = append(langs, t.String())
			}
		}
	}
	return append(langs, s.defaultLang)
}
