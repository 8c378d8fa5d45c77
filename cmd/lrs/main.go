// Command lrs runs the learning record store server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skilltrace/lrs/pkg/api"
	"github.com/skilltrace/lrs/pkg/attachments"
	"github.com/skilltrace/lrs/pkg/auth"
	"github.com/skilltrace/lrs/pkg/config"
	"github.com/skilltrace/lrs/pkg/database"
	"github.com/skilltrace/lrs/pkg/observability"
	"github.com/skilltrace/lrs/pkg/query"
	"github.com/skilltrace/lrs/pkg/server"
	"github.com/skilltrace/lrs/pkg/statement"
	"github.com/skilltrace/lrs/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	blobs, err := attachments.NewStore(ctx, cfg.Attachments)
	if err != nil {
		return fmt.Errorf("attachment store: %w", err)
	}

	var cache query.Cache
	if cfg.Query.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Query.RedisAddr,
			Password: cfg.Query.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		cache = query.NewRedisCache(client, cfg.Query.SIDTTL)
	} else {
		cache = query.NewMemoryCache(cfg.Query.SIDTTL, cfg.Query.SweepInterval, cfg.Query.Capacity)
	}
	defer cache.Close()

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
	if obsCfg.Enabled {
		obsCfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		obsCfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	statements := store.NewStatementStore(db, store.NewClock())
	documents := store.NewDocumentStore(db)

	srv := server.New(server.Options{
		Statements: statements,
		Documents:  documents,
		Blobs:      blobs,
		Cache:      cache,
		Obs:        obs,
		Authority:  serverAuthority(cfg),
		BasePath:   "/xapi",
		Query:      cfg.Query,
		Language:   cfg.DefaultLanguage,
	})

	handler := srv.Handler()
	if cfg.Auth.Username != "" {
		cred, err := auth.NewCredential(cfg.Auth.Username, cfg.Auth.Password)
		if err != nil {
			return fmt.Errorf("credentials: %w", err)
		}
		handler = auth.Middleware(auth.NewAuthenticator(cred))(handler)
	} else {
		slog.Warn("no root credentials configured; API is open")
	}
	if cfg.RateLimit.RPS > 0 {
		handler = api.NewGlobalRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware(handler)
	}
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("lrs listening", "addr", httpSrv.Addr, "base_url", cfg.BaseURL)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// serverAuthority is the Agent stamped onto statements submitted without an
// authority of their own.
func serverAuthority(cfg *config.Config) *statement.Actor {
	name := cfg.Auth.Username
	if name == "" {
		name = "lrs"
	}
	home := strings.TrimSuffix(cfg.BaseURL, "/xapi")
	if home == "" {
		home = "http://localhost:" + cfg.Port
	}
	return &statement.Actor{
		ObjectType: "Agent",
		Account: &statement.Account{
			HomePage: home,
			Name:     name,
		},
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
