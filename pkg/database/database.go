// Package database opens and configures the SQL backend. Two drivers are
// supported: the embedded SQLite build (modernc.org/sqlite) for single-node
// deployments and tests, and Postgres (lib/pq) for everything else. One SQL
// body serves both dialects; Rebind converts ? placeholders to $n for
// Postgres.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavor in use.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config holds connection-pool settings.
type Config struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
}

// DefaultConfig is an in-process SQLite database, fit for development.
func DefaultConfig() Config {
	return Config{
		Driver:          string(DialectSQLite),
		DSN:             "file:lrs.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		AcquireTimeout:  5 * time.Second,
	}
}

// DB wraps the pool with its dialect.
type DB struct {
	*sql.DB
	Dialect        Dialect
	AcquireTimeout time.Duration
}

// Open connects and applies the pool settings.
func Open(cfg Config) (*DB, error) {
	var dialect Dialect
	switch cfg.Driver {
	case string(DialectSQLite), "sqlite3":
		dialect = DialectSQLite
	case string(DialectPostgres), "pq":
		dialect = DialectPostgres
	default:
		return nil, fmt.Errorf("database: unknown driver %q", cfg.Driver)
	}
	driver := "sqlite"
	if dialect == DialectPostgres {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	return &DB{DB: db, Dialect: dialect, AcquireTimeout: cfg.AcquireTimeout}, nil
}

// Ping verifies connectivity within the acquire timeout.
func (d *DB) Ping(ctx context.Context) error {
	if d.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.AcquireTimeout)
		defer cancel()
	}
	return d.PingContext(ctx)
}

// Rebind converts ? placeholders to the dialect's positional form. SQLite
// queries pass through untouched.
func (d *DB) Rebind(query string) string {
	if d.Dialect != DialectPostgres {
		return query
	}
	return Rebind(query)
}

// Rebind rewrites ? placeholders as $1..$n, skipping string literals.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inString = !inString
			b.WriteByte(c)
		case c == '?' && !inString:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
