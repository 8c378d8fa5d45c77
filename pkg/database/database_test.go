package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", Rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	assert.Equal(t, "SELECT '?' , $1", Rebind("SELECT '?' , ?"))
	assert.Equal(t, "SELECT 1", Rebind("SELECT 1"))
}

func TestOpenSQLite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DSN = "file:test.db?mode=memory&cache=shared"
	db, err := Open(cfg)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	assert.Equal(t, DialectSQLite, db.Dialect)
	assert.NoError(t, db.Ping(context.Background()))
	// SQLite queries pass through Rebind untouched.
	assert.Equal(t, "SELECT ?", db.Rebind("SELECT ?"))
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "oracle"
	_, err := Open(cfg)
	assert.Error(t, err)
}
