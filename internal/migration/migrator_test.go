package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/glebarez/go-sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openSQLite(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	return db, path
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n))
	return n == 1
}

func TestParseDialect(t *testing.T) {
	tests := map[string]Dialect{
		"":           DialectSQLite,
		"sqlite3":    DialectSQLite,
		"PostgreSQL": DialectPostgres,
		"pg":         DialectPostgres,
		"mariadb":    DialectMySQL,
	}
	for in, want := range tests {
		got, err := ParseDialect(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDialect("oracle")
	assert.ErrorContains(t, err, "unsupported database dialect")
}

func TestMigrations_EveryDialect(t *testing.T) {
	for _, d := range []Dialect{DialectSQLite, DialectPostgres, DialectMySQL} {
		t.Run(string(d), func(t *testing.T) {
			migs, err := Migrations(d)
			require.NoError(t, err)
			require.NotEmpty(t, migs)
			assert.Equal(t, uint(1), migs[0].Version)
			assert.Equal(t, "create_node_executions", migs[0].Name)
			assert.False(t, migs[0].Applied)
		})
	}
}

func TestMigrator_SQLiteUpAndDown(t *testing.T) {
	db, _ := openSQLite(t)
	m, err := New(db, Config{Dialect: DialectSQLite}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	assert.True(t, tableExists(t, db, "node_executions"))
	assert.True(t, tableExists(t, db, DefaultTableName))

	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	status, err := m.Status()
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.True(t, status[0].Applied)

	// no pending migrations
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	assert.False(t, tableExists(t, db, "node_executions"))
}

func TestMigrator_UpIsIdempotentAcrossInstances(t *testing.T) {
	first, path := openSQLite(t)
	require.NoError(t, first.Close())
	ctx := context.Background()

	for range 2 {
		db, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		m, err := New(db, Config{Dialect: DialectSQLite}, nil)
		require.NoError(t, err)
		require.NoError(t, m.Up(ctx))
		version, _, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(1), version)
		require.NoError(t, m.Close())
	}
}

func TestMigrator_CanceledContext(t *testing.T) {
	db, _ := openSQLite(t)
	m, err := New(db, Config{}, nil)
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Up(ctx), context.Canceled)
}

func TestNew_NilDB(t *testing.T) {
	_, err := New(nil, Config{}, nil)
	assert.Error(t, err)
}
