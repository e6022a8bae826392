package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aicflow/aicflow/workflow"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "history.db"),
		Pool:   DefaultPoolConfig(),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(i int) workflow.ExecutionRecord {
	return workflow.ExecutionRecord{
		Timestamp: time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
		Inputs:    workflow.Record{"i": i},
		Outputs:   workflow.Record{"out": i * 10},
	}
}

func TestHistoryStore_AppendTrimsToLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Append(ctx, "n1", record(i), 3))
	}
	require.NoError(t, store.Append(ctx, "n2", record(9), 3))

	recs, err := store.List(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, float64(5), recs[0].Inputs["i"])
	assert.Equal(t, float64(4), recs[1].Inputs["i"])
	assert.Equal(t, float64(3), recs[2].Inputs["i"])
	assert.Equal(t, float64(50), recs[0].Outputs["out"])
	assert.True(t, recs[0].Timestamp.Equal(record(5).Timestamp))

	other, err := store.List(ctx, "n2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestHistoryStore_LimitBelowOneKeepsLatest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "n", record(1), 0))
	require.NoError(t, store.Append(ctx, "n", record(2), 0))

	recs, err := store.List(ctx, "n")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, float64(2), recs[0].Inputs["i"])
}

func TestHistoryStore_Clear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "n", record(1), 5))
	require.NoError(t, store.Append(ctx, "keep", record(2), 5))
	require.NoError(t, store.Clear(ctx, "n"))

	recs, err := store.List(ctx, "n")
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = store.List(ctx, "keep")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestHistoryStore_Reopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := NewHistoryStore(Config{DSN: dsn, Pool: DefaultPoolConfig()}, nil)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, "n", record(1), 5))
	require.NoError(t, first.Close())

	second, err := NewHistoryStore(Config{DSN: dsn, Pool: DefaultPoolConfig()}, nil)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Ping(ctx))

	recs, err := second.List(ctx, "n")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestHistoryStore_WithInvoker(t *testing.T) {
	store := newTestStore(t)
	inv := workflow.NewInvoker(workflow.InvokerConfig{HistoryLimit: 2}, workflow.WithHistoryStore(store))

	node := &workflow.Node{
		ID: "double",
		Executor: workflow.ExecutorFunc(func(_ context.Context, _ string, in, _ workflow.Record) (workflow.Record, error) {
			return workflow.Record{"v": in["v"].(int) * 2}, nil
		}),
	}
	for v := 1; v <= 3; v++ {
		_, err := inv.Invoke(context.Background(), node, workflow.Record{"v": v})
		require.NoError(t, err)
	}

	recs, err := store.List(context.Background(), "double")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, float64(6), recs[0].Outputs["v"])
	assert.Equal(t, float64(4), recs[1].Outputs["v"])
}

func TestMigrate_CreatesSchema(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "schema.db")
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, DriverSQLite, dsn, zaptest.NewLogger(t)))
	require.NoError(t, Migrate(ctx, DriverSQLite, dsn, nil))

	db, err := Open(DriverSQLite, dsn, nil)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	defer sqlDB.Close()
	assert.True(t, db.Migrator().HasTable("node_executions"))
	assert.True(t, db.Migrator().HasIndex("node_executions", "idx_node_executions_node"))

	m, err := NewMigrator(DriverSQLite, dsn, nil)
	require.NoError(t, err)
	defer m.Close()
	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestMigrate_Errors(t *testing.T) {
	assert.ErrorContains(t, Migrate(context.Background(), DriverSQLite, "", nil), "dsn not configured")
	_, err := NewMigrator("oracle", "dsn", nil)
	assert.ErrorContains(t, err, "unsupported database dialect")
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(DriverSQLite, "", nil)
	assert.Error(t, err)

	_, err = Open("oracle", "dsn", nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}
