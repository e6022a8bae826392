package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aicflow/aicflow/internal/migration"
	"github.com/aicflow/aicflow/workflow"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 📜 SQL 执行历史存储
// =============================================================================

// Config SQL 历史存储配置
type Config struct {
	Driver Driver     `yaml:"driver" json:"driver"`
	DSN    string     `yaml:"dsn" json:"dsn"`
	Pool   PoolConfig `yaml:"pool" json:"pool"`
	// 事务遇到死锁、锁等待等可重试错误时的最大尝试次数
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// executionRow 是 node_executions 表的一行，表结构由 internal/migration 维护
type executionRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	NodeID    string
	Timestamp time.Time
	Inputs    string
	Outputs   string
}

func (executionRow) TableName() string { return "node_executions" }

// HistoryStore 将节点执行记录保存到关系型数据库，实现 workflow.HistoryStore。
// 每个节点最多保留 limit 条记录，按插入顺序倒序返回。
type HistoryStore struct {
	pool        *PoolManager
	maxAttempts int
	logger      *zap.Logger
}

var _ workflow.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore 执行 Schema 迁移、打开数据库并创建历史存储。
// 迁移使用独立连接，SQLite 的 DSN 因此必须指向文件而非 :memory:。
func NewHistoryStore(cfg Config, logger *zap.Logger) (*HistoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if err := Migrate(context.Background(), cfg.Driver, cfg.DSN, logger); err != nil {
		return nil, err
	}
	if cfg.Driver == DriverSQLite {
		// SQLite 只允许一个写连接
		cfg.Pool.MaxOpenConns = 1
		cfg.Pool.MaxIdleConns = 1
	}

	db, err := Open(cfg.Driver, cfg.DSN, logger)
	if err != nil {
		return nil, err
	}
	pool, err := NewPoolManager(db, cfg.Pool, logger)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return newHistoryStore(pool, cfg.MaxAttempts, logger)
}

// NewMigrator 在独立连接上创建 Schema 迁移器，调用方负责 Close
func NewMigrator(driver Driver, dsn string, logger *zap.Logger) (*migration.Migrator, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}
	if driver == "" {
		driver = DriverSQLite
	}
	db, err := sql.Open(sqlDriverName(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s for migration: %w", driver, err)
	}
	m, err := migration.New(db, migration.Config{Dialect: migration.Dialect(driver)}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

// Migrate 将 dsn 指向的数据库迁移到最新 Schema
func Migrate(ctx context.Context, driver Driver, dsn string, logger *zap.Logger) error {
	m, err := NewMigrator(driver, dsn, logger)
	if err != nil {
		return fmt.Errorf("migrate node_executions: %w", err)
	}
	defer m.Close()
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("migrate node_executions: %w", err)
	}
	return nil
}

func newHistoryStore(pool *PoolManager, maxAttempts int, logger *zap.Logger) (*HistoryStore, error) {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &HistoryStore{
		pool:        pool,
		maxAttempts: maxAttempts,
		logger:      logger.With(zap.String("component", "sql_history_store")),
	}, nil
}

// Append 插入一条记录，并删除该节点超出 limit 的旧记录
func (s *HistoryStore) Append(ctx context.Context, nodeID string, rec workflow.ExecutionRecord, limit int) error {
	if limit < 1 {
		limit = 1
	}
	inputs, err := json.Marshal(rec.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := json.Marshal(rec.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	row := executionRow{
		NodeID:    nodeID,
		Timestamp: rec.Timestamp,
		Inputs:    string(inputs),
		Outputs:   string(outputs),
	}

	return s.pool.WithTransactionRetry(ctx, s.maxAttempts, func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		// 第 limit 新的记录之前的都被裁剪
		var cutoff []uint64
		if err := tx.Model(&executionRow{}).
			Where("node_id = ?", nodeID).
			Order("id DESC").
			Offset(limit-1).
			Limit(1).
			Pluck("id", &cutoff).Error; err != nil {
			return err
		}
		if len(cutoff) == 0 {
			return nil
		}
		return tx.Where("node_id = ? AND id < ?", nodeID, cutoff[0]).Delete(&executionRow{}).Error
	})
}

// List 返回节点的执行记录，最新在前
func (s *HistoryStore) List(ctx context.Context, nodeID string) ([]workflow.ExecutionRecord, error) {
	var rows []executionRow
	if err := s.pool.DB().WithContext(ctx).
		Where("node_id = ?", nodeID).
		Order("id DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list history of %s: %w", nodeID, err)
	}

	out := make([]workflow.ExecutionRecord, 0, len(rows))
	for _, r := range rows {
		rec := workflow.ExecutionRecord{Timestamp: r.Timestamp}
		if err := json.Unmarshal([]byte(r.Inputs), &rec.Inputs); err != nil {
			s.logger.Warn("skipping corrupt history row", zap.Uint64("id", r.ID), zap.Error(err))
			continue
		}
		if err := json.Unmarshal([]byte(r.Outputs), &rec.Outputs); err != nil {
			s.logger.Warn("skipping corrupt history row", zap.Uint64("id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Clear 删除节点的所有执行记录
func (s *HistoryStore) Clear(ctx context.Context, nodeID string) error {
	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Where("node_id = ?", nodeID).Delete(&executionRow{}).Error
	})
}

// Ping 检查数据库连接
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 关闭底层连接池
func (s *HistoryStore) Close() error {
	return s.pool.Close()
}
