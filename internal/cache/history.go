// Package cache keeps node execution history in Redis.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aicflow/aicflow/internal/tlsutil"
	"github.com/aicflow/aicflow/workflow"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 执行历史存储
// =============================================================================

// ErrClosed 存储已关闭
var ErrClosed = errors.New("history store is closed")

// Config Redis 历史存储配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 键前缀，完整键为 KeyPrefix + nodeID
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// 每次写入后刷新的过期时间，0 表示不过期
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// 启用 TLS
	TLS bool `yaml:"tls" json:"tls"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		PoolSize:   10,
		MaxRetries: 3,
		KeyPrefix:  "aicflow:history:",
		TTL:        24 * time.Hour,
	}
}

// HistoryStore 将每个节点的执行记录保存为 Redis 列表，最新记录在表头。
// 实现 workflow.HistoryStore。
type HistoryStore struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

var _ workflow.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore 连接 Redis 并创建历史存储
func NewHistoryStore(config Config, logger *zap.Logger) (*HistoryStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		MaxRetries: config.MaxRetries,
		PoolSize:   config.PoolSize,
	}
	if config.TLS {
		host, _, err := net.SplitHostPort(config.Addr)
		if err != nil {
			host = config.Addr
		}
		opts.TLSConfig = tlsutil.RedisTLSConfig(host)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := &HistoryStore{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "history_store")),
	}

	s.logger.Info("redis history store initialized",
		zap.String("addr", config.Addr),
		zap.String("key_prefix", config.KeyPrefix),
		zap.Bool("tls", config.TLS),
	)

	return s, nil
}

func (s *HistoryStore) key(nodeID string) string {
	return s.config.KeyPrefix + nodeID
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Append 在表头插入记录并截断到 limit 条
func (s *HistoryStore) Append(ctx context.Context, nodeID string, rec workflow.ExecutionRecord, limit int) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if limit < 1 {
		limit = 1
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution record: %w", err)
	}

	key := s.key(nodeID)
	pipe := s.redis.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(limit-1))
	if s.config.TTL > 0 {
		pipe.Expire(ctx, key, s.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("history append failed", zap.String("node_id", nodeID), zap.Error(err))
		return fmt.Errorf("history append failed: %w", err)
	}

	return nil
}

// List 返回节点的全部记录，最新在前
func (s *HistoryStore) List(ctx context.Context, nodeID string) ([]workflow.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	vals, err := s.redis.LRange(ctx, s.key(nodeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history list failed: %w", err)
	}

	out := make([]workflow.ExecutionRecord, 0, len(vals))
	for _, v := range vals {
		var rec workflow.ExecutionRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Clear 删除节点的全部记录
func (s *HistoryStore) Clear(ctx context.Context, nodeID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	if err := s.redis.Del(ctx, s.key(nodeID)).Err(); err != nil {
		return fmt.Errorf("history clear failed: %w", err)
	}
	return nil
}

// Ping 检查 Redis 连接
func (s *HistoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	return s.redis.Ping(ctx).Err()
}

// Close 关闭存储
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.logger.Info("closing redis history store")

	return s.redis.Close()
}
