package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 内嵌迁移文件
// =============================================================================

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// DefaultTableName 记录已应用版本的表名
const DefaultTableName = "schema_migrations"

// Dialect 数据库方言
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect 解析方言字符串
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(s) {
	case "sqlite", "sqlite3", "":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported database dialect: %s", s)
	}
}

func (d Dialect) dir() string { return "migrations/" + string(d) }

// Config 迁移器配置
type Config struct {
	Dialect   Dialect
	TableName string
}

// Status 单个迁移的状态
type Status struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// =============================================================================
// 🔧 Migrator
// =============================================================================

// Migrator 基于 golang-migrate 执行内嵌的 Schema 迁移。
// Migrator 持有传入的 *sql.DB，Close 时一并关闭。
type Migrator struct {
	dialect Dialect
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// New 在 db 上创建迁移器
func New(db *sql.DB, cfg Config, logger *zap.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("migration: db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	dialect, err := ParseDialect(string(cfg.Dialect))
	if err != nil {
		return nil, err
	}

	driver, err := databaseDriver(db, dialect, cfg.TableName)
	if err != nil {
		return nil, fmt.Errorf("create %s migration driver: %w", dialect, err)
	}
	src, err := iofs.New(migrationsFS, dialect.dir())
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	logger = logger.With(zap.String("component", "migrator"), zap.String("dialect", string(dialect)))
	m.Log = migrateLogger{logger.Sugar()}
	return &Migrator{dialect: dialect, migrate: m, logger: logger}, nil
}

func databaseDriver(db *sql.DB, d Dialect, table string) (database.Driver, error) {
	switch d {
	case DialectPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case DialectMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	default:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	}
}

// Up 应用所有未执行的迁移
func (m *Migrator) Up(ctx context.Context) error {
	err := m.withContext(ctx, m.migrate.Up)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	version, _, _ := m.Version()
	m.logger.Debug("schema up to date", zap.Uint("version", version))
	return nil
}

// Down 回滚最近一次迁移
func (m *Migrator) Down(ctx context.Context) error {
	err := m.withContext(ctx, func() error { return m.migrate.Steps(-1) })
	if err != nil && !errors.Is(err, migrate.ErrNoChange) && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version 返回当前版本；尚未迁移时返回 0
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Status 列出内嵌迁移及其应用状态
func (m *Migrator) Status() ([]Status, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	all, err := Migrations(m.dialect)
	if err != nil {
		return nil, err
	}
	for i := range all {
		all[i].Applied = all[i].Version <= current
		all[i].Dirty = dirty && all[i].Version == current
	}
	return all, nil
}

// Close 关闭迁移源与数据库连接
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

// withContext 在 ctx 取消时请求 golang-migrate 在当前迁移结束后停止
func (m *Migrator) withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()
	return fn()
}

// Migrations 列出某方言的内嵌迁移，按版本升序
func Migrations(d Dialect) ([]Status, error) {
	entries, err := fs.ReadDir(migrationsFS, d.dir())
	if err != nil {
		return nil, fmt.Errorf("read migrations of %s: %w", d, err)
	}

	var out []Status
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(version, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, Status{Version: uint(v), Name: strings.TrimSuffix(rest, ".up.sql")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// migrateLogger 将 golang-migrate 日志转发到 zap
type migrateLogger struct {
	s *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.s.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool { return false }
