package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aicflow/aicflow/config"
	"github.com/aicflow/aicflow/internal/cache"
	"github.com/aicflow/aicflow/internal/database"
	"github.com/aicflow/aicflow/internal/metrics"
	"github.com/aicflow/aicflow/internal/telemetry"
	"github.com/aicflow/aicflow/internal/tlsutil"
	"github.com/aicflow/aicflow/nodes"
	"github.com/aicflow/aicflow/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app wires configuration, logging, telemetry and the engine for one
// command invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	otel     *telemetry.Providers
	registry *prometheus.Registry
	metrics  *metrics.Collector
	history  workflow.HistoryStore
	closers  []func() error
}

func newApp(cmd *cli.Command) (*app, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path := cmd.String("config"); path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}

	a := &app{cfg: cfg, logger: initLogger(cfg.Log)}

	a.otel, err = telemetry.Init(cfg.Telemetry, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, a.registry, a.logger)
	}

	a.history, err = a.openHistory()
	if err != nil {
		_ = a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openHistory() (workflow.HistoryStore, error) {
	switch a.cfg.History.Backend {
	case "redis":
		rc := a.cfg.History.Redis
		store, err := cache.NewHistoryStore(cache.Config{
			Addr:       rc.Addr,
			Password:   rc.Password,
			DB:         rc.DB,
			PoolSize:   rc.PoolSize,
			MaxRetries: 3,
			KeyPrefix:  rc.KeyPrefix,
			TTL:        rc.TTL,
			TLS:        rc.TLS,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	case "sql":
		sc := a.cfg.History.SQL
		store, err := database.NewHistoryStore(database.Config{
			Driver: database.Driver(sc.Driver),
			DSN:    sc.DSN,
			Pool: database.PoolConfig{
				MaxOpenConns:        sc.MaxOpenConns,
				MaxIdleConns:        sc.MaxIdleConns,
				ConnMaxLifetime:     sc.ConnMaxLifetime,
				HealthCheckInterval: sc.HealthCheckInterval,
			},
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		return workflow.NewMemoryHistoryStore(), nil
	}
}

// engine builds a catalog and an orchestrator. Subflows are resolved from
// subflowDir; an empty dir disables the subflow kind.
func (a *app) engine(engineCfg config.EngineConfig, subflowDir string) (*workflow.Catalog, *workflow.Orchestrator, error) {
	var catalogOpts []nodes.Option
	var subflow *nodes.Subflow
	if subflowDir != "" {
		subflow = &nodes.Subflow{Logger: a.logger}
		catalogOpts = append(catalogOpts, nodes.WithSubflow(subflow))
	}
	if hc := a.cfg.Nodes.HTTP; hc.Enabled {
		catalogOpts = append(catalogOpts, nodes.WithHTTP(&nodes.HTTP{
			Client:           tlsutil.HTTPClient(hc.Timeout),
			MaxResponseBytes: hc.MaxResponseBytes,
		}))
	}
	catalog := nodes.NewCatalog(catalogOpts...)

	invOpts := []workflow.InvokerOption{
		workflow.WithCatalog(catalog),
		workflow.WithHistoryStore(a.history),
		workflow.WithInvokerLogger(a.logger),
	}
	if a.metrics != nil {
		invOpts = append(invOpts, workflow.WithCircuitListener(a.metrics.CircuitListener()))
	}
	inv := workflow.NewInvoker(engineCfg.InvokerConfig(), invOpts...)

	opts, err := engineCfg.OrchestratorOptions()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts,
		workflow.WithInvoker(inv),
		workflow.WithLogger(a.logger),
	)
	if a.metrics != nil {
		opts = append(opts, workflow.WithHooks(a.metrics.Hooks()))
	}
	if a.otel.Enabled() {
		hooks, err := telemetry.WorkflowHooks(telemetry.Meter())
		if err != nil {
			return nil, nil, fmt.Errorf("create otel instruments: %w", err)
		}
		opts = append(opts, workflow.WithHooks(hooks))
	}
	orch := workflow.NewOrchestrator(opts...)

	if subflow != nil {
		subflow.Source = &nodes.DirSource{Dir: subflowDir, Catalog: catalog}
		subflow.Orchestrator = orch
	}
	return catalog, orch, nil
}

// close flushes metrics and telemetry and releases the history backend.
func (a *app) close() error {
	var errs []error
	if a.registry != nil && a.cfg.Metrics.OutputPath != "" {
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.OutputPath, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", zap.Error(err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func loadGraph(path string, catalog *workflow.Catalog) (*workflow.Definition, *workflow.Graph, error) {
	def, err := workflow.LoadDefinition(path)
	if err != nil {
		return nil, nil, err
	}
	g, err := def.Build(catalog)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return def, g, nil
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
