// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"sync"
	"time"

	"github.com/aicflow/aicflow/workflow"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 工作流指标收集器
type Collector struct {
	// 运行指标
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	stateTransitions *prometheus.CounterVec
	cyclesDetected   prometheus.Counter
	fallbacksTotal   prometheus.Counter

	// 分组指标
	groupSize prometheus.Histogram

	// 节点指标
	nodeInvocationsTotal *prometheus.CounterVec
	nodeDuration         *prometheus.HistogramVec

	// 熔断指标
	circuitTransitions *prometheus.CounterVec

	logger *zap.Logger
	mu     sync.Mutex
	starts map[string]time.Time
}

// NewCollector 创建指标收集器，指标注册到 reg；reg 为 nil 时使用默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
		starts: make(map[string]time.Time),
	}

	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Total number of workflow runs",
		},
		[]string{"strategy", "status"},
	)

	c.runDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_run_duration_seconds",
			Help:      "Workflow run duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)

	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_state_transitions_total",
			Help:      "Total number of run state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.cyclesDetected = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_cycles_detected_total",
			Help:      "Total number of runs on a graph containing a cycle",
		},
	)

	c.fallbacksTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_fallbacks_total",
			Help:      "Total number of runs that used the fallback strategy",
		},
	)

	c.groupSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_group_size",
			Help:      "Number of nodes per execution group",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 7),
		},
	)

	c.nodeInvocationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_invocations_total",
			Help:      "Total number of node invocations",
		},
		[]string{"kind", "status"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node invocation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.circuitTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of node circuit breaker state changes",
		},
		[]string{"node_id", "to_state"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordRun 记录一次运行结果
func (c *Collector) RecordRun(res *workflow.Result, duration time.Duration, err error) {
	strategy := "unknown"
	if res != nil && res.Strategy != "" {
		strategy = string(res.Strategy)
	}
	c.runsTotal.WithLabelValues(strategy, status(err)).Inc()
	c.runDuration.WithLabelValues(strategy).Observe(duration.Seconds())

	if res == nil {
		return
	}
	if res.CycleDetected {
		c.cyclesDetected.Inc()
	}
	if res.FallbackUsed {
		c.fallbacksTotal.Inc()
	}
}

// RecordNode 记录一次节点调用
func (c *Collector) RecordNode(kind workflow.NodeKind, duration time.Duration, err error) {
	k := string(kind)
	if k == "" {
		k = "unknown"
	}
	c.nodeInvocationsTotal.WithLabelValues(k, status(err)).Inc()
	c.nodeDuration.WithLabelValues(k).Observe(duration.Seconds())
}

// RecordGroup 记录一个执行分组的大小
func (c *Collector) RecordGroup(size int) {
	c.groupSize.Observe(float64(size))
}

// RecordStateTransition 记录运行状态转换
func (c *Collector) RecordStateTransition(from, to workflow.RunState) {
	c.stateTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// RecordCircuitEvent 记录熔断器状态变化
func (c *Collector) RecordCircuitEvent(ev workflow.CircuitEvent) {
	c.circuitTransitions.WithLabelValues(ev.NodeID, ev.To.String()).Inc()
}

// =============================================================================
// 🔌 编排器接入
// =============================================================================

// Hooks 返回把运行事件写入指标的编排器钩子
func (c *Collector) Hooks() workflow.Hooks {
	return workflow.Hooks{
		OnStateChange: func(id string, from, to workflow.RunState) {
			if from == workflow.StateIdle {
				c.mu.Lock()
				c.starts[id] = time.Now()
				c.mu.Unlock()
			}
			c.RecordStateTransition(from, to)
		},
		OnGroupStart: func(info workflow.GroupInfo) {
			c.RecordGroup(len(info.Nodes))
		},
		OnNodeEnd: func(_ string, n *workflow.Node, elapsed time.Duration, err error) {
			c.RecordNode(n.Kind, elapsed, err)
		},
		OnRunEnd: func(res *workflow.Result, err error) {
			var elapsed time.Duration
			if res != nil {
				c.mu.Lock()
				if start, ok := c.starts[res.ExecutionID]; ok {
					elapsed = time.Since(start)
					delete(c.starts, res.ExecutionID)
				}
				c.mu.Unlock()
			}
			c.RecordRun(res, elapsed, err)
		},
	}
}

// CircuitListener 返回把熔断事件写入指标的监听器
func (c *Collector) CircuitListener() workflow.CircuitListener {
	return c.RecordCircuitEvent
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
