package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aicflow/aicflow/internal/ctxkeys"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/aicflow/aicflow/workflow"

// Strategy selects how the orchestrator walks a graph.
type Strategy string

const (
	// StrategyTopological runs the graph in one global topological order.
	StrategyTopological Strategy = "topological"
	// StrategyBranchTracing runs the downstream branch of every source node
	// in turn.
	StrategyBranchTracing Strategy = "branch_tracing"
)

// ParseStrategy converts a configuration string into a Strategy. The empty
// string and "none" yield the zero Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch v := Strategy(strings.ToLower(strings.TrimSpace(s))); v {
	case StrategyTopological, StrategyBranchTracing:
		return v, nil
	case "", "none":
		return "", nil
	default:
		return "", fmt.Errorf("unknown strategy %q", s)
	}
}

// RunState is the lifecycle state of one Execute call.
type RunState string

const (
	StateIdle       RunState = "idle"
	StateScheduling RunState = "scheduling"
	StateRunning    RunState = "running"
	StateCompleted  RunState = "completed"
	StateFailed     RunState = "failed"
)

// GroupInfo identifies an execution group.
type GroupInfo struct {
	ExecutionID string
	Strategy    Strategy
	Index       int
	Nodes       []string
}

// Hooks observe a run. Any field may be nil. Node hooks of a concurrent
// group are called from several goroutines.
//
// A run moves idle → scheduling → running → completed or failed, each step
// reported once through OnStateChange. A fallback attempt stays in running
// and is announced through OnFallback instead.
type Hooks struct {
	OnStateChange func(executionID string, from, to RunState)
	OnFallback    func(executionID string, primary, fallback Strategy, primaryErr error)
	OnGroupStart  func(GroupInfo)
	OnGroupEnd    func(info GroupInfo, err error)
	OnNodeStart   func(executionID string, node *Node)
	OnNodeEnd     func(executionID string, node *Node, elapsed time.Duration, err error)
	OnRunEnd      func(res *Result, err error)
}

// Result is the outcome of Execute. It is returned even when the run fails.
type Result struct {
	ExecutionID string
	// Strategy is the strategy whose run produced Outputs.
	Strategy Strategy
	State    RunState
	// Outputs maps node ids to their output for every node that succeeded.
	Outputs       map[string]Record
	Order         []string
	Groups        [][]string
	CycleDetected bool
	Unreached     []string
	// FallbackUsed is set when the primary strategy failed without output
	// and the fallback strategy ran instead. PrimaryErr holds that failure.
	FallbackUsed bool
	PrimaryErr   error
	Trace        *RunTrace
}

// Output returns the output of a node.
func (r *Result) Output(nodeID string) (Record, bool) {
	out, ok := r.Outputs[nodeID]
	return out, ok
}

// Orchestrator runs graphs. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	strategy    Strategy
	fallback    Strategy
	grouping    Grouping
	maxParallel int
	invoker     *Invoker
	hooks       []Hooks
	logger      *zap.Logger
	tracer      trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStrategy selects the primary strategy. Default is StrategyTopological.
func WithStrategy(s Strategy) Option {
	return func(o *Orchestrator) { o.strategy = s }
}

// WithFallback selects a strategy tried when the primary one fails before
// any node produced output. The zero Strategy disables fallback.
func WithFallback(s Strategy) Option {
	return func(o *Orchestrator) { o.fallback = s }
}

// WithGrouping selects how nodes are grouped. Default is GroupingLayered.
func WithGrouping(g Grouping) Option {
	return func(o *Orchestrator) { o.grouping = g }
}

// WithMaxParallel caps concurrent invocations inside a group. Zero means no cap.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) { o.maxParallel = n }
}

// WithInvoker sets the node invoker.
func WithInvoker(inv *Invoker) Option {
	return func(o *Orchestrator) { o.invoker = inv }
}

// WithHooks adds run observers. It may be given several times.
func WithHooks(h Hooks) Option {
	return func(o *Orchestrator) { o.hooks = append(o.hooks, h) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the OpenTelemetry tracer. Default is the global provider's.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		strategy: StrategyTopological,
		grouping: GroupingLayered,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.strategy == "" {
		o.strategy = StrategyTopological
	}
	if o.grouping == "" {
		o.grouping = GroupingLayered
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"))
	if o.invoker == nil {
		o.invoker = NewInvoker(DefaultInvokerConfig(), WithInvokerLogger(o.logger))
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}

// Invoker returns the invoker used for node calls.
func (o *Orchestrator) Invoker() *Invoker { return o.invoker }

// Execute runs g once. Nodes without incoming edges receive a copy of
// input. Groups run in order; members of a group run concurrently and are
// all joined before the next group starts.
//
// When a node fails, no further group is started and Execute returns the
// partial Result with an error wrapping every *NodeError of that group.
// Cycles are not an error: the nodes that cannot be ordered are reported in
// Result.Unreached.
func (o *Orchestrator) Execute(ctx context.Context, g *Graph, input Record) (*Result, error) {
	if g == nil {
		return nil, errors.New("execute: graph cannot be nil")
	}

	r := &run{
		o:     o,
		g:     g,
		input: input,
		id:    uuid.NewString(),
		state: StateIdle,
	}
	r.trace = NewRunTrace(r.id)

	ctx, span := o.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.execution_id", r.id),
		attribute.String("workflow.strategy", string(o.strategy)),
		attribute.Int("workflow.nodes", g.Len()),
	))
	defer span.End()

	fields := []zap.Field{
		zap.String("execution_id", r.id),
		zap.String("strategy", string(o.strategy)),
		zap.Int("nodes", g.Len()),
		zap.Int("edges", len(g.edges)),
	}
	if parent, ok := ctxkeys.ExecutionID(ctx); ok {
		fields = append(fields, zap.String("parent_execution_id", parent))
	}
	o.logger.Info("starting execution", fields...)
	ctx = ctxkeys.WithExecutionID(ctx, r.id)

	res, err := r.attempt(ctx, o.strategy)

	if err != nil && o.fallback != "" && o.fallback != o.strategy && len(res.Outputs) == 0 && ctx.Err() == nil {
		o.logger.Warn("primary strategy failed before producing output, running fallback",
			zap.String("execution_id", r.id),
			zap.String("primary", string(o.strategy)),
			zap.String("fallback", string(o.fallback)),
			zap.Error(err))
		span.AddEvent("workflow.fallback", trace.WithAttributes(
			attribute.String("workflow.fallback", string(o.fallback))))

		primaryErr := err
		for _, h := range o.hooks {
			if h.OnFallback != nil {
				h.OnFallback(r.id, o.strategy, o.fallback, primaryErr)
			}
		}
		res, err = r.attempt(ctx, o.fallback)
		res.FallbackUsed = true
		res.PrimaryErr = primaryErr
		if err != nil {
			o.logger.Error("fallback strategy failed",
				zap.String("execution_id", r.id),
				zap.String("fallback", string(o.fallback)),
				zap.Error(err))
		}
	}

	if err != nil {
		r.setState(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("execution failed",
			zap.String("execution_id", r.id),
			zap.Strings("failed_nodes", FailedNodes(err)),
			zap.Error(err))
	} else {
		r.setState(StateCompleted)
		o.logger.Info("execution completed",
			zap.String("execution_id", r.id),
			zap.String("strategy", string(res.Strategy)),
			zap.Int("nodes_executed", len(res.Outputs)))
	}
	res.State = r.currentState()
	r.trace.Finish(err)

	for _, h := range o.hooks {
		if h.OnRunEnd != nil {
			h.OnRunEnd(res, err)
		}
	}
	return res, err
}

// run carries the state of one Execute call.
type run struct {
	o     *Orchestrator
	g     *Graph
	input Record
	id    string
	trace *RunTrace

	mu    sync.Mutex
	state RunState
}

func (r *run) setState(to RunState) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()
	if from == to {
		return
	}
	r.o.logger.Debug("run state change",
		zap.String("execution_id", r.id),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	for _, h := range r.o.hooks {
		if h.OnStateChange != nil {
			h.OnStateChange(r.id, from, to)
		}
	}
}

func (r *run) currentState() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// attempt runs one strategy against a fresh output store. Only the first
// attempt passes through scheduling.
func (r *run) attempt(ctx context.Context, s Strategy) (*Result, error) {
	store := NewOutputStore()
	if r.currentState() == StateIdle {
		r.setState(StateScheduling)
	}

	var (
		sched *Schedule
		err   error
	)
	switch s {
	case StrategyTopological:
		sched, err = r.topological(ctx, store)
	case StrategyBranchTracing:
		sched, err = r.branchTracing(ctx, store)
	default:
		sched, err = &Schedule{}, fmt.Errorf("unknown strategy %q", s)
	}

	return &Result{
		ExecutionID:   r.id,
		Strategy:      s,
		Outputs:       store.Snapshot(),
		Order:         sched.OrderIDs(),
		Groups:        sched.GroupIDs(),
		CycleDetected: sched.CycleDetected,
		Unreached:     sched.Unreached,
		Trace:         r.trace,
	}, err
}

func (r *run) topological(ctx context.Context, store *OutputStore) (*Schedule, error) {
	sched := Plan(r.g, r.o.grouping)
	if sched.CycleDetected {
		r.o.logger.Warn("cycle detected, some nodes will not run",
			zap.String("execution_id", r.id),
			zap.Strings("unreached", sched.Unreached))
	}

	r.setState(StateRunning)
	for i, grp := range sched.Groups {
		if err := ctx.Err(); err != nil {
			return sched, err
		}
		if err := r.runGroup(ctx, StrategyTopological, i, grp, store); err != nil {
			return sched, fmt.Errorf("group %d: %w", i, err)
		}
	}
	return sched, nil
}

// runGroup invokes the members of one group and waits for all of them.
// A failing member does not cancel its siblings.
func (r *run) runGroup(ctx context.Context, s Strategy, index int, grp []*Node, store *OutputStore) error {
	info := GroupInfo{ExecutionID: r.id, Strategy: s, Index: index, Nodes: nodeIDs(grp)}
	for _, h := range r.o.hooks {
		if h.OnGroupStart != nil {
			h.OnGroupStart(info)
		}
	}

	ctx, span := r.o.tracer.Start(ctx, "workflow.group", trace.WithAttributes(
		attribute.Int("workflow.group.index", index),
		attribute.Int("workflow.group.size", len(grp)),
	))
	defer span.End()

	var err error
	if len(grp) == 1 {
		err = r.runNode(ctx, s, index, grp[0], store)
	} else {
		errs := make([]error, len(grp))
		var eg errgroup.Group
		if r.o.maxParallel > 0 {
			eg.SetLimit(r.o.maxParallel)
		}
		for i, n := range grp {
			eg.Go(func() error {
				errs[i] = r.runNode(ctx, s, index, n, store)
				return nil
			})
		}
		_ = eg.Wait()
		err = errors.Join(errs...)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	for _, h := range r.o.hooks {
		if h.OnGroupEnd != nil {
			h.OnGroupEnd(info, err)
		}
	}
	return err
}

func (r *run) runNode(ctx context.Context, s Strategy, group int, n *Node, store *OutputStore) error {
	in := ResolveInputs(n, r.g, store, r.input)

	ctx, span := r.o.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("workflow.node.id", n.ID),
		attribute.String("workflow.node.kind", string(n.Kind)),
	))
	defer span.End()

	for _, h := range r.o.hooks {
		if h.OnNodeStart != nil {
			h.OnNodeStart(r.id, n)
		}
	}
	attempt := r.trace.Start(n, s, group, in)
	start := time.Now()

	out, err := r.o.invoker.Invoke(ctx, n, in)

	elapsed := time.Since(start)
	r.trace.End(attempt, out, err)
	for _, h := range r.o.hooks {
		if h.OnNodeEnd != nil {
			h.OnNodeEnd(r.id, n, elapsed, err)
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.o.logger.Error("node failed",
			zap.String("execution_id", r.id),
			zap.String("node_id", n.ID),
			zap.String("kind", string(n.Kind)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return err
	}

	store.Set(n.ID, out)
	r.o.logger.Debug("node completed",
		zap.String("execution_id", r.id),
		zap.String("node_id", n.ID),
		zap.Duration("elapsed", elapsed))
	return nil
}
