package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aicflow/aicflow/internal/ctxkeys"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Executor runs the logic of a node.
type Executor interface {
	Execute(ctx context.Context, nodeID string, inputs, config Record) (Record, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, nodeID string, inputs, config Record) (Record, error)

func (f ExecutorFunc) Execute(ctx context.Context, nodeID string, inputs, config Record) (Record, error) {
	return f(ctx, nodeID, inputs, config)
}

// DefaultOutput is produced by nodes that have no executor.
func DefaultOutput() Record {
	return Record{"result": "default output"}
}

// InvokerConfig tunes a node invoker.
type InvokerConfig struct {
	// HistoryLimit bounds the execution records kept per node.
	HistoryLimit int
	// NodeTimeout bounds each executor call of nodes without their own
	// timeout. Zero disables it.
	NodeTimeout time.Duration
	// Retry applies to nodes without their own policy.
	Retry RetryPolicy
	// StrictPorts turns output port type mismatches into invocation errors.
	StrictPorts bool
	// RateLimit caps executor calls per second across all nodes. Zero disables it.
	RateLimit float64
	RateBurst int
	// CircuitBreaker enables a breaker per node id when set.
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultInvokerConfig returns the default invoker tuning.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{HistoryLimit: DefaultHistoryLimit}
}

// Invoker calls node executors and records their history.
type Invoker struct {
	cfg      InvokerConfig
	catalog  *Catalog
	history  HistoryStore
	limiter  *rate.Limiter
	breakers *CircuitBreakerRegistry
	listener CircuitListener
	logger   *zap.Logger
	now      func() time.Time
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithCatalog resolves executors of nodes without their own from catalog.
func WithCatalog(c *Catalog) InvokerOption {
	return func(inv *Invoker) { inv.catalog = c }
}

// WithHistoryStore replaces the in-memory history store.
func WithHistoryStore(h HistoryStore) InvokerOption {
	return func(inv *Invoker) { inv.history = h }
}

// WithInvokerLogger sets the invoker logger.
func WithInvokerLogger(l *zap.Logger) InvokerOption {
	return func(inv *Invoker) { inv.logger = l }
}

// WithCircuitListener observes circuit breaker state changes.
func WithCircuitListener(l CircuitListener) InvokerOption {
	return func(inv *Invoker) { inv.listener = l }
}

// NewInvoker creates an invoker. Without options it uses an in-memory
// history store and no catalog.
func NewInvoker(cfg InvokerConfig, opts ...InvokerOption) *Invoker {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	inv := &Invoker{
		cfg:     cfg,
		history: NewMemoryHistoryStore(),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		inv.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	if inv.logger == nil {
		inv.logger = zap.NewNop()
	}
	inv.logger = inv.logger.With(zap.String("component", "invoker"))
	if cfg.CircuitBreaker != nil {
		inv.breakers = NewCircuitBreakerRegistry(*cfg.CircuitBreaker, inv.listener, inv.logger)
	}
	return inv
}

// History returns the store holding execution records.
func (inv *Invoker) History() HistoryStore { return inv.history }

// Breakers returns the circuit breaker registry, or nil when disabled.
func (inv *Invoker) Breakers() *CircuitBreakerRegistry { return inv.breakers }

// HistoryKey returns the key under which invocations of nodeID are recorded
// when running with ctx. Nodes of nested workflows are keyed by the path of
// calling node ids, such as "call/start".
func HistoryKey(ctx context.Context, nodeID string) string {
	if scope := ctxkeys.HistoryScope(ctx); scope != "" {
		return scope + "/" + nodeID
	}
	return nodeID
}

// Invoke runs node with inputs. Nodes without an executor, neither their own
// nor one registered for their kind, produce DefaultOutput. Failures are
// returned as *NodeError. On success the call is prepended to the history
// under HistoryKey.
func (inv *Invoker) Invoke(ctx context.Context, node *Node, inputs Record) (Record, error) {
	var (
		out      Record
		err      error
		attempts int
	)

	exec := inv.executorFor(node)
	if exec == nil {
		out = DefaultOutput()
	} else {
		policy := inv.cfg.Retry
		if node.Retry != nil {
			policy = *node.Retry
		}
		policy = policy.normalized()

		for {
			attempts++
			out, err = inv.call(ctx, node, exec, inputs)
			if err == nil {
				break
			}
			if attempts > policy.MaxRetries || ctx.Err() != nil || errors.Is(err, ErrCircuitOpen) {
				return nil, &NodeError{NodeID: node.ID, Kind: node.Kind, Attempts: attempts, Cause: err}
			}

			delay := policy.Backoff(attempts - 1)
			inv.logger.Warn("node failed, retrying",
				zap.String("node_id", node.ID),
				zap.Int("attempt", attempts),
				zap.Duration("delay", delay),
				zap.Error(err))
			if serr := sleepCtx(ctx, delay); serr != nil {
				return nil, &NodeError{NodeID: node.ID, Kind: node.Kind, Attempts: attempts, Cause: err}
			}
		}
	}

	if err := inv.checkOutputs(node, out); err != nil {
		return nil, &NodeError{NodeID: node.ID, Kind: node.Kind, Attempts: attempts, Cause: err}
	}

	rec := ExecutionRecord{Timestamp: inv.now(), Inputs: inputs, Outputs: out}
	key := HistoryKey(ctx, node.ID)
	if herr := inv.history.Append(ctx, key, rec, inv.cfg.HistoryLimit); herr != nil {
		inv.logger.Warn("record execution history",
			zap.String("node_id", node.ID),
			zap.String("history_key", key),
			zap.Error(herr))
	}
	return out, nil
}

func (inv *Invoker) executorFor(node *Node) Executor {
	if node.Executor != nil {
		return node.Executor
	}
	if inv.catalog != nil {
		return inv.catalog.Executor(node.Kind)
	}
	return nil
}

// call performs a single executor call under the rate limiter, the node's
// circuit breaker and its timeout.
func (inv *Invoker) call(ctx context.Context, node *Node, exec Executor, inputs Record) (Record, error) {
	if inv.limiter != nil {
		if err := inv.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var cb *CircuitBreaker
	if inv.breakers != nil {
		cb = inv.breakers.Get(HistoryKey(ctx, node.ID))
		if err := cb.Allow(); err != nil {
			return nil, err
		}
	}

	timeout := node.Timeout
	if timeout <= 0 {
		timeout = inv.cfg.NodeTimeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := safeExecute(callCtx, exec, node, inputs)
	if cb != nil {
		if err != nil {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
	}
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = Record{}
	}
	return out, nil
}

func safeExecute(ctx context.Context, exec Executor, node *Node, inputs Record) (out Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return exec.Execute(ctx, node.ID, inputs, node.Config.Clone())
}

func (inv *Invoker) checkOutputs(node *Node, out Record) error {
	for _, port := range slices.Sorted(maps.Keys(node.Outputs)) {
		typ := node.Outputs[port]
		v, ok := out[port]
		if !ok || typ.Accepts(v) {
			continue
		}
		if inv.cfg.StrictPorts {
			return fmt.Errorf("%w: port %q expects %s, got %T", ErrPortType, port, typ, v)
		}
		inv.logger.Warn("output does not match declared port type",
			zap.String("node_id", node.ID),
			zap.String("port", port),
			zap.String("expected", string(typ)),
			zap.String("actual", fmt.Sprintf("%T", v)))
	}
	return nil
}
