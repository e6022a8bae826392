package telemetry

import (
	"context"
	"time"

	"github.com/aicflow/aicflow/workflow"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/aicflow/aicflow/workflow"

// Meter returns the workflow meter of the global meter provider.
func Meter() metric.Meter {
	return otel.Meter(meterName)
}

// WorkflowHooks returns orchestrator hooks that record runs and node
// invocations on meter. With the global noop meter every call is free.
func WorkflowHooks(meter metric.Meter) (workflow.Hooks, error) {
	runs, err := meter.Int64Counter("workflow.runs",
		metric.WithDescription("Workflow runs by strategy and status"))
	if err != nil {
		return workflow.Hooks{}, err
	}
	nodes, err := meter.Int64Counter("workflow.node.invocations",
		metric.WithDescription("Node invocations by kind and status"))
	if err != nil {
		return workflow.Hooks{}, err
	}
	nodeDuration, err := meter.Float64Histogram("workflow.node.duration",
		metric.WithDescription("Node invocation duration"),
		metric.WithUnit("s"))
	if err != nil {
		return workflow.Hooks{}, err
	}

	return workflow.Hooks{
		OnNodeEnd: func(_ string, n *workflow.Node, elapsed time.Duration, err error) {
			attrs := metric.WithAttributes(
				attribute.String("kind", string(n.Kind)),
				attribute.String("status", status(err)),
			)
			nodes.Add(context.Background(), 1, attrs)
			nodeDuration.Record(context.Background(), elapsed.Seconds(), attrs)
		},
		OnRunEnd: func(res *workflow.Result, err error) {
			strategy := ""
			if res != nil {
				strategy = string(res.Strategy)
			}
			runs.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("strategy", strategy),
				attribute.String("status", status(err)),
			))
		},
	}, nil
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
