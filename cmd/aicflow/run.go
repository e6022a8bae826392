package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/aicflow/aicflow/nodes"
	"github.com/aicflow/aicflow/workflow"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// runReport is what `aicflow run` prints.
type runReport struct {
	ExecutionID   string                     `json:"execution_id"`
	Workflow      string                     `json:"workflow"`
	Strategy      workflow.Strategy          `json:"strategy"`
	State         workflow.RunState          `json:"state"`
	Output        workflow.Record            `json:"output"`
	Outputs       map[string]workflow.Record `json:"outputs,omitempty"`
	Order         []string                   `json:"order"`
	Groups        [][]string                 `json:"groups"`
	CycleDetected bool                       `json:"cycle_detected"`
	Unreached     []string                   `json:"unreached,omitempty"`
	FallbackUsed  bool                       `json:"fallback_used,omitempty"`
	PrimaryError  string                     `json:"primary_error,omitempty"`
	FailedNodes   []string                   `json:"failed_nodes,omitempty"`
	Error         string                     `json:"error,omitempty"`
	Trace         []workflow.NodeAttempt     `json:"trace,omitempty"`
}

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a workflow definition",
		ArgsUsage: "<definition.(json|yaml)>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "input",
				Usage: "Workflow input as a JSON object",
			},
			&cli.StringFlag{
				Name:  "input-file",
				Usage: "Read the workflow input from a JSON file",
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Execution strategy (topological, branch_tracing)",
			},
			&cli.StringFlag{
				Name:  "fallback",
				Usage: "Fallback strategy (topological, branch_tracing, none)",
			},
			&cli.StringFlag{
				Name:  "grouping",
				Usage: "Group mode (layered, sequential)",
			},
			&cli.IntFlag{
				Name:  "max-parallel",
				Usage: "Maximum concurrent nodes per group (0 = unlimited)",
			},
			&cli.StringFlag{
				Name:  "subflows",
				Usage: "Directory holding subflow definitions (defaults to the definition's directory)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Abort the run after this long (0 = no limit)",
			},
			&cli.BoolFlag{
				Name:  "all-outputs",
				Usage: "Include every node output in the report",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Include the per-node attempt trace in the report",
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("run: missing definition file")
	}

	input, err := readInput(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil {
			a.logger.Warn("shutdown", zap.Error(cerr))
		}
	}()

	engineCfg := a.cfg.Engine
	if cmd.IsSet("strategy") {
		engineCfg.Strategy = cmd.String("strategy")
	}
	if cmd.IsSet("fallback") {
		engineCfg.Fallback = cmd.String("fallback")
	}
	if cmd.IsSet("grouping") {
		engineCfg.Grouping = cmd.String("grouping")
	}
	if cmd.IsSet("max-parallel") {
		engineCfg.MaxParallel = cmd.Int("max-parallel")
	}

	subflows := cmd.String("subflows")
	if subflows == "" {
		subflows = filepath.Dir(path)
	}

	catalog, orch, err := a.engine(engineCfg, subflows)
	if err != nil {
		return err
	}
	def, g, err := loadGraph(path, catalog)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := cmd.Duration("timeout"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	res, runErr := orch.Execute(ctx, g, input)

	report := runReport{Workflow: def.Name}
	if res != nil {
		report.ExecutionID = res.ExecutionID
		report.Strategy = res.Strategy
		report.State = res.State
		report.Output = nodes.WorkflowOutput(g, res)
		report.Order = res.Order
		report.Groups = res.Groups
		report.CycleDetected = res.CycleDetected
		report.Unreached = res.Unreached
		report.FallbackUsed = res.FallbackUsed
		if res.PrimaryErr != nil {
			report.PrimaryError = res.PrimaryErr.Error()
		}
		if cmd.Bool("all-outputs") {
			report.Outputs = res.Outputs
		}
		if cmd.Bool("trace") && res.Trace != nil {
			report.Trace = res.Trace.Snapshot()
		}
	}
	if runErr != nil {
		report.Error = runErr.Error()
		report.FailedNodes = workflow.FailedNodes(runErr)
	}

	if err := writeJSON(cmd, report); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("workflow %s failed: %w", def.Name, runErr)
	}
	return nil
}

func readInput(cmd *cli.Command) (workflow.Record, error) {
	var data []byte
	switch {
	case cmd.String("input") != "":
		data = []byte(cmd.String("input"))
	case cmd.String("input-file") != "":
		b, err := os.ReadFile(cmd.String("input-file"))
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		data = b
	default:
		return workflow.Record{}, nil
	}

	var in workflow.Record
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return in, nil
}

func writeJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
