package main

import (
	"context"
	"fmt"

	"github.com/aicflow/aicflow/nodes"
	"github.com/aicflow/aicflow/workflow"

	"github.com/urfave/cli/v3"
)

type planReport struct {
	Workflow      string            `json:"workflow"`
	Grouping      workflow.Grouping `json:"grouping"`
	Order         []string          `json:"order"`
	Groups        [][]string        `json:"groups"`
	CycleDetected bool              `json:"cycle_detected"`
	Unreached     []string          `json:"unreached,omitempty"`
	Branches      []workflow.Branch `json:"branches,omitempty"`
}

func newPlanCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Print the execution order and groups of a workflow",
		ArgsUsage: "<definition.(json|yaml)>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "grouping",
				Usage: "Group mode (layered, sequential)",
				Value: string(workflow.GroupingLayered),
			},
			&cli.BoolFlag{
				Name:  "branches",
				Usage: "Also list the branch traced from every source node",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("plan: missing definition file")
			}
			grouping, err := workflow.ParseGrouping(cmd.String("grouping"))
			if err != nil {
				return err
			}

			catalog := nodes.NewCatalog(nodes.WithSubflow(&nodes.Subflow{}))
			def, g, err := loadGraph(path, catalog)
			if err != nil {
				return err
			}

			sched := workflow.Plan(g, grouping)
			report := planReport{
				Workflow:      def.Name,
				Grouping:      grouping,
				Order:         sched.OrderIDs(),
				Groups:        sched.GroupIDs(),
				CycleDetected: sched.CycleDetected,
				Unreached:     sched.Unreached,
			}
			if cmd.Bool("branches") {
				report.Branches = workflow.TraceBranches(g)
			}
			return writeJSON(cmd, report)
		},
	}
}
