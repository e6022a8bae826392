package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aicflow/aicflow/nodes"
	"github.com/aicflow/aicflow/workflow"

	"github.com/urfave/cli/v3"
)

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check workflow definitions without running them",
		ArgsUsage: "<definition>...",
		Action: func(_ context.Context, cmd *cli.Command) error {
			paths := cmd.Args().Slice()
			if len(paths) == 0 {
				return fmt.Errorf("validate: missing definition file")
			}

			// Subflow configs are checked against the schema only; the
			// referenced graphs are loaded at run time.
			catalog := nodes.NewCatalog(nodes.WithSubflow(&nodes.Subflow{}))
			w := cmd.Root().Writer

			var errs []error
			for _, path := range paths {
				_, g, err := loadGraph(path, catalog)
				if err != nil {
					fmt.Fprintf(w, "FAIL %s: %v\n", path, err)
					errs = append(errs, err)
					continue
				}
				status := "ok"
				if _, cyclic := workflow.Order(g); cyclic {
					status = "ok (contains a cycle)"
				}
				fmt.Fprintf(w, "%s %s: %d nodes, %d edges\n", status, path, g.Len(), len(g.Edges()))
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d of %d definitions invalid: %w", len(errs), len(paths), errors.Join(errs...))
			}
			return nil
		},
	}
}
