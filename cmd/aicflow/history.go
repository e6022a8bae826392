package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func newHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show or clear the execution history of a node",
		ArgsUsage: "<node-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "clear",
				Usage: "Drop the node's history instead of printing it",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			nodeID := cmd.Args().First()
			if nodeID == "" {
				return fmt.Errorf("history: missing node id")
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
			if a.cfg.History.Backend == "memory" {
				a.logger.Warn("history backend is in-memory, records do not outlive a run")
			}

			if cmd.Bool("clear") {
				if err := a.history.Clear(ctx, nodeID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.Root().Writer, "cleared history of %s\n", nodeID)
				return nil
			}

			recs, err := a.history.List(ctx, nodeID)
			if err != nil {
				return err
			}
			return writeJSON(cmd, recs)
		},
	}
}
