package main

import (
	"context"
	"fmt"

	"github.com/aicflow/aicflow/internal/database"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// newMigrateCommand 管理 SQL 历史后端的 Schema，使用 history.sql 配置
func newMigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Migrate the SQL history schema",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "down",
				Usage: "Roll back the last migration instead of applying pending ones",
			},
			&cli.BoolFlag{
				Name:  "status",
				Usage: "Print the migration status without changing the schema",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil {
					a.logger.Warn("shutdown", zap.Error(cerr))
				}
			}()

			sc := a.cfg.History.SQL
			m, err := database.NewMigrator(database.Driver(sc.Driver), sc.DSN, a.logger)
			if err != nil {
				return err
			}
			defer m.Close()

			switch {
			case cmd.Bool("status"):
			case cmd.Bool("down"):
				if err := m.Down(ctx); err != nil {
					return err
				}
			default:
				if err := m.Up(ctx); err != nil {
					return err
				}
			}

			status, err := m.Status()
			if err != nil {
				return err
			}
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			a.logger.Info("schema version",
				zap.String("driver", sc.Driver),
				zap.Uint("version", version),
				zap.Bool("dirty", dirty))
			if version == 0 {
				fmt.Fprintln(cmd.Root().ErrWriter, "no migrations applied")
			}
			return writeJSON(cmd, status)
		},
	}
}
