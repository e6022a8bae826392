// =============================================================================
// aicflow 主入口
// =============================================================================
// 工作流执行引擎命令行工具
//
// 使用方法:
//
//	aicflow run flow.yaml --input '{"total": 120}'   # 执行工作流
//	aicflow validate flow.yaml other.json             # 校验定义文件
//	aicflow plan flow.yaml                            # 输出执行计划
//	aicflow history --clear fetch                     # 查看 / 清空节点执行历史
//	aicflow migrate --status                          # SQL 历史表 Schema 迁移
//	aicflow version                                   # 显示版本信息
//
// =============================================================================
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "aicflow: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:                  "aicflow",
		Usage:                 "Run and inspect dataflow workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (YAML)",
				Sources: cli.EnvVars("AICFLOW_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			newRunCommand(),
			newValidateCommand(),
			newPlanCommand(),
			newHistoryCommand(),
			newMigrateCommand(),
			newVersionCommand(),
		},
	}
}

func newVersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(_ context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer
			fmt.Fprintf(w, "aicflow %s\n", Version)
			fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
			return nil
		},
	}
}
