// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 aicflow 命令行程序入口。

# 概述

cmd/aicflow 加载工作流定义（JSON / YAML 画布格式），用内置节点类型
目录构建图，并通过 workflow.Orchestrator 执行。程序支持 YAML 配置
文件与 AICFLOW_ 环境变量、结构化日志（zap）、Prometheus 指标文件
输出、OpenTelemetry 导出，以及内存、Redis 或 SQL 执行历史。

# 子命令

  - run       — 执行工作流并以 JSON 输出结果、执行顺序、分组与追踪
  - validate  — 校验一个或多个定义文件
  - plan      — 输出拓扑顺序、执行分组与分支追踪结果
  - history   — 查看或清空节点执行历史（memory / redis / sql 后端）
  - migrate   — 应用、回滚或查看 SQL 历史表的 Schema 迁移
  - version   — 显示构建注入的版本信息
*/
package main
