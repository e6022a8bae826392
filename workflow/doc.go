// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供数据流图的调度与执行引擎。

# 概述

workflow 包接收一组节点与有向边，计算拓扑执行顺序（或按深度分层的
并发执行组），根据上游输出解析每个节点的输入，调用节点执行器，并汇总
每个节点的输出。引擎容忍环、互不连通的分支以及节点级失败。

# 核心类型

  - Graph / Node / Edge   — 单次运行内不可变的图模型（含端口声明与校验）
  - Order / Plan          — Kahn 拓扑排序与执行分组（sequential / layered）
  - ResolveInputs         — 输入解析：无句柄整体合并，有句柄按字段路由，后写覆盖
  - Invoker               — 节点调用：默认输出、超时、重试、熔断、限流、执行历史
  - Orchestrator          — 编排器：topological / branch_tracing 两种策略与显式回退
  - Catalog               — 节点类型注册表（端口、默认配置、JSON Schema 校验）
  - Definition            — 画布形状的 JSON / YAML 导入导出
  - Builder               — Fluent API 构建图
  - UndoHistory           — 有界撤销 / 重做快照栈

# 失败语义

  - 结构错误（悬空边、重复 ID 等）在任何节点执行前以 *ValidationError 返回
  - 环不是错误：可排序部分照常执行，Result.Unreached 列出未执行节点
  - 节点失败以 *NodeError 返回，fail-fast 停止后续分组，同组兄弟节点不取消
  - 输入缺失（上游未执行）不是错误，节点以部分或空输入执行
*/
package workflow
