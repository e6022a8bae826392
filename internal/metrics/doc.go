// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的工作流执行指标采集。

# 概述

Collector 通过 promauto 将指标注册到调用方给定的 Registerer，
并以 workflow.Hooks 与 workflow.CircuitListener 的形式接入编排器
与节点调用器，无需改动引擎代码即可观测每次运行。

# 核心类型

  - Collector：持有 Counter、Histogram 等向量指标。

# 主要能力

  - 运行指标：按 strategy/status 统计运行次数与耗时，
    记录状态转换、检测到环的运行与使用回退策略的运行。
  - 分组指标：每个执行分组的节点数分布。
  - 节点指标：按 kind/status 统计节点调用次数与耗时。
  - 熔断指标：按 node_id/to_state 统计熔断器状态变化。
*/
package metrics
