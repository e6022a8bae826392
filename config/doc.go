// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 aicflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（AICFLOW_ 前缀）的顺序叠加，
// 并在加载后运行验证器。引擎配置可直接转换为 workflow 包的
// InvokerConfig 与编排器选项。
package config
