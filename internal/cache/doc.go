// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 cache 提供基于 Redis 的节点执行历史存储。

# 概述

HistoryStore 实现 workflow.HistoryStore：每个节点一条 Redis 列表，
键为 KeyPrefix + 节点 ID，元素为 JSON 编码的 ExecutionRecord，
最新记录位于表头。写入在一个事务流水线中完成 LPUSH、LTRIM 与
EXPIRE，因此列表长度始终不超过调用方给定的上限。

# 核心类型

  - HistoryStore：持有 go-redis 客户端，提供 Append/List/Clear，
    以及 Ping 与 Close。
  - Config：地址、密码、连接池、键前缀与过期时间。

# 错误语义

  - 关闭后的任何操作返回 ErrClosed。
  - Redis 错误经 %w 包装返回，由 workflow.Invoker 记录为告警，
    不会导致节点失败。
*/
package cache
