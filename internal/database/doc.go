// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package database 提供基于 GORM 的节点执行历史存储与连接池管理。

# 概述

HistoryStore 将每次节点调用的输入、输出与时间戳写入 node_executions 表，
实现 workflow.HistoryStore。支持 SQLite（纯 Go 驱动）、PostgreSQL 与
MySQL，表结构由 GORM AutoMigrate 维护。

# 核心类型

  - HistoryStore：关系型执行历史，Append 在同一事务内插入并裁剪旧记录。
  - PoolManager：持有 GORM DB 与底层 sql.DB，负责连接池参数、
    后台健康检查与事务执行。
  - PoolConfig：连接池配置（最大连接数、空闲数、生命周期、健康检查间隔）。
  - Open：按驱动名打开 GORM 连接。

# 事务重试

WithTransactionRetry 对死锁、序列化失败、SQLITE_BUSY、锁等待超时等
可重试错误按指数退避重试，其余错误立即返回。
*/
package database
