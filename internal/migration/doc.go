// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package migration 管理执行历史表的 Schema 迁移，基于 golang-migrate。

# 概述

各方言（sqlite / postgres / mysql）的 SQL 迁移文件通过 embed.FS 内嵌，
经 source/iofs 交给 golang-migrate 执行。迁移器在调用方提供的 *sql.DB
上工作，并在 Close 时关闭该连接。

# 核心类型

  - Migrator   — Up / Down / Version / Status / Close
  - Dialect    — 数据库方言，ParseDialect 解析别名
  - Status     — 单个迁移的版本、名称与应用状态
  - Migrations — 列出某方言的内嵌迁移
*/
package migration
