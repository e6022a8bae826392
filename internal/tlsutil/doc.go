// Package tlsutil 为节点 HTTP 调用与 Redis 执行历史连接提供统一的 TLS 配置
// （TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
