// Package redis 提供基于 Redis 的分布式部署锁，多个部署进程共享同一网络时
// 用它串行化同一合约的部署。
package redis
