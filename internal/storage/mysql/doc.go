// Package mysql 提供基于 MySQL 的部署记录存储，负责连接池配置与嵌入迁移的执行。
package mysql
